package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError carries an internal message for logs and a separate user-facing
// message. User messages never echo PINs, phrases or key material.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// NewValidationError covers malformed amounts, PINs and challenge replies.
// The flow usually stays alive and re-prompts.
func NewValidationError(msg, userMsg string) *AppError {
	return &AppError{
		Code:        "E100",
		Message:     msg,
		UserMessage: userMsg,
		Severity:    SeverityLow,
	}
}

// NewAuthenticationError covers a wrong PIN. The denial text is generic on
// purpose: it must be indistinguishable from a corrupt-record denial.
func NewAuthenticationError(cause error) *AppError {
	return &AppError{
		Code:        "E101",
		Message:     "pin authentication failed",
		UserMessage: "❌ Invalid PIN. Request denied.",
		Severity:    SeverityLow,
		cause:       cause,
	}
}

// NewCorruptRecordError covers an unreadable key blob. Logged distinctly from
// an authentication failure, surfaced identically to the user.
func NewCorruptRecordError(cause error) *AppError {
	return &AppError{
		Code:        "E102",
		Message:     "encrypted key record is corrupt",
		UserMessage: "❌ Invalid PIN. Request denied.",
		Severity:    SeverityCritical,
		cause:       cause,
	}
}

// NewPhraseMismatchError covers a recovery phrase that does not reproduce the
// stored wallet address.
func NewPhraseMismatchError() *AppError {
	return &AppError{
		Code:        "E103",
		Message:     "recovery phrase does not reproduce stored address",
		UserMessage: "❌ The provided seed phrase doesn't match the registered wallet address.",
		Severity:    SeverityLow,
	}
}

// NewUnknownSenderError covers a command initiator without a custody record.
func NewUnknownSenderError() *AppError {
	return &AppError{
		Code:        "E110",
		Message:     "sender is not onboarded",
		UserMessage: "❌ You are not registered. Use /start to register.",
		Severity:    SeverityLow,
	}
}

// NewUnknownRecipientError covers a transfer target without a custody record.
func NewUnknownRecipientError(handle string) *AppError {
	userMsg := "❌ The recipient is not registered."
	if handle != "" {
		userMsg = fmt.Sprintf("❌ @%s is not registered.", handle)
	}

	return &AppError{
		Code:        "E111",
		Message:     "recipient is not onboarded",
		UserMessage: userMsg,
		Severity:    SeverityLow,
	}
}

// NewNonceUnavailableError covers a failed ledger nonce lookup. Never
// retried automatically.
func NewNonceUnavailableError(cause error) *AppError {
	return &AppError{
		Code:        "E120",
		Message:     "failed to fetch account nonce",
		UserMessage: "❌ Transaction failed. Please try again later.",
		Severity:    SeverityMedium,
		cause:       cause,
	}
}

// NewBroadcastError covers a rejected or failed broadcast. Never retried
// automatically: the prior attempt may already be in the mempool.
func NewBroadcastError(cause error) *AppError {
	return &AppError{
		Code:        "E121",
		Message:     "transaction broadcast failed",
		UserMessage: "❌ Transaction failed. Please try again later.",
		Severity:    SeverityHigh,
		cause:       cause,
	}
}

// NewTimeoutError covers an armed wait whose deadline expired.
func NewTimeoutError(what string) *AppError {
	return &AppError{
		Code:        "E130",
		Message:     fmt.Sprintf("%s timed out", what),
		UserMessage: "⌛ Timed out. Please start over.",
		Severity:    SeverityLow,
	}
}

// NewDatabaseError covers failed reads or writes against the record store.
func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        "E200",
		Message:     fmt.Sprintf("database error: %s", underlyingMsg),
		UserMessage: "❌ A temporary problem occurred. Please try again later.",
		Severity:    SeverityHigh,
		cause:       cause,
	}
}

// NewStateError covers operations that are impossible in the current flow
// state, such as starting a second flow while one is armed.
func NewStateError(msg, userMsg string) *AppError {
	return &AppError{
		Code:        "E400",
		Message:     msg,
		UserMessage: userMsg,
		Severity:    SeverityMedium,
	}
}
