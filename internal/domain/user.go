package domain

import "time"

// User is the durable custody record for one Telegram user. A row exists if
// and only if onboarding completed: it is written once, at the commit step.
type User struct {
	ID                  int64
	TelegramID          int64
	Username            string
	WalletAddress       string
	EncryptedPrivateKey string // ivHex:cipherHex, AES-256-CBC
	PinVerifier         string // hex SHA-256 of the PIN, never the PIN itself
	CreatedAt           time.Time
}

// HasPin reports whether the record carries a PIN verifier. Legacy rows
// imported without one cannot authorize transfers or resets.
func (u *User) HasPin() bool {
	return u != nil && u.PinVerifier != ""
}
