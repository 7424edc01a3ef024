package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// Issuer sequences the non-atomic nonce-fetch / build / broadcast triple for
// a single transfer. It never retries a broadcast: without confirming the
// prior attempt's outcome a retry risks a double-send. Concurrent transfers
// for the same sender are prevented upstream by the one-session-per-user rule.
type Issuer struct {
	client Client
	fee    int64
	memo   string
	log    *slog.Logger
}

// NewIssuer builds an Issuer with a fixed network fee and memo.
func NewIssuer(client Client, feeMicroSTX int64, memo string, log *slog.Logger) *Issuer {
	if log == nil {
		log = slog.Default()
	}

	return &Issuer{
		client: client,
		fee:    feeMicroSTX,
		memo:   memo,
		log:    log,
	}
}

// Issue fetches the sender's current nonce, builds and signs the transfer,
// and broadcasts it. Returns the transaction reference on success. Errors
// wrap ErrNonceUnavailable or ErrBroadcastFailed for classification.
func (i *Issuer) Issue(ctx context.Context, senderKey []byte, senderAddress, recipientAddress string, amountMicroSTX int64) (string, error) {
	nonce, err := i.client.FetchNonce(ctx, senderAddress)
	if err != nil {
		return "", fmt.Errorf("fetch nonce for %s: %w", senderAddress, err)
	}

	rawTx, err := BuildTransfer(TransferParams{
		SenderKey:   senderKey,
		Recipient:   recipientAddress,
		AmountMicro: amountMicroSTX,
		FeeMicro:    i.fee,
		Nonce:       nonce,
		Memo:        i.memo,
	})
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}

	txID, err := i.client.Broadcast(ctx, rawTx)
	if err != nil {
		return "", err
	}

	i.log.Info("transaction broadcast",
		slog.String("sender", senderAddress),
		slog.String("recipient", recipientAddress),
		slog.Int64("amount_micro_stx", amountMicroSTX),
		slog.Uint64("nonce", nonce),
		slog.String("tx_id", txID),
	)

	return txID, nil
}
