package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// TransferParams describes a single signed token transfer.
type TransferParams struct {
	SenderKey   []byte
	Recipient   string
	AmountMicro int64
	FeeMicro    int64
	Nonce       uint64
	Memo        string
}

type transferPayload struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee"`
	Nonce     uint64 `json:"nonce"`
	Memo      string `json:"memo,omitempty"`
}

type signedEnvelope struct {
	Payload   transferPayload `json:"payload"`
	PublicKey string          `json:"public_key"`
	Signature string          `json:"signature"`
}

// BuildTransfer serializes and signs a transfer, returning the raw bytes the
// node accepts on its broadcast endpoint.
func BuildTransfer(params TransferParams) ([]byte, error) {
	if len(params.SenderKey) == 0 {
		return nil, fmt.Errorf("sender key is empty")
	}
	if params.AmountMicro <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", params.AmountMicro)
	}

	payload := transferPayload{
		Recipient: params.Recipient,
		Amount:    params.AmountMicro,
		Fee:       params.FeeMicro,
		Nonce:     params.Nonce,
		Memo:      params.Memo,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	priv := secp256k1.PrivKeyFromBytes(params.SenderKey)
	digest := sha256.Sum256(encoded)
	signature := secpecdsa.Sign(priv, digest[:])

	envelope := signedEnvelope{
		Payload:   payload,
		PublicKey: hex.EncodeToString(priv.PubKey().SerializeCompressed()),
		Signature: hex.EncodeToString(signature.Serialize()),
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	return raw, nil
}
