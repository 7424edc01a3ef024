// Package ledger wraps the Stacks node and indexer HTTP APIs behind the
// collaborator contract the authorization flow depends on: nonce lookup,
// transaction broadcast and balance queries.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrNonceUnavailable indicates the account nonce could not be fetched.
	ErrNonceUnavailable = errors.New("account nonce unavailable")
	// ErrBroadcastFailed indicates the node rejected or failed the broadcast.
	// Callers must never retry: the transaction may already be in flight.
	ErrBroadcastFailed = errors.New("transaction broadcast failed")
)

// Client is the ledger collaborator contract.
type Client interface {
	// FetchNonce returns the next transaction nonce for address.
	FetchNonce(ctx context.Context, address string) (uint64, error)
	// Broadcast submits a signed raw transaction and returns its reference.
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
	// FetchBalance returns the spendable balance in micro-STX.
	FetchBalance(ctx context.Context, address string) (int64, error)
}

// HTTPClient talks to a Stacks node (nonce, broadcast) and a Hiro-style
// indexer (balances).
type HTTPClient struct {
	nodeURL string
	apiURL  string
	http    *http.Client
}

// NewHTTPClient constructs the default ledger client.
func NewHTTPClient(nodeURL, apiURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPClient{
		nodeURL: nodeURL,
		apiURL:  apiURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchNonce queries /v2/accounts for the address's current nonce.
func (c *HTTPClient) FetchNonce(ctx context.Context, address string) (uint64, error) {
	url := fmt.Sprintf("%s/v2/accounts/%s?proof=0", c.nodeURL, address)

	var payload struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNonceUnavailable, err)
	}

	return payload.Nonce, nil
}

// Broadcast posts the raw transaction to /v2/transactions.
func (c *HTTPClient) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	url := c.nodeURL + "/v2/transactions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(rawTx))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrBroadcastFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrBroadcastFailed, resp.StatusCode, bytes.TrimSpace(body))
	}

	// The node returns the txid as a bare JSON string.
	var txID string
	if err := json.Unmarshal(body, &txID); err != nil {
		txID = string(bytes.Trim(bytes.TrimSpace(body), `"`))
	}
	if txID == "" {
		return "", fmt.Errorf("%w: empty txid in response", ErrBroadcastFailed)
	}

	return txID, nil
}

// FetchBalance queries the indexer for the STX balance in micro-units.
func (c *HTTPClient) FetchBalance(ctx context.Context, address string) (int64, error) {
	url := fmt.Sprintf("%s/extended/v1/address/%s/balances", c.apiURL, address)

	var payload struct {
		STX struct {
			Balance string `json:"balance"`
		} `json:"stx"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return 0, err
	}

	balance, err := strconv.ParseInt(payload.STX.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", payload.STX.Balance, err)
	}

	return balance, nil
}

// HealthCheck verifies the node answers /v2/info.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nodeURL+"/v2/info", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node info returned status %d", resp.StatusCode)
	}

	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
