// Package signer provides a client for the custodial signing service.
//
// The Settlement Layer never holds user key material: wallets live with an
// external custodian and are referenced by opaque wallet handles. The
// client exchanges a base64-encoded unsigned transaction for a signed one.
package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the custodial signing service.
type Client struct {
	baseURL    string
	appID      string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	AppID   string
	Timeout time.Duration
}

// New creates a new signing service client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		appID:   cfg.AppID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Error is a refusal from the signing service. It marks the request as
// correctable rather than transient: retrying without changing the input
// will not succeed.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("signer refused (%d): %s", e.StatusCode, e.Message)
}

// signRequest is the wire request for transaction signing.
type signRequest struct {
	WalletID    string `json:"wallet_id"`
	Transaction string `json:"transaction"` // base64-encoded
}

// signResponse is the wire response from signing.
type signResponse struct {
	SignedTransaction string `json:"signed_transaction"` // base64-encoded
	Error             string `json:"error,omitempty"`
}

// SignTransaction sends an unsigned transaction to the custodian for the
// wallet identified by walletID and returns the signed transaction bytes.
func (c *Client) SignTransaction(ctx context.Context, walletID string, unsigned []byte) ([]byte, error) {
	body, err := json.Marshal(signRequest{
		WalletID:    walletID,
		Transaction: base64.StdEncoding.EncodeToString(unsigned),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/wallets/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.appID != "" {
		httpReq.Header.Set("X-App-ID", c.appID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var result signResponse
		if json.Unmarshal(respBody, &result) == nil && result.Error != "" {
			msg = result.Error
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	var result signResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	signed, err := base64.StdEncoding.DecodeString(result.SignedTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return signed, nil
}

// Health checks if the signing service is reachable.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: %s", resp.Status)
	}
	return nil
}
