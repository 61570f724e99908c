package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/mevguard/internal/retry"
)

const maxResponseSize = 4 << 20

// Config points the tools at a running mevguard API.
type Config struct {
	APIURL string // e.g. "http://localhost:8080"
	APIKey string // sent as a bearer token when a gateway fronts the API
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// APIClient calls the detection, simulation and relay endpoints. Reads are
// retried on 429 and 5xx; writes are sent once.
type APIClient struct {
	base  string
	key   string
	http  *http.Client
	reads retry.Policy
}

func NewAPIClient(cfg Config) *APIClient {
	return &APIClient{
		base:  strings.TrimRight(cfg.APIURL, "/"),
		key:   cfg.APIKey,
		http:  &http.Client{Timeout: 30 * time.Second},
		reads: retry.Policy{Attempts: 3, Base: 250 * time.Millisecond, Max: time.Second},
	}
}

func (c *APIClient) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.reads.Do(ctx, func(int) error {
		var err error
		out, err = c.call(ctx, http.MethodGet, path, q, nil)
		return err
	})
	return out, err
}

func (c *APIClient) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.call(ctx, http.MethodPost, path, nil, payload)
}

// call performs one request. API errors come back marked for retry.Policy:
// 429 and 5xx stay retryable, anything else is permanent.
func (c *APIClient) call(ctx context.Context, method, path string, q url.Values, payload []byte) (json.RawMessage, error) {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 300 {
		return data, nil
	}

	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Message != "" {
		apiErr.Code, apiErr.Message = envelope.Error, envelope.Message
	}
	return nil, retry.HTTPStatus(resp.StatusCode, apiErr)
}

// SimulateTransaction scores tx against an optional watched contract.
func (c *APIClient) SimulateTransaction(ctx context.Context, tx map[string]any, contractAddress string) (json.RawMessage, error) {
	return c.post(ctx, "/simulate/transaction", struct {
		ContractAddress string         `json:"contractAddress,omitempty"`
		Transaction     map[string]any `json:"transaction"`
	}{contractAddress, tx})
}

func (c *APIClient) StartDetection(ctx context.Context, contractAddress string) (json.RawMessage, error) {
	return c.post(ctx, "/detect/start", contractBody{contractAddress})
}

// StopDetection stops the named session, or the most recent one when
// contractAddress is empty.
func (c *APIClient) StopDetection(ctx context.Context, contractAddress string) (json.RawMessage, error) {
	return c.post(ctx, "/detect/stop", contractBody{contractAddress})
}

func (c *APIClient) DetectionStatus(ctx context.Context, contractAddress string) (json.RawMessage, error) {
	var q url.Values
	if contractAddress != "" {
		q = url.Values{"contractAddress": {contractAddress}}
	}
	return c.get(ctx, "/detect/status", q)
}

func (c *APIClient) ListSessions(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/detect/sessions", nil)
}

// SendPrivateTransaction forwards a signed transaction to the private relay.
func (c *APIClient) SendPrivateTransaction(ctx context.Context, rawTx string) (json.RawMessage, error) {
	return c.post(ctx, "/relay/send", struct {
		RawTransaction string `json:"rawTransaction"`
	}{rawTx})
}

type contractBody struct {
	ContractAddress string `json:"contractAddress"`
}
