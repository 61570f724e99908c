package relay

import (
	"context"
	"errors"
	"fmt"
)

// Submission statuses.
const (
	StatusQueued    = "queued"
	StatusSubmitted = "submitted"
	StatusError     = "error"
)

var ErrInvalidTransaction = errors.New("relay: invalid raw transaction")

// Submission is the outcome of a relay submission.
type Submission struct {
	Mocked      bool   `json:"mocked"`
	Status      string `json:"status"`
	Relay       string `json:"relay"`
	BundleHash  string `json:"bundleHash,omitempty"`
	TargetBlock uint64 `json:"targetBlock,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
	Success     bool   `json:"success"`
}

// Client submits a signed, 0x-encoded raw transaction.
type Client interface {
	Submit(ctx context.Context, rawTx string) (*Submission, error)
}

// SubmitError is a relay-side failure.
type SubmitError struct {
	Relay      string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *SubmitError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay %s: status %d: %v", e.Relay, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("relay %s: %v", e.Relay, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// MockClient stands in when no signing key is configured.
type MockClient struct{}

func (MockClient) Submit(ctx context.Context, rawTx string) (*Submission, error) {
	return &Submission{
		Mocked:  true,
		Status:  StatusQueued,
		Relay:   "none",
		Message: "Private relay not configured. Set FLASHBOTS_SIGNER_KEY to enable bundle submission.",
	}, nil
}
