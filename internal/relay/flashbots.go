package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/mevguard/internal/circuitbreaker"
	"github.com/mbd888/mevguard/internal/retry"
	"github.com/mbd888/mevguard/internal/traces"
)

// Flashbots relay endpoints by network.
var relayURLs = map[string]string{
	"mainnet": "https://relay.flashbots.net",
	"goerli":  "https://relay-goerli.flashbots.net",
	"sepolia": "https://relay-sepolia.flashbots.net",
}

// RelayURL returns override when set, else the endpoint for network.
// Unknown networks use the sepolia relay.
func RelayURL(network, override string) string {
	if override != "" {
		return override
	}
	if u, ok := relayURLs[network]; ok {
		return u
	}
	return relayURLs["sepolia"]
}

// BlockNumberer reports the current chain head. *ethclient.Client satisfies it.
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// FlashbotsClient submits single-transaction bundles via eth_sendBundle.
type FlashbotsClient struct {
	url        string
	key        *ecdsa.PrivateKey
	signer     common.Address
	chain      BlockNumberer
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	retry      retry.Policy
	logger     *slog.Logger
}

// NewFlashbotsClient creates a client authenticating with keyHex
// (64 hex characters, 0x prefix optional).
func NewFlashbotsClient(url, keyHex string, chain BlockNumberer, logger *slog.Logger) (*FlashbotsClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid flashbots signer key: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FlashbotsClient{
		url:        url,
		key:        key,
		signer:     crypto.PubkeyToAddress(key.PublicKey),
		chain:      chain,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    circuitbreaker.New(url, 5, 30*time.Second).Ignore(retry.IsPermanent).WithLogger(logger),
		retry:      retry.Policy{Attempts: 3, Base: 200 * time.Millisecond, Max: 2 * time.Second},
		logger:     logger,
	}, nil
}

// Signer returns the address bundles are authenticated with.
func (c *FlashbotsClient) Signer() common.Address {
	return c.signer
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type bundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

type rpcResponse struct {
	Result *struct {
		BundleHash string `json:"bundleHash"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *FlashbotsClient) Submit(ctx context.Context, rawTx string) (*Submission, error) {
	raw, err := hexutil.Decode(rawTx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	ctx, span := traces.StartSpan(ctx, "relay.submit", traces.Relay(c.url), traces.TxHash(tx.Hash().Hex()))
	defer span.End()

	head, err := c.chain.BlockNumber(ctx)
	if err != nil {
		traces.Fail(span, err)
		return c.failed(0, &SubmitError{Relay: c.url, Err: fmt.Errorf("failed to get block number: %w", err)})
	}
	target := head + 1
	span.SetAttributes(traces.TargetBlock(target))

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendBundle",
		Params:  []interface{}{bundleParams{Txs: []string{hexutil.Encode(raw)}, BlockNumber: hexutil.EncodeUint64(target)}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}

	var bundleHash string
	err = c.breaker.Do(func() error {
		return c.retry.Do(ctx, func(attempt int) error {
			if attempt > 0 {
				traces.Retry(span, attempt)
			}
			hash, err := c.post(ctx, body)
			if err != nil {
				return err
			}
			bundleHash = hash
			return nil
		})
	})
	if err != nil {
		var se *SubmitError
		if !errors.As(err, &se) {
			err = &SubmitError{Relay: c.url, Err: err}
		}
		traces.Fail(span, err)
		return c.failed(target, err)
	}

	if bundleHash == "" {
		bundleHash = "pending"
	}
	c.logger.Info("bundle submitted", "relay", c.url, "target_block", target, "bundle", bundleHash)
	return &Submission{
		Status:      StatusSubmitted,
		Relay:       c.url,
		BundleHash:  bundleHash,
		TargetBlock: target,
		Message:     fmt.Sprintf("Bundle submitted to Flashbots. Target block: %d", target),
		Success:     true,
	}, nil
}

func (c *FlashbotsClient) failed(target uint64, err error) (*Submission, error) {
	c.logger.Warn("bundle submission failed", "relay", c.url, "error", err)
	return &Submission{
		Status:      StatusError,
		Relay:       c.url,
		TargetBlock: target,
		Error:       err.Error(),
		Message:     "Flashbots error: " + err.Error(),
	}, err
}

func (c *FlashbotsClient) post(ctx context.Context, body []byte) (string, error) {
	sig, err := c.sign(body)
	if err != nil {
		return "", retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmitError{Relay: c.url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &SubmitError{Relay: c.url, StatusCode: resp.StatusCode, Err: err}
	}
	if err := retry.HTTPStatus(resp.StatusCode, &SubmitError{
		Relay: c.url, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(payload))),
	}); err != nil {
		return "", err
	}

	var out rpcResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", retry.Permanent(&SubmitError{Relay: c.url, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response: %w", err)})
	}
	if out.Error != nil {
		return "", retry.Permanent(&SubmitError{Relay: c.url, StatusCode: resp.StatusCode, Err: errors.New(out.Error.Message)})
	}
	if out.Result == nil {
		return "", nil
	}
	return out.Result.BundleHash, nil
}

// sign produces the X-Flashbots-Signature value: the signer address and an
// EIP-191 signature over the hex keccak256 of the body.
func (c *FlashbotsClient) sign(body []byte) (string, error) {
	digest := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(digest)), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign bundle: %w", err)
	}
	return c.signer.Hex() + ":" + hexutil.Encode(sig), nil
}
