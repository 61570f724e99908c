package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mbd888/mevguard/internal/risk"
	"github.com/mbd888/mevguard/internal/threat"
)

// PendingSubscriber streams full pending transactions.
type PendingSubscriber interface {
	SubscribePending(ctx context.Context, ch chan<- *types.Transaction) (ethereum.Subscription, error)
}

type gethPending struct {
	client *gethclient.Client
}

func (g gethPending) SubscribePending(ctx context.Context, ch chan<- *types.Transaction) (ethereum.Subscription, error) {
	sub, err := g.client.SubscribeFullPendingTransactions(ctx, ch)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Mempool decodes a node's pending transactions into signals.
type Mempool struct {
	source  PendingSubscriber
	signer  types.Signer
	rpc     *rpc.Client
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
	closed  bool
	bufSize int
}

// DialMempool connects to a websocket endpoint that supports
// eth_subscribe("newPendingTransactions", true).
func DialMempool(ctx context.Context, wsURL string, chainID int64, logger *slog.Logger) (*Mempool, error) {
	client, err := rpc.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket RPC: %w", err)
	}
	m := NewMempool(gethPending{client: gethclient.New(client)}, chainID, logger)
	m.rpc = client
	return m, nil
}

// NewMempool creates a mempool feed on top of source.
func NewMempool(source PendingSubscriber, chainID int64, logger *slog.Logger) *Mempool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mempool{
		source:  source,
		signer:  types.LatestSignerForChainID(big.NewInt(chainID)),
		logger:  logger,
		now:     time.Now,
		bufSize: 256,
	}
}

// Close releases the RPC connection. Active subscriptions end with an error.
func (m *Mempool) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.rpc != nil {
		m.rpc.Close()
	}
}

func (m *Mempool) Subscribe(ctx context.Context, contractAddress string) (<-chan threat.Signal, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	txs := make(chan *types.Transaction, m.bufSize)
	sub, err := m.source.SubscribePending(ctx, txs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to pending transactions: %w", err)
	}

	// Non-address contracts (such as the dashboard default) watch everything.
	var target *common.Address
	if common.IsHexAddress(contractAddress) {
		addr := common.HexToAddress(contractAddress)
		target = &addr
	}

	out := make(chan threat.Signal, 64)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					m.logger.Error("pending transaction subscription failed",
						"contract", contractAddress, "error", err)
				}
				return
			case tx := <-txs:
				if tx == nil || tx.To() == nil {
					continue
				}
				if target != nil && *tx.To() != *target {
					continue
				}
				sig := m.Signal(tx, contractAddress)
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Signal converts a pending transaction into a decoded signal.
func (m *Mempool) Signal(tx *types.Transaction, contractAddress string) threat.Signal {
	decoded := DecodeCalldata(tx.Data())

	pending := &risk.PendingTransaction{
		Value:        tx.Value(),
		GasPrice:     tx.GasPrice(),
		Data:         tx.Data(),
		Kind:         decoded.Kind,
		MinAmountOut: decoded.MinAmountOut,
	}
	if to := tx.To(); to != nil {
		pending.To = strings.ToLower(to.Hex())
	}

	sig := threat.Signal{
		ContractAddress: contractAddress,
		TxHash:          tx.Hash().Hex(),
		Tx:              pending,
		ObservedAt:      m.now(),
	}
	if from, err := types.Sender(m.signer, tx); err == nil {
		sig.From = strings.ToLower(from.Hex())
	}
	return sig
}
