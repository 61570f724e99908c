// Package feed delivers pending-transaction signals for a watched contract.
//
// Two sources exist. Synthetic emits an undecoded tick on a fixed interval
// and drives the placeholder classifier. Mempool subscribes to a node's full
// pending-transaction stream and decodes router calldata into transactions
// the risk scorer understands.
package feed

import (
	"context"
	"errors"

	"github.com/mbd888/mevguard/internal/threat"
)

// ErrClosed is returned when subscribing on a closed feed.
var ErrClosed = errors.New("feed: closed")

// Feed produces signals for one contract until ctx is cancelled.
// The returned channel is closed when the subscription ends for any reason.
type Feed interface {
	Subscribe(ctx context.Context, contractAddress string) (<-chan threat.Signal, error)
}
