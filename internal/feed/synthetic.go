package feed

import (
	"context"
	"time"

	"github.com/mbd888/mevguard/internal/idgen"
	"github.com/mbd888/mevguard/internal/threat"
)

// DefaultInterval is the synthetic tick period.
const DefaultInterval = 3 * time.Second

// Synthetic ticks on a fixed interval with a random hash and sender.
type Synthetic struct {
	interval time.Duration
	now      func() time.Time
}

// NewSynthetic creates a synthetic feed. Non-positive intervals use DefaultInterval.
func NewSynthetic(interval time.Duration) *Synthetic {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Synthetic{interval: interval, now: time.Now}
}

// Interval returns the tick period.
func (s *Synthetic) Interval() time.Duration {
	return s.interval
}

func (s *Synthetic) Subscribe(ctx context.Context, contractAddress string) (<-chan threat.Signal, error) {
	out := make(chan threat.Signal, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sig := threat.Signal{
					ContractAddress: contractAddress,
					TxHash:          idgen.TxHash(),
					From:            idgen.Address(),
					ObservedAt:      s.now(),
					Synthetic:       true,
				}
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
