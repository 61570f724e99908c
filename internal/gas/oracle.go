package gas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mbd888/mevguard/internal/circuitbreaker"
	"github.com/mbd888/mevguard/internal/metrics"
)

// DefaultPriceURL is CoinGecko's keyless simple-price endpoint.
const DefaultPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd"

type quote struct {
	usd float64
	at  time.Time
}

// PriceOracle caches the ETH/USD rate for ttl. Concurrent refreshes share
// one request, and after repeated upstream failures it stops asking for a
// minute and serves the last good rate, or the fallback before the first.
type PriceOracle struct {
	url      string
	ttl      time.Duration
	fallback float64
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	now      func() time.Time

	last    atomic.Pointer[quote]
	refresh singleflight.Group
}

func NewPriceOracle(fallback float64, ttl time.Duration) *PriceOracle {
	metrics.ETHUSDPrice.Set(fallback)
	return &PriceOracle{
		url:      DefaultPriceURL,
		ttl:      ttl,
		fallback: fallback,
		client:   &http.Client{Timeout: 5 * time.Second},
		breaker:  circuitbreaker.New("price-feed", 3, time.Minute),
		now:      time.Now,
	}
}

// WithURL points the oracle at another endpoint with the same response shape.
func (o *PriceOracle) WithURL(url string) *PriceOracle {
	o.url = url
	return o
}

// ETHPrice returns the cached rate, refreshing it once the cache expires.
func (o *PriceOracle) ETHPrice(ctx context.Context) float64 {
	q := o.last.Load()
	if q != nil && o.now().Sub(q.at) < o.ttl {
		return q.usd
	}

	v, err, _ := o.refresh.Do("eth", func() (any, error) {
		var usd float64
		err := o.breaker.Do(func() error {
			var err error
			usd, err = o.fetch(ctx)
			return err
		})
		if err != nil {
			return 0.0, err
		}
		o.last.Store(&quote{usd: usd, at: o.now()})
		metrics.ETHUSDPrice.Set(usd)
		return usd, nil
	})
	if err == nil {
		return v.(float64)
	}

	if !errors.Is(err, circuitbreaker.ErrOpen) {
		metrics.PriceFetchFailuresTotal.Inc()
	}
	if q != nil {
		return q.usd
	}
	return o.fallback
}

// USD prices an ether amount at the current rate.
func (o *PriceOracle) USD(ctx context.Context, eth float64) float64 {
	return eth * o.ETHPrice(ctx)
}

func (o *PriceOracle) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price feed status %d", resp.StatusCode)
	}

	var body struct {
		Ethereum struct {
			USD float64 `json:"usd"`
		} `json:"ethereum"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	if body.Ethereum.USD <= 0 {
		return 0, fmt.Errorf("implausible ETH price %v", body.Ethereum.USD)
	}
	return body.Ethereum.USD, nil
}

// BoundPricer adapts the oracle to callers without a context by bounding
// each lookup with a timeout.
type BoundPricer struct {
	oracle  *PriceOracle
	timeout time.Duration
}

func (o *PriceOracle) Pricer(timeout time.Duration) BoundPricer {
	return BoundPricer{oracle: o, timeout: timeout}
}

func (p BoundPricer) USD(eth float64) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.oracle.USD(ctx, eth)
}

// FixedPrice prices at a constant ETH/USD rate.
type FixedPrice float64

func (p FixedPrice) USD(eth float64) float64 {
	return eth * float64(p)
}
