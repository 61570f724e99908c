// Package retry repeats upstream calls with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"
)

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Policy describes how often and how patiently to retry.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration // zero means uncapped
}

// Do runs fn until it succeeds, returns a Permanent error, runs out of
// attempts or ctx ends. fn receives the zero-based attempt number. The
// returned error keeps its Permanent mark so callers can classify it.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(p.Attempts, 1)

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i); err == nil || IsPermanent(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		t := time.NewTimer(p.Backoff(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// Backoff is the wait after the given failed attempt: Base doubled per
// attempt, capped at Max, then jittered down by up to a quarter.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Base << min(attempt, 30)
	if p.Max > 0 && (d <= 0 || d > p.Max) {
		d = p.Max
	}
	if q := int64(d / 4); q > 0 {
		d -= time.Duration(rand.Int64N(q + 1))
	}
	return d
}

// HTTPStatus classifies an upstream response. 2xx gives nil, 429 and 5xx
// return err unchanged and any other status marks it Permanent.
func HTTPStatus(code int, err error) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return err
	default:
		return Permanent(err)
	}
}
