// Package sink publishes detection events to external message buses.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mbd888/mevguard/internal/metrics"
)

// Sink delivers events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, eventType, key string, payload interface{}) error
	Close() error
}

// Envelope is the wire form of every published event.
type Envelope struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Timestamp int64           `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

func encode(eventType, key string, payload interface{}, now time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      eventType,
		Key:       key,
		Timestamp: now.UnixMilli(),
		Data:      data,
	})
}

func observe(name string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventsEmittedTotal.WithLabelValues(name, result).Inc()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, string, interface{}) error { return nil }
func (Nop) Close() error                                            { return nil }

// Multi fans an event out to several sinks. Every sink is attempted; errors
// are joined.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, eventType, key string, payload interface{}) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, eventType, key, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
