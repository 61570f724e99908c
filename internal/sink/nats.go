package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events on "<subject>.<eventType>".
type NATSSink struct {
	subject string
	pub     Publisher
	conn    *nats.Conn
	now     func() time.Time
}

// NewNATSSink connects to url.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("mevguard"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s := NewNATSSinkWithPublisher(conn, subject)
	s.conn = conn
	return s, nil
}

// NewNATSSinkWithPublisher wraps an existing publisher.
func NewNATSSinkWithPublisher(pub Publisher, subject string) *NATSSink {
	return &NATSSink{subject: subject, pub: pub, now: time.Now}
}

func (s *NATSSink) Emit(ctx context.Context, eventType, key string, payload interface{}) (err error) {
	defer func() { observe("nats", err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := encode(eventType, key, payload, s.now())
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.subject+"."+eventType, b); err != nil {
		return fmt.Errorf("nats emit failed: %w", err)
	}
	return nil
}

// Close drains the connection when the sink owns one.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
