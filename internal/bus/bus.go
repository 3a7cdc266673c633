// Package bus publishes orchestration events over NATS so that peer
// coordinator instances and observers can follow liveness and progress.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event is the envelope of every published message
type Event struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher sends JSON messages on a subject
type Publisher interface {
	Publish(subject string, v any) error
}

// Nop discards every message
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }

// Config configures the NATS connection
type Config struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

// NATS publishes events on a NATS connection
type NATS struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials NATS with reconnect handling, retrying the initial connect
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*NATS, error) {
	logger = logger.Named("bus")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 1
	}

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < retries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", retries, err)
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return &NATS{conn: nc, logger: logger}, nil
}

// NewNATS wraps an existing connection
func NewNATS(conn *nats.Conn, logger *zap.Logger) *NATS {
	return &NATS{conn: conn, logger: logger.Named("bus")}
}

// Publish marshals v as JSON and publishes it on subject
func (b *NATS) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Error("Failed to publish message",
			zap.String("subject", subject),
			zap.Error(err))
		return err
	}
	return nil
}

// Subscribe decodes events published on subject until ctx is done
func (b *NATS) Subscribe(ctx context.Context, subject string, handler func(subject string, ev Event)) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Error("Failed to unmarshal event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		handler(msg.Subject, ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}

// Flush waits until published messages reached the server
func (b *NATS) Flush() error {
	return b.conn.Flush()
}

// Close drains and closes the connection
func (b *NATS) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("Failed to drain NATS connection", zap.Error(err))
		b.conn.Close()
	}
}

// NewEvent builds an event stamped with the current time
func NewEvent(eventType, source string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
