// Package notify publishes best-effort wake-ups when jobs are enqueued so idle
// pollers claim them without waiting for the next tick. Polling remains the
// source of truth.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

const subjectPrefix = "shophook.jobs."

func Subject(lane domain.Lane) string {
	return subjectPrefix + string(lane)
}

// Bus publishes and receives lane wake-ups.
type Bus interface {
	Notify(ctx context.Context, lane domain.Lane)
	// Wakeups returns a channel that receives after each notification for
	// lane, coalesced to at most one pending signal.
	Wakeups(lane domain.Lane) (<-chan struct{}, error)
	Close()
}

// Noop is used when QUEUE_URL is empty. Its wake-up channels never fire.
type Noop struct{}

func (Noop) Notify(context.Context, domain.Lane) {}

func (Noop) Wakeups(domain.Lane) (<-chan struct{}, error) {
	return nil, nil
}

func (Noop) Close() {}

type NATS struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func Connect(url, name string, logger *slog.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{conn: nc, logger: logger}, nil
}

// Open returns a NATS bus for url, or Noop when url is empty.
func Open(url, name string, logger *slog.Logger) (Bus, error) {
	if url == "" {
		return Noop{}, nil
	}
	return Connect(url, name, logger)
}

func (n *NATS) Notify(_ context.Context, lane domain.Lane) {
	if err := n.conn.Publish(Subject(lane), nil); err != nil {
		n.logger.Debug("wake-up publish failed", "lane", lane, "error", err)
	}
}

func (n *NATS) Wakeups(lane domain.Lane) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	sub, err := n.conn.Subscribe(Subject(lane), func(*nats.Msg) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Subject(lane), err)
	}
	n.subs = append(n.subs, sub)
	return ch, nil
}

func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
