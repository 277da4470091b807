package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/varalys/fimwatch/internal/alert"
	"github.com/varalys/fimwatch/internal/config"
	"go.uber.org/zap"
)

// publisher is the subset of *nats.Conn used here.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATS publishes a JSON envelope per alert to one subject.
type NATS struct {
	conn    publisher
	subject string
}

// NewNATS connects to the configured server.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats: url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("fimwatch"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATS(nc, cfg.GetSubject()), nil
}

func newNATS(conn publisher, subject string) *NATS {
	return &NATS{conn: conn, subject: subject}
}

// Notify publishes and waits for the server to acknowledge the flush so a
// nil error means the message left the process.
func (n *NATS) Notify(ctx context.Context, msg alert.Message) error {
	data, err := json.Marshal(newEnvelope(msg))
	if err != nil {
		return fmt.Errorf("nats encode: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (n *NATS) Close() { n.conn.Close() }
