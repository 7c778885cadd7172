package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// natsPublisher is the subset of *nats.Conn used by NATSSink.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url with unlimited reconnects.
func ConnectNATS(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
}

// NATSSink forwards alarm events as JSON to a subject.
type NATSSink struct {
	conn       natsPublisher
	subject    string
	maxRetries int
	logger     *zap.Logger
}

func NewNATSSink(conn natsPublisher, subject string, maxRetries int, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (p *NATSSink) Send(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// Run drains sub until ctx is done or the subscription is closed.
func (p *NATSSink) Run(ctx context.Context, sub *Subscription) {
	drain(ctx, sub, func(e Event) error { return p.Send(e) }, p.logger.With(zap.String("sink", "nats")))
}

func drain(ctx context.Context, sub *Subscription, send func(Event) error, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := send(e); err != nil {
				logger.Warn("event forward failed", zap.String("kind", string(e.Kind)), zap.Error(err))
			}
		}
	}
}
