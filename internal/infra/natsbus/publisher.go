package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/ports/adapter"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

var _ adapter.TransitionSink = (*Publisher)(nil)

// Publisher announces transitions and health snapshots on NATS subjects:
//
//	<prefix>.transitions.<cause>
//	<prefix>.health
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    *zerolog.Logger
}

func Connect(url, prefix string, logger *zerolog.Logger) (*Publisher, error) {
	compLog := logger.With().Str("component", "NATSPublisher").Logger()
	nc, err := nats.Connect(url,
		nats.Name("request-queue"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				compLog.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			compLog.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return New(nc, prefix, logger), nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, prefix string, logger *zerolog.Logger) *Publisher {
	compLog := logger.With().Str("component", "NATSPublisher").Logger()
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "request-queue"
	}
	return &Publisher{nc: nc, prefix: prefix, log: &compLog}
}

func (p *Publisher) TransitionSubject(c model.TransitionCause) string {
	return p.prefix + ".transitions." + string(c)
}

func (p *Publisher) HealthSubject() string { return p.prefix + ".health" }

func (p *Publisher) Publish(ctx context.Context, ev model.TransitionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.TransitionSubject(ev.Cause), data)
}

// PublishHealth sends a heartbeat with the current snapshot. Failures are logged.
func (p *Publisher) PublishHealth(s *model.HealthSnapshot) {
	if s == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := p.nc.Publish(p.HealthSubject(), data); err != nil {
		p.log.Warn().Err(err).Msg("failed to publish health heartbeat")
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
