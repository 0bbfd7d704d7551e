// Package health is the side-channel heartbeat responder. It is
// stateless and independent of the task queues: a well-formed request on
// the request channel gets a healthy reply on the response channel.
package health

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/narrata-labs/narrata-core/internal/bus"
	"github.com/narrata-labs/narrata-core/internal/protocol"
)

type Beacon struct {
	service string
	bus     *bus.Client
	sub     *nats.Subscription
	logger  *slog.Logger
}

func NewBeacon(service string, busClient *bus.Client, logger *slog.Logger) *Beacon {
	return &Beacon{
		service: service,
		bus:     busClient,
		logger:  logger.With(slog.String("component", "health-beacon")),
	}
}

func (b *Beacon) Start() error {
	sub, err := b.bus.Conn().Subscribe(protocol.SubjectHealthRequest, b.handleRequest)
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

func (b *Beacon) Close() {
	if b.sub != nil {
		_ = b.sub.Drain()
	}
}

func (b *Beacon) Healthy() bool { return b.sub != nil }

func (b *Beacon) handleRequest(msg *nats.Msg) {
	var req protocol.HealthRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.logger.Warn("ignoring malformed health request", slog.String("error", err.Error()))
		return
	}
	if req.Action != protocol.HealthCheckAction {
		b.logger.Warn("ignoring unknown health action", slog.String("action", req.Action))
		return
	}

	resp := protocol.HealthResponse{Service: b.service, Status: "healthy"}
	data, err := json.Marshal(resp)
	if err != nil {
		b.logger.Warn("failed to marshal health response", slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Conn().Publish(protocol.SubjectHealthResponse, data); err != nil {
		b.logger.Warn("failed to publish health response", slog.String("error", err.Error()))
	}
}
