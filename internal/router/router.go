// Package router owns the named work queues. Tasks are validated on the
// way in, delivered to exactly one consumer in the queue group, and
// dispatched to the handler registered for the queue name. One bad task
// never kills a listener.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/narrata-labs/narrata-core/internal/bus"
	"github.com/narrata-labs/narrata-core/internal/config"
	"github.com/narrata-labs/narrata-core/internal/protocol"
	"github.com/narrata-labs/narrata-core/internal/schema"
	"github.com/narrata-labs/narrata-core/internal/status"
)

// Handler processes one delivered task. Errors are logged and surfaced
// through job status transitions, never rethrown to the queue.
type Handler func(ctx context.Context, queue string, task protocol.Task) error

type Router struct {
	cfg      config.QueueConfig
	bus      *bus.Client
	schemas  *schema.Registry
	status   *status.Store
	logger   *slog.Logger
	handlers map[string]Handler
	subs     []*nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ready    bool

	tasksAccepted metric.Int64Counter
	tasksDropped  metric.Int64Counter
	handlerErrors metric.Int64Counter
}

func New(parent context.Context, cfg config.QueueConfig, busClient *bus.Client, schemas *schema.Registry, statusStore *status.Store, logger *slog.Logger) *Router {
	ctx, cancel := context.WithCancel(parent)
	r := &Router{
		cfg:      cfg,
		bus:      busClient,
		schemas:  schemas,
		status:   statusStore,
		logger:   logger.With(slog.String("component", "queue-router")),
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.initMetrics()
	return r
}

func (r *Router) initMetrics() {
	meter := otel.Meter("github.com/narrata-labs/narrata-core/router")
	var err error
	if r.tasksAccepted, err = meter.Int64Counter("narrata.tasks.accepted",
		metric.WithDescription("Tasks that passed schema validation")); err != nil {
		r.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if r.tasksDropped, err = meter.Int64Counter("narrata.tasks.dropped",
		metric.WithDescription("Tasks dropped by validation or routing")); err != nil {
		r.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if r.handlerErrors, err = meter.Int64Counter("narrata.router.handler_errors",
		metric.WithDescription("Handler invocations that returned an error or panicked")); err != nil {
		r.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
}

// Handle registers the handler for a queue name. Call before Start.
func (r *Router) Handle(queue string, h Handler) {
	r.handlers[queue] = h
}

// Enqueue validates a task and appends it to the named queue. A
// validation failure drops the task, records the job's terminal
// validation status, and returns the error; there is no retry.
func (r *Router) Enqueue(ctx context.Context, queue string, task protocol.Task) error {
	if err := r.validateOrDrop(ctx, queue, task); err != nil {
		return err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.TaskID, err)
	}
	if err := r.bus.Conn().Publish(queue, data); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	if r.tasksAccepted != nil {
		r.tasksAccepted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("task_type", string(task.Type)),
		))
	}
	return nil
}

func (r *Router) validateOrDrop(ctx context.Context, queue string, task protocol.Task) error {
	err := r.schemas.Validate(task)
	if err == nil {
		return nil
	}
	var verr *protocol.ValidationError
	if errors.As(err, &verr) {
		r.logger.Warn("task failed validation, dropping",
			slog.String("queue", queue),
			slog.String("task_id", task.TaskID),
			slog.String("job_id", task.JobID),
			slog.String("error", verr.Error()))
		if r.tasksDropped != nil {
			r.tasksDropped.Add(ctx, 1, metric.WithAttributes(
				attribute.String("queue", queue),
				attribute.String("reason", "validation"),
			))
		}
		if task.JobID != "" && r.status != nil {
			if serr := r.status.Set(ctx, task.JobID, protocol.StatusValidationFailed); serr != nil {
				r.logger.Warn("failed to record validation status", slog.String("error", serr.Error()))
			}
		}
	}
	return err
}

// Start subscribes every registered queue in the shared consumer group.
func (r *Router) Start() error {
	for queue := range r.handlers {
		queue := queue
		sub, err := r.bus.Conn().QueueSubscribe(queue, r.cfg.Group, func(msg *nats.Msg) {
			r.wg.Add(1)
			defer r.wg.Done()
			r.dispatch(queue, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", queue, err)
		}
		r.subs = append(r.subs, sub)
		r.logger.Info("listening on queue", slog.String("queue", queue), slog.String("group", r.cfg.Group))
	}
	r.ready = true
	return nil
}

func (r *Router) dispatch(queue string, data []byte) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked",
				slog.String("queue", queue),
				slog.Any("panic", p))
			if r.handlerErrors != nil {
				r.handlerErrors.Add(r.ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
			}
		}
	}()

	var task protocol.Task
	if err := json.Unmarshal(data, &task); err != nil {
		r.logger.Warn("discarding malformed queue item",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
		return
	}

	// Consumers reject envelopes missing required fields even if a
	// foreign producer skipped the enqueue-side gate.
	if err := r.validateOrDrop(r.ctx, queue, task); err != nil {
		return
	}

	h, ok := r.handlers[queue]
	if !ok {
		rerr := &protocol.RoutingError{Queue: queue}
		r.logger.Warn("skipping task", slog.String("error", rerr.Error()))
		if r.tasksDropped != nil {
			r.tasksDropped.Add(r.ctx, 1, metric.WithAttributes(
				attribute.String("queue", queue),
				attribute.String("reason", "routing"),
			))
		}
		return
	}

	if err := h(r.ctx, queue, task); err != nil {
		r.logger.Warn("handler failed",
			slog.String("queue", queue),
			slog.String("task_id", task.TaskID),
			slog.String("job_id", task.JobID),
			slog.String("error", err.Error()))
		if r.handlerErrors != nil {
			r.handlerErrors.Add(r.ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
		}
	}
}

// Close drains all subscriptions and waits for in-flight handlers.
func (r *Router) Close() {
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.wg.Wait()
}

func (r *Router) Healthy() bool {
	return r.ready
}
