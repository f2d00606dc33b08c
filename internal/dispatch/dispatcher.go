package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cimlabs/alchemist/internal/bus"
)

var handlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "alchemist_handler_errors_total",
	Help: "Dispatch failures by error kind",
}, []string{"kind"})

// Handler executes one operation. It receives the decoded body and must
// be safe to run to completion even after the dispatcher has abandoned it.
type Handler func(ctx context.Context, body map[string]any) (map[string]any, error)

// DialogHandler produces the agent's reply for a dialog turn.
type DialogHandler interface {
	Respond(ctx context.Context, sessionID, sender, content string, metadata map[string]any) (string, error)
}

// HealthFunc returns the current health snapshot as a wire payload.
type HealthFunc func() map[string]any

// Dispatcher routes envelopes to handlers. The handler table is built
// once at startup and never mutated.
type Dispatcher struct {
	handlers map[Op]Handler
	dialog   DialogHandler
	healthFn HealthFunc
	agentID  string
	timeout  time.Duration
}

// New creates a Dispatcher. A zero timeout defaults to 30 seconds.
func New(handlers map[Op]Handler, dialog DialogHandler, healthFn HealthFunc, agentID string, timeout time.Duration) *Dispatcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	copied := make(map[Op]Handler, len(handlers))
	for op, h := range handlers {
		copied[op] = h
	}
	return &Dispatcher{
		handlers: copied,
		dialog:   dialog,
		healthFn: healthFn,
		agentID:  agentID,
		timeout:  timeout,
	}
}

// HandleCommand processes a fire-and-forget command. It returns the event
// to publish and whether it goes to the error-events subject. A nil event
// means the command was dropped (unknown type, logged, no reply owed).
func (d *Dispatcher) HandleCommand(ctx context.Context, env *bus.Envelope) (*bus.Event, bool) {
	op, ok := ParseOp(env.CommandType)
	if !ok || op.IsQuery() {
		log.Printf("[Dispatch] dropping command with unknown type %q (id %s)", env.CommandType, env.ID)
		handlerErrorsTotal.WithLabelValues(string(KindUnknownType)).Inc()
		return nil, false
	}

	if verr := validate(op, env.Payload); verr != nil {
		return d.commandError(env, verr), true
	}

	result, err := d.invoke(ctx, d.handlers[op], env.Payload)
	if err != nil {
		return d.commandError(env, Classify(err)), true
	}
	return bus.NewEvent(env.CommandType+"_completed", d.agentID, result), false
}

// HandleQuery processes a request-reply query and always produces a
// response envelope correlated to the query id.
func (d *Dispatcher) HandleQuery(ctx context.Context, env *bus.Envelope) *bus.Response {
	op, ok := ParseOp(env.QueryType)
	if !ok || !op.IsQuery() {
		handlerErrorsTotal.WithLabelValues(string(KindUnknownType)).Inc()
		return bus.Fail(env.ID, string(KindUnknownType), "unknown query type "+env.QueryType, false)
	}

	if verr := validate(op, env.Parameters); verr != nil {
		handlerErrorsTotal.WithLabelValues(string(KindInvalidPayload)).Inc()
		return failFrom(env.ID, verr)
	}

	result, err := d.invoke(ctx, d.handlers[op], env.Parameters)
	if err != nil {
		cerr := Classify(err)
		handlerErrorsTotal.WithLabelValues(string(cerr.Kind)).Inc()
		return failFrom(env.ID, cerr)
	}
	return bus.OK(env.ID, result)
}

// HandleHealth answers a health query directly from the aggregator,
// bypassing the handler table.
func (d *Dispatcher) HandleHealth(env *bus.Envelope) *bus.Response {
	return bus.OK(env.ID, d.healthFn())
}

// HandleDialog runs one dialog turn under the same timeout and panic
// discipline as regular handlers.
func (d *Dispatcher) HandleDialog(ctx context.Context, sessionID string, msg *bus.DialogMessage) *bus.Response {
	result, err := d.invoke(ctx, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		reply, err := d.dialog.Respond(ctx, sessionID, msg.Sender, msg.Content, msg.Metadata)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"dialog_id": sessionID,
			"content":   reply,
			"sender":    d.agentID,
		}, nil
	}, nil)
	if err != nil {
		cerr := Classify(err)
		handlerErrorsTotal.WithLabelValues(string(cerr.Kind)).Inc()
		return failFrom(msg.ID, cerr)
	}
	return bus.OK(msg.ID, result)
}

// invoke runs a handler bounded by the dispatch timeout. A handler that
// overruns is abandoned: its goroutine finishes into a buffered channel
// and the eventual result is discarded. Panics become handler failures.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, body map[string]any) (map[string]any, error) {
	ictx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: NewError(KindHandlerFailure, false, "handler panic: %v", p)}
			}
		}()
		result, err := h(ictx, body)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ictx.Done():
		if errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindHandlerTimeout, false, "handler exceeded %s", d.timeout)
		}
		return nil, NewError(KindTimeout, false, "dispatch cancelled")
	}
}

func (d *Dispatcher) commandError(env *bus.Envelope, cerr *Error) *bus.Event {
	handlerErrorsTotal.WithLabelValues(string(cerr.Kind)).Inc()
	log.Printf("[Dispatch] command %s (id %s) failed: %v", env.CommandType, env.ID, cerr)
	return bus.NewEvent(env.CommandType+"_failed", d.agentID, map[string]any{
		"command_id": env.ID,
		"error":      cerr.Message,
		"kind":       string(cerr.Kind),
		"retryable":  cerr.Retryable,
	})
}

func failFrom(id string, cerr *Error) *bus.Response {
	return bus.Fail(id, string(cerr.Kind), cerr.Message, cerr.Retryable)
}
