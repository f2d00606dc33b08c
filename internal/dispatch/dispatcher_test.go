package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimlabs/alchemist/internal/bus"
	"github.com/cimlabs/alchemist/internal/session"
)

type fixedDialog struct {
	reply string
	err   error
}

func (f *fixedDialog) Respond(context.Context, string, string, string, map[string]any) (string, error) {
	return f.reply, f.err
}

func newDispatcher(handlers map[Op]Handler, timeout time.Duration) *Dispatcher {
	return New(handlers, &fixedDialog{reply: "ok"}, func() map[string]any {
		return map[string]any{"status": "healthy"}
	}, "alchemist", timeout)
}

func TestParseOp(t *testing.T) {
	op, ok := ParseOp("explain_concept")
	require.True(t, ok)
	assert.Equal(t, OpExplainConcept, op)
	assert.False(t, op.IsQuery())

	op, ok = ParseOp("list_concepts")
	require.True(t, ok)
	assert.True(t, op.IsQuery())

	_, ok = ParseOp("transmute_lead")
	assert.False(t, ok)
}

func TestHandleCommand_UnknownTypeDropped(t *testing.T) {
	d := newDispatcher(nil, 0)

	env := bus.NewCommand("transmute_lead", "test", nil)
	event, isError := d.HandleCommand(context.Background(), env)
	assert.Nil(t, event)
	assert.False(t, isError)

	// A query tag on the command path is equally unknown.
	env = bus.NewCommand("list_concepts", "test", nil)
	event, _ = d.HandleCommand(context.Background(), env)
	assert.Nil(t, event)
}

func TestHandleCommand_ValidationError(t *testing.T) {
	d := newDispatcher(map[Op]Handler{
		OpExplainConcept: func(context.Context, map[string]any) (map[string]any, error) {
			t.Fatal("handler must not run on invalid payload")
			return nil, nil
		},
	}, 0)

	env := bus.NewCommand("explain_concept", "test", map[string]any{"concept": 7})
	event, isError := d.HandleCommand(context.Background(), env)
	require.NotNil(t, event)
	assert.True(t, isError)
	assert.Equal(t, "explain_concept_failed", event.EventType)
	assert.Equal(t, env.ID, event.Payload["command_id"])
	assert.Equal(t, string(KindInvalidPayload), event.Payload["kind"])
}

func TestHandleCommand_Success(t *testing.T) {
	d := newDispatcher(map[Op]Handler{
		OpExplainConcept: func(_ context.Context, body map[string]any) (map[string]any, error) {
			return map[string]any{"explanation": "events", "concept": body["concept"]}, nil
		},
	}, 0)

	env := bus.NewCommand("explain_concept", "test", map[string]any{"concept": "Event Sourcing"})
	event, isError := d.HandleCommand(context.Background(), env)
	require.NotNil(t, event)
	assert.False(t, isError)
	assert.Equal(t, "explain_concept_completed", event.EventType)
	assert.Equal(t, "alchemist", event.AgentID)
	assert.Equal(t, "Event Sourcing", event.Payload["concept"])
}

func TestHandleCommand_PanicContained(t *testing.T) {
	d := newDispatcher(map[Op]Handler{
		OpAnalyzePattern: func(context.Context, map[string]any) (map[string]any, error) {
			panic("boom")
		},
	}, 0)

	env := bus.NewCommand("analyze_pattern", "test", nil)
	event, isError := d.HandleCommand(context.Background(), env)
	require.NotNil(t, event)
	assert.True(t, isError)
	assert.Equal(t, string(KindHandlerFailure), event.Payload["kind"])
	assert.Contains(t, event.Payload["error"], "boom")
}

func TestHandleCommand_TimeoutAbandonsHandler(t *testing.T) {
	release := make(chan struct{})
	d := newDispatcher(map[Op]Handler{
		OpExplainConcept: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			<-release
			return map[string]any{}, nil
		},
	}, 50*time.Millisecond)

	env := bus.NewCommand("explain_concept", "test", map[string]any{"concept": "CQRS"})
	start := time.Now()
	event, isError := d.HandleCommand(context.Background(), env)
	require.NotNil(t, event)
	assert.True(t, isError)
	assert.Equal(t, string(KindHandlerTimeout), event.Payload["kind"])
	assert.Less(t, time.Since(start), time.Second)

	close(release)
}

func TestHandleQuery_Success(t *testing.T) {
	d := newDispatcher(map[Op]Handler{
		OpListConcepts: func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{"total": 15}, nil
		},
	}, 0)

	env := bus.NewQuery("list_concepts", "test", nil)
	resp := d.HandleQuery(context.Background(), env)
	assert.Equal(t, env.ID, resp.ID)
	require.True(t, resp.Success)
	assert.Equal(t, 15, resp.Result["total"])
}

func TestHandleQuery_HandlerTimeout(t *testing.T) {
	release := make(chan struct{})
	d := newDispatcher(map[Op]Handler{
		OpListConcepts: func(context.Context, map[string]any) (map[string]any, error) {
			<-release
			return map[string]any{}, nil
		},
	}, 50*time.Millisecond)

	env := bus.NewQuery("list_concepts", "test", nil)
	resp := d.HandleQuery(context.Background(), env)
	assert.Equal(t, env.ID, resp.ID)
	require.False(t, resp.Success)
	assert.Equal(t, string(KindHandlerTimeout), resp.Error.Kind)

	close(release)
}

func TestHandleQuery_UnknownType(t *testing.T) {
	d := newDispatcher(nil, 0)

	env := bus.NewQuery("divine_future", "test", nil)
	resp := d.HandleQuery(context.Background(), env)
	assert.Equal(t, env.ID, resp.ID)
	require.False(t, resp.Success)
	assert.Equal(t, string(KindUnknownType), resp.Error.Kind)
	assert.False(t, resp.Error.Retryable)
}

func TestHandleQuery_SessionErrorsClassified(t *testing.T) {
	d := newDispatcher(map[Op]Handler{
		OpGetDialogHistory: func(context.Context, map[string]any) (map[string]any, error) {
			return nil, session.ErrNotFound
		},
	}, 0)

	env := bus.NewQuery("get_dialog_history", "test", map[string]any{"dialog_id": "gone"})
	resp := d.HandleQuery(context.Background(), env)
	require.False(t, resp.Success)
	assert.Equal(t, string(KindSessionNotFound), resp.Error.Kind)
}

func TestHandleHealth_BypassesHandlerTable(t *testing.T) {
	d := newDispatcher(nil, 0)

	env := bus.NewQuery("health", "test", nil)
	resp := d.HandleHealth(env)
	require.True(t, resp.Success)
	assert.Equal(t, "healthy", resp.Result["status"])
}

func TestHandleDialog(t *testing.T) {
	d := newDispatcher(nil, 0)

	msg := &bus.DialogMessage{ID: "m1", DialogID: "s1", Sender: "user", Content: "hi"}
	resp := d.HandleDialog(context.Background(), "s1", msg)
	require.True(t, resp.Success)
	assert.Equal(t, "m1", resp.ID)
	assert.Equal(t, "ok", resp.Result["content"])
	assert.Equal(t, "s1", resp.Result["dialog_id"])
	assert.Equal(t, "alchemist", resp.Result["sender"])
}

func TestHandleDialog_Error(t *testing.T) {
	d := New(nil, &fixedDialog{err: session.ErrExpired}, nil, "alchemist", 0)

	msg := &bus.DialogMessage{ID: "m2", DialogID: "s2", Sender: "user", Content: "hi"}
	resp := d.HandleDialog(context.Background(), "s2", msg)
	require.False(t, resp.Success)
	assert.Equal(t, string(KindSessionExpired), resp.Error.Kind)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindSessionNotFound, Classify(session.ErrNotFound).Kind)
	assert.Equal(t, KindSessionExpired, Classify(session.ErrExpired).Kind)
	assert.Equal(t, KindHandlerFailure, Classify(errors.New("anything")).Kind)

	typed := NewError(KindInvalidPayload, false, "bad field")
	assert.Same(t, typed, Classify(typed))
}
