package bus_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimlabs/alchemist/internal/bus"
	"github.com/cimlabs/alchemist/internal/bus/bustest"
)

func fastConfig() bus.Config {
	return bus.Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		DedupWindow:  time.Minute,
		DrainGrace:   100 * time.Millisecond,
		Inbox:        "test.replies.inbox-1",
	}
}

func startGateway(t *testing.T, tr *bustest.MemTransport, cfg bus.Config) (*bus.Gateway, context.CancelFunc) {
	t.Helper()
	g := bus.NewGateway(tr, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)
	require.Eventually(t, func() bool { return g.State() == bus.StateConnected },
		time.Second, time.Millisecond)
	return g, cancel
}

func TestGateway_PublishSubscribeRoundtrip(t *testing.T) {
	tr := bustest.NewMemTransport()
	g, cancel := startGateway(t, tr, fastConfig())
	defer cancel()

	msgs, err := g.Subscribe("agent.commands.*")
	require.NoError(t, err)

	env := bus.NewCommand("explain_concept", "test", map[string]any{"concept": "CQRS"})
	require.NoError(t, g.Publish(context.Background(), "agent.commands.explain_concept", env))

	select {
	case msg := <-msgs:
		assert.Equal(t, "agent.commands.explain_concept", msg.Subject)
		var got bus.Envelope
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, env.ID, got.ID)
		assert.Equal(t, "explain_concept", got.CommandType)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestGateway_DuplicateEnvelopeDropped(t *testing.T) {
	tr := bustest.NewMemTransport()
	g, cancel := startGateway(t, tr, fastConfig())
	defer cancel()

	msgs, err := g.Subscribe("agent.commands.*")
	require.NoError(t, err)

	env := bus.NewCommand("explain_concept", "test", map[string]any{"concept": "Event Sourcing"})
	for i := 0; i < 2; i++ {
		require.NoError(t, g.Publish(context.Background(), "agent.commands.explain_concept", env))
	}

	select {
	case <-msgs:
	case <-time.After(time.Second):
		t.Fatal("first delivery missing")
	}
	select {
	case msg := <-msgs:
		t.Fatalf("duplicate delivered: %s", msg.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGateway_RequestReply(t *testing.T) {
	tr := bustest.NewMemTransport()
	g, cancel := startGateway(t, tr, fastConfig())
	defer cancel()

	// A peer service answering on its subject.
	peer, err := tr.Connect(context.Background())
	require.NoError(t, err)
	defer peer.Close()
	reqs, err := peer.Subscribe(context.Background(), "svc.echo")
	require.NoError(t, err)
	go func() {
		for msg := range reqs {
			var env bus.Envelope
			if json.Unmarshal(msg.Payload, &env) != nil {
				continue
			}
			resp, _ := json.Marshal(bus.OK(env.ID, map[string]any{"echo": env.Parameters["v"]}))
			peer.Publish(context.Background(), env.ReplyTo, resp)
		}
	}()

	env := bus.NewQuery("echo", "test", map[string]any{"v": "hello"})
	resp, err := g.Request(context.Background(), "svc.echo", env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, env.ID, resp.ID)
	assert.True(t, resp.Success)
	assert.Equal(t, "hello", resp.Result["echo"])
}

func TestGateway_OutOfOrderRepliesCorrelate(t *testing.T) {
	tr := bustest.NewMemTransport()
	g, cancel := startGateway(t, tr, fastConfig())
	defer cancel()

	peer, err := tr.Connect(context.Background())
	require.NoError(t, err)
	defer peer.Close()
	reqs, err := peer.Subscribe(context.Background(), "svc.slow")
	require.NoError(t, err)

	// Collect two requests, then answer them in reverse arrival order.
	go func() {
		var pending []bus.Envelope
		for msg := range reqs {
			var env bus.Envelope
			if json.Unmarshal(msg.Payload, &env) != nil {
				continue
			}
			pending = append(pending, env)
			if len(pending) == 2 {
				for i := len(pending) - 1; i >= 0; i-- {
					e := pending[i]
					resp, _ := json.Marshal(bus.OK(e.ID, map[string]any{"v": e.Parameters["v"]}))
					peer.Publish(context.Background(), e.ReplyTo, resp)
				}
				return
			}
		}
	}()

	type result struct {
		want string
		resp *bus.Response
		err  error
	}
	results := make(chan result, 2)
	for _, v := range []string{"first", "second"} {
		go func(v string) {
			env := bus.NewQuery("slow", "test", map[string]any{"v": v})
			resp, err := g.Request(context.Background(), "svc.slow", env, 2*time.Second)
			results <- result{want: v, resp: resp, err: err}
		}(v)
	}

	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, r.want, r.resp.Result["v"])
	}
}

func TestGateway_RequestTimeout(t *testing.T) {
	tr := bustest.NewMemTransport()
	g, cancel := startGateway(t, tr, fastConfig())
	defer cancel()

	env := bus.NewQuery("nobody_home", "test", nil)
	_, err := g.Request(context.Background(), "svc.void", env, 50*time.Millisecond)
	assert.ErrorIs(t, err, bus.ErrRequestTimeout)
}

func TestGateway_ReconnectReplaysSubscriptions(t *testing.T) {
	tr := bustest.NewMemTransport()
	g, cancel := startGateway(t, tr, fastConfig())
	defer cancel()

	msgs, err := g.Subscribe("agent.commands.*")
	require.NoError(t, err)

	connectsBefore := tr.ConnectCount()
	tr.DropAll()

	require.Eventually(t, func() bool {
		return g.State() == bus.StateConnected && tr.ConnectCount() > connectsBefore
	}, time.Second, time.Millisecond)

	env := bus.NewCommand("explain_concept", "test", map[string]any{"concept": "DDD"})
	require.NoError(t, g.Publish(context.Background(), "agent.commands.explain_concept", env))

	select {
	case msg := <-msgs:
		assert.Equal(t, "agent.commands.explain_concept", msg.Subject)
	case <-time.After(time.Second):
		t.Fatal("subscription not replayed after reconnect")
	}
}

func TestGateway_StateSequenceWithFailedConnects(t *testing.T) {
	tr := bustest.NewMemTransport()
	tr.FailConnects(2)

	g := bus.NewGateway(tr, fastConfig())
	states := g.StateChanges()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	var seen []bus.StateChange
	deadline := time.After(time.Second)
	for {
		select {
		case sc := <-states:
			seen = append(seen, sc)
		case <-deadline:
			t.Fatalf("never connected, saw %v", seen)
		}
		if len(seen) > 0 && seen[len(seen)-1].State == bus.StateConnected {
			break
		}
	}

	require.GreaterOrEqual(t, len(seen), 4)
	assert.Equal(t, bus.StateConnecting, seen[0].State)
	assert.Equal(t, 1, seen[0].Attempt)
	last := seen[len(seen)-1]
	assert.Equal(t, bus.StateConnected, last.State)
	assert.Equal(t, 0, last.Attempt, "attempt counter resets after connect")
}

func TestGateway_DrainRejectsNewWork(t *testing.T) {
	tr := bustest.NewMemTransport()
	g, cancel := startGateway(t, tr, fastConfig())

	cancel()
	require.Eventually(t, func() bool { return g.State() == bus.StateDisconnected },
		time.Second, time.Millisecond)

	_, err := g.Subscribe("agent.commands.*")
	assert.ErrorIs(t, err, bus.ErrDraining)

	_, err = g.Request(context.Background(), "svc.echo", bus.NewQuery("echo", "test", nil), time.Second)
	assert.ErrorIs(t, err, bus.ErrDraining)
}
