// Package service assembles the agent: it owns the bus gateway, routes
// inbound subjects to the dispatcher, and runs the background tickers
// for session expiry and model health probes.
package service

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cimlabs/alchemist/internal/bus"
	"github.com/cimlabs/alchemist/internal/capability"
	"github.com/cimlabs/alchemist/internal/config"
	"github.com/cimlabs/alchemist/internal/dispatch"
	"github.com/cimlabs/alchemist/internal/health"
	"github.com/cimlabs/alchemist/internal/providers"
	"github.com/cimlabs/alchemist/internal/session"
)

// Service is the long-running agent process.
type Service struct {
	cfg        config.Config
	subjects   bus.Subjects
	gateway    *bus.Gateway
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	aggregator *health.Aggregator
	provider   providers.ModelProvider

	sweepEvery time.Duration
	probeEvery time.Duration
}

// New assembles a Service from configuration. The transport and provider
// are injected so tests can substitute in-memory fakes.
func New(cfg config.Config, transport bus.Transport, provider providers.ModelProvider) *Service {
	subjects := bus.NewSubjects(cfg.Bus.SubjectPrefix, cfg.Bus.DialogPrefix)

	gateway := bus.NewGateway(transport, bus.Config{
		MaxAttempts:  cfg.Bus.Retry.MaxAttempts,
		InitialDelay: time.Duration(cfg.Bus.Retry.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Bus.Retry.MaxDelaySec) * time.Second,
		Multiplier:   cfg.Bus.Retry.Multiplier,
		DedupWindow:  time.Duration(cfg.Bus.DedupWindowSec) * time.Second,
		Inbox:        subjects.NewInbox(),
	})

	sessions := session.NewManager(
		cfg.Dialog.MaxHistory,
		cfg.Dialog.ContextWindow,
		time.Duration(cfg.Dialog.SessionTimeoutSec)*time.Second,
	)

	aggregator := health.NewAggregator(cfg.Identity.Version)
	sessions.OnCountChange(aggregator.RecordSessionCount)

	registry := capability.NewRegistry(provider, sessions, cfg.Identity.AgentID)
	dispatcher := dispatch.New(
		registry.Handlers(),
		registry.Dialog,
		aggregator.Payload,
		cfg.Identity.AgentID,
		time.Duration(cfg.Service.HandlerTimeoutSec)*time.Second,
	)

	sweepEvery := time.Duration(cfg.Dialog.SweepIntervalSec) * time.Second
	if sweepEvery == 0 {
		sweepEvery = time.Minute
	}
	probeEvery := time.Duration(cfg.Service.HealthProbeSec) * time.Second
	if probeEvery == 0 {
		probeEvery = 30 * time.Second
	}

	return &Service{
		cfg:        cfg,
		subjects:   subjects,
		gateway:    gateway,
		dispatcher: dispatcher,
		sessions:   sessions,
		aggregator: aggregator,
		provider:   provider,
		sweepEvery: sweepEvery,
		probeEvery: probeEvery,
	}
}

// Gateway exposes the bus gateway, mainly for status inspection.
func (s *Service) Gateway() *bus.Gateway { return s.gateway }

// Run starts the agent and blocks until ctx is cancelled. Subscriptions
// are registered before the connection exists; the gateway replays them
// once it is up.
func (s *Service) Run(ctx context.Context) error {
	commands, err := s.gateway.Subscribe(s.subjects.Commands())
	if err != nil {
		return err
	}
	queries, err := s.gateway.Subscribe(s.subjects.Queries())
	if err != nil {
		return err
	}
	healthQueries, err := s.gateway.Subscribe(s.subjects.Health())
	if err != nil {
		return err
	}
	dialogs, err := s.gateway.Subscribe(s.subjects.Dialogs())
	if err != nil {
		return err
	}

	go s.forwardStates(ctx)
	go func() {
		if err := s.gateway.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Service] gateway stopped: %v", err)
		}
	}()

	if s.cfg.Service.MetricsAddr != "" {
		go s.serveMetrics(ctx)
	}

	s.probeModel(ctx)

	sweep := time.NewTicker(s.sweepEvery)
	defer sweep.Stop()
	probe := time.NewTicker(s.probeEvery)
	defer probe.Stop()

	log.Printf("[Service] agent %s listening on %s", s.cfg.Identity.AgentID, s.cfg.Bus.SubjectPrefix)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-commands:
			go s.handleCommand(ctx, msg)
		case msg := <-queries:
			go s.handleQuery(ctx, msg)
		case msg := <-healthQueries:
			go s.handleHealth(ctx, msg)
		case msg := <-dialogs:
			go s.handleDialog(ctx, msg)
		case now := <-sweep.C:
			if n := s.sessions.ExpireSweep(now); n > 0 {
				log.Printf("[Service] expired %d idle sessions", n)
			}
		case <-probe.C:
			s.probeModel(ctx)
		}
	}
}

// forwardStates feeds gateway transitions into the health aggregator.
func (s *Service) forwardStates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-s.gateway.StateChanges():
			s.aggregator.RecordBusState(change.State.String(), change.Attempt)
		}
	}
}

func (s *Service) handleCommand(ctx context.Context, msg bus.Message) {
	var env bus.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("[Service] malformed command on %s: %v", msg.Subject, err)
		return
	}

	event, isError := s.dispatcher.HandleCommand(ctx, &env)
	if event == nil {
		return
	}

	subject := s.subjects.EventFor(event.EventType)
	if isError {
		subject = s.subjects.ErrorEvents()
	}
	if err := s.gateway.Publish(ctx, subject, event); err != nil {
		log.Printf("[Service] publish event %s failed: %v", event.EventType, err)
	}
}

func (s *Service) handleQuery(ctx context.Context, msg bus.Message) {
	var env bus.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("[Service] malformed query on %s: %v", msg.Subject, err)
		return
	}
	if env.ReplyTo == "" {
		log.Printf("[Service] query %s (id %s) has no reply subject, dropping", env.QueryType, env.ID)
		return
	}

	resp := s.dispatcher.HandleQuery(ctx, &env)
	if err := s.gateway.Publish(ctx, env.ReplyTo, resp); err != nil {
		log.Printf("[Service] publish reply for %s failed: %v", env.ID, err)
	}
}

func (s *Service) handleHealth(ctx context.Context, msg bus.Message) {
	var env bus.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("[Service] malformed health query: %v", err)
		return
	}
	if env.ReplyTo == "" {
		return
	}

	resp := s.dispatcher.HandleHealth(&env)
	if err := s.gateway.Publish(ctx, env.ReplyTo, resp); err != nil {
		log.Printf("[Service] publish health reply failed: %v", err)
	}
}

// handleDialog answers a conversation turn. The reply goes to the
// message's reply subject when one is given, and a dialog_response event
// is always published.
func (s *Service) handleDialog(ctx context.Context, msg bus.Message) {
	sessionID := s.subjects.DialogSession(msg.Subject)
	if sessionID == "" {
		return
	}

	var dm bus.DialogMessage
	if err := json.Unmarshal(msg.Data, &dm); err != nil {
		log.Printf("[Service] malformed dialog message on %s: %v", msg.Subject, err)
		return
	}
	if dm.Sender == s.cfg.Identity.AgentID {
		return
	}

	resp := s.dispatcher.HandleDialog(ctx, sessionID, &dm)

	if dm.ReplyTo != "" {
		if err := s.gateway.Publish(ctx, dm.ReplyTo, resp); err != nil {
			log.Printf("[Service] publish dialog reply failed: %v", err)
		}
	}

	eventType := "dialog_response"
	payload := resp.Result
	if !resp.Success {
		eventType = "dialog_failed"
		payload = map[string]any{
			"dialog_id": sessionID,
			"error":     resp.Error.Message,
			"kind":      resp.Error.Kind,
			"retryable": resp.Error.Retryable,
		}
	}
	event := bus.NewEvent(eventType, s.cfg.Identity.AgentID, payload)
	if err := s.gateway.Publish(ctx, s.subjects.EventFor(eventType), event); err != nil {
		log.Printf("[Service] publish dialog event failed: %v", err)
	}
}

// probeModel refreshes the cached model reachability.
func (s *Service) probeModel(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.provider.HealthCheck(pctx)
	s.aggregator.RecordModelReachable(err == nil)
	if err != nil {
		log.Printf("[Service] model probe failed: %v", err)
	}
}

// serveMetrics exposes Prometheus metrics and a local health endpoint.
func (s *Service) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.aggregator.Snapshot())
	})

	srv := &http.Server{Addr: s.cfg.Service.MetricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[Service] metrics on http://%s/metrics", s.cfg.Service.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[Service] metrics server: %v", err)
	}
}
