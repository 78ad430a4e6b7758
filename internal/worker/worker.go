// Package worker runs queued dossier analyses from the event bus.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/analysis"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/bus"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Config selects what a Worker consumes.
type Config struct {
	// TenantIDs to consume; empty consumes every tenant.
	TenantIDs []string
	// WorkerCount bounds the analyses running at once. Defaults to 4.
	WorkerCount int
}

// Worker consumes analysis.requested events and runs them through the
// analysis service, which publishes the outcome itself.
type Worker struct {
	bus     domain.EventBus
	service *analysis.Service

	inflight sync.WaitGroup
	stopping chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	slots   chan struct{}
	subs    []domain.Subscription
	stopped bool
}

var errStopping = errors.New("worker stopping")

// NewWorker creates a stopped worker.
func NewWorker(b domain.EventBus, service *analysis.Service) *Worker {
	return &Worker{
		bus:      b,
		service:  service,
		stopping: make(chan struct{}),
	}
}

// Start subscribes to the configured tenants. A tenant whose subscription
// fails is logged and skipped; Start only fails when nothing could be
// subscribed.
func (w *Worker) Start(cfg Config) error {
	n := cfg.WorkerCount
	if n <= 0 {
		n = 4
	}
	w.mu.Lock()
	w.slots = make(chan struct{}, n)
	w.mu.Unlock()

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	var errs []error
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(context.Background(), tenantID, domain.TopicAnalysisRequested, w.handle)
		if err != nil {
			slog.Error("worker subscription failed", "tenant_id", tenantID, "error", err)
			errs = append(errs, err)
			continue
		}
		w.mu.Lock()
		w.subs = append(w.subs, sub)
		w.mu.Unlock()
	}
	if len(errs) == len(tenants) {
		return errors.Join(errs...)
	}

	slog.Info("analysis worker started", "tenants", tenants, "concurrency", n)
	return nil
}

// handle takes a slot and runs the analysis in the background so one busy
// tenant does not hold the subscription. It blocks while every slot is in
// use.
func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	var req domain.AnalysisRequestedEvent
	if err := bus.DecodeJSON(msg, &req); err != nil {
		slog.Error("malformed analysis request", "message_id", msg.ID, "error", err)
		return err
	}

	switch {
	case req.TraceID != "":
		ctx = domain.WithTraceID(ctx, req.TraceID)
	case domain.TraceIDFrom(ctx) == "":
		ctx = domain.WithTraceID(ctx, msg.ID)
	}

	w.mu.Lock()
	slots, stopped := w.slots, w.stopped
	w.mu.Unlock()
	if stopped || slots == nil {
		return errStopping
	}

	select {
	case slots <- struct{}{}:
	case <-w.stopping:
		return errStopping
	}

	// Stop waits only for work registered before it marked the worker
	// stopped.
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-slots
		return errStopping
	}
	w.inflight.Add(1)
	w.mu.Unlock()

	// In-flight analyses finish even after the subscription is gone.
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer func() {
			<-slots
			w.inflight.Done()
		}()
		w.run(ctx, msg.TenantID, req)
	}()
	return nil
}

func (w *Worker) run(ctx context.Context, tenantID string, req domain.AnalysisRequestedEvent) {
	start := time.Now()
	log := slog.With("tenant_id", tenantID, "dossier_id", req.DossierID, "trace_id", domain.TraceIDFrom(ctx))

	result, err := w.service.AnalyzeDossier(ctx, tenantID, req.DossierID, req.Policy)
	if err != nil {
		// The service has logged and published the failure.
		if errors.Is(err, domain.ErrAnalysisUnavailable) {
			log.Warn("queued analysis unavailable", "error", err)
		}
		return
	}

	log.Info("queued analysis processed",
		"result_id", result.ID,
		"risk_class", result.RiskClass,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for the running analyses.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.stopped = true
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stopping) })

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	w.inflight.Wait()

	slog.Info("analysis worker stopped")
	return errors.Join(errs...)
}

// Stats is a snapshot of the worker.
type Stats struct {
	Subscriptions int `json:"subscriptions"`
	InFlight      int `json:"inFlight"`
	Capacity      int `json:"capacity"`
}

// Stats returns the current subscriptions and slot usage.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Subscriptions: len(w.subs),
		InFlight:      len(w.slots),
		Capacity:      cap(w.slots),
	}
}
