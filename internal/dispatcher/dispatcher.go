package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veritel-ai/dialer-service/internal/admission"
	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/poller"
	"github.com/veritel-ai/dialer-service/internal/provider"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrAdmissionDenied is returned when the provider breaker or the campaign
// concurrency cap refuses a dial. The target stays eligible; it just has to
// wait for capacity.
var ErrAdmissionDenied = errors.New("admission denied")

// Config holds the dispatcher tunables.
type Config struct {
	RatePerSecond float64
	MaxRetries    int
	RetryDelay    time.Duration
}

// Stats mirrors the dispatcher counters for the /status endpoint.
type Stats struct {
	Dispatched      int64 `json:"dispatched"`
	AdmissionDenied int64 `json:"admission_denied"`
	DialFailures    int64 `json:"dial_failures"`
	Abandoned       int64 `json:"abandoned"`
	HopperDepth     int   `json:"hopper_depth"`
}

// Dispatcher pulls targets from the hopper and turns them into registered,
// placed calls. One call_id is minted per placement attempt; a retried
// target gets a fresh call_id and a fresh call record.
type Dispatcher struct {
	cfg       Config
	hopper    *Hopper
	admission *admission.Controller
	engine    *reconciler.Engine
	drivers   *provider.Registry
	poller    *poller.Poller
	limiter   *rate.Limiter
	wake      chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]*DialTarget

	dispatched      int64
	admissionDenied int64
	dialFailures    int64
	abandoned       int64
}

// New creates a dispatcher
func New(cfg Config, hopper *Hopper, adm *admission.Controller, engine *reconciler.Engine, drivers *provider.Registry, p *poller.Poller) *Dispatcher {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Dispatcher{
		cfg:       cfg,
		hopper:    hopper,
		admission: adm,
		engine:    engine,
		drivers:   drivers,
		poller:    p,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		wake:      make(chan struct{}, 1),
		inflight:  make(map[string]*DialTarget),
	}
}

// Enqueue adds a target to the hopper and wakes the dispatch loop.
func (d *Dispatcher) Enqueue(t *DialTarget) {
	d.hopper.Push(t)
	d.Notify()
}

// Notify wakes the dispatch loop. Safe from any goroutine; extra wakes
// coalesce.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains the hopper until the context is cancelled. It sleeps between
// wakes; terminal-call capacity releases and new enqueues both wake it, and
// a coarse ticker covers breaker cooldowns expiring with no other activity.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.drain(ctx)
	}
}

// drain dispatches queued targets until the hopper empties or admission
// refuses. On refusal the target goes back to the head of the queue and the
// loop waits for capacity rather than spinning.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		t, ok := d.hopper.Next()
		if !ok {
			return
		}
		if err := d.limiter.Wait(ctx); err != nil {
			d.hopper.PushFront(t)
			return
		}

		_, err := d.Dispatch(ctx, t)
		if errors.Is(err, ErrAdmissionDenied) {
			d.hopper.PushFront(t)
			return
		}
		if err != nil {
			d.retryOrAbandon(t, err)
		}
	}
}

// Dispatch places one call for the target: admit, mint a call_id, register
// the queued record, originate through the driver, ack, and start the
// status poller. Admission refusal has no side effects on the target.
func (d *Dispatcher) Dispatch(ctx context.Context, t *DialTarget) (string, error) {
	driver, err := d.drivers.Get(t.Provider)
	if err != nil {
		return "", fmt.Errorf("cannot dispatch %s: %w", t.TargetNumber, err)
	}

	slot, ok := d.admission.TryAcquire(t.Provider, t.CampaignID)
	if !ok {
		atomic.AddInt64(&d.admissionDenied, 1)
		return "", ErrAdmissionDenied
	}

	callID := uuid.New().String()
	rec := &domain.CallRecord{
		CallID:       callID,
		Provider:     t.Provider,
		TargetNumber: t.TargetNumber,
		CampaignID:   t.CampaignID,
		Status:       domain.CallStatusQueued,
		CreatedAt:    time.Now(),
	}

	if err := d.engine.Register(ctx, rec, slot); err != nil {
		slot.Release()
		return "", fmt.Errorf("failed to register call for %s: %w", t.TargetNumber, err)
	}

	if err := driver.PlaceCall(ctx, provider.PlacementRequest{
		CallID:       callID,
		TargetNumber: t.TargetNumber,
		CampaignID:   t.CampaignID,
	}); err != nil {
		// The record exists, so close it out through the reconciler; the
		// terminal path releases the slot and feeds the breaker.
		logger.Base().Warn("call placement failed",
			zap.String("call_id", callID),
			zap.String("target", t.TargetNumber),
			zap.Error(err))
		if serr := d.engine.Submit(reconciler.TerminationSignal{
			ID:             callID,
			ProviderReason: "provider-error",
			Synthetic:      true,
		}); serr != nil {
			logger.Base().Error("failed to close record after placement failure",
				zap.String("call_id", callID), zap.Error(serr))
		}
		return "", fmt.Errorf("placement failed for %s: %w", t.TargetNumber, err)
	}

	// Track the placed target so a failed outcome can re-enqueue it.
	d.inflightMu.Lock()
	d.inflight[callID] = t
	d.inflightMu.Unlock()

	if err := d.engine.Submit(reconciler.PlacementAck{ID: callID, Provider: t.Provider}); err != nil {
		logger.Base().Warn("placement ack not applied",
			zap.String("call_id", callID), zap.Error(err))
	}

	go d.poller.Watch(context.Background(), driver, callID)

	atomic.AddInt64(&d.dispatched, 1)
	logger.Base().Info("call dispatched",
		zap.String("call_id", callID),
		zap.String("provider", string(t.Provider)),
		zap.String("campaign_id", t.CampaignID),
		zap.String("target", t.TargetNumber))
	return callID, nil
}

// OnTerminal is called by the terminal notifier for every call that reaches
// terminal state. A failed outcome sends the target back through the hopper
// until its retry budget is spent; every other outcome retires it.
func (d *Dispatcher) OnTerminal(rec *domain.CallRecord) {
	d.inflightMu.Lock()
	t, ok := d.inflight[rec.CallID]
	delete(d.inflight, rec.CallID)
	d.inflightMu.Unlock()
	if !ok {
		return
	}

	if rec.Outcome != domain.OutcomeFailed {
		return
	}
	// A pre-connect hangup lands as failed too, but an operator chose to
	// stop that call; redialing the number would be wrong.
	if rec.HangupCause == domain.HangupCauseLocal {
		return
	}

	t.Attempts++
	if t.Attempts >= d.cfg.MaxRetries {
		atomic.AddInt64(&d.abandoned, 1)
		logger.Base().Warn("dial target exhausted its retries",
			zap.String("target", t.TargetNumber),
			zap.Int("attempts", t.Attempts))
		return
	}
	logger.Base().Info("re-enqueueing target after failed outcome",
		zap.String("target", t.TargetNumber),
		zap.String("call_id", rec.CallID),
		zap.Int("attempts", t.Attempts))
	d.hopper.RequeueAfter(t, d.cfg.RetryDelay)
}

func (d *Dispatcher) retryOrAbandon(t *DialTarget, cause error) {
	atomic.AddInt64(&d.dialFailures, 1)
	t.Attempts++
	if t.Attempts >= d.cfg.MaxRetries {
		atomic.AddInt64(&d.abandoned, 1)
		logger.Base().Error("dial target abandoned",
			zap.String("target", t.TargetNumber),
			zap.Int("attempts", t.Attempts),
			zap.Error(cause))
		return
	}
	d.hopper.RequeueAfter(t, d.cfg.RetryDelay)
}

// Stats returns a copy of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:      atomic.LoadInt64(&d.dispatched),
		AdmissionDenied: atomic.LoadInt64(&d.admissionDenied),
		DialFailures:    atomic.LoadInt64(&d.dialFailures),
		Abandoned:       atomic.LoadInt64(&d.abandoned),
		HopperDepth:     d.hopper.Len(),
	}
}
