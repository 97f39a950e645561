package poller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/provider"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// Reconciler is the slice of the engine the poller needs.
type Reconciler interface {
	Submit(ev reconciler.Event) error
	Done(callID string) (<-chan struct{}, error)
}

// Config holds the poller tunables.
type Config struct {
	// Interval between status requests for one call.
	Interval time.Duration
	// Ceiling is the liveness bound: a call still not terminal after this
	// long gets a synthetic no-answer termination. No call record stays
	// non-terminal forever, webhooks or not.
	Ceiling time.Duration
}

// Poller runs one watch loop per live call as a backstop for lost webhooks.
// The reconciler absorbs everything the poller reports that a webhook
// already delivered.
type Poller struct {
	cfg    Config
	engine Reconciler
	active int64
}

// New creates a poller
func New(cfg Config, engine Reconciler) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 120 * time.Second
	}
	return &Poller{cfg: cfg, engine: engine}
}

// Active returns the number of calls currently being watched.
func (p *Poller) Active() int64 {
	return atomic.LoadInt64(&p.active)
}

// Watch polls one call until it goes terminal, the ceiling elapses, or the
// context is cancelled. Runs in its own goroutine per call.
func (p *Poller) Watch(ctx context.Context, driver provider.Driver, callID string) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	done, err := p.engine.Done(callID)
	if err != nil {
		// Already terminal and evicted; nothing to watch.
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	ceiling := time.NewTimer(p.cfg.Ceiling)
	defer ceiling.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ceiling.C:
			logger.Base().Warn("poll ceiling reached, synthesizing no-answer",
				zap.String("call_id", callID))
			if err := p.engine.Submit(reconciler.TerminationSignal{
				ID:             callID,
				ProviderReason: "poller-ceiling",
				Synthetic:      true,
			}); err != nil {
				logger.Base().Warn("synthetic termination not applied",
					zap.String("call_id", callID), zap.Error(err))
			}
			return
		case <-ticker.C:
			p.pollOnce(ctx, driver, callID)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, driver provider.Driver, callID string) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	defer cancel()

	report, err := driver.PollStatus(reqCtx, callID)
	if err != nil {
		// Transient poll failures are fine; the ceiling bounds how long a
		// silent provider can keep a call non-terminal.
		logger.Base().Debug("status poll failed",
			zap.String("call_id", callID), zap.Error(err))
		return
	}

	var ev reconciler.Event
	if report.Terminal || report.Status.IsTerminal() {
		ev = reconciler.TerminationSignal{
			ID:             callID,
			SIPCode:        report.SIPCode,
			ProviderReason: report.Reason,
		}
	} else {
		switch report.Status {
		case domain.CallStatusRinging, domain.CallStatusConnected, domain.CallStatusTalking:
			ev = reconciler.ProgressEvent{ID: callID, NewStatus: report.Status}
		default:
			return
		}
	}

	if err := p.engine.Submit(ev); err != nil {
		logger.Base().Debug("poll result not applied",
			zap.String("call_id", callID), zap.Error(err))
	}
}
