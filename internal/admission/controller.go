package admission

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// DialSlot is an in-flight concurrency permit against a campaign's cap.
// It is purely in-memory; Release is idempotent.
type DialSlot struct {
	Provider   domain.ProviderType
	CampaignID string
	released   int32
	controller *Controller
}

// Release returns the permit to the campaign counter. Releasing an
// already-released slot is a no-op, not an error.
func (s *DialSlot) Release() {
	if s == nil || s.controller == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		return
	}
	s.controller.release(s.CampaignID)
}

// Config holds the admission tunables.
type Config struct {
	FailureThreshold   int           // consecutive failures before the breaker opens
	Cooldown           time.Duration // open -> half_open delay
	DefaultCampaignCap int           // concurrent calls per campaign unless overridden
	CampaignCaps       map[string]int
}

// Controller gates call placement: per-provider circuit breaker plus a
// counting semaphore per campaign. TryAcquire is non-blocking by design so
// the dispatcher can fail fast and move to the next hopper entry.
type Controller struct {
	cfg Config

	breakerMu sync.RWMutex
	breakers  map[domain.ProviderType]*breaker

	campaignMu sync.Mutex
	inFlight   map[string]int
}

// NewController creates an admission controller with one breaker per known
// provider.
func NewController(cfg Config) *Controller {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.DefaultCampaignCap <= 0 {
		cfg.DefaultCampaignCap = 10
	}

	c := &Controller{
		cfg:      cfg,
		breakers: make(map[domain.ProviderType]*breaker),
		inFlight: make(map[string]int),
	}
	for _, p := range domain.KnownProviders {
		c.breakers[p] = newBreaker(p, cfg.FailureThreshold, cfg.Cooldown)
	}
	return c
}

func (c *Controller) breakerFor(provider domain.ProviderType) (*breaker, error) {
	c.breakerMu.RLock()
	defer c.breakerMu.RUnlock()
	b, ok := c.breakers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	return b, nil
}

func (c *Controller) capFor(campaignID string) int {
	if cap, ok := c.cfg.CampaignCaps[campaignID]; ok && cap > 0 {
		return cap
	}
	return c.cfg.DefaultCampaignCap
}

// TryAcquire attempts to admit one new call. It fails (ok=false) when the
// provider breaker is open and the cooldown has not elapsed, or the
// campaign's concurrency cap is saturated. No side effects on failure: the
// campaign counter is taken first and handed back if the breaker refuses.
func (c *Controller) TryAcquire(provider domain.ProviderType, campaignID string) (*DialSlot, bool) {
	// Check-and-increment under one lock; a separate check would race with
	// concurrent dispatch attempts for the same campaign and over-admit.
	c.campaignMu.Lock()
	if c.inFlight[campaignID] >= c.capFor(campaignID) {
		c.campaignMu.Unlock()
		return nil, false
	}
	c.inFlight[campaignID]++
	c.campaignMu.Unlock()

	b, err := c.breakerFor(provider)
	if err != nil {
		c.release(campaignID)
		logger.Base().Error("admission refused", zap.Error(err))
		return nil, false
	}
	if !b.allow(time.Now()) {
		c.release(campaignID)
		return nil, false
	}

	return &DialSlot{
		Provider:   provider,
		CampaignID: campaignID,
		controller: c,
	}, true
}

func (c *Controller) release(campaignID string) {
	c.campaignMu.Lock()
	defer c.campaignMu.Unlock()
	if c.inFlight[campaignID] > 0 {
		c.inFlight[campaignID]--
	}
	if c.inFlight[campaignID] == 0 {
		delete(c.inFlight, campaignID)
	}
}

// Release returns a permit; kept on the controller so callers holding only
// the interface can release without reaching into the slot.
func (c *Controller) Release(slot *DialSlot) {
	slot.Release()
}

// RecordSuccess resets the provider's failure streak; a half-open breaker
// transitions to closed.
func (c *Controller) RecordSuccess(provider domain.ProviderType) {
	if b, err := c.breakerFor(provider); err == nil {
		b.recordSuccess()
	}
}

// RecordFailure increments the provider's failure streak; at the threshold
// the breaker opens.
func (c *Controller) RecordFailure(provider domain.ProviderType) {
	if b, err := c.breakerFor(provider); err == nil {
		b.recordFailure(time.Now())
	}
}

// InFlight returns the current in-flight count for a campaign.
func (c *Controller) InFlight(campaignID string) int {
	c.campaignMu.Lock()
	defer c.campaignMu.Unlock()
	return c.inFlight[campaignID]
}

// Snapshots returns the health of every provider breaker.
func (c *Controller) Snapshots() []domain.ProviderHealth {
	c.breakerMu.RLock()
	defer c.breakerMu.RUnlock()

	out := make([]domain.ProviderHealth, 0, len(c.breakers))
	for _, p := range domain.KnownProviders {
		if b, ok := c.breakers[p]; ok {
			out = append(out, b.snapshot())
		}
	}
	return out
}
