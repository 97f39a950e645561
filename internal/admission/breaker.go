package admission

import (
	"sync"
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// breaker is the per-provider three-state circuit breaker. State lives in
// process memory only: each worker trips and recovers independently.
type breaker struct {
	mu                  sync.Mutex
	provider            domain.ProviderType
	state               domain.BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	failureThreshold int
	cooldown         time.Duration

	dispatched int64
	succeeded  int64
	failed     int64
}

func newBreaker(provider domain.ProviderType, failureThreshold int, cooldown time.Duration) *breaker {
	return &breaker{
		provider:         provider,
		state:            domain.BreakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// allow reports whether a new call may be dispatched to this provider.
// While half_open at most one trial call is admitted; its outcome alone
// decides the next transition.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		b.dispatched++
		return true
	case domain.BreakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = domain.BreakerHalfOpen
		b.trialInFlight = false
		logger.Base().Info("breaker cooldown elapsed, entering half-open",
			zap.String("provider", string(b.provider)))
		fallthrough
	case domain.BreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		b.dispatched++
		return true
	}
	return false
}

// recordSuccess resets the failure streak and closes a half-open breaker.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.succeeded++
	b.consecutiveFailures = 0
	b.trialInFlight = false
	if b.state != domain.BreakerClosed {
		logger.Base().Info("breaker closed after successful call",
			zap.String("provider", string(b.provider)))
	}
	b.state = domain.BreakerClosed
	b.openedAt = time.Time{}
}

// recordFailure increments the streak; at the threshold (or on a failed
// half-open trial) the breaker opens and stamps openedAt.
func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failed++
	b.consecutiveFailures++
	b.trialInFlight = false

	if b.state == domain.BreakerHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		if b.state != domain.BreakerOpen {
			logger.Base().Warn("breaker opened",
				zap.String("provider", string(b.provider)),
				zap.Int("consecutive_failures", b.consecutiveFailures))
		}
		b.state = domain.BreakerOpen
		b.openedAt = now
	}
}

// snapshot returns the breaker's current health for operational visibility.
func (b *breaker) snapshot() domain.ProviderHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	health := domain.ProviderHealth{
		Provider:            b.provider,
		ConsecutiveFailures: b.consecutiveFailures,
		BreakerState:        b.state,
		Dispatched:          b.dispatched,
		Succeeded:           b.succeeded,
		Failed:              b.failed,
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		health.OpenedAt = &t
	}
	return health
}
