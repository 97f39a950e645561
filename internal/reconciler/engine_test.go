package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veritel-ai/dialer-service/internal/admission"
	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/repository"
)

type capturePublisher struct {
	mu        sync.Mutex
	published []*domain.CallRecord
}

func (p *capturePublisher) PublishTerminal(rec *domain.CallRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, rec)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *capturePublisher) last() *domain.CallRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.published) == 0 {
		return nil
	}
	return p.published[len(p.published)-1]
}

type engineFixture struct {
	engine    *Engine
	store     *repository.MemoryCallRecordRepository
	admission *admission.Controller
	publisher *capturePublisher
}

func newEngineFixture(t *testing.T, linger time.Duration) *engineFixture {
	t.Helper()
	store := repository.NewMemoryCallRecordRepository()
	adm := admission.NewController(admission.Config{
		FailureThreshold:   5,
		Cooldown:           30 * time.Second,
		DefaultCampaignCap: 10,
	})
	pub := &capturePublisher{}
	engine := NewEngine(Config{Linger: linger}, store, adm, pub)
	return &engineFixture{engine: engine, store: store, admission: adm, publisher: pub}
}

func (f *engineFixture) register(t *testing.T, callID string) *admission.DialSlot {
	t.Helper()
	slot, ok := f.admission.TryAcquire(domain.ProviderTypeSIPNative, "camp-1")
	require.True(t, ok)
	rec := &domain.CallRecord{
		CallID:       callID,
		Provider:     domain.ProviderTypeSIPNative,
		TargetNumber: "+14155550100",
		CampaignID:   "camp-1",
		Status:       domain.CallStatusQueued,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, f.engine.Register(context.Background(), rec, slot))
	return slot
}

func waitDone(t *testing.T, e *Engine, callID string) {
	t.Helper()
	done, err := e.Done(callID)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call never reached terminal state")
	}
}

func providerHealth(t *testing.T, adm *admission.Controller, p domain.ProviderType) domain.ProviderHealth {
	t.Helper()
	for _, s := range adm.Snapshots() {
		if s.Provider == p {
			return s
		}
	}
	t.Fatalf("no snapshot for provider %s", p)
	return domain.ProviderHealth{}
}

func TestEngineFullLifecycle(t *testing.T) {
	f := newEngineFixture(t, time.Minute)
	f.register(t, "call-1")

	code := 200
	require.NoError(t, f.engine.Submit(PlacementAck{ID: "call-1", Provider: domain.ProviderTypeSIPNative}))
	require.NoError(t, f.engine.Submit(ProgressEvent{ID: "call-1", NewStatus: domain.CallStatusConnected}))
	require.NoError(t, f.engine.Submit(ProgressEvent{ID: "call-1", NewStatus: domain.CallStatusTalking}))
	require.NoError(t, f.engine.Submit(TerminationSignal{ID: "call-1", SIPCode: &code}))

	waitDone(t, f.engine, "call-1")

	snap, err := f.engine.Snapshot(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, snap.Status)
	assert.Equal(t, domain.OutcomeSuccess, snap.Outcome)

	// Terminal side effects: slot released, snapshot published, breaker fed.
	assert.Eventually(t, func() bool {
		return f.admission.InFlight("camp-1") == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.publisher.count())
	health := providerHealth(t, f.admission, domain.ProviderTypeSIPNative)
	assert.Equal(t, int64(1), health.Succeeded)
	assert.Equal(t, 0, health.ConsecutiveFailures)

	// The durable record caught up too.
	stored, err := f.store.GetByCallID(context.Background(), "call-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Eventually(t, func() bool {
		stored, _ = f.store.GetByCallID(context.Background(), "call-1")
		return stored.Status == domain.CallStatusCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestEngineProviderFaultFeedsBreaker(t *testing.T) {
	f := newEngineFixture(t, time.Minute)
	f.register(t, "call-1")

	code := 503
	require.NoError(t, f.engine.Submit(TerminationSignal{ID: "call-1", SIPCode: &code}))
	waitDone(t, f.engine, "call-1")

	health := providerHealth(t, f.admission, domain.ProviderTypeSIPNative)
	assert.Equal(t, int64(1), health.Failed)
	assert.Equal(t, 1, health.ConsecutiveFailures)
}

func TestEngineUserCausedOutcomeDoesNotTripBreaker(t *testing.T) {
	f := newEngineFixture(t, time.Minute)
	f.register(t, "call-1")

	code := 486
	require.NoError(t, f.engine.Submit(TerminationSignal{ID: "call-1", SIPCode: &code}))
	waitDone(t, f.engine, "call-1")

	health := providerHealth(t, f.admission, domain.ProviderTypeSIPNative)
	assert.Equal(t, 0, health.ConsecutiveFailures)
	assert.Equal(t, int64(1), health.Succeeded, "a clean busy proves the provider works")
}

func TestEngineLateVoicemailOverride(t *testing.T) {
	f := newEngineFixture(t, time.Minute)
	f.register(t, "call-1")

	code := 200
	require.NoError(t, f.engine.Submit(PlacementAck{ID: "call-1", Provider: domain.ProviderTypeSIPNative}))
	require.NoError(t, f.engine.Submit(ProgressEvent{ID: "call-1", NewStatus: domain.CallStatusConnected}))
	require.NoError(t, f.engine.Submit(TerminationSignal{ID: "call-1", SIPCode: &code}))
	waitDone(t, f.engine, "call-1")

	require.NoError(t, f.engine.Submit(VoicemailVerdict{ID: "call-1", Verdict: domain.VerdictMachine, Cause: "MAXWORDS-6-5"}))

	require.Eventually(t, func() bool {
		snap, err := f.engine.Snapshot(context.Background(), "call-1")
		return err == nil && snap.Outcome == domain.OutcomeVoicemail
	}, time.Second, 10*time.Millisecond)

	// The corrected snapshot was re-published for reporting consumers.
	assert.Eventually(t, func() bool { return f.publisher.count() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.OutcomeVoicemail, f.publisher.last().Outcome)
}

func TestEngineLingerExpiryFreezesRecord(t *testing.T) {
	f := newEngineFixture(t, 50*time.Millisecond)
	f.register(t, "call-1")

	code := 200
	require.NoError(t, f.engine.Submit(TerminationSignal{ID: "call-1", SIPCode: &code}))
	waitDone(t, f.engine, "call-1")

	// Wait for the linger window to elapse and the actor to be evicted.
	require.Eventually(t, func() bool {
		_, err := f.engine.Done("call-1")
		return err != nil
	}, time.Second, 10*time.Millisecond)

	err := f.engine.Submit(VoicemailVerdict{ID: "call-1", Verdict: domain.VerdictMachine})
	assert.Error(t, err, "after the linger window the record must refuse overrides")

	// The frozen record is still readable from the store.
	snap, err := f.engine.Snapshot(context.Background(), "call-1")
	require.NoError(t, err)
	assert.NotEqual(t, domain.OutcomeVoicemail, snap.Outcome)
}

func TestEngineSnapshotConcurrentWithEvents(t *testing.T) {
	f := newEngineFixture(t, time.Minute)
	f.register(t, "call-1")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap, err := f.engine.Snapshot(context.Background(), "call-1")
			if !assert.NoError(t, err) {
				return
			}
			// A half-applied termination must never be visible: once the
			// outcome is stamped the status is terminal too.
			if snap.Outcome != "" {
				assert.True(t, snap.IsTerminal(),
					"outcome %q with non-terminal status %q", snap.Outcome, snap.Status)
			}
		}
	}()

	code := 200
	require.NoError(t, f.engine.Submit(PlacementAck{ID: "call-1", Provider: domain.ProviderTypeSIPNative}))
	require.NoError(t, f.engine.Submit(ProgressEvent{ID: "call-1", NewStatus: domain.CallStatusConnected}))
	require.NoError(t, f.engine.Submit(ProgressEvent{ID: "call-1", NewStatus: domain.CallStatusTalking}))
	require.NoError(t, f.engine.Submit(TerminationSignal{ID: "call-1", SIPCode: &code}))
	waitDone(t, f.engine, "call-1")

	close(stop)
	wg.Wait()

	snap, err := f.engine.Snapshot(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, snap.Status)
	assert.Equal(t, domain.OutcomeSuccess, snap.Outcome)
}

func TestEngineRejectsUnknownCall(t *testing.T) {
	f := newEngineFixture(t, time.Minute)

	err := f.engine.Submit(ProgressEvent{ID: "ghost", NewStatus: domain.CallStatusConnected})
	assert.ErrorIs(t, err, ErrCallNotFound)

	err = f.engine.Submit(nil)
	assert.ErrorIs(t, err, ErrCallNotFound)

	stats := f.engine.Stats()
	assert.Equal(t, int64(2), stats.MalformedRejected)
}

func TestEngineRegisterValidation(t *testing.T) {
	f := newEngineFixture(t, time.Minute)

	err := f.engine.Register(context.Background(), &domain.CallRecord{Provider: domain.ProviderTypeSIPNative}, nil)
	assert.Error(t, err, "missing call_id must be rejected")

	err = f.engine.Register(context.Background(), &domain.CallRecord{CallID: "x", Provider: "unknown"}, nil)
	assert.Error(t, err)

	rec := &domain.CallRecord{CallID: "dup", Provider: domain.ProviderTypeSIPNative, Status: domain.CallStatusQueued}
	require.NoError(t, f.engine.Register(context.Background(), rec, nil))
	err = f.engine.Register(context.Background(), rec.Clone(), nil)
	assert.Error(t, err, "duplicate registration must be rejected")
}

func TestEngineStatsCountDuplicates(t *testing.T) {
	f := newEngineFixture(t, time.Minute)
	f.register(t, "call-1")

	code := 486
	require.NoError(t, f.engine.Submit(TerminationSignal{ID: "call-1", SIPCode: &code}))
	waitDone(t, f.engine, "call-1")
	require.NoError(t, f.engine.Submit(TerminationSignal{ID: "call-1", SIPCode: &code}))

	require.Eventually(t, func() bool {
		return f.engine.Stats().DuplicatesAbsorbed == 1
	}, time.Second, 10*time.Millisecond)
	stats := f.engine.Stats()
	assert.Equal(t, int64(2), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.EventsByKind[string(KindTermination)])
}
