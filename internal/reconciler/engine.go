package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veritel-ai/dialer-service/internal/admission"
	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/outcome"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrCallNotFound is returned for events whose call_id is not (or no
	// longer) registered. Malformed events are logged and dropped, never
	// retried.
	ErrCallNotFound = errors.New("call not found")
	// ErrRecordFrozen is returned when a call's record was already frozen
	// for export and evicted.
	ErrRecordFrozen = errors.New("call record frozen")
)

// RecordStore is the durable call-record boundary. Storage faults are
// retried with backoff inside implementations, never inside the state
// machine.
type RecordStore interface {
	Create(ctx context.Context, rec *domain.CallRecord) error
	Update(ctx context.Context, rec *domain.CallRecord) error
	GetByCallID(ctx context.Context, callID string) (*domain.CallRecord, error)
}

// TerminalPublisher receives a read-only snapshot of every record that
// reaches terminal state, for reporting consumers and capacity-release
// notifications. May be nil.
type TerminalPublisher interface {
	PublishTerminal(rec *domain.CallRecord)
}

// Stats mirrors the reconciler's event accounting for the /status endpoint.
type Stats struct {
	TotalEvents        int64            `json:"total_events"`
	EventsByKind       map[string]int64 `json:"events_by_kind"`
	DuplicatesAbsorbed int64            `json:"duplicates_absorbed"`
	MalformedRejected  int64            `json:"malformed_rejected"`
	StorageFaults      int64            `json:"storage_faults"`
	ActiveCalls        int              `json:"active_calls"`
}

// Config holds the engine tunables.
type Config struct {
	Table *outcome.Table
	// Linger is how long a terminal record stays registered so a late
	// voicemail verdict can still override the outcome before the record
	// is frozen for export.
	Linger time.Duration
	// MailboxSize bounds each call's event queue.
	MailboxSize int
}

// Engine is the call lifecycle reconciliation core. Every call gets its own
// single-writer mailbox actor, so event application is serialized per
// call_id while unrelated calls never block each other. Cross-call state
// (breakers, campaign counters) lives in the admission controller with its
// own locks.
type Engine struct {
	cfg       Config
	store     RecordStore
	admission *admission.Controller
	publisher TerminalPublisher

	mu     sync.RWMutex
	actors map[string]*callActor

	statsMu sync.Mutex
	stats   Stats
}

type callActor struct {
	callID  string
	mailbox chan Event
	done    chan struct{} // closed when the record reaches terminal state
	frozen  chan struct{} // closed when the record is frozen and evicted
	// recMu guards rec: the actor goroutine mutates it in apply while
	// Snapshot clones it from handler goroutines.
	recMu sync.Mutex
	rec   *domain.CallRecord
	slot  *admission.DialSlot
}

// NewEngine creates the reconciler.
func NewEngine(cfg Config, store RecordStore, adm *admission.Controller, publisher TerminalPublisher) *Engine {
	if cfg.Table == nil {
		cfg.Table = outcome.DefaultTable()
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 30 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 32
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		admission: adm,
		publisher: publisher,
		actors:    make(map[string]*callActor),
		stats:     Stats{EventsByKind: make(map[string]int64)},
	}
}

// SetPublisher installs the terminal publisher. Call during wiring, before
// any call is registered; the engine does not lock around it.
func (e *Engine) SetPublisher(p TerminalPublisher) {
	e.publisher = p
}

// Register persists a freshly dispatched record and spawns its actor. The
// record must be in queued state; the slot is released when the call goes
// terminal.
func (e *Engine) Register(ctx context.Context, rec *domain.CallRecord, slot *admission.DialSlot) error {
	if rec.CallID == "" {
		return fmt.Errorf("call record missing call_id")
	}
	if !domain.IsKnownProvider(rec.Provider) {
		return fmt.Errorf("unknown provider: %s", rec.Provider)
	}

	if err := e.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}

	actor := &callActor{
		callID:  rec.CallID,
		mailbox: make(chan Event, e.cfg.MailboxSize),
		done:    make(chan struct{}),
		frozen:  make(chan struct{}),
		rec:     rec,
		slot:    slot,
	}

	e.mu.Lock()
	if _, exists := e.actors[rec.CallID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("call %s already registered", rec.CallID)
	}
	e.actors[rec.CallID] = actor
	e.mu.Unlock()

	go e.run(actor)

	logger.Base().Info("call registered",
		zap.String("call_id", rec.CallID),
		zap.String("provider", string(rec.Provider)),
		zap.String("target", rec.TargetNumber))
	return nil
}

// Submit hands an event to the owning actor. It returns ErrCallNotFound for
// unknown call IDs (malformed events are counted and dropped, they never
// crash the engine or block other calls).
func (e *Engine) Submit(ev Event) error {
	if ev == nil || ev.CallID() == "" {
		e.countMalformed()
		logger.Base().Warn("rejected event with missing call_id")
		return ErrCallNotFound
	}

	e.mu.RLock()
	actor, ok := e.actors[ev.CallID()]
	e.mu.RUnlock()
	if !ok {
		e.countMalformed()
		logger.Base().Warn("rejected event for unknown call",
			zap.String("call_id", ev.CallID()),
			zap.String("kind", string(ev.Kind())))
		return ErrCallNotFound
	}

	select {
	case actor.mailbox <- ev:
		return nil
	case <-actor.frozen:
		return ErrRecordFrozen
	}
}

// run is the single writer for one call. Applying events here is the
// per-call serialization point: whichever of a racing hangup, termination
// or voicemail verdict arrives first wins, the loser becomes a no-op.
func (e *Engine) run(a *callActor) {
	lingerExpired := make(chan struct{})

	for {
		select {
		case ev := <-a.mailbox:
			e.handle(a, ev, lingerExpired)
		case <-lingerExpired:
			e.evict(a)
			return
		}
	}
}

func (e *Engine) handle(a *callActor, ev Event, lingerExpired chan struct{}) {
	a.recMu.Lock()
	wasTerminal := a.rec.IsTerminal()
	res := apply(a.rec, ev, e.cfg.Table, time.Now())
	a.recMu.Unlock()
	e.countEvent(ev.Kind(), res)

	if res.dropped {
		logger.Base().Debug("event absorbed",
			zap.String("call_id", a.callID),
			zap.String("kind", string(ev.Kind())),
			zap.String("reason", res.dropReason))
		return
	}

	if res.changed {
		e.persist(a.rec)
	}

	if res.becameTerminal && !wasTerminal {
		e.onTerminal(a, res.providerFault)
		time.AfterFunc(e.cfg.Linger, func() {
			close(lingerExpired)
		})
	} else if res.changed && wasTerminal {
		// Late voicemail override landed during the linger window; the
		// terminal side effects already ran, only the snapshot changed.
		if e.publisher != nil {
			e.publisher.PublishTerminal(a.rec.Clone())
		}
	}
}

// onTerminal runs the terminal side effects exactly once per call: release
// the dial slot, report the outcome to the provider breaker, publish the
// snapshot, and wake the poller via the done channel.
func (e *Engine) onTerminal(a *callActor, providerFault bool) {
	if a.slot != nil {
		a.slot.Release()
	}
	if e.admission != nil {
		if providerFault {
			e.admission.RecordFailure(a.rec.Provider)
		} else {
			e.admission.RecordSuccess(a.rec.Provider)
		}
	}
	if e.publisher != nil {
		e.publisher.PublishTerminal(a.rec.Clone())
	}
	close(a.done)

	logger.Base().Info("call terminal",
		zap.String("call_id", a.callID),
		zap.String("status", string(a.rec.Status)),
		zap.String("outcome", string(a.rec.Outcome)))
}

func (e *Engine) persist(rec *domain.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.Update(ctx, rec); err != nil {
		// Fatal for this call's durability only; the in-memory record
		// stays authoritative and other calls are unaffected.
		e.countStorageFault()
		logger.Base().Error("failed to persist call record",
			zap.String("call_id", rec.CallID),
			zap.Error(err))
	}
}

func (e *Engine) evict(a *callActor) {
	e.mu.Lock()
	delete(e.actors, a.callID)
	e.mu.Unlock()
	close(a.frozen)
	logger.Base().Debug("call record frozen and evicted", zap.String("call_id", a.callID))
}

// Done returns a channel closed when the call reaches terminal state. The
// poller uses it to stop issuing requests.
func (e *Engine) Done(callID string) (<-chan struct{}, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	actor, ok := e.actors[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return actor.done, nil
}

// Snapshot returns a read-only copy of the call record, falling back to the
// store once the actor has been evicted.
func (e *Engine) Snapshot(ctx context.Context, callID string) (*domain.CallRecord, error) {
	e.mu.RLock()
	actor, ok := e.actors[callID]
	e.mu.RUnlock()
	if ok {
		actor.recMu.Lock()
		snap := actor.rec.Clone()
		actor.recMu.Unlock()
		return snap, nil
	}
	rec, err := e.store.GetByCallID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrCallNotFound
	}
	return rec, nil
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	out := Stats{
		TotalEvents:        e.stats.TotalEvents,
		DuplicatesAbsorbed: e.stats.DuplicatesAbsorbed,
		MalformedRejected:  e.stats.MalformedRejected,
		StorageFaults:      e.stats.StorageFaults,
		EventsByKind:       make(map[string]int64, len(e.stats.EventsByKind)),
	}
	for k, v := range e.stats.EventsByKind {
		out.EventsByKind[k] = v
	}
	e.mu.RLock()
	out.ActiveCalls = len(e.actors)
	e.mu.RUnlock()
	return out
}

func (e *Engine) countEvent(kind Kind, res applyResult) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.TotalEvents++
	e.stats.EventsByKind[string(kind)]++
	if res.dropped {
		e.stats.DuplicatesAbsorbed++
	}
}

func (e *Engine) countMalformed() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.MalformedRejected++
}

func (e *Engine) countStorageFault() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.StorageFaults++
}
