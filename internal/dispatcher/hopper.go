package dispatcher

import (
	"sync"
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// DialTarget is one number waiting in the hopper to be dialed.
type DialTarget struct {
	TargetNumber string              `json:"target_number"`
	CampaignID   string              `json:"campaign_id"`
	Provider     domain.ProviderType `json:"provider"`
	Attempts     int                 `json:"attempts"`
}

// Hopper is the FIFO queue feeding the dispatcher. Targets refused by
// admission control stay queued; targets whose dial attempt failed re-enter
// after a delay until their retry budget is spent.
type Hopper struct {
	mu      sync.Mutex
	targets []*DialTarget
}

// NewHopper creates an empty hopper
func NewHopper() *Hopper {
	return &Hopper{}
}

// Push appends a target to the back of the queue.
func (h *Hopper) Push(t *DialTarget) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.targets = append(h.targets, t)
}

// PushFront returns a target to the head of the queue. Used when admission
// was refused: the target keeps its turn, nothing about it failed.
func (h *Hopper) PushFront(t *DialTarget) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.targets = append([]*DialTarget{t}, h.targets...)
}

// Next pops the head of the queue.
func (h *Hopper) Next() (*DialTarget, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.targets) == 0 {
		return nil, false
	}
	t := h.targets[0]
	h.targets = h.targets[1:]
	return t, true
}

// RequeueAfter puts a target back at the end of the queue once the delay
// elapses.
func (h *Hopper) RequeueAfter(t *DialTarget, delay time.Duration) {
	if delay <= 0 {
		h.Push(t)
		return
	}
	time.AfterFunc(delay, func() {
		h.Push(t)
		logger.Base().Debug("dial target requeued",
			zap.String("target", t.TargetNumber),
			zap.Int("attempts", t.Attempts))
	})
}

// Len returns the number of queued targets.
func (h *Hopper) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.targets)
}
