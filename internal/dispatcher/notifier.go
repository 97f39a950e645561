package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"github.com/veritel-ai/dialer-service/pkg/redis"
	"go.uber.org/zap"
)

// snapshotTTL bounds how long cached terminal snapshots and provider health
// entries live in Redis.
const snapshotTTL = 24 * time.Hour

// TerminalNotifier fans out terminal call records: the snapshot goes to the
// terminal-calls channel for reporting consumers, a capacity-release ping
// goes to the release channel, and the local dispatch loop is woken
// directly. With no Redis configured only the local wake happens, which is
// all a single-process deployment needs.
type TerminalNotifier struct {
	redis      redis.RedisServiceInterface
	dispatcher *Dispatcher
}

// capacityRelease is the payload published when a call frees its dial slot
type capacityRelease struct {
	CallID     string `json:"call_id"`
	CampaignID string `json:"campaign_id"`
	Provider   string `json:"provider"`
}

// NewTerminalNotifier creates a notifier; rs may be nil.
func NewTerminalNotifier(rs redis.RedisServiceInterface, d *Dispatcher) *TerminalNotifier {
	return &TerminalNotifier{redis: rs, dispatcher: d}
}

// PublishTerminal implements the reconciler's terminal publisher hook.
func (n *TerminalNotifier) PublishTerminal(rec *domain.CallRecord) {
	if n.dispatcher != nil {
		n.dispatcher.OnTerminal(rec)
		n.dispatcher.Notify()
	}
	if n.redis == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.redis.Publish(ctx, redis.TerminalCallChannel, rec); err != nil {
		logger.Base().Warn("failed to publish terminal call",
			zap.String("call_id", rec.CallID), zap.Error(err))
	}
	if err := n.redis.Publish(ctx, redis.CapacityReleaseChannel, capacityRelease{
		CallID:     rec.CallID,
		CampaignID: rec.CampaignID,
		Provider:   string(rec.Provider),
	}); err != nil {
		logger.Base().Warn("failed to publish capacity release",
			zap.String("call_id", rec.CallID), zap.Error(err))
	}
	n.cacheSnapshots(ctx, rec)
}

// cacheSnapshots stores the terminal record and the provider's breaker
// health under their keys so reporting consumers on other processes can read
// the latest state without calling this service.
func (n *TerminalNotifier) cacheSnapshots(ctx context.Context, rec *domain.CallRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := n.redis.GenerateKey(redis.CALL_SNAPSHOT, rec.CallID)
	if err := n.redis.SetValue(ctx, key, string(data), snapshotTTL); err != nil {
		logger.Base().Warn("failed to cache call snapshot",
			zap.String("call_id", rec.CallID), zap.Error(err))
	}

	if n.dispatcher == nil || n.dispatcher.admission == nil {
		return
	}
	for _, h := range n.dispatcher.admission.Snapshots() {
		if h.Provider != rec.Provider {
			continue
		}
		hd, herr := json.Marshal(h)
		if herr != nil {
			return
		}
		hkey := n.redis.GenerateKey(redis.PROVIDER_HEALTH, string(h.Provider))
		if err := n.redis.SetValue(ctx, hkey, string(hd), snapshotTTL); err != nil {
			logger.Base().Warn("failed to cache provider health",
				zap.String("provider", string(h.Provider)), zap.Error(err))
		}
	}
}

// SubscribeCapacityReleases wakes the dispatch loop on capacity releases
// published by any process sharing the Redis instance.
func (n *TerminalNotifier) SubscribeCapacityReleases(ctx context.Context) error {
	if n.redis == nil || n.dispatcher == nil {
		return nil
	}
	return n.redis.Subscribe(ctx, redis.CapacityReleaseChannel, func(string) {
		n.dispatcher.Notify()
	})
}
