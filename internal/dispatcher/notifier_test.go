package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
	"github.com/veritel-ai/dialer-service/pkg/redis"
)

type fakeRedis struct {
	mu        sync.Mutex
	values    map[string]string
	published map[string]int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), published: make(map[string]int)}
}

func (r *fakeRedis) GenerateKey(keyType redis.KeyType, identifier string) string {
	return fmt.Sprintf("%s:%s:", string(keyType), identifier)
}

func (r *fakeRedis) SetValue(ctx context.Context, key string, value string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[channel]++
	return nil
}

func (r *fakeRedis) Subscribe(ctx context.Context, channel string, handler func(string)) error {
	return nil
}

func (r *fakeRedis) value(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[key]
}

func (r *fakeRedis) publishes(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published[channel]
}

func TestTerminalNotifierCachesSnapshots(t *testing.T) {
	f := newDispatchFixture(t, nil)
	rs := newFakeRedis()
	f.engine.SetPublisher(NewTerminalNotifier(rs, f.dispatcher))

	callID, err := f.dispatcher.Dispatch(context.Background(), target("+14155550100"))
	require.NoError(t, err)

	code := 200
	require.NoError(t, f.engine.Submit(reconciler.TerminationSignal{ID: callID, SIPCode: &code}))

	snapKey := rs.GenerateKey(redis.CALL_SNAPSHOT, callID)
	healthKey := rs.GenerateKey(redis.PROVIDER_HEALTH, string(domain.ProviderTypeSIPNative))
	require.Eventually(t, func() bool {
		return rs.value(snapKey) != "" && rs.value(healthKey) != ""
	}, time.Second, 5*time.Millisecond)

	var cached domain.CallRecord
	require.NoError(t, json.Unmarshal([]byte(rs.value(snapKey)), &cached))
	assert.Equal(t, callID, cached.CallID)
	assert.Equal(t, domain.OutcomeSuccess, cached.Outcome)

	var health domain.ProviderHealth
	require.NoError(t, json.Unmarshal([]byte(rs.value(healthKey)), &health))
	assert.Equal(t, domain.ProviderTypeSIPNative, health.Provider)

	assert.Equal(t, 1, rs.publishes(redis.TerminalCallChannel))
	assert.Equal(t, 1, rs.publishes(redis.CapacityReleaseChannel))
}
