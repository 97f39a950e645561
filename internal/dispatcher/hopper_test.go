package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veritel-ai/dialer-service/internal/domain"
)

func TestHopperFIFO(t *testing.T) {
	h := NewHopper()
	h.Push(&DialTarget{TargetNumber: "a", Provider: domain.ProviderTypeSIPNative})
	h.Push(&DialTarget{TargetNumber: "b", Provider: domain.ProviderTypeSIPNative})
	h.Push(&DialTarget{TargetNumber: "c", Provider: domain.ProviderTypeSIPNative})

	for _, want := range []string{"a", "b", "c"} {
		got, ok := h.Next()
		require.True(t, ok)
		assert.Equal(t, want, got.TargetNumber)
	}
	_, ok := h.Next()
	assert.False(t, ok)
}

func TestHopperPushFront(t *testing.T) {
	h := NewHopper()
	h.Push(&DialTarget{TargetNumber: "a"})
	h.Push(&DialTarget{TargetNumber: "b"})

	head, ok := h.Next()
	require.True(t, ok)
	h.PushFront(head)

	again, ok := h.Next()
	require.True(t, ok)
	assert.Equal(t, "a", again.TargetNumber, "a returned target keeps its turn")
}

func TestHopperRequeueAfter(t *testing.T) {
	h := NewHopper()
	h.RequeueAfter(&DialTarget{TargetNumber: "a"}, 20*time.Millisecond)

	assert.Equal(t, 0, h.Len(), "the target must stay out until the delay elapses")
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHopperRequeueAfterZeroDelay(t *testing.T) {
	h := NewHopper()
	h.RequeueAfter(&DialTarget{TargetNumber: "a"}, 0)
	assert.Equal(t, 1, h.Len())
}
