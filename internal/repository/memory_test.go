package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veritel-ai/dialer-service/internal/domain"
)

func TestMemoryRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryCallRecordRepository()
	ctx := context.Background()

	rec := &domain.CallRecord{
		CallID:   "call-1",
		Provider: domain.ProviderTypeSIPNative,
		Status:   domain.CallStatusQueued,
	}
	require.NoError(t, repo.Create(ctx, rec))
	assert.Error(t, repo.Create(ctx, rec), "duplicate call_id must be rejected")

	rec.Status = domain.CallStatusRinging
	require.NoError(t, repo.Update(ctx, rec))

	got, err := repo.GetByCallID(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.CallStatusRinging, got.Status)
	assert.Equal(t, 1, repo.Len())
}

func TestMemoryRepositoryIsolation(t *testing.T) {
	repo := NewMemoryCallRecordRepository()
	ctx := context.Background()

	code := 200
	now := time.Now()
	rec := &domain.CallRecord{
		CallID:  "call-1",
		Status:  domain.CallStatusCompleted,
		SIPCode: &code,
		EndedAt: &now,
	}
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.GetByCallID(ctx, "call-1")
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	*got.SIPCode = 503
	got.Status = domain.CallStatusFailed

	again, err := repo.GetByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, 200, *again.SIPCode)
	assert.Equal(t, domain.CallStatusCompleted, again.Status)
}

func TestMemoryRepositoryMissing(t *testing.T) {
	repo := NewMemoryCallRecordRepository()
	ctx := context.Background()

	got, err := repo.GetByCallID(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, repo.Update(ctx, &domain.CallRecord{CallID: "ghost"}))
}
