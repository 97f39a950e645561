package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CallRecordRepository handles database operations for call records. Writes
// are retried with exponential backoff here, at the storage boundary, so
// transient database faults never leak into the state machine logic.
type CallRecordRepository struct {
	db *gorm.DB
}

// NewCallRecordRepository creates a new call record repository
func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

func (r *CallRecordRepository) withRetry(op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	return backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		logger.Base().Warn("call record write failed, retrying",
			zap.Error(err), zap.Duration("next_attempt_in", next))
	})
}

// Create persists a freshly dispatched call record. The row is written from
// a copy so timestamps are never stamped onto the caller's record, which the
// reconciler actor owns.
func (r *CallRecordRepository) Create(ctx context.Context, rec *domain.CallRecord) error {
	row := rec.Clone()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	row.UpdatedAt = time.Now()

	err := r.withRetry(func() error {
		return r.db.WithContext(ctx).Create(row).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}
	return nil
}

// Update persists the current reconciled state of a call record
func (r *CallRecordRepository) Update(ctx context.Context, rec *domain.CallRecord) error {
	row := rec.Clone()
	row.UpdatedAt = time.Now()

	err := r.withRetry(func() error {
		return r.db.WithContext(ctx).Save(row).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update call record: %w", err)
	}
	return nil
}

// GetByCallID retrieves a call record by its call ID
func (r *CallRecordRepository) GetByCallID(ctx context.Context, callID string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &rec, nil
}

// FindByCampaignID returns call records for a campaign, newest first.
func (r *CallRecordRepository) FindByCampaignID(ctx context.Context, campaignID string, limit int) ([]*domain.CallRecord, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("campaign ID cannot be empty")
	}
	if limit <= 0 {
		limit = 100
	}

	var records []*domain.CallRecord
	result := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find call records: %w", result.Error)
	}
	return records, nil
}
