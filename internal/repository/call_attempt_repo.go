package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CallAttemptRepository interface {
	Create(ctx context.Context, c *domain.CallAttempt) error
	GetByConversationID(ctx context.Context, conversationID string) (*domain.CallAttempt, error)
	// Acknowledge returns nil when the call is unknown or was already acknowledged.
	Acknowledge(ctx context.Context, conversationID string, at time.Time) (*domain.CallAttempt, error)
	ClearRetries(ctx context.Context, userID string, callType domain.CallType, at time.Time) (int64, error)
	MarkTimedOut(ctx context.Context, conversationID string) (bool, error)
	GetDueOriginals(ctx context.Context, now time.Time, limit int) ([]domain.CallAttempt, error)
	GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.CallAttempt, error)
	// ExpireFinalRetries stamps last-rung retries whose timeout passed.
	ExpireFinalRetries(ctx context.Context, now time.Time) (int64, error)
	LatestOpenRetry(ctx context.Context, userID string, callType domain.CallType, rootCallID string) (*domain.CallAttempt, error)
	HasOriginalSince(ctx context.Context, userID string, callType domain.CallType, since time.Time) (bool, error)
	ListPending(ctx context.Context, limit int) ([]domain.CallAttempt, error)
	ListChain(ctx context.Context, rootCallID string) ([]domain.CallAttempt, error)
}

type GormCallAttemptRepo struct {
	db *gorm.DB
}

func NewGormCallAttemptRepo(db *gorm.DB) *GormCallAttemptRepo {
	return &GormCallAttemptRepo{db: db}
}

func (r *GormCallAttemptRepo) Create(ctx context.Context, c *domain.CallAttempt) error {
	model := callAttemptModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if c != nil {
		*c = *callAttemptModelToDomain(model)
	}
	return nil
}

func (r *GormCallAttemptRepo) GetByConversationID(ctx context.Context, conversationID string) (*domain.CallAttempt, error) {
	var model CallAttemptModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return callAttemptModelToDomain(&model), nil
}

func (r *GormCallAttemptRepo) Acknowledge(ctx context.Context, conversationID string, at time.Time) (*domain.CallAttempt, error) {
	var models []CallAttemptModel
	result := r.db.WithContext(ctx).
		Model(&models).
		Clauses(clause.Returning{}).
		Where("conversation_id = ? AND acknowledged = ?", conversationID, false).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_at": at,
			"status":          domain.CallStatusAcknowledged,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 || len(models) == 0 {
		return nil, nil
	}
	return callAttemptModelToDomain(&models[0]), nil
}

func (r *GormCallAttemptRepo) ClearRetries(ctx context.Context, userID string, callType domain.CallType, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&CallAttemptModel{}).
		Where("user_id = ? AND call_type = ? AND is_retry = ? AND acknowledged = ?", userID, callType, true, false).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_at": at,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormCallAttemptRepo) MarkTimedOut(ctx context.Context, conversationID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&CallAttemptModel{}).
		Where("conversation_id = ? AND status = ? AND acknowledged = ?", conversationID, domain.CallStatusScheduled, false).
		Update("status", domain.CallStatusTimeout)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormCallAttemptRepo) GetDueOriginals(ctx context.Context, now time.Time, limit int) ([]domain.CallAttempt, error) {
	var models []CallAttemptModel
	err := r.db.WithContext(ctx).
		Where("acknowledged = ? AND is_retry = ? AND status = ? AND timeout_at <= ?", false, false, domain.CallStatusScheduled, now).
		Order("timeout_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return callAttemptModelsToDomain(models), nil
}

func (r *GormCallAttemptRepo) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.CallAttempt, error) {
	var models []CallAttemptModel
	err := r.db.WithContext(ctx).
		Where(
			"acknowledged = ? AND is_retry = ? AND status = ? AND timeout_at <= ? AND retry_attempt_number < ?",
			false, true, domain.CallStatusScheduled, now, domain.MaxRetryAttempts,
		).
		Order("timeout_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return callAttemptModelsToDomain(models), nil
}

func (r *GormCallAttemptRepo) ExpireFinalRetries(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&CallAttemptModel{}).
		Where(
			"acknowledged = ? AND is_retry = ? AND status = ? AND timeout_at <= ? AND retry_attempt_number >= ?",
			false, true, domain.CallStatusScheduled, now, domain.MaxRetryAttempts,
		).
		Update("status", domain.CallStatusTimeout)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormCallAttemptRepo) LatestOpenRetry(ctx context.Context, userID string, callType domain.CallType, rootCallID string) (*domain.CallAttempt, error) {
	var model CallAttemptModel
	err := r.db.WithContext(ctx).
		Where(
			"user_id = ? AND call_type = ? AND root_call_id = ? AND is_retry = ? AND acknowledged = ?",
			userID, callType, rootCallID, true, false,
		).
		Order("retry_attempt_number DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return callAttemptModelToDomain(&model), nil
}

func (r *GormCallAttemptRepo) HasOriginalSince(ctx context.Context, userID string, callType domain.CallType, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CallAttemptModel{}).
		Where("user_id = ? AND call_type = ? AND is_retry = ? AND created_at >= ?", userID, callType, false, since).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormCallAttemptRepo) ListPending(ctx context.Context, limit int) ([]domain.CallAttempt, error) {
	if limit < 1 {
		limit = 50
	}
	limit = min(limit, 200)

	var models []CallAttemptModel
	err := r.db.WithContext(ctx).
		Where("acknowledged = ? AND status = ?", false, domain.CallStatusScheduled).
		Order("timeout_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return callAttemptModelsToDomain(models), nil
}

func (r *GormCallAttemptRepo) ListChain(ctx context.Context, rootCallID string) ([]domain.CallAttempt, error) {
	var models []CallAttemptModel
	err := r.db.WithContext(ctx).
		Where("root_call_id = ?", rootCallID).
		Order("retry_attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return callAttemptModelsToDomain(models), nil
}
