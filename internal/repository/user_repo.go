package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"gorm.io/gorm"
)

// behavioralWindow bounds how many recent promises feed tone scoring.
const behavioralWindow = 14

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListCallCandidates(ctx context.Context, callType domain.CallType) ([]domain.CallCandidate, error)
	GetBehavioralContext(ctx context.Context, userID string) (*domain.BehavioralContext, error)
}

type GormUserRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db, now: time.Now}
}

func (r *GormUserRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return userModelToDomain(&model), nil
}

type callCandidateRow struct {
	UserModel
	LastOriginalAt *time.Time `gorm:"column:last_original_at"`
	CallCount      int64      `gorm:"column:call_count"`
}

func (r *GormUserRepo) ListCallCandidates(ctx context.Context, callType domain.CallType) ([]domain.CallCandidate, error) {
	lastOriginal := r.db.
		Model(&CallAttemptModel{}).
		Select("MAX(created_at)").
		Where("call_attempts.user_id = users.id AND call_attempts.call_type = ? AND call_attempts.is_retry = ?", callType, false)
	callCount := r.db.
		Model(&CallAttemptModel{}).
		Select("COUNT(*)").
		Where("call_attempts.user_id = users.id")

	var rows []callCandidateRow
	err := r.db.WithContext(ctx).
		Model(&UserModel{}).
		Select("users.*, (?) AS last_original_at, (?) AS call_count", lastOriginal, callCount).
		Where("users.active = ? AND users.push_token IS NOT NULL AND users.push_token <> ''", true).
		Order("users.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.CallCandidate, 0, len(rows))
	for i := range rows {
		candidates = append(candidates, domain.CallCandidate{
			User:           *userModelToDomain(&rows[i].UserModel),
			HasAnyCall:     rows[i].CallCount > 0,
			LastOriginalAt: rows[i].LastOriginalAt,
		})
	}
	return candidates, nil
}

func (r *GormUserRepo) GetBehavioralContext(ctx context.Context, userID string) (*domain.BehavioralContext, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	fetch := func(offset, limit int) ([]domain.PromiseOutcome, error) {
		return r.promiseOutcomes(ctx, userID, offset, limit)
	}
	recent, err := fetch(0, behavioralWindow)
	if err != nil {
		return nil, err
	}

	loc, _ := user.Location()
	streak, err := collectStreak(r.now().In(loc), recent, behavioralWindow, fetch)
	if err != nil {
		return nil, err
	}

	return &domain.BehavioralContext{
		Name:           user.Name,
		RecentOutcomes: recent,
		StreakDays:     streak,
	}, nil
}

func (r *GormUserRepo) promiseOutcomes(ctx context.Context, userID string, offset, limit int) ([]domain.PromiseOutcome, error) {
	var promises []PromiseModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("promise_date DESC").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&promises).Error
	if err != nil {
		return nil, err
	}

	outcomes := make([]domain.PromiseOutcome, 0, len(promises))
	for _, p := range promises {
		outcomes = append(outcomes, domain.PromiseOutcome{Status: p.Status, Date: p.PromiseDate})
	}
	return outcomes, nil
}

// collectStreak pages further back through the promise history until the
// streak is closed by a broken or missing day, or the history runs out.
func collectStreak(
	today time.Time,
	first []domain.PromiseOutcome,
	pageSize int,
	fetch func(offset, limit int) ([]domain.PromiseOutcome, error),
) (int, error) {
	outcomes := first
	page := first
	for {
		streak, open := domain.OpenStreak(outcomes, today)
		if !open || len(page) < pageSize {
			return streak, nil
		}

		var err error
		page, err = fetch(len(outcomes), pageSize)
		if err != nil {
			return 0, err
		}
		outcomes = append(outcomes[:len(outcomes):len(outcomes)], page...)
	}
}
