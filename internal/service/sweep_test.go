package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
)

func newTestSweep(t *testing.T, repo *memCallRepo, escalation *fakeEscalation, limit int) *Sweep {
	t.Helper()
	sweep, err := NewSweep(repo, escalation, nil, limit, nil)
	if err != nil {
		t.Fatalf("NewSweep() error = %v", err)
	}
	sweep.now = func() time.Time { return testNow }
	return sweep
}

func dueOriginal(id string) domain.CallAttempt {
	return domain.CallAttempt{
		ID:             "row-" + id,
		UserID:         "u1",
		ConversationID: id,
		CreatedAt:      testNow.Add(-20 * time.Minute),
		TimeoutAt:      testNow.Add(-10 * time.Minute),
	}
}

func TestNewSweepValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSweep(nil, &fakeEscalation{}, nil, 0, nil); err == nil {
		t.Fatal("expected error when call repository is nil")
	}
	if _, err := NewSweep(&memCallRepo{}, nil, nil, 0, nil); err == nil {
		t.Fatal("expected error when missed call handler is nil")
	}
}

func TestSweepEscalatesThenStampsOriginals(t *testing.T) {
	t.Parallel()

	repo := &memCallRepo{}
	escalation := &fakeEscalation{}
	seedCall(t, repo, dueOriginal("call-1"))
	seedCall(t, repo, domain.CallAttempt{
		ID:             "row-future",
		UserID:         "u1",
		ConversationID: "call-future",
		CreatedAt:      testNow,
		TimeoutAt:      testNow.Add(time.Minute),
	})

	report, err := newTestSweep(t, repo, escalation, 0).RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick() error = %v", err)
	}
	if report.Originals.Scanned != 1 || report.Originals.Escalated != 1 {
		t.Fatalf("originals report = %+v, want 1 escalated", report.Originals)
	}

	missed := escalation.missedCalls()
	if len(missed) != 1 || missed[0].CallUUID != "call-1" || missed[0].Reason != domain.RetryReasonMissed {
		t.Fatalf("HandleMissed calls = %+v, want call-1 missed", missed)
	}

	stored, _ := repo.GetByConversationID(context.Background(), "call-1")
	if stored.Status != domain.CallStatusTimeout {
		t.Fatalf("status = %s, want timeout", stored.Status)
	}
	future, _ := repo.GetByConversationID(context.Background(), "call-future")
	if future.Status != domain.CallStatusScheduled {
		t.Fatalf("future call status = %s, want scheduled", future.Status)
	}
}

func TestSweepRowOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		escalate   func(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error)
		wantStatus domain.CallStatus
		check      func(t *testing.T, r SweepCategoryReport)
	}{
		{
			name: "escalation failure leaves row due",
			escalate: func(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error) {
				return nil, errors.New("push provider down")
			},
			wantStatus: domain.CallStatusScheduled,
			check: func(t *testing.T, r SweepCategoryReport) {
				if r.Failed != 1 {
					t.Fatalf("Failed = %d, want 1", r.Failed)
				}
			},
		},
		{
			name: "cap reached still stamps",
			escalate: func(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error) {
				return nil, fmt.Errorf("%w: chain", domain.ErrRetryCapExceeded)
			},
			wantStatus: domain.CallStatusTimeout,
			check: func(t *testing.T, r SweepCategoryReport) {
				if r.CapReached != 1 {
					t.Fatalf("CapReached = %d, want 1", r.CapReached)
				}
			},
		},
		{
			name: "acknowledged meanwhile is skipped",
			escalate: func(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error) {
				return nil, nil
			},
			wantStatus: domain.CallStatusTimeout,
			check: func(t *testing.T, r SweepCategoryReport) {
				if r.Skipped != 1 {
					t.Fatalf("Skipped = %d, want 1", r.Skipped)
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &memCallRepo{}
			seedCall(t, repo, dueOriginal("call-1"))

			report, err := newTestSweep(t, repo, &fakeEscalation{handleMissedFn: tt.escalate}, 0).RunTick(context.Background())
			if err != nil {
				t.Fatalf("RunTick() error = %v", err)
			}
			tt.check(t, report.Originals)

			stored, _ := repo.GetByConversationID(context.Background(), "call-1")
			if stored.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", stored.Status, tt.wantStatus)
			}
		})
	}
}

func TestSweepScansAreIndependent(t *testing.T) {
	t.Parallel()

	repo := &memCallRepo{dueOriginalsErr: errors.New("originals query failed")}
	seedCall(t, repo, dueOriginal("call-1"))
	seedRetry(t, repo, "retry-a", "call-1", "call-1", 1, "")
	if _, err := repo.MarkTimedOut(context.Background(), "call-1"); err != nil {
		t.Fatalf("MarkTimedOut() error = %v", err)
	}

	escalation := &fakeEscalation{}
	report, err := newTestSweep(t, repo, escalation, 0).RunTick(context.Background())
	if err == nil {
		t.Fatal("RunTick() expected originals error")
	}
	if report.Retries.Fired != 1 {
		t.Fatalf("retries report = %+v, want 1 fired", report.Retries)
	}

	if fired := escalation.firedRetries(); len(fired) != 1 || fired[0] != "retry-a" {
		t.Fatalf("FireRetry calls = %v, want [retry-a]", fired)
	}
	if missed := escalation.missedCalls(); len(missed) != 0 {
		t.Fatalf("HandleMissed calls = %+v, want none for a pending retry", missed)
	}
}

func TestSweepFiresPendingRetriesWithoutCreating(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fire       func(ctx context.Context, retry domain.CallAttempt) (bool, error)
		wantStatus domain.CallStatus
		check      func(t *testing.T, r SweepCategoryReport)
	}{
		{
			name:       "fired retry is stamped",
			wantStatus: domain.CallStatusTimeout,
			check: func(t *testing.T, r SweepCategoryReport) {
				if r.Fired != 1 {
					t.Fatalf("Fired = %d, want 1", r.Fired)
				}
			},
		},
		{
			name: "transport failure leaves row due",
			fire: func(ctx context.Context, retry domain.CallAttempt) (bool, error) {
				return false, fmt.Errorf("%w: push provider down", domain.ErrTransport)
			},
			wantStatus: domain.CallStatusScheduled,
			check: func(t *testing.T, r SweepCategoryReport) {
				if r.Failed != 1 {
					t.Fatalf("Failed = %d, want 1", r.Failed)
				}
			},
		},
		{
			name: "missing push destination expires the retry",
			fire: func(ctx context.Context, retry domain.CallAttempt) (bool, error) {
				return false, domain.ErrNoPushToken
			},
			wantStatus: domain.CallStatusTimeout,
			check: func(t *testing.T, r SweepCategoryReport) {
				if r.Skipped != 1 {
					t.Fatalf("Skipped = %d, want 1", r.Skipped)
				}
			},
		},
		{
			name: "answered chain is skipped",
			fire: func(ctx context.Context, retry domain.CallAttempt) (bool, error) {
				return false, nil
			},
			wantStatus: domain.CallStatusTimeout,
			check: func(t *testing.T, r SweepCategoryReport) {
				if r.Skipped != 1 {
					t.Fatalf("Skipped = %d, want 1", r.Skipped)
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &memCallRepo{}
			seedCall(t, repo, domain.CallAttempt{ID: "row-1", UserID: "u1", ConversationID: "call-1", Status: domain.CallStatusTimeout})
			seedRetry(t, repo, "retry-a", "call-1", "call-1", 2, "")

			escalation := &fakeEscalation{fireRetryFn: tt.fire}
			report, err := newTestSweep(t, repo, escalation, 0).RunTick(context.Background())
			if err != nil {
				t.Fatalf("RunTick() error = %v", err)
			}
			tt.check(t, report.Retries)

			if got := len(repo.snapshot()); got != 2 {
				t.Fatalf("rows = %d, want 2", got)
			}
			stored, _ := repo.GetByConversationID(context.Background(), "retry-a")
			if stored.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", stored.Status, tt.wantStatus)
			}
		})
	}
}

func TestSweepExpiresFinalRetries(t *testing.T) {
	t.Parallel()

	repo := &memCallRepo{}
	seedCall(t, repo, domain.CallAttempt{ID: "row-1", UserID: "u1", ConversationID: "call-1", Status: domain.CallStatusTimeout})
	seedRetry(t, repo, "retry-c", "call-1", "call-1", domain.MaxRetryAttempts, "")

	escalation := &fakeEscalation{}
	report, err := newTestSweep(t, repo, escalation, 0).RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick() error = %v", err)
	}
	if report.Retries.Scanned != 0 || report.Retries.Expired != 1 {
		t.Fatalf("retries report = %+v, want 1 expired and nothing scanned", report.Retries)
	}
	if fired := escalation.firedRetries(); len(fired) != 0 {
		t.Fatalf("FireRetry calls = %v, want none for the last rung", fired)
	}

	stored, _ := repo.GetByConversationID(context.Background(), "retry-c")
	if stored.Status != domain.CallStatusTimeout {
		t.Fatalf("status = %s, want timeout", stored.Status)
	}

	repo.expireErr = errors.New("db down")
	if _, err := newTestSweep(t, repo, escalation, 0).RunTick(context.Background()); err == nil {
		t.Fatal("RunTick() expected expiry error")
	}
}

func TestSweepRespectsLimit(t *testing.T) {
	t.Parallel()

	repo := &memCallRepo{}
	for i := 0; i < 60; i++ {
		seedCall(t, repo, dueOriginal(fmt.Sprintf("call-%02d", i)))
	}

	escalation := &fakeEscalation{}
	report, err := newTestSweep(t, repo, escalation, 0).RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick() error = %v", err)
	}
	if report.Originals.Scanned != 50 {
		t.Fatalf("Scanned = %d, want 50", report.Originals.Scanned)
	}
	if got := len(escalation.missedCalls()); got != 50 {
		t.Fatalf("HandleMissed calls = %d, want 50", got)
	}
}

func TestSweepStampFailureCountsAsFailed(t *testing.T) {
	t.Parallel()

	repo := &memCallRepo{}
	seedCall(t, repo, dueOriginal("call-1"))
	repo.markTimedOutErr = errors.New("db down")

	report, err := newTestSweep(t, repo, &fakeEscalation{}, 0).RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick() error = %v", err)
	}
	if report.Originals.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", report.Originals.Failed)
	}
}
