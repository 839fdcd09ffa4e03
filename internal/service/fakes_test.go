package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"github.com/kursadbilgin/accountability-dispatch/internal/media"
	"github.com/kursadbilgin/accountability-dispatch/internal/observability"
	"github.com/kursadbilgin/accountability-dispatch/internal/push"
	"github.com/kursadbilgin/accountability-dispatch/internal/queue"
	"github.com/kursadbilgin/accountability-dispatch/internal/tone"
)

var testNow = time.Date(2026, time.March, 10, 19, 5, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// memCallRepo is an in-memory CallAttemptRepository with the same guards as
// the gorm implementation.
type memCallRepo struct {
	mu    sync.Mutex
	calls []domain.CallAttempt

	createErr       error
	dueOriginalsErr error
	dueRetriesErr   error
	markTimedOutErr error
	expireErr       error
	clearErr        error

	// beforeCreate runs outside the lock ahead of every Create.
	beforeCreate func(c *domain.CallAttempt)
}

func (r *memCallRepo) Create(ctx context.Context, c *domain.CallAttempt) error {
	if r.beforeCreate != nil {
		r.beforeCreate(c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}
	for i := range r.calls {
		if r.calls[i].ConversationID == c.ConversationID {
			return domain.ErrConflict
		}
	}
	stored := *c
	stored.RootCallID = c.ChainRoot()
	r.calls = append(r.calls, stored)
	return nil
}

func (r *memCallRepo) GetByConversationID(ctx context.Context, conversationID string) (*domain.CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.calls {
		if r.calls[i].ConversationID == conversationID {
			found := r.calls[i]
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memCallRepo) Acknowledge(ctx context.Context, conversationID string, at time.Time) (*domain.CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.calls {
		c := &r.calls[i]
		if c.ConversationID != conversationID || c.Acknowledged {
			continue
		}
		c.Acknowledged = true
		c.AcknowledgedAt = &at
		c.Status = domain.CallStatusAcknowledged
		updated := *c
		return &updated, nil
	}
	return nil, nil
}

func (r *memCallRepo) ClearRetries(ctx context.Context, userID string, callType domain.CallType, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clearErr != nil {
		return 0, r.clearErr
	}

	var cleared int64
	for i := range r.calls {
		c := &r.calls[i]
		if c.UserID == userID && c.CallType == callType && c.IsRetry && !c.Acknowledged {
			c.Acknowledged = true
			c.AcknowledgedAt = &at
			cleared++
		}
	}
	return cleared, nil
}

func (r *memCallRepo) MarkTimedOut(ctx context.Context, conversationID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markTimedOutErr != nil {
		return false, r.markTimedOutErr
	}
	for i := range r.calls {
		c := &r.calls[i]
		if c.ConversationID == conversationID && c.Status == domain.CallStatusScheduled && !c.Acknowledged {
			c.Status = domain.CallStatusTimeout
			return true, nil
		}
	}
	return false, nil
}

func (r *memCallRepo) GetDueOriginals(ctx context.Context, now time.Time, limit int) ([]domain.CallAttempt, error) {
	if r.dueOriginalsErr != nil {
		return nil, r.dueOriginalsErr
	}
	return r.due(now, limit, func(c domain.CallAttempt) bool { return !c.IsRetry }), nil
}

func (r *memCallRepo) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.CallAttempt, error) {
	if r.dueRetriesErr != nil {
		return nil, r.dueRetriesErr
	}
	return r.due(now, limit, func(c domain.CallAttempt) bool {
		return c.IsRetry && c.RetryAttemptNumber < domain.MaxRetryAttempts
	}), nil
}

func (r *memCallRepo) ExpireFinalRetries(ctx context.Context, now time.Time) (int64, error) {
	if r.expireErr != nil {
		return 0, r.expireErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired int64
	for i := range r.calls {
		c := &r.calls[i]
		if c.IsRetry && !c.Acknowledged && c.Status == domain.CallStatusScheduled &&
			c.RetryAttemptNumber >= domain.MaxRetryAttempts && !c.TimeoutAt.After(now) {
			c.Status = domain.CallStatusTimeout
			expired++
		}
	}
	return expired, nil
}

func (r *memCallRepo) due(now time.Time, limit int, match func(domain.CallAttempt) bool) []domain.CallAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []domain.CallAttempt
	for _, c := range r.calls {
		if !c.Acknowledged && c.Status == domain.CallStatusScheduled && !c.TimeoutAt.After(now) && match(c) {
			due = append(due, c)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].TimeoutAt.Before(due[j].TimeoutAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due
}

func (r *memCallRepo) LatestOpenRetry(ctx context.Context, userID string, callType domain.CallType, rootCallID string) (*domain.CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.CallAttempt
	for i := range r.calls {
		c := r.calls[i]
		if c.UserID != userID || c.CallType != callType || c.RootCallID != rootCallID || !c.IsRetry || c.Acknowledged {
			continue
		}
		if latest == nil || c.RetryAttemptNumber > latest.RetryAttemptNumber {
			latest = &c
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (r *memCallRepo) HasOriginalSince(ctx context.Context, userID string, callType domain.CallType, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.calls {
		if c.UserID == userID && c.CallType == callType && !c.IsRetry && !c.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memCallRepo) ListPending(ctx context.Context, limit int) ([]domain.CallAttempt, error) {
	return r.due(time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC), limit, func(domain.CallAttempt) bool { return true }), nil
}

func (r *memCallRepo) ListChain(ctx context.Context, rootCallID string) ([]domain.CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chain []domain.CallAttempt
	for _, c := range r.calls {
		if c.RootCallID == rootCallID {
			chain = append(chain, c)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].RetryAttemptNumber < chain[j].RetryAttemptNumber })
	return chain, nil
}

func (r *memCallRepo) setCreateErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createErr = err
}

func (r *memCallRepo) setClearErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearErr = err
}

func (r *memCallRepo) snapshot() []domain.CallAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.CallAttempt, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *memCallRepo) retries() []domain.CallAttempt {
	var out []domain.CallAttempt
	for _, c := range r.snapshot() {
		if c.IsRetry {
			out = append(out, c)
		}
	}
	return out
}

type fakeUsers struct {
	users map[string]domain.User
	err   error
}

func (f *fakeUsers) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

type fakeBehavior struct {
	getFn func(ctx context.Context, userID string) (*domain.BehavioralContext, error)
}

func (f *fakeBehavior) GetBehavioralContext(ctx context.Context, userID string) (*domain.BehavioralContext, error) {
	if f.getFn != nil {
		return f.getFn(ctx, userID)
	}
	return &domain.BehavioralContext{}, nil
}

type sentPush struct {
	destination string
	payload     push.Payload
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []sentPush
	sendFn func(ctx context.Context, destination string, payload push.Payload) error
}

func (f *fakeTransport) Send(ctx context.Context, destination string, payload push.Payload) error {
	if f.sendFn != nil {
		if err := f.sendFn(ctx, destination, payload); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{destination: destination, payload: payload})
	return nil
}

func (f *fakeTransport) pushes() []sentPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPush, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeSessions struct {
	createFn func(ctx context.Context, roomName string, participant media.ParticipantMetadata) (*media.Session, error)
}

func (f *fakeSessions) CreateSession(ctx context.Context, roomName string, participant media.ParticipantMetadata) (*media.Session, error) {
	if f.createFn != nil {
		return f.createFn(ctx, roomName, participant)
	}
	return &media.Session{RoomName: roomName, Token: "token-" + participant.CallUUID}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.CallEvent
	err    error
}

func (f *fakePublisher) PublishEvent(ctx context.Context, event queue.CallEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakePublisher) types() []queue.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeEscalation struct {
	mu             sync.Mutex
	handleMissedFn func(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error)
	fireRetryFn    func(ctx context.Context, retry domain.CallAttempt) (bool, error)
	clearFn        func(ctx context.Context, userID string, callType domain.CallType) (int64, error)
	missed         []MissedCall
	fired          []string
	clears         int
}

func (f *fakeEscalation) HandleMissed(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error) {
	f.mu.Lock()
	f.missed = append(f.missed, missed)
	f.mu.Unlock()

	if f.handleMissedFn != nil {
		return f.handleMissedFn(ctx, missed)
	}
	return &domain.CallAttempt{ConversationID: "retry-of-" + missed.CallUUID}, nil
}

func (f *fakeEscalation) FireRetry(ctx context.Context, retry domain.CallAttempt) (bool, error) {
	f.mu.Lock()
	f.fired = append(f.fired, retry.ConversationID)
	f.mu.Unlock()

	if f.fireRetryFn != nil {
		return f.fireRetryFn(ctx, retry)
	}
	return true, nil
}

func (f *fakeEscalation) firedRetries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fired))
	copy(out, f.fired)
	return out
}

func (f *fakeEscalation) ClearRetries(ctx context.Context, userID string, callType domain.CallType) (int64, error) {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()

	if f.clearFn != nil {
		return f.clearFn(ctx, userID, callType)
	}
	return 0, nil
}

func (f *fakeEscalation) missedCalls() []MissedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MissedCall, len(f.missed))
	copy(out, f.missed)
	return out
}

func testUser(id string) domain.User {
	return domain.User{
		ID:        id,
		Name:      "Sam",
		PushToken: "ExponentPushToken[" + id + "]",
		Timezone:  "UTC",
		CallTime:  "19:00",
		Active:    true,
	}
}

// callStack wires the real tracker, escalator and dispatcher around an
// in-memory store and a shared clock.
type callStack struct {
	clock      *testClock
	repo       *memCallRepo
	transport  *fakeTransport
	publisher  *fakePublisher
	behavior   *fakeBehavior
	tracker    *Tracker
	escalator  *Escalator
	dispatcher *Dispatcher
	sweep      *Sweep
}

func newCallStack(users ...domain.User) (*callStack, error) {
	s := &callStack{
		clock:     newTestClock(testNow),
		repo:      &memCallRepo{},
		transport: &fakeTransport{},
		publisher: &fakePublisher{},
		behavior:  &fakeBehavior{},
	}

	directory := &fakeUsers{users: map[string]domain.User{}}
	for _, u := range users {
		directory.users[u.ID] = u
	}

	scorer := tone.NewScorer(tone.DefaultWeights())
	var err error
	s.escalator, err = NewEscalator(s.repo, directory, s.behavior, s.transport, scorer, s.publisher, nil, "test", nil)
	if err != nil {
		return nil, err
	}
	s.escalator.now = s.clock.Now
	s.escalator.newID = sequentialIDs("retry")

	s.tracker, err = NewTracker(s.repo, s.escalator, s.publisher, nil, 0, nil)
	if err != nil {
		return nil, err
	}
	s.tracker.now = s.clock.Now
	s.tracker.newID = sequentialIDs("row")

	s.dispatcher, err = NewDispatcher(directory, s.behavior, s.repo, s.tracker, &fakeSessions{}, s.transport, scorer, s.publisher, nil, "test", nil)
	if err != nil {
		return nil, err
	}
	s.dispatcher.now = s.clock.Now
	s.dispatcher.newID = sequentialIDs("call")

	s.sweep, err = NewSweep(s.repo, s.escalator, nil, 0, nil)
	if err != nil {
		return nil, err
	}
	s.sweep.now = s.clock.Now

	return s, nil
}

func scrapeMetrics(t *testing.T, metrics *observability.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func containsLine(body, want string) bool {
	for _, line := range strings.Split(body, "\n") {
		if line == want {
			return true
		}
	}
	return false
}
