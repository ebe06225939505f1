package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/provider"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/repository"
)

// memStore is an in-memory record store with the same version/status CAS
// rules as the gorm repositories.
type memStore struct {
	mu            sync.Mutex
	notifications map[string]domain.Notification
	tasks         map[string]domain.RetryTask
	attempts      []domain.NotificationAttempt
	seq           int64

	commitErr error
}

func newMemStore() *memStore {
	return &memStore{
		notifications: make(map[string]domain.Notification),
		tasks:         make(map[string]domain.RetryTask),
	}
}

var (
	_ repository.NotificationRepository = (*memStore)(nil)
	_ repository.RetryTaskRepository    = (*memStore)(nil)
	_ repository.AttemptRepository      = (*memStore)(nil)
	_ repository.UserDirectory          = (*fakeUserDirectory)(nil)
)

func (s *memStore) Create(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return domain.ErrConflict
	}
	if n.EventID != nil && n.RuleID != nil {
		for _, existing := range s.notifications {
			if existing.EventID != nil && existing.RuleID != nil &&
				*existing.EventID == *n.EventID && *existing.RuleID == *n.RuleID {
				return domain.ErrDuplicateDispatch
			}
		}
	}
	s.notifications[n.ID] = *n
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &n, nil
}

func (s *memStore) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Notification
	for _, n := range s.notifications {
		if params.UserID != nil && n.UserID != *params.UserID {
			continue
		}
		if params.Status != nil && n.Status != *params.Status {
			continue
		}
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b domain.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, int64(len(out)), nil
}

func (s *memStore) ListStaleSending(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Notification
	for _, n := range s.notifications {
		if n.Status != domain.StatusSending || !n.UpdatedAt.Before(staleBefore) {
			continue
		}
		if _, ok := s.activeTaskLocked(n.ID); ok {
			continue
		}
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b domain.Notification) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) failCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func (s *memStore) UpdateIf(ctx context.Context, n *domain.Notification, expected domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.notifications[n.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != n.Version || current.Status != expected {
		return domain.ErrConflict
	}
	current.Status = n.Status
	current.LastError = n.LastError
	current.UpdatedAt = n.UpdatedAt
	current.Version++
	s.notifications[n.ID] = current
	n.Version++
	return nil
}

func (s *memStore) CommitAttempt(ctx context.Context, commit repository.AttemptCommit) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		return nil, s.commitErr
	}

	n := commit.Notification
	current, ok := s.notifications[n.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	action := commit.RetryAction
	if current.Version == n.Version && current.Status == commit.ExpectedStatus {
		current.Status = n.Status
		current.AttemptsMade = n.AttemptsMade
		current.LastError = n.LastError
		current.Version++
		current.UpdatedAt = commit.Now
	} else {
		if current.Status != domain.StatusCancelled {
			return nil, domain.ErrConflict
		}
		if commit.Attempt != nil {
			current.AttemptsMade = min(current.AttemptsMade+1, current.MaxAttempts)
			current.LastError = n.LastError
			current.Version++
			current.UpdatedAt = commit.Now
		}
		action = repository.RetryActionCancel
	}

	switch action {
	case repository.RetryActionSchedule:
		if id, ok := s.activeTaskLocked(n.ID); ok {
			task := s.tasks[id]
			task.Status = domain.RetryStatusPending
			task.NextAttemptAt = commit.NextAttemptAt
			task.RetriesLeft = commit.RetriesLeft
			task.UpdatedAt = commit.Now
			s.tasks[id] = task
		} else {
			s.seq++
			s.tasks[commit.TaskID] = domain.RetryTask{
				ID:             commit.TaskID,
				NotificationID: n.ID,
				NextAttemptAt:  commit.NextAttemptAt,
				RetriesLeft:    commit.RetriesLeft,
				Status:         domain.RetryStatusPending,
				Seq:            s.seq,
				CreatedAt:      commit.Now,
				UpdatedAt:      commit.Now,
			}
		}
	case repository.RetryActionComplete:
		s.closeActiveLocked(n.ID, domain.RetryStatusCompleted, commit.Now)
	case repository.RetryActionExhaust:
		s.closeActiveLocked(n.ID, domain.RetryStatusExhausted, commit.Now)
	case repository.RetryActionCancel:
		s.closeActiveLocked(n.ID, domain.RetryStatusCancelled, commit.Now)
	}

	if commit.Attempt != nil {
		s.attempts = append(s.attempts, *commit.Attempt)
	}

	s.notifications[n.ID] = current
	committed := current
	return &committed, nil
}

func (s *memStore) CancelWithTask(ctx context.Context, id string, now time.Time) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: notification is already %s", domain.ErrConflict, current.Status)
	}
	current.Status = domain.StatusCancelled
	current.Version++
	current.UpdatedAt = now
	s.notifications[id] = current
	s.closeActiveLocked(id, domain.RetryStatusCancelled, now)

	cancelled := current
	return &cancelled, nil
}

func (s *memStore) Enqueue(ctx context.Context, t *domain.RetryTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status == "" {
		t.Status = domain.RetryStatusPending
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := s.activeTaskLocked(t.NotificationID); ok && t.Status.IsActive() {
		return domain.ErrDuplicateRetry
	}
	s.seq++
	t.Seq = s.seq
	s.tasks[t.ID] = *t
	return nil
}

func (s *memStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.RetryTask
	for _, t := range s.tasks {
		if t.Status == domain.RetryStatusPending && !t.NextAttemptAt.After(now) {
			due = append(due, t)
		}
	}
	slices.SortFunc(due, func(a, b domain.RetryTask) int {
		if c := a.NextAttemptAt.Compare(b.NextAttemptAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = domain.RetryStatusInFlight
		due[i].UpdatedAt = now
		s.tasks[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *memStore) Release(ctx context.Context, taskID string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.Status != domain.RetryStatusInFlight {
		return domain.ErrConflict
	}
	t.Status = domain.RetryStatusPending
	t.NextAttemptAt = nextAttemptAt
	s.tasks[taskID] = t
	return nil
}

func (s *memStore) Close(ctx context.Context, taskID string, status domain.RetryStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || !t.Status.IsActive() {
		return domain.ErrConflict
	}
	t.Status = status
	t.UpdatedAt = now
	s.tasks[taskID] = t
	return nil
}

func (s *memStore) RecoverInFlight(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recovered int64
	for id, t := range s.tasks {
		if t.Status == domain.RetryStatusInFlight && t.UpdatedAt.Before(staleBefore) {
			t.Status = domain.RetryStatusPending
			t.UpdatedAt = now
			s.tasks[id] = t
			recovered++
		}
	}
	return recovered, nil
}

func (s *memStore) GetActiveByNotificationID(ctx context.Context, notificationID string) (*domain.RetryTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.activeTaskLocked(notificationID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	t := s.tasks[id]
	return &t, nil
}

func (s *memStore) ListPendingByUser(ctx context.Context, userID string) ([]domain.RetryTask, error) {
	return s.listPending(func(n domain.Notification) bool { return n.UserID == userID }), nil
}

func (s *memStore) ListPendingByRule(ctx context.Context, ruleID string) ([]domain.RetryTask, error) {
	return s.listPending(func(n domain.Notification) bool { return n.RuleID != nil && *n.RuleID == ruleID }), nil
}

func (s *memStore) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.NotificationAttempt
	for _, a := range s.attempts {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) listPending(match func(domain.Notification) bool) []domain.RetryTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.RetryTask
	for _, t := range s.tasks {
		if t.Status == domain.RetryStatusPending && match(s.notifications[t.NotificationID]) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b domain.RetryTask) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func (s *memStore) activeTaskLocked(notificationID string) (string, bool) {
	for id, t := range s.tasks {
		if t.NotificationID == notificationID && t.Status.IsActive() {
			return id, true
		}
	}
	return "", false
}

func (s *memStore) closeActiveLocked(notificationID string, status domain.RetryStatus, now time.Time) {
	for id, t := range s.tasks {
		if t.NotificationID == notificationID && t.Status.IsActive() {
			t.Status = status
			t.UpdatedAt = now
			s.tasks[id] = t
		}
	}
}

func (s *memStore) record(id string) domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications[id]
}

func (s *memStore) task(id string) domain.RetryTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

func (s *memStore) activeTasks(notificationID string) []domain.RetryTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.RetryTask
	for _, t := range s.tasks {
		if t.NotificationID == notificationID && t.Status.IsActive() {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

type fakeUser struct {
	quietHours domain.QuietHours
	timezone   string
	preferred  domain.Channel
	addresses  map[domain.Channel]string
}

type fakeUserDirectory struct {
	mu    sync.Mutex
	users map[string]fakeUser
}

func newFakeUserDirectory() *fakeUserDirectory {
	return &fakeUserDirectory{users: make(map[string]fakeUser)}
}

func (f *fakeUserDirectory) put(id string, u fakeUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = u
}

func (f *fakeUserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[userID]
	return ok, nil
}

func (f *fakeUserDirectory) GetQuietHours(ctx context.Context, userID string) (domain.QuietHours, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return domain.QuietHours{}, "", domain.ErrNotFound
	}
	return u.quietHours, u.timezone, nil
}

func (f *fakeUserDirectory) ResolveRecipient(ctx context.Context, userID string, channel domain.Channel) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	address := u.addresses[channel]
	if address == "" {
		return "", fmt.Errorf("%w: no %s address", domain.ErrValidation, channel)
	}
	return address, nil
}

func (f *fakeUserDirectory) PreferredChannel(ctx context.Context, userID string) (domain.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return u.preferred, nil
}

type fakeSender struct {
	mu     sync.Mutex
	calls  int
	sendFn func(ctx context.Context, channel domain.Channel, recipient string, message string) (*provider.Receipt, error)
}

func (f *fakeSender) Send(ctx context.Context, channel domain.Channel, recipient string, message string) (*provider.Receipt, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, channel, recipient, message)
	}
	return &provider.Receipt{StatusCode: 200, MessageID: "msg-1"}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failingSender fails with a transient error on the first failures calls.
func failingSender(failures int) *fakeSender {
	sender := &fakeSender{}
	count := 0
	var mu sync.Mutex
	sender.sendFn = func(ctx context.Context, channel domain.Channel, recipient string, message string) (*provider.Receipt, error) {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count <= failures {
			return nil, &provider.ProviderError{StatusCode: 503, Message: "unavailable", Transient: true}
		}
		return &provider.Receipt{StatusCode: 200, MessageID: fmt.Sprintf("msg-%d", count)}, nil
	}
	return sender
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel string) (bool, error)
	waitFn  func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, msg queue.EventMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.EventMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

// testClock is a settable clock shared by the engine and the scheduler.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
