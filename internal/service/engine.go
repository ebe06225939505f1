package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/dnd"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/provider"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts      = 3
	defaultRetryBaseDelay   = time.Minute
	defaultRetryMaxDelay    = 30 * time.Minute
	defaultTransportTimeout = 10 * time.Second
	defaultClaimLease       = 5 * time.Minute
	maxConflictRetries      = 3
	staleSendingBatch       = 100
)

// OutcomeKind classifies the result of one dispatch attempt.
type OutcomeKind string

const (
	OutcomeSent             OutcomeKind = "SENT"
	OutcomeSuppressed       OutcomeKind = "POLICY_SUPPRESSED"
	OutcomeTransportFailure OutcomeKind = "TRANSPORT_FAILURE"
	OutcomeRetryExhausted   OutcomeKind = "RETRY_EXHAUSTED"
	OutcomeCancelled        OutcomeKind = "CANCELLED"
	// OutcomeSkipped means a retry found nothing to do and closed its task.
	OutcomeSkipped OutcomeKind = "SKIPPED"
)

// DispatchOutcome is what Send and Retry report back for a record.
type DispatchOutcome struct {
	RecordID      string
	Channel       domain.Channel
	Status        domain.Status
	Kind          OutcomeKind
	AttemptsMade  int
	NextAttemptAt *time.Time
	LastError     *string
}

// Err maps policy and delivery outcomes to their sentinel errors. It returns
// nil for SENT and for outcomes that need no caller action.
func (o *DispatchOutcome) Err() error {
	if o == nil {
		return nil
	}
	switch o.Kind {
	case OutcomeSuppressed:
		return domain.ErrPolicySuppressed
	case OutcomeTransportFailure:
		return domain.ErrTransportFailure
	case OutcomeRetryExhausted:
		return domain.ErrRetryExhausted
	}
	return nil
}

type EngineConfig struct {
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	TransportTimeout time.Duration
	// ClaimLease is how long a record may sit in SENDING before a retry treats
	// the claim as abandoned.
	ClaimLease time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = max(defaultRetryMaxDelay, c.RetryBaseDelay)
	}
	if c.TransportTimeout <= 0 {
		c.TransportTimeout = defaultTransportTimeout
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = defaultClaimLease
	}
	return c
}

// Engine decides whether a notification may go out now, calls the channel
// sender and records the outcome together with any retry task.
type Engine struct {
	notifications repository.NotificationRepository
	tasks         repository.RetryTaskRepository
	attempts      repository.AttemptRepository
	users         repository.UserDirectory
	quietHours    *dnd.Evaluator
	sender        provider.ChannelSender
	rateLimiter   ratelimit.RateLimiter
	metrics       *observability.Metrics
	logger        *zap.Logger
	cfg           EngineConfig
	now           func() time.Time
	newID         func() string
}

func NewEngine(
	notifications repository.NotificationRepository,
	tasks repository.RetryTaskRepository,
	attempts repository.AttemptRepository,
	users repository.UserDirectory,
	quietHours *dnd.Evaluator,
	sender provider.ChannelSender,
	rateLimiter ratelimit.RateLimiter,
	cfg EngineConfig,
	logger *zap.Logger,
) (*Engine, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("retry task repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("channel sender is required")
	}
	if quietHours == nil {
		quietHours = dnd.NewEvaluator(time.UTC)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		notifications: notifications,
		tasks:         tasks,
		attempts:      attempts,
		users:         users,
		quietHours:    quietHours,
		sender:        sender,
		rateLimiter:   rateLimiter,
		logger:        logger,
		cfg:           cfg.withDefaults(),
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Send validates the request, creates a QUEUED record and makes the first
// delivery attempt. Validation failures return ErrValidation and create nothing.
func (e *Engine) Send(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	recipient, err := e.validateRequest(ctx, &req)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	record := &domain.Notification{
		ID:          e.newID(),
		UserID:      req.UserID,
		RuleID:      req.RuleID,
		EventID:     req.EventID,
		Channel:     req.Channel,
		Priority:    req.Priority,
		Recipient:   recipient,
		Message:     req.Message,
		Status:      domain.StatusQueued,
		MaxAttempts: e.cfg.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := e.notifications.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create notification record: %w", err)
	}

	e.logger.Info("notification record created",
		observability.DispatchFields(record.ID, record.UserID, record.Channel.String())...,
	)

	return e.attempt(ctx, record.ID, nil)
}

// Retry re-enters the attempt path for a claimed task, including a fresh
// quiet-hours check. A task whose record no longer awaits a retry is closed
// without a transport call.
func (e *Engine) Retry(ctx context.Context, task domain.RetryTask) (*DispatchOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if task.Status != domain.RetryStatusInFlight {
		return nil, fmt.Errorf("%w: retry task %s is %s, want %s",
			domain.ErrValidation, task.ID, task.Status, domain.RetryStatusInFlight)
	}

	return e.attempt(ctx, task.NotificationID, &task)
}

// RecoverStaleSending settles records left in SENDING past the claim lease
// with no active retry task, which happens when the process dies or the
// attempt commit fails after the transport call. The transport outcome is
// unknown, so each record goes back to the retry path, or to EXHAUSTED when
// its budget is spent. It returns the number of records moved.
func (e *Engine) RecoverStaleSending(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := e.now().UTC()
	stale, err := e.notifications.ListStaleSending(ctx, now.Add(-e.cfg.ClaimLease), staleSendingBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sending records: %w", err)
	}

	recovered := 0
	for i := range stale {
		record := &stale[i]
		claimedAt := record.UpdatedAt
		channel := ratelimit.NormalizeChannel(record.Channel.String())
		message := "delivery outcome unknown: sending claim expired"
		record.LastError = &message

		commit := repository.AttemptCommit{
			Notification:   record,
			ExpectedStatus: domain.StatusSending,
			Now:            now,
		}
		if record.AttemptsMade >= record.MaxAttempts {
			record.Status = domain.StatusExhausted
			commit.RetryAction = repository.RetryActionExhaust
		} else {
			record.Status = domain.StatusFailed
			commit.RetryAction = repository.RetryActionSchedule
			commit.TaskID = e.newID()
			commit.NextAttemptAt = now
			commit.RetriesLeft = record.MaxAttempts - record.AttemptsMade
		}

		committed, err := e.notifications.CommitAttempt(ctx, commit)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to recover notification %s: %w", record.ID, err)
		}
		if committed.Status == domain.StatusCancelled {
			continue
		}

		recovered++
		if committed.Status == domain.StatusExhausted {
			e.metrics.IncRetryExhausted(channel)
		} else {
			e.metrics.IncRetryScheduled(channel)
		}
		e.logger.Warn("recovered stale sending claim",
			append(observability.DispatchFields(record.ID, record.UserID, channel),
				zap.Time("claimedAt", claimedAt),
				zap.String("status", committed.Status.String()))...)
	}

	e.metrics.AddStaleSendingRecovered(recovered)
	return recovered, nil
}

func (e *Engine) validateRequest(ctx context.Context, req *domain.SendRequest) (string, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	if req.Channel == "" {
		channel, err := e.preferredChannel(ctx, req.UserID)
		if err != nil {
			return "", err
		}
		req.Channel = channel
	}
	if err := domain.ValidateContent(req.Channel, req.Priority, req.Message); err != nil {
		return "", err
	}

	exists, err := e.users.Exists(ctx, req.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: unknown user %s", domain.ErrValidation, req.UserID)
	}

	qh, timezone, err := e.users.GetQuietHours(ctx, req.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load quiet hours: %w", err)
	}
	if err := e.quietHours.Validate(qh, timezone); err != nil {
		return "", err
	}

	recipient, err := e.users.ResolveRecipient(ctx, req.UserID, req.Channel)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown user %s", domain.ErrValidation, req.UserID)
	}
	if err != nil {
		return "", err
	}
	return recipient, nil
}

// preferredChannel fills in the channel of a request that names none.
func (e *Engine) preferredChannel(ctx context.Context, userID string) (domain.Channel, error) {
	channel, err := e.users.PreferredChannel(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown user %s", domain.ErrValidation, userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up preferred channel: %w", err)
	}
	if channel == "" {
		return "", fmt.Errorf("%w: channel is required and user %s has no preferred channel", domain.ErrValidation, userID)
	}
	return channel, nil
}

// claim is a record moved to SENDING together with the status it left.
type claim struct {
	record   *domain.Notification
	previous domain.Status
}

func (e *Engine) attempt(ctx context.Context, id string, task *domain.RetryTask) (*DispatchOutcome, error) {
	var (
		claimed *claim
		outcome *DispatchOutcome
		err     error
	)
	for range maxConflictRetries {
		claimed, outcome, err = e.claim(ctx, id, task)
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			e.logger.Error("giving up on notification after repeated conflicts",
				append(observability.DispatchFields(id, "", ""), zap.Error(err))...)
		}
		return nil, err
	}
	if outcome != nil {
		e.recordOutcome(outcome)
		return outcome, nil
	}

	outcome, err = e.deliver(ctx, claimed)
	if err != nil {
		return nil, err
	}
	e.recordOutcome(outcome)
	return outcome, nil
}

// claim reads the record fresh, applies quiet hours and moves it to SENDING.
// A non-nil outcome means the attempt finished without a transport call.
func (e *Engine) claim(ctx context.Context, id string, task *domain.RetryTask) (*claim, *DispatchOutcome, error) {
	record, err := e.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	now := e.now().UTC()
	if task != nil {
		if outcome, err := e.checkRetryable(ctx, record, task, now); outcome != nil || err != nil {
			return nil, outcome, err
		}
	} else if record.Status != domain.StatusQueued {
		return nil, nil, fmt.Errorf("%w: notification %s is %s", domain.ErrConflict, record.ID, record.Status)
	}

	suppressed, err := e.isSuppressed(ctx, record, now)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrNotFound) {
			return nil, nil, err
		}
		outcome, cancelErr := e.cancelInvalid(ctx, record, task, now, err)
		return nil, outcome, cancelErr
	}

	if suppressed {
		previous := record.Status
		record.Status = domain.StatusSuppressed
		committed, err := e.notifications.CommitAttempt(ctx, repository.AttemptCommit{
			Notification:   record,
			ExpectedStatus: previous,
			RetryAction:    repository.RetryActionComplete,
			Now:            now,
		})
		if err != nil {
			return nil, nil, err
		}
		return nil, commitOutcome(committed, OutcomeSuppressed), nil
	}

	previous := record.Status
	record.Status = domain.StatusSending
	record.UpdatedAt = now
	if err := e.notifications.UpdateIf(ctx, record, previous); err != nil {
		return nil, nil, err
	}
	return &claim{record: record, previous: previous}, nil, nil
}

// checkRetryable closes the task when its record no longer awaits a retry.
func (e *Engine) checkRetryable(ctx context.Context, record *domain.Notification, task *domain.RetryTask, now time.Time) (*DispatchOutcome, error) {
	switch record.Status {
	case domain.StatusFailed:
	case domain.StatusSending:
		if now.Sub(record.UpdatedAt) < e.cfg.ClaimLease {
			return nil, fmt.Errorf("%w: notification %s is being sent", domain.ErrConflict, record.ID)
		}
		e.logger.Warn("taking over abandoned sending claim",
			append(observability.DispatchFields(record.ID, record.UserID, record.Channel.String()),
				zap.Time("claimedAt", record.UpdatedAt))...)
	case domain.StatusSent, domain.StatusSuppressed:
		return e.closeTask(ctx, record, task, domain.RetryStatusCompleted, now)
	case domain.StatusExhausted:
		return e.closeTask(ctx, record, task, domain.RetryStatusExhausted, now)
	case domain.StatusCancelled:
		return e.closeTask(ctx, record, task, domain.RetryStatusCancelled, now)
	default:
		return nil, fmt.Errorf("%w: notification %s is %s", domain.ErrConflict, record.ID, record.Status)
	}

	if record.AttemptsMade >= record.MaxAttempts {
		previous := record.Status
		record.Status = domain.StatusExhausted
		committed, err := e.notifications.CommitAttempt(ctx, repository.AttemptCommit{
			Notification:   record,
			ExpectedStatus: previous,
			RetryAction:    repository.RetryActionExhaust,
			Now:            now,
		})
		if err != nil {
			return nil, err
		}
		return commitOutcome(committed, OutcomeRetryExhausted), nil
	}
	return nil, nil
}

func (e *Engine) closeTask(ctx context.Context, record *domain.Notification, task *domain.RetryTask, status domain.RetryStatus, now time.Time) (*DispatchOutcome, error) {
	if err := e.tasks.Close(ctx, task.ID, status, now); err != nil && !errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("failed to close retry task: %w", err)
	}
	e.logger.Info("retry task closed without delivery",
		append(observability.DispatchFields(record.ID, record.UserID, record.Channel.String()),
			zap.String("taskId", task.ID),
			zap.String("recordStatus", record.Status.String()),
			zap.String("taskStatus", status.String()))...)
	return outcomeFor(record, OutcomeSkipped), nil
}

func (e *Engine) isSuppressed(ctx context.Context, record *domain.Notification, now time.Time) (bool, error) {
	qh, timezone, err := e.users.GetQuietHours(ctx, record.UserID)
	if err != nil {
		return false, err
	}
	return e.quietHours.Suppressed(now, qh, timezone)
}

// cancelInvalid cancels a record whose quiet hours or user can no longer be
// resolved. The boundary validated both at creation, so this only happens
// when the user changed since.
func (e *Engine) cancelInvalid(ctx context.Context, record *domain.Notification, task *domain.RetryTask, now time.Time, cause error) (*DispatchOutcome, error) {
	e.logger.Error("cancelling notification with unresolvable recipient policy",
		append(observability.DispatchFields(record.ID, record.UserID, record.Channel.String()), zap.Error(cause))...)

	previous := record.Status
	message := cause.Error()
	record.Status = domain.StatusCancelled
	record.LastError = &message
	committed, err := e.notifications.CommitAttempt(ctx, repository.AttemptCommit{
		Notification:   record,
		ExpectedStatus: previous,
		RetryAction:    repository.RetryActionCancel,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	return commitOutcome(committed, OutcomeCancelled), nil
}

func (e *Engine) deliver(ctx context.Context, c *claim) (*DispatchOutcome, error) {
	record := c.record
	channel := ratelimit.NormalizeChannel(record.Channel.String())
	fields := observability.DispatchFields(record.ID, record.UserID, channel)

	e.metrics.IncDispatchInFlight(channel)
	defer e.metrics.DecDispatchInFlight(channel)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx, channel); err != nil {
			return e.deferAttempt(ctx, c, channel, fmt.Errorf("rate limiter wait failed: %w", err))
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.TransportTimeout)
	start := e.now()
	receipt, sendErr := e.sender.Send(sendCtx, record.Channel, record.Recipient, record.Message)
	cancel()
	e.metrics.ObserveTransportDuration(channel, e.now().Sub(start))

	now := e.now().UTC()
	record.AttemptsMade++
	attempt := &domain.NotificationAttempt{
		ID:             e.newID(),
		NotificationID: record.ID,
		AttemptNumber:  record.AttemptsMade,
		CreatedAt:      now,
	}
	commit := repository.AttemptCommit{
		Notification:   record,
		ExpectedStatus: domain.StatusSending,
		Attempt:        attempt,
		Now:            now,
	}

	kind := OutcomeSent
	if sendErr == nil {
		record.Status = domain.StatusSent
		record.LastError = nil
		if receipt != nil && strings.TrimSpace(receipt.MessageID) != "" {
			messageID := receipt.MessageID
			attempt.ProviderMessageID = &messageID
		}
		commit.RetryAction = repository.RetryActionComplete
	} else {
		message := sendErr.Error()
		record.LastError = &message
		attempt.Error = &message
		e.metrics.IncTransportFailure(channel, provider.FailureKind(sendErr))

		if !provider.IsTransient(sendErr) || record.AttemptsMade >= record.MaxAttempts {
			kind = OutcomeRetryExhausted
			record.Status = domain.StatusExhausted
			commit.RetryAction = repository.RetryActionExhaust
		} else {
			kind = OutcomeTransportFailure
			record.Status = domain.StatusFailed
			commit.RetryAction = repository.RetryActionSchedule
			commit.TaskID = e.newID()
			commit.NextAttemptAt = now.Add(e.backoff(record.AttemptsMade))
			commit.RetriesLeft = record.MaxAttempts - record.AttemptsMade
		}
	}

	committed, err := e.notifications.CommitAttempt(ctx, commit)
	if err != nil {
		e.logger.Error("failed to commit delivery attempt",
			append(fields, zap.Int("attempt", attempt.AttemptNumber), zap.NamedError("sendError", sendErr), zap.Error(err))...)
		return nil, fmt.Errorf("failed to commit attempt: %w", err)
	}

	switch {
	case committed.Status == domain.StatusCancelled:
		kind = OutcomeCancelled
		e.logger.Info("notification cancelled during delivery", fields...)
	case kind == OutcomeTransportFailure:
		e.metrics.IncRetryScheduled(channel)
		e.logger.Warn("delivery failed, retry scheduled",
			append(fields,
				zap.Int("attempt", committed.AttemptsMade),
				zap.Time("nextAttemptAt", commit.NextAttemptAt),
				zap.Error(sendErr))...)
	case kind == OutcomeRetryExhausted:
		e.metrics.IncRetryExhausted(channel)
		e.logger.Warn("delivery failed, retries exhausted",
			append(fields,
				zap.Int("attempt", committed.AttemptsMade),
				zap.Bool("permanent", !provider.IsTransient(sendErr)),
				zap.Error(sendErr))...)
	default:
		e.logger.Info("notification sent", append(fields, zap.Int("attempt", committed.AttemptsMade))...)
	}

	outcome := outcomeFor(committed, kind)
	if kind == OutcomeTransportFailure {
		next := commit.NextAttemptAt
		outcome.NextAttemptAt = &next
	}
	return outcome, nil
}

// deferAttempt parks a claimed record as FAILED with a retry task when the
// transport was never called. The attempt count is left unchanged.
func (e *Engine) deferAttempt(ctx context.Context, c *claim, channel string, cause error) (*DispatchOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	record := c.record
	fields := observability.DispatchFields(record.ID, record.UserID, channel)

	now := e.now().UTC()
	message := cause.Error()
	record.Status = domain.StatusFailed
	record.LastError = &message
	next := now.Add(e.backoff(record.AttemptsMade))

	committed, err := e.notifications.CommitAttempt(ctx, repository.AttemptCommit{
		Notification:   record,
		ExpectedStatus: domain.StatusSending,
		RetryAction:    repository.RetryActionSchedule,
		TaskID:         e.newID(),
		NextAttemptAt:  next,
		RetriesLeft:    record.MaxAttempts - record.AttemptsMade,
		Now:            now,
	})
	if err != nil {
		e.logger.Error("failed to defer delivery attempt",
			append(fields, zap.NamedError("cause", cause), zap.Error(err))...)
		return nil, fmt.Errorf("failed to defer attempt: %w", err)
	}
	if committed.Status == domain.StatusCancelled {
		e.logger.Info("notification cancelled before delivery", fields...)
		return outcomeFor(committed, OutcomeCancelled), nil
	}

	e.metrics.IncRetryScheduled(channel)
	e.logger.Warn("delivery deferred, retry scheduled",
		append(fields,
			zap.String("claimedFrom", c.previous.String()),
			zap.Time("nextAttemptAt", next),
			zap.Error(cause))...)

	outcome := outcomeFor(committed, OutcomeTransportFailure)
	outcome.NextAttemptAt = &next
	return outcome, nil
}

func (e *Engine) recordOutcome(outcome *DispatchOutcome) {
	e.metrics.IncDispatchOutcome(outcome.Channel.String(), string(outcome.Kind))
}

// backoff returns base * 2^(n-1) capped at the configured maximum.
func (e *Engine) backoff(attemptsMade int) time.Duration {
	return ComputeBackoff(e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay, attemptsMade)
}

// ComputeBackoff returns base * 2^(n-1), capped at limit. n below 1 counts as 1.
func ComputeBackoff(base time.Duration, limit time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := base
	for i := 1; i < n; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	return min(delay, limit)
}

// commitOutcome reports a cancellation that won the race against the commit.
func commitOutcome(committed *domain.Notification, kind OutcomeKind) *DispatchOutcome {
	if committed.Status == domain.StatusCancelled {
		kind = OutcomeCancelled
	}
	return outcomeFor(committed, kind)
}

func outcomeFor(record *domain.Notification, kind OutcomeKind) *DispatchOutcome {
	return &DispatchOutcome{
		RecordID:     record.ID,
		Channel:      record.Channel,
		Status:       record.Status,
		Kind:         kind,
		AttemptsMade: record.AttemptsMade,
		LastError:    record.LastError,
	}
}
