// Package retry runs store writes with exponential backoff and keeps the dead-letter queue
// for operations that exhausted their attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	"github.com/garyjia/hr-orchestrator/internal/observability"
)

// ErrExhausted is returned by RunWithRetry once the operation was dead-lettered
var ErrExhausted = errors.New("retries exhausted")

// Policy controls backoff and abandonment
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// AbandonAfter is the attempt count at which a failed replay abandons the item
	AbandonAfter int
}

// DefaultPolicy returns three attempts starting at 200ms
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		AbandonAfter:    5,
	}
}

// Operation describes a write for logging and for the dead-letter record
type Operation struct {
	Type    string
	Payload map[string]interface{}
	Context map[string]interface{}
}

// Replayer re-executes a dead-lettered operation from its payload
type Replayer func(ctx context.Context, payload map[string]interface{}) error

// ReplayReport summarizes one ReplayPending pass
type ReplayReport struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// RecoveryReport summarizes the backlog reloaded at startup
type RecoveryReport struct {
	Requeued int `json:"requeued"`
	Pending  int `json:"pending"`
}

// Queue is the retry pipeline and dead-letter queue
type Queue struct {
	repo    port.DeadLetterRepository
	logger  *zap.Logger
	policy  Policy
	metrics *observability.Metrics
	now     func() time.Time

	claimMu   sync.Mutex
	mu        sync.RWMutex
	replayers map[string]Replayer
}

// Option configures a Queue
type Option func(*Queue)

// WithPolicy overrides the default policy
func WithPolicy(p Policy) Option {
	return func(q *Queue) {
		q.policy = p
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithMetrics records attempts and dead letters
func WithMetrics(m *observability.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// NewQueue creates a new queue
func NewQueue(repo port.DeadLetterRepository, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		repo:      repo,
		logger:    logger,
		policy:    DefaultPolicy(),
		now:       time.Now,
		replayers: make(map[string]Replayer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Policy returns the active policy
func (q *Queue) Policy() Policy {
	return q.policy
}

// RegisterReplayer binds a replayer to an operation type
func (q *Queue) RegisterReplayer(operationType string, r Replayer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replayers[operationType] = r
}

func (q *Queue) replayer(operationType string) (Replayer, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	r, ok := q.replayers[operationType]
	return r, ok
}

func (q *Queue) newBackOff(ctx context.Context) backoff.BackOff {
	if q.policy.MaxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = q.policy.InitialInterval
	exp.MaxInterval = q.policy.MaxInterval
	exp.Multiplier = q.policy.Multiplier
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(q.policy.MaxAttempts-1)), ctx)
}

// RunWithRetry calls fn until it succeeds or the policy is exhausted.
// Non-retryable errors are returned at once and never dead-lettered.
// On exhaustion the operation is persisted as a Pending dead-letter item and
// the returned error wraps both ErrExhausted and the last failure.
func (q *Queue) RunWithRetry(ctx context.Context, op Operation, fn func(ctx context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "retry.run", observability.AttrOperation.String(op.Type))

	attempts := 0
	var lastErr error
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !failure.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, q.newBackOff(ctx), func(err error, next time.Duration) {
		q.logger.Warn("Operation failed, retrying",
			zap.String("operation", op.Type),
			zap.Int("attempt", attempts),
			zap.Duration("next", next),
			zap.Error(err))
	})
	q.metrics.RecordRetryAttempts(op.Type, attempts)

	if err == nil {
		observability.EndSpan(span, nil)
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	if !failure.IsRetryable(lastErr) {
		observability.EndSpan(span, lastErr)
		return lastErr
	}

	stop := stopInfo(ctx, attempts, q.policy.MaxAttempts)
	item, dlErr := q.deadLetter(context.WithoutCancel(ctx), op, lastErr, attempts, stop)
	if dlErr != nil {
		q.logger.Error("Failed to persist dead letter",
			zap.String("operation", op.Type),
			zap.Error(dlErr))
		err = fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, op.Type, attempts, errors.Join(lastErr, dlErr))
		observability.EndSpan(span, err)
		return err
	}

	q.logger.Error("Operation dead-lettered",
		zap.String("operation", op.Type),
		zap.Int64("dead_letter_id", item.ID),
		zap.String("correlation_tag", item.CorrelationTag),
		zap.Int("attempts", attempts),
		zap.Any("stop", stop),
		zap.Error(lastErr))
	err = fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, op.Type, attempts, lastErr)
	observability.EndSpan(span, err)
	return err
}

// Dead-letter context keys describing why retrying stopped
const (
	ContextStopReason  = "stop_reason"
	ContextCancelCause = "cancel_cause"

	StopExhausted = "exhausted"
	StopCancelled = "cancelled"
)

// stopInfo tells a caller cancellation apart from a spent attempt budget
func stopInfo(ctx context.Context, attempts, maxAttempts int) map[string]interface{} {
	if ctx.Err() == nil || attempts >= maxAttempts {
		return map[string]interface{}{ContextStopReason: StopExhausted}
	}
	return map[string]interface{}{
		ContextStopReason:  StopCancelled,
		ContextCancelCause: context.Cause(ctx).Error(),
	}
}

func (q *Queue) deadLetter(ctx context.Context, op Operation, cause error, attempts int, stop map[string]interface{}) (*entity.DeadLetterItem, error) {
	itemContext := make(map[string]interface{}, len(op.Context)+len(stop))
	for k, v := range op.Context {
		itemContext[k] = v
	}
	for k, v := range stop {
		itemContext[k] = v
	}

	now := q.now().UTC()
	item := &entity.DeadLetterItem{
		OperationType:  op.Type,
		Payload:        op.Payload,
		Error:          cause.Error(),
		Attempts:       attempts,
		CorrelationTag: uuid.NewString(),
		Context:        itemContext,
		Status:         entity.DeadLetterStatusPending,
		CreatedAt:      now,
		LastAttemptAt:  now,
	}
	if item.Payload == nil {
		item.Payload = map[string]interface{}{}
	}
	if err := q.repo.Create(ctx, item); err != nil {
		return nil, err
	}
	q.metrics.RecordDeadLetter(op.Type)
	return item, nil
}

// Get returns one item
func (q *Queue) Get(ctx context.Context, id int64) (*entity.DeadLetterItem, error) {
	return q.repo.GetByID(ctx, id)
}

// List returns items in a status, or every item when status is empty
func (q *Queue) List(ctx context.Context, status entity.DeadLetterStatus, limit int) ([]*entity.DeadLetterItem, error) {
	if status != "" {
		return q.repo.ListByStatus(ctx, status, limit)
	}

	var all []*entity.DeadLetterItem
	for _, s := range []entity.DeadLetterStatus{
		entity.DeadLetterStatusPending,
		entity.DeadLetterStatusProcessing,
		entity.DeadLetterStatusResolved,
		entity.DeadLetterStatusAbandoned,
	} {
		items, err := q.repo.ListByStatus(ctx, s, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Claim moves a Pending item to Processing
func (q *Queue) Claim(ctx context.Context, id int64) (*entity.DeadLetterItem, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	item, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != entity.DeadLetterStatusPending {
		return nil, fmt.Errorf("%w: dead letter #%d is %s", failure.ErrConflict, id, item.Status)
	}
	item.Status = entity.DeadLetterStatusProcessing
	if err := q.repo.Update(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Resolve marks an item as handled
func (q *Queue) Resolve(ctx context.Context, id int64, actor string) (*entity.DeadLetterItem, error) {
	return q.close(ctx, id, entity.DeadLetterStatusResolved, actor)
}

// Abandon gives up on an item
func (q *Queue) Abandon(ctx context.Context, id int64, actor string) (*entity.DeadLetterItem, error) {
	return q.close(ctx, id, entity.DeadLetterStatusAbandoned, actor)
}

func (q *Queue) close(ctx context.Context, id int64, status entity.DeadLetterStatus, actor string) (*entity.DeadLetterItem, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	item, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: dead letter #%d is already %s", failure.ErrConflict, id, item.Status)
	}
	now := q.now().UTC()
	item.Status = status
	item.ResolvedAt = &now
	item.ResolvedBy = actor
	if err := q.repo.Update(ctx, item); err != nil {
		return nil, err
	}
	q.logger.Info("Dead letter closed",
		zap.Int64("dead_letter_id", id),
		zap.String("status", string(status)),
		zap.String("actor", actor))
	return item, nil
}

// Retry claims an item and replays it once through its registered replayer.
// A failed replay returns the item to Pending, or abandons it once AbandonAfter
// attempts were made or the failure is permanent.
func (q *Queue) Retry(ctx context.Context, id int64, actor string) (*entity.DeadLetterItem, error) {
	item, err := q.Claim(ctx, id)
	if err != nil {
		return nil, err
	}

	replay, ok := q.replayer(item.OperationType)
	if !ok {
		item.Status = entity.DeadLetterStatusPending
		if uerr := q.repo.Update(ctx, item); uerr != nil {
			return nil, uerr
		}
		return item, failure.Validationf("no replayer registered for %q", item.OperationType)
	}

	replayErr := replay(ctx, item.Payload)
	now := q.now().UTC()
	item.Attempts++
	item.LastAttemptAt = now

	if replayErr == nil {
		item.Status = entity.DeadLetterStatusResolved
		item.ResolvedAt = &now
		item.ResolvedBy = actor
		q.metrics.RecordReplay(item.OperationType, "resolved")
	} else {
		item.Error = replayErr.Error()
		item.Status = entity.DeadLetterStatusPending
		if !failure.IsRetryable(replayErr) || (q.policy.AbandonAfter > 0 && item.Attempts >= q.policy.AbandonAfter) {
			item.Status = entity.DeadLetterStatusAbandoned
			item.ResolvedAt = &now
			item.ResolvedBy = actor
		}
		q.metrics.RecordReplay(item.OperationType, "failed")
	}

	if err := q.repo.Update(context.WithoutCancel(ctx), item); err != nil {
		return nil, err
	}

	if replayErr != nil {
		q.logger.Warn("Dead letter replay failed",
			zap.Int64("dead_letter_id", id),
			zap.Int("attempts", item.Attempts),
			zap.String("status", string(item.Status)),
			zap.Error(replayErr))
		return item, fmt.Errorf("replay of dead letter #%d failed: %w", id, replayErr)
	}
	q.logger.Info("Dead letter replayed", zap.Int64("dead_letter_id", id), zap.String("actor", actor))
	return item, nil
}

// ReplayPending retries up to limit Pending items that have a replayer
func (q *Queue) ReplayPending(ctx context.Context, limit int) (ReplayReport, error) {
	var report ReplayReport
	items, err := q.repo.ListByStatus(ctx, entity.DeadLetterStatusPending, limit)
	if err != nil {
		return report, err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, ok := q.replayer(item.OperationType); !ok {
			report.Skipped++
			continue
		}
		if _, err := q.Retry(ctx, item.ID, "replay"); err != nil {
			if errors.Is(err, failure.ErrConflict) {
				report.Skipped++
				continue
			}
			report.Failed++
			continue
		}
		report.Resolved++
	}
	return report, nil
}

// Recover returns items left in Processing by a crash to Pending
func (q *Queue) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	stuck, err := q.repo.ListByStatus(ctx, entity.DeadLetterStatusProcessing, 0)
	if err != nil {
		return report, err
	}
	for _, item := range stuck {
		item.Status = entity.DeadLetterStatusPending
		if err := q.repo.Update(ctx, item); err != nil {
			return report, err
		}
		report.Requeued++
	}

	pending, err := q.repo.ListByStatus(ctx, entity.DeadLetterStatusPending, 0)
	if err != nil {
		return report, err
	}
	report.Pending = len(pending)

	q.logger.Info("Dead-letter queue recovered",
		zap.Int("requeued", report.Requeued),
		zap.Int("pending", report.Pending))
	return report, nil
}
