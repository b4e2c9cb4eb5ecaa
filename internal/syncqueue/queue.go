// Package syncqueue makes state-changing operations resilient to
// connectivity loss.
//
// Operations attempted while offline are buffered in memory, mirrored to a
// local durable store, and replayed serially against the remote store when
// connectivity returns. Operations that keep failing past the retry cap stay
// queued and are surfaced as stuck, never silently discarded.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/VisitPipe/internal/models"
)

// Default queue tuning constants.
const (
	// DefaultMaxRetries bounds how many times an operation is retried before
	// it is reported as stuck.
	DefaultMaxRetries = 5
	// DefaultDrainDelay is the fixed pause between consecutive sync attempts
	// within one drain pass, to avoid overwhelming the backend.
	DefaultDrainDelay = 500 * time.Millisecond
	// DefaultPollInterval is the periodic safety-net drain while online.
	DefaultPollInterval = 30 * time.Second
	// DefaultApplyTimeout bounds a single sync attempt.
	DefaultApplyTimeout = 15 * time.Second
)

// ErrApplyTimeout is recorded when a sync attempt exceeds the apply timeout.
var ErrApplyTimeout = errors.New("sync attempt timed out")

// Applier performs the remote side of a queued operation.
type Applier interface {
	// Apply executes the operation against the remote store. A nil return
	// acknowledges the operation; it is then removed from the queue.
	Apply(ctx context.Context, op models.QueuedOperation) error
}

// RetryClassifier is an optional interface an Applier may implement to
// distinguish permanent failures from transient ones. Operations failing
// with a non-retryable error skip straight to stuck instead of burning
// retries on a payload that can never succeed.
type RetryClassifier interface {
	IsRetryable(err error) bool
}

// Config holds queue tuning parameters.
type Config struct {
	MaxRetries   int
	DrainDelay   time.Duration
	PollInterval time.Duration
	ApplyTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DrainDelay <= 0 {
		c.DrainDelay = DefaultDrainDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = DefaultApplyTimeout
	}
}

// Queue buffers state-changing operations and replays them in insertion
// order. All mutation goes through the mutex; the local mirror is updated
// per record, keyed by operation ID.
type Queue struct {
	mu sync.Mutex

	cfg     Config
	local   LocalStore
	applier Applier

	ops      []models.QueuedOperation
	seq      uint64
	online   bool
	draining bool

	onProgress func(models.SyncProgress)
}

// NewQueue creates a queue and rehydrates any operations persisted by a
// previous process before returning. No draining happens until the queue is
// marked online or Run is started.
func NewQueue(local LocalStore, applier Applier, cfg Config) (*Queue, error) {
	cfg.applyDefaults()

	q := &Queue{
		cfg:     cfg,
		local:   local,
		applier: applier,
	}

	ops, err := local.GetAll()
	if err != nil {
		return nil, err
	}
	q.ops = ops
	for _, op := range ops {
		if op.Seq > q.seq {
			q.seq = op.Seq
		}
	}
	if len(ops) > 0 {
		slog.Info("Queue rehydrated pending operations", "count", len(ops))
	}
	return q, nil
}

// OnProgress registers a callback reporting drain progress for UI display.
func (q *Queue) OnProgress(fn func(models.SyncProgress)) {
	q.mu.Lock()
	q.onProgress = fn
	q.mu.Unlock()
}

// Add appends an operation to the queue and mirrors it to the local durable
// store. When online, an immediate drain is attempted. The operation ID is
// returned.
func (q *Queue) Add(ctx context.Context, kind models.OperationKind, payloadJSON string) (string, error) {
	if !models.IsValidOperationKind(kind) {
		return "", models.ErrUnknownOperationKind
	}

	q.mu.Lock()
	q.seq++
	op := models.QueuedOperation{
		ID:          uuid.NewString(),
		Seq:         q.seq,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		CreatedAt:   time.Now(),
	}
	q.ops = append(q.ops, op)
	online := q.online
	q.mu.Unlock()

	if err := q.local.Put(op); err != nil {
		// The in-memory copy still holds the operation; a restart before the
		// next successful mirror write would lose it, so surface the error.
		slog.Error("Queue Add: local mirror write failed", "error", err, "id", op.ID)
		return op.ID, err
	}

	slog.Debug("Queue Add", "id", op.ID, "kind", kind, "online", online)
	if online {
		// The drain outlives the caller's request.
		go q.Drain(context.WithoutCancel(ctx))
	}
	return op.ID, nil
}

// SetOnline records a connectivity transition. Going online triggers an
// immediate drain attempt.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	changed := q.online != online
	q.online = online
	q.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("Queue connectivity changed", "online", online)
	if online {
		go q.Drain(context.WithoutCancel(ctx))
	}
}

// Online reports the current connectivity state.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Status summarizes queue state for UI display.
func (q *Queue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	stuck := 0
	for _, op := range q.ops {
		if op.Retries >= q.cfg.MaxRetries {
			stuck++
		}
	}
	return models.QueueStatus{
		Online:  q.online,
		Pending: len(q.ops),
		Stuck:   stuck,
	}
}

// Pending returns a copy of the queued operations in insertion order.
func (q *Queue) Pending() []models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// ManualSync is the user-initiated drain, identical to the automatic one but
// also retrying operations already reported stuck.
func (q *Queue) ManualSync(ctx context.Context) {
	q.drain(ctx, true)
}

// Drain replays queued operations serially in insertion order. Operations at
// or past the retry cap are skipped (they are retried only via ManualSync).
// Only one drain runs at a time; concurrent calls return immediately.
func (q *Queue) Drain(ctx context.Context) {
	q.drain(ctx, false)
}

func (q *Queue) drain(ctx context.Context, includeStuck bool) {
	q.mu.Lock()
	if q.draining || !q.online {
		q.mu.Unlock()
		return
	}
	q.draining = true
	snapshot := make([]models.QueuedOperation, len(q.ops))
	copy(snapshot, q.ops)
	onProgress := q.onProgress
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	if len(snapshot) == 0 {
		return
	}
	slog.Debug("Queue drain started", "total", len(snapshot), "includeStuck", includeStuck)

	total := len(snapshot)
	for i, op := range snapshot {
		if ctx.Err() != nil {
			slog.Debug("Queue drain cancelled", "completed", i, "total", total)
			return
		}
		if i > 0 {
			// Fixed inter-attempt delay bounds backend load.
			select {
			case <-time.After(q.cfg.DrainDelay):
			case <-ctx.Done():
				return
			}
		}
		if onProgress != nil {
			onProgress(models.SyncProgress{Current: i + 1, Total: total})
		}

		if !includeStuck && op.Retries >= q.cfg.MaxRetries {
			slog.Warn("Queue drain: operation stuck, skipping", "id", op.ID, "kind", op.Kind, "retries", op.Retries)
			continue
		}

		q.attempt(ctx, op)
	}
	slog.Debug("Queue drain finished", "total", total)
}

// attempt syncs a single operation and records its outcome. A failed
// operation stays queued for the next pass; it is never retried within the
// same pass. The attempt is bounded by the apply timeout even when the
// applier ignores its context, so a hung backend call cannot wedge the
// drain loop.
func (q *Queue) attempt(ctx context.Context, op models.QueuedOperation) {
	applyCtx, cancel := context.WithTimeout(ctx, q.cfg.ApplyTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- q.applier.Apply(applyCtx, op)
	}()

	var err error
	select {
	case err = <-done:
	case <-applyCtx.Done():
		err = fmt.Errorf("%w after %s", ErrApplyTimeout, q.cfg.ApplyTimeout)
	}

	if err == nil {
		q.remove(op.ID)
		slog.Debug("Queue synced operation", "id", op.ID, "kind", op.Kind)
		return
	}

	retryable := true
	if classifier, ok := q.applier.(RetryClassifier); ok {
		retryable = classifier.IsRetryable(err)
	}

	q.mu.Lock()
	for i := range q.ops {
		if q.ops[i].ID != op.ID {
			continue
		}
		if retryable {
			q.ops[i].Retries++
		} else {
			// Permanent failure: report as stuck without burning retries.
			q.ops[i].Retries = q.cfg.MaxRetries
		}
		q.ops[i].LastError = err.Error()
		op = q.ops[i]
		break
	}
	q.mu.Unlock()

	if putErr := q.local.Put(op); putErr != nil {
		slog.Error("Queue attempt: local mirror update failed", "error", putErr, "id", op.ID)
	}

	if op.Retries >= q.cfg.MaxRetries {
		slog.Warn("Queue operation exceeded retry cap", "id", op.ID, "kind", op.Kind, "retries", op.Retries, "error", err)
	} else {
		slog.Debug("Queue operation failed, will retry next pass", "id", op.ID, "kind", op.Kind, "retries", op.Retries, "error", err)
	}
}

// remove deletes an operation from memory and the local mirror.
func (q *Queue) remove(id string) {
	q.mu.Lock()
	for i := range q.ops {
		if q.ops[i].ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if err := q.local.Delete(id); err != nil {
		slog.Error("Queue remove: local mirror delete failed", "error", err, "id", id)
	}
}

// Run starts the periodic safety-net drain. It blocks until the context is
// cancelled. The ticker covers the case where an immediate drain was itself
// interrupted.
func (q *Queue) Run(ctx context.Context) {
	slog.Info("Queue.Run: starting periodic drain", "pollInterval", q.cfg.PollInterval)

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Queue.Run: stopping")
			return
		case <-ticker.C:
			if q.Online() {
				q.Drain(ctx)
			}
		}
	}
}
