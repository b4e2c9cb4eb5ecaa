package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/store"
)

// recordingApplier records applied operations and fails specific IDs.
type recordingApplier struct {
	mu      sync.Mutex
	applied []models.QueuedOperation
	failIDs map[string]int // id -> remaining failures
	permErr map[string]bool
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{
		failIDs: make(map[string]int),
		permErr: make(map[string]bool),
	}
}

func (a *recordingApplier) Apply(ctx context.Context, op models.QueuedOperation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.permErr[op.ID] {
		return errors.New("permanent failure")
	}
	if n := a.failIDs[op.ID]; n > 0 {
		a.failIDs[op.ID] = n - 1
		return errors.New("transient failure")
	}
	a.applied = append(a.applied, op)
	return nil
}

func (a *recordingApplier) appliedPayloads() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.applied))
	for i, op := range a.applied {
		out[i] = op.PayloadJSON
	}
	return out
}

func fastQueueConfig() Config {
	return Config{
		MaxRetries:   3,
		DrainDelay:   time.Millisecond,
		PollInterval: time.Hour, // never in tests
		ApplyTimeout: time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAddWhileOfflineQueuesWithoutDraining(t *testing.T) {
	applier := newRecordingApplier()
	q, err := NewQueue(NewMemoryStore(), applier, fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	if _, err := q.Add(context.Background(), models.OperationAuditAppend, `{"visit_id":"v1"}`); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	status := q.Status()
	if status.Online || status.Pending != 1 {
		t.Errorf("expected offline queue with 1 pending, got %+v", status)
	}
	if len(applier.appliedPayloads()) != 0 {
		t.Error("expected no applies while offline")
	}
}

func TestAddRejectsUnknownKind(t *testing.T) {
	q, err := NewQueue(NewMemoryStore(), newRecordingApplier(), fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	if _, err := q.Add(context.Background(), "teleport", "{}"); !errors.Is(err, models.ErrUnknownOperationKind) {
		t.Errorf("expected ErrUnknownOperationKind, got %v", err)
	}
}

func TestGoingOnlineDrainsInInsertionOrder(t *testing.T) {
	applier := newRecordingApplier()
	q, err := NewQueue(NewMemoryStore(), applier, fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	for _, p := range []string{"a", "b", "c"} {
		if _, err := q.Add(context.Background(), models.OperationAuditAppend, p); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	q.SetOnline(context.Background(), true)
	waitFor(t, 2*time.Second, func() bool {
		return q.Status().Pending == 0
	}, "expected queue to drain after going online")

	got := applier.appliedPayloads()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d applies, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("apply order mismatch at %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestFailedOperationRetriedNextPassNotSamePass(t *testing.T) {
	applier := newRecordingApplier()
	local := NewMemoryStore()
	q, err := NewQueue(local, applier, fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	q.Add(context.Background(), models.OperationAuditAppend, "a")
	idB, _ := q.Add(context.Background(), models.OperationAuditAppend, "b")
	q.Add(context.Background(), models.OperationAuditAppend, "c")
	applier.failIDs[idB] = 1 // fails once, succeeds next pass

	q.SetOnline(context.Background(), true)

	// First pass: a and c succeed, b stays queued with one retry recorded.
	waitFor(t, 2*time.Second, func() bool {
		return q.Status().Pending == 1
	}, "expected only the failed operation to remain")
	pending := q.Pending()
	if len(pending) != 1 || pending[0].ID != idB || pending[0].Retries != 1 {
		t.Fatalf("unexpected pending state: %+v", pending)
	}
	if pending[0].LastError == "" {
		t.Error("expected failure reason recorded")
	}

	// Second pass clears it.
	q.Drain(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		return q.Status().Pending == 0
	}, "expected retry to succeed on the next pass")

	got := applier.appliedPayloads()
	if len(got) != 3 || got[2] != "b" {
		t.Errorf("expected b applied last, got %v", got)
	}
}

func TestStuckOperationsKeptAndSurfaced(t *testing.T) {
	applier := newRecordingApplier()
	cfg := fastQueueConfig()
	q, err := NewQueue(NewMemoryStore(), applier, cfg)
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	id, _ := q.Add(context.Background(), models.OperationAuditAppend, "doomed")
	applier.failIDs[id] = 100

	q.SetOnline(context.Background(), true)
	waitFor(t, 2*time.Second, func() bool {
		if q.Status().Stuck == 1 {
			return true
		}
		q.Drain(context.Background())
		return false
	}, "expected operation to be reported stuck")
	status := q.Status()
	if status.Pending != 1 {
		t.Errorf("expected stuck operation kept in queue, got %+v", status)
	}

	// Regular drains skip it.
	q.Drain(context.Background())
	time.Sleep(50 * time.Millisecond)
	if len(applier.appliedPayloads()) != 0 {
		t.Error("expected stuck operation not applied by regular drains")
	}

	// Manual sync retries it; heal the backend first.
	applier.mu.Lock()
	applier.failIDs[id] = 0
	applier.mu.Unlock()
	q.ManualSync(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		return q.Status().Pending == 0
	}, "expected manual sync to clear the stuck operation")
}

// hungApplier blocks forever on selected payloads, ignoring the context the
// way a stuck database driver call would.
type hungApplier struct {
	inner *recordingApplier
	hang  map[string]bool
	block chan struct{}
}

func (a *hungApplier) Apply(ctx context.Context, op models.QueuedOperation) error {
	if a.hang[op.PayloadJSON] {
		<-a.block
		return nil
	}
	return a.inner.Apply(ctx, op)
}

func TestHungApplyIsBoundedByTimeout(t *testing.T) {
	applier := &hungApplier{
		inner: newRecordingApplier(),
		hang:  map[string]bool{"slow": true},
		block: make(chan struct{}),
	}
	defer close(applier.block)

	cfg := fastQueueConfig()
	cfg.ApplyTimeout = 20 * time.Millisecond
	q, err := NewQueue(NewMemoryStore(), applier, cfg)
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	idSlow, _ := q.Add(context.Background(), models.OperationAuditAppend, "slow")
	q.Add(context.Background(), models.OperationAuditAppend, "fast")
	q.SetOnline(context.Background(), true)

	// The hung call is abandoned at the timeout and the drain moves on, so
	// the healthy operation behind it still syncs in the same pass.
	waitFor(t, 2*time.Second, func() bool {
		return len(applier.inner.appliedPayloads()) == 1
	}, "expected drain to continue past the hung operation")

	slowRetries := func() int {
		for _, op := range q.Pending() {
			if op.ID == idSlow {
				return op.Retries
			}
		}
		return -1
	}
	waitFor(t, 2*time.Second, func() bool {
		return slowRetries() >= 1
	}, "expected timeout recorded as a failed attempt")

	var slow *models.QueuedOperation
	for _, op := range q.Pending() {
		if op.ID == idSlow {
			copied := op
			slow = &copied
		}
	}
	if slow == nil {
		t.Fatal("expected hung operation kept in queue")
	}
	if !strings.Contains(slow.LastError, ErrApplyTimeout.Error()) {
		t.Errorf("expected timeout failure recorded, got %q", slow.LastError)
	}

	// The drain loop is not wedged: another pass times out again instead of
	// being skipped by a stuck draining flag.
	q.Drain(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		return slowRetries() >= 2
	}, "expected later drains to keep attempting the hung operation")
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	st := store.NewInMemoryStore()
	q, err := NewQueue(NewMemoryStore(), NewStoreApplier(st), fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	// Malformed payload can never succeed.
	q.Add(context.Background(), models.OperationDraftSave, "{not json")
	q.SetOnline(context.Background(), true)

	waitFor(t, 2*time.Second, func() bool {
		return q.Status().Stuck == 1
	}, "expected malformed payload to go straight to stuck")
	pending := q.Pending()
	if len(pending) != 1 || pending[0].Retries < fastQueueConfig().MaxRetries {
		t.Errorf("expected retries pinned to cap, got %+v", pending)
	}
}

func TestRehydrationPreservesOrderAcrossRestart(t *testing.T) {
	local := NewMemoryStore()
	applier := newRecordingApplier()

	q1, err := NewQueue(local, applier, fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	q1.Add(context.Background(), models.OperationAuditAppend, "first")
	q1.Add(context.Background(), models.OperationAuditAppend, "second")
	q1.Add(context.Background(), models.OperationAuditAppend, "third")

	// Simulate restart: a fresh queue over the same local store.
	q2, err := NewQueue(local, applier, fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to recreate queue: %v", err)
	}
	if q2.Status().Pending != 3 {
		t.Fatalf("expected 3 rehydrated operations, got %d", q2.Status().Pending)
	}

	q2.SetOnline(context.Background(), true)
	waitFor(t, 2*time.Second, func() bool {
		return q2.Status().Pending == 0
	}, "expected rehydrated queue to drain")

	got := applier.appliedPayloads()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("replay order mismatch at %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSuccessfulApplyDeletesLocalRecord(t *testing.T) {
	local := NewMemoryStore()
	applier := newRecordingApplier()
	q, err := NewQueue(local, applier, fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	q.Add(context.Background(), models.OperationAuditAppend, "x")
	q.SetOnline(context.Background(), true)
	waitFor(t, 2*time.Second, func() bool {
		return q.Status().Pending == 0
	}, "expected drain")

	ops, err := local.GetAll()
	if err != nil {
		t.Fatalf("local GetAll failed: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("expected acknowledged operation removed from local store, got %d", len(ops))
	}
	if len(applier.appliedPayloads()) != 1 {
		t.Errorf("expected exactly one apply, got %d", len(applier.appliedPayloads()))
	}
}

func TestProgressCallbackReportsTotals(t *testing.T) {
	applier := newRecordingApplier()
	q, err := NewQueue(NewMemoryStore(), applier, fastQueueConfig())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	var mu sync.Mutex
	var progress []models.SyncProgress
	q.OnProgress(func(p models.SyncProgress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})

	q.Add(context.Background(), models.OperationAuditAppend, "a")
	q.Add(context.Background(), models.OperationAuditAppend, "b")
	q.SetOnline(context.Background(), true)

	waitFor(t, 2*time.Second, func() bool {
		return q.Status().Pending == 0
	}, "expected drain")

	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 2 {
		t.Fatalf("expected 2 progress reports, got %d", len(progress))
	}
	if progress[0].Current != 1 || progress[0].Total != 2 || progress[1].Current != 2 {
		t.Errorf("unexpected progress: %+v", progress)
	}
}

func TestStoreApplierDispatch(t *testing.T) {
	st := store.NewInMemoryStore()
	applier := NewStoreApplier(st)
	ctx := context.Background()

	// Draft save creates a draft.
	draftPayload, _ := json.Marshal(models.ContractDraft{VisitID: "v1", SalesRepID: "rep-1", ContractAccepted: true})
	if err := applier.Apply(ctx, models.QueuedOperation{ID: "op1", Kind: models.OperationDraftSave, PayloadJSON: string(draftPayload)}); err != nil {
		t.Fatalf("draft save failed: %v", err)
	}
	d, err := st.GetLatestDraft("v1")
	if err != nil || d == nil {
		t.Fatalf("expected persisted draft, got %v/%v", d, err)
	}

	// Visit finalize persists the record.
	visitPayload, _ := json.Marshal(models.VisitRecord{VisitID: "v1", SalesRepID: "rep-1", Status: models.VisitResultCompleted, FinalizedAt: time.Now()})
	if err := applier.Apply(ctx, models.QueuedOperation{ID: "op2", Kind: models.OperationVisitFinalize, PayloadJSON: string(visitPayload)}); err != nil {
		t.Fatalf("visit finalize failed: %v", err)
	}
	v, err := st.GetVisit("v1")
	if err != nil || v == nil {
		t.Fatalf("expected persisted visit, got %v/%v", v, err)
	}

	// Audit append lands in the log.
	auditPayload, _ := json.Marshal(models.AuditEntry{VisitID: "v1", Action: "draft_autosave", CreatedAt: time.Now()})
	if err := applier.Apply(ctx, models.QueuedOperation{ID: "op3", Kind: models.OperationAuditAppend, PayloadJSON: string(auditPayload)}); err != nil {
		t.Fatalf("audit append failed: %v", err)
	}
	entries, err := st.ListAuditByVisit("v1")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d/%v", len(entries), err)
	}

	// Unknown kinds and empty visit IDs are permanent failures.
	if err := applier.Apply(ctx, models.QueuedOperation{ID: "op4", Kind: "teleport"}); err == nil {
		t.Error("expected error for unknown kind")
	} else if applier.IsRetryable(err) {
		t.Error("expected unknown kind to be non-retryable")
	}
	if err := applier.Apply(ctx, models.QueuedOperation{ID: "op5", Kind: models.OperationVisitFinalize, PayloadJSON: "{}"}); err == nil {
		t.Error("expected error for empty visit ID")
	} else if applier.IsRetryable(err) {
		t.Error("expected empty visit ID to be non-retryable")
	}
	if err := applier.Apply(ctx, models.QueuedOperation{ID: "op6", Kind: models.OperationDraftSave, PayloadJSON: "{bad"}); err == nil {
		t.Error("expected error for malformed JSON")
	} else if applier.IsRetryable(err) {
		t.Error("expected malformed JSON to be non-retryable")
	}
}
