package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/store"
)

// StoreApplier replays queued operations against the backing store.
type StoreApplier struct {
	st store.Store
}

// NewStoreApplier creates an applier that syncs operations to st.
func NewStoreApplier(st store.Store) *StoreApplier {
	return &StoreApplier{st: st}
}

// Apply dispatches on the operation kind. Payloads are the JSON encodings of
// the corresponding model types.
func (a *StoreApplier) Apply(ctx context.Context, op models.QueuedOperation) error {
	slog.Debug("StoreApplier.Apply", "id", op.ID, "kind", op.Kind)

	switch op.Kind {
	case models.OperationDraftSave:
		return a.applyDraftSave(op)
	case models.OperationVisitFinalize:
		return a.applyVisitFinalize(op)
	case models.OperationAuditAppend:
		return a.applyAuditAppend(op)
	default:
		return fmt.Errorf("%w: %s", models.ErrUnknownOperationKind, op.Kind)
	}
}

// IsRetryable classifies failures: malformed payloads and unknown kinds can
// never succeed, so they are reported stuck immediately instead of retried.
func (a *StoreApplier) IsRetryable(err error) bool {
	if errors.Is(err, models.ErrUnknownOperationKind) || errors.Is(err, models.ErrEmptyVisitID) {
		return false
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false
	}
	var typeErr *json.UnmarshalTypeError
	return !errors.As(err, &typeErr)
}

func (a *StoreApplier) applyDraftSave(op models.QueuedOperation) error {
	var draft models.ContractDraft
	if err := json.Unmarshal([]byte(op.PayloadJSON), &draft); err != nil {
		return fmt.Errorf("failed to decode draft payload: %w", err)
	}
	if draft.ID == "" {
		_, err := a.st.CreateDraft(draft)
		return err
	}
	err := a.st.UpdateDraft(draft.ID, draft)
	if errors.Is(err, store.ErrNotFound) {
		// The draft was purged while this operation sat queued offline.
		_, cerr := a.st.CreateDraft(draft)
		return cerr
	}
	return err
}

func (a *StoreApplier) applyVisitFinalize(op models.QueuedOperation) error {
	var record models.VisitRecord
	if err := json.Unmarshal([]byte(op.PayloadJSON), &record); err != nil {
		return fmt.Errorf("failed to decode visit payload: %w", err)
	}
	if record.VisitID == "" {
		return models.ErrEmptyVisitID
	}
	return a.st.SaveVisit(record)
}

func (a *StoreApplier) applyAuditAppend(op models.QueuedOperation) error {
	var entry models.AuditEntry
	if err := json.Unmarshal([]byte(op.PayloadJSON), &entry); err != nil {
		return fmt.Errorf("failed to decode audit payload: %w", err)
	}
	return a.st.AppendAudit(entry)
}
