// Package models defines the queued sync operation shape for VisitPipe.
package models

import "time"

// OperationKind identifies the type of a queued sync operation.
type OperationKind string

const (
	// OperationDraftSave persists a contract draft to the remote store.
	OperationDraftSave OperationKind = "draft_save"
	// OperationVisitFinalize records a finalized visit.
	OperationVisitFinalize OperationKind = "visit_finalize"
	// OperationAuditAppend appends an audit log entry.
	OperationAuditAppend OperationKind = "audit_append"
)

// IsValidOperationKind checks if the given operation kind is supported.
func IsValidOperationKind(k OperationKind) bool {
	switch k {
	case OperationDraftSave, OperationVisitFinalize, OperationAuditAppend:
		return true
	default:
		return false
	}
}

// QueuedOperation is a pending state-changing request not yet acknowledged by
// the remote store. Operations are buffered while offline and replayed in
// insertion order when connectivity returns.
type QueuedOperation struct {
	ID          string        `json:"id"`
	Seq         uint64        `json:"seq"` // insertion order, preserved across restarts
	Kind        OperationKind `json:"kind"`
	PayloadJSON string        `json:"payload_json"`
	Retries     int           `json:"retries"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// QueueStatus summarizes queue state for UI display.
type QueueStatus struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
	Stuck   int  `json:"stuck"`
}

// SyncProgress reports drain progress for UI display.
type SyncProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}
