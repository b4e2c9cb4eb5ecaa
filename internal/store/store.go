// Package store provides storage backends for VisitPipe.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL stores for
// contract drafts, finalized visits, sales reps, notifications, and the
// audit log.
package store

import (
	"errors"
	"time"

	"github.com/fieldops/VisitPipe/internal/models"
)

// ErrNotFound is returned by update operations targeting a missing record.
// It is distinguishable from transport or query failures.
var ErrNotFound = errors.New("record not found")

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Store defines persistence operations shared by all backends.
type Store interface {
	// Contract drafts
	CreateDraft(d models.ContractDraft) (string, error)
	UpdateDraft(id string, d models.ContractDraft) error
	GetLatestDraft(visitID string) (*models.ContractDraft, error)
	DeleteDraft(id string) error
	DeleteDraftsByVisit(visitID string) error
	PurgeDraftsBefore(cutoff time.Time) (int, error)

	// Finalized visits
	SaveVisit(v models.VisitRecord) error
	GetVisit(visitID string) (*models.VisitRecord, error)
	ListVisitsByRep(salesRepID string) ([]models.VisitRecord, error)

	// Sales reps
	SaveSalesRep(rep models.SalesRep) error
	GetSalesRep(id string) (*models.SalesRep, error)

	// Notifications
	CreateNotification(n models.Notification) (string, error)
	ListUnreadNotifications(recipientID string) ([]models.Notification, error)
	MarkNotificationRead(id string) error

	// Audit log
	AppendAudit(e models.AuditEntry) error
	ListAuditByVisit(visitID string) ([]models.AuditEntry, error)

	Close() error
}
