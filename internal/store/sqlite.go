// Package store provides storage backends for VisitPipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// CreateDraft inserts a new contract draft and returns its assigned ID.
func (s *SQLiteStore) CreateDraft(d models.ContractDraft) (string, error) {
	if d.VisitID == "" {
		return "", models.ErrEmptyVisitID
	}
	id := d.ID
	if id == "" {
		id = util.GenerateDraftID()
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.Refresh(now)

	metadataJSON, err := marshalMetadata(d.Metadata)
	if err != nil {
		slog.Error("SQLiteStore CreateDraft metadata marshal failed", "error", err, "visitID", d.VisitID)
		return "", err
	}

	_, err = s.db.Exec(
		`INSERT INTO contract_drafts (id, visit_id, customer_id, sales_rep_id, contract_accepted, signature_ref, sms_phone, sms_sent, otp_verified, notes, completion, current_stage, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, d.VisitID, d.CustomerID, d.SalesRepID, d.ContractAccepted, nilIfEmpty(d.SignatureRef),
		nilIfEmpty(d.SMSPhone), d.SMSSent, d.OTPVerified, nilIfEmpty(d.Notes), d.Completion,
		d.CurrentStage, nilIfEmpty(metadataJSON), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateDraft failed", "error", err, "visitID", d.VisitID)
		return "", fmt.Errorf("failed to insert draft for visit %s: %w", d.VisitID, err)
	}
	slog.Debug("SQLiteStore CreateDraft succeeded", "id", id, "visitID", d.VisitID, "completion", d.Completion)
	return id, nil
}

// UpdateDraft updates an existing contract draft. Returns ErrNotFound when no
// draft with the given ID exists.
func (s *SQLiteStore) UpdateDraft(id string, d models.ContractDraft) error {
	d.Refresh(time.Now())

	metadataJSON, err := marshalMetadata(d.Metadata)
	if err != nil {
		slog.Error("SQLiteStore UpdateDraft metadata marshal failed", "error", err, "id", id)
		return err
	}

	result, err := s.db.Exec(
		`UPDATE contract_drafts SET contract_accepted = ?, signature_ref = ?, sms_phone = ?, sms_sent = ?, otp_verified = ?, notes = ?, completion = ?, current_stage = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		d.ContractAccepted, nilIfEmpty(d.SignatureRef), nilIfEmpty(d.SMSPhone), d.SMSSent,
		d.OTPVerified, nilIfEmpty(d.Notes), d.Completion, d.CurrentStage, nilIfEmpty(metadataJSON),
		d.UpdatedAt, id,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateDraft failed", "error", err, "id", id)
		return fmt.Errorf("failed to update draft %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		slog.Debug("SQLiteStore UpdateDraft not found", "id", id)
		return ErrNotFound
	}
	slog.Debug("SQLiteStore UpdateDraft succeeded", "id", id, "completion", d.Completion)
	return nil
}

// GetLatestDraft retrieves the most recently updated draft for a visit.
// Returns (nil, nil) when no draft exists.
func (s *SQLiteStore) GetLatestDraft(visitID string) (*models.ContractDraft, error) {
	row := s.db.QueryRow(
		`SELECT id, visit_id, customer_id, sales_rep_id, contract_accepted, signature_ref, sms_phone, sms_sent, otp_verified, notes, completion, current_stage, metadata, created_at, updated_at
		 FROM contract_drafts WHERE visit_id = ? ORDER BY updated_at DESC LIMIT 1`,
		visitID,
	)
	d, err := scanDraftRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetLatestDraft not found", "visitID", visitID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLatestDraft failed", "error", err, "visitID", visitID)
		return nil, err
	}
	slog.Debug("SQLiteStore GetLatestDraft found", "visitID", visitID, "id", d.ID)
	return d, nil
}

// DeleteDraft removes a draft by ID.
func (s *SQLiteStore) DeleteDraft(id string) error {
	_, err := s.db.Exec(`DELETE FROM contract_drafts WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteDraft failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteDraft succeeded", "id", id)
	return nil
}

// DeleteDraftsByVisit removes all drafts belonging to a visit.
func (s *SQLiteStore) DeleteDraftsByVisit(visitID string) error {
	_, err := s.db.Exec(`DELETE FROM contract_drafts WHERE visit_id = ?`, visitID)
	if err != nil {
		slog.Error("SQLiteStore DeleteDraftsByVisit failed", "error", err, "visitID", visitID)
		return fmt.Errorf("failed to delete drafts for visit %s: %w", visitID, err)
	}
	slog.Debug("SQLiteStore DeleteDraftsByVisit succeeded", "visitID", visitID)
	return nil
}

// PurgeDraftsBefore deletes drafts not updated since the cutoff and returns
// the number removed. Used by the scheduled maintenance job.
func (s *SQLiteStore) PurgeDraftsBefore(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM contract_drafts WHERE updated_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore PurgeDraftsBefore failed", "error", err)
		return 0, fmt.Errorf("failed to purge drafts: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore PurgeDraftsBefore purged drafts", "count", n)
	}
	return int(n), nil
}

// SaveVisit inserts or replaces a finalized visit record.
func (s *SQLiteStore) SaveVisit(v models.VisitRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO visits (visit_id, sales_rep_id, customer_id, status, notes, revenue, out_of_region, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.VisitID, v.SalesRepID, v.CustomerID, v.Status, nilIfEmpty(v.Notes), v.Revenue, v.OutOfRegion, v.FinalizedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveVisit failed", "error", err, "visitID", v.VisitID)
		return fmt.Errorf("failed to insert visit %s: %w", v.VisitID, err)
	}
	slog.Debug("SQLiteStore SaveVisit succeeded", "visitID", v.VisitID, "status", v.Status)
	return nil
}

// GetVisit retrieves a finalized visit record. Returns (nil, nil) when not found.
func (s *SQLiteStore) GetVisit(visitID string) (*models.VisitRecord, error) {
	var v models.VisitRecord
	var notes sql.NullString
	err := s.db.QueryRow(
		`SELECT visit_id, sales_rep_id, customer_id, status, notes, revenue, out_of_region, finalized_at
		 FROM visits WHERE visit_id = ?`,
		visitID,
	).Scan(&v.VisitID, &v.SalesRepID, &v.CustomerID, &v.Status, &notes, &v.Revenue, &v.OutOfRegion, &v.FinalizedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetVisit not found", "visitID", visitID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetVisit failed", "error", err, "visitID", visitID)
		return nil, fmt.Errorf("failed to query visit %s: %w", visitID, err)
	}
	v.Notes = notes.String
	return &v, nil
}

// ListVisitsByRep retrieves finalized visits for a sales rep, newest first.
func (s *SQLiteStore) ListVisitsByRep(salesRepID string) ([]models.VisitRecord, error) {
	rows, err := s.db.Query(
		`SELECT visit_id, sales_rep_id, customer_id, status, notes, revenue, out_of_region, finalized_at
		 FROM visits WHERE sales_rep_id = ? ORDER BY finalized_at DESC`,
		salesRepID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListVisitsByRep query failed", "error", err, "salesRepID", salesRepID)
		return nil, fmt.Errorf("failed to query visits for rep %s: %w", salesRepID, err)
	}
	defer rows.Close()

	var visits []models.VisitRecord
	for rows.Next() {
		var v models.VisitRecord
		var notes sql.NullString
		if err := rows.Scan(&v.VisitID, &v.SalesRepID, &v.CustomerID, &v.Status, &notes, &v.Revenue, &v.OutOfRegion, &v.FinalizedAt); err != nil {
			slog.Error("SQLiteStore ListVisitsByRep scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan visit row: %w", err)
		}
		v.Notes = notes.String
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListVisitsByRep rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate visit rows: %w", err)
	}
	slog.Debug("SQLiteStore ListVisitsByRep succeeded", "salesRepID", salesRepID, "count", len(visits))
	return visits, nil
}

// SaveSalesRep inserts or replaces a sales rep record.
func (s *SQLiteStore) SaveSalesRep(rep models.SalesRep) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sales_reps (id, name, phone, region) VALUES (?, ?, ?, ?)`,
		rep.ID, rep.Name, nilIfEmpty(rep.Phone), rep.Region,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveSalesRep failed", "error", err, "id", rep.ID)
		return fmt.Errorf("failed to insert sales rep %s: %w", rep.ID, err)
	}
	return nil
}

// GetSalesRep retrieves a sales rep by ID. Returns (nil, nil) when not found.
func (s *SQLiteStore) GetSalesRep(id string) (*models.SalesRep, error) {
	var rep models.SalesRep
	var phone sql.NullString
	err := s.db.QueryRow(`SELECT id, name, phone, region FROM sales_reps WHERE id = ?`, id).
		Scan(&rep.ID, &rep.Name, &phone, &rep.Region)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSalesRep not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSalesRep failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query sales rep %s: %w", id, err)
	}
	rep.Phone = phone.String
	return &rep, nil
}

// CreateNotification inserts a notification record and returns its ID.
func (s *SQLiteStore) CreateNotification(n models.Notification) (string, error) {
	id := n.ID
	if id == "" {
		id = util.GenerateRandomID("n_", 32)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Status == "" {
		n.Status = models.NotificationStatusUnread
	}
	_, err := s.db.Exec(
		`INSERT INTO notifications (id, recipient_id, kind, title, body, visit_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, n.RecipientID, n.Kind, n.Title, nilIfEmpty(n.Body), nilIfEmpty(n.VisitID), n.Status, n.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateNotification failed", "error", err, "recipientID", n.RecipientID)
		return "", fmt.Errorf("failed to insert notification for %s: %w", n.RecipientID, err)
	}
	slog.Debug("SQLiteStore CreateNotification succeeded", "id", id, "kind", n.Kind)
	return id, nil
}

// ListUnreadNotifications retrieves unread notifications for a recipient,
// oldest first.
func (s *SQLiteStore) ListUnreadNotifications(recipientID string) ([]models.Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, recipient_id, kind, title, body, visit_id, status, created_at
		 FROM notifications WHERE recipient_id = ? AND status = 'unread' ORDER BY created_at ASC`,
		recipientID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListUnreadNotifications query failed", "error", err, "recipientID", recipientID)
		return nil, fmt.Errorf("failed to query notifications for %s: %w", recipientID, err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var body, visitID sql.NullString
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Title, &body, &visitID, &n.Status, &n.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListUnreadNotifications scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		n.Body = body.String
		n.VisitID = visitID.String
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification rows: %w", err)
	}
	slog.Debug("SQLiteStore ListUnreadNotifications succeeded", "recipientID", recipientID, "count", len(notifications))
	return notifications, nil
}

// MarkNotificationRead marks a notification as read. Returns ErrNotFound when
// no notification with the given ID exists.
func (s *SQLiteStore) MarkNotificationRead(id string) error {
	result, err := s.db.Exec(`UPDATE notifications SET status = 'read' WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore MarkNotificationRead failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAudit appends an audit log entry.
func (s *SQLiteStore) AppendAudit(e models.AuditEntry) error {
	id := e.ID
	if id == "" {
		id = util.GenerateAuditID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, visit_id, sales_rep_id, action, description, completion, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, e.VisitID, nilIfEmpty(e.SalesRepID), e.Action, nilIfEmpty(e.Description), e.Completion, e.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendAudit failed", "error", err, "visitID", e.VisitID)
		return fmt.Errorf("failed to append audit entry for visit %s: %w", e.VisitID, err)
	}
	slog.Debug("SQLiteStore AppendAudit succeeded", "visitID", e.VisitID, "action", e.Action)
	return nil
}

// ListAuditByVisit retrieves audit entries for a visit, oldest first.
func (s *SQLiteStore) ListAuditByVisit(visitID string) ([]models.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, visit_id, sales_rep_id, action, description, completion, created_at
		 FROM audit_log WHERE visit_id = ? ORDER BY created_at ASC`,
		visitID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListAuditByVisit query failed", "error", err, "visitID", visitID)
		return nil, fmt.Errorf("failed to query audit log for visit %s: %w", visitID, err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var salesRepID, description sql.NullString
		var completion sql.NullInt64
		if err := rows.Scan(&e.ID, &e.VisitID, &salesRepID, &e.Action, &description, &completion, &e.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListAuditByVisit scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.SalesRepID = salesRepID.String
		e.Description = description.String
		e.Completion = int(completion.Int64)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit rows: %w", err)
	}
	return entries, nil
}

// marshalMetadata converts a metadata map to its JSON string form. Empty maps
// produce an empty string for a NULL column.
func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal draft metadata: %w", err)
	}
	return string(jsonBytes), nil
}
