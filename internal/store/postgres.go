// Package store provides storage backends for VisitPipe.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

// CreateDraft inserts a new contract draft and returns its assigned ID.
func (s *PostgresStore) CreateDraft(d models.ContractDraft) (string, error) {
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
		slog.Error("PostgresStore CreateDraft metadata marshal failed", "error", err, "visitID", d.VisitID)
		return "", err
	}

	_, err = s.db.Exec(
		`INSERT INTO contract_drafts (id, visit_id, customer_id, sales_rep_id, contract_accepted, signature_ref, sms_phone, sms_sent, otp_verified, notes, completion, current_stage, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		id, d.VisitID, d.CustomerID, d.SalesRepID, d.ContractAccepted, nilIfEmpty(d.SignatureRef),
		nilIfEmpty(d.SMSPhone), d.SMSSent, d.OTPVerified, nilIfEmpty(d.Notes), d.Completion,
		d.CurrentStage, nilIfEmpty(metadataJSON), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateDraft failed", "error", err, "visitID", d.VisitID)
		return "", fmt.Errorf("failed to insert draft for visit %s: %w", d.VisitID, err)
	}
	slog.Debug("PostgresStore CreateDraft succeeded", "id", id, "visitID", d.VisitID)
	return id, nil
}

// UpdateDraft updates an existing contract draft. Returns ErrNotFound when no
// draft with the given ID exists.
func (s *PostgresStore) UpdateDraft(id string, d models.ContractDraft) error {
	d.Refresh(time.Now())

	metadataJSON, err := marshalMetadata(d.Metadata)
	if err != nil {
		slog.Error("PostgresStore UpdateDraft metadata marshal failed", "error", err, "id", id)
		return err
	}

	result, err := s.db.Exec(
		`UPDATE contract_drafts SET contract_accepted = $1, signature_ref = $2, sms_phone = $3, sms_sent = $4, otp_verified = $5, notes = $6, completion = $7, current_stage = $8, metadata = $9, updated_at = $10
		 WHERE id = $11`,
		d.ContractAccepted, nilIfEmpty(d.SignatureRef), nilIfEmpty(d.SMSPhone), d.SMSSent,
		d.OTPVerified, nilIfEmpty(d.Notes), d.Completion, d.CurrentStage, nilIfEmpty(metadataJSON),
		d.UpdatedAt, id,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateDraft failed", "error", err, "id", id)
		return fmt.Errorf("failed to update draft %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLatestDraft retrieves the most recently updated draft for a visit.
// Returns (nil, nil) when no draft exists.
func (s *PostgresStore) GetLatestDraft(visitID string) (*models.ContractDraft, error) {
	row := s.db.QueryRow(
		`SELECT id, visit_id, customer_id, sales_rep_id, contract_accepted, signature_ref, sms_phone, sms_sent, otp_verified, notes, completion, current_stage, metadata, created_at, updated_at
		 FROM contract_drafts WHERE visit_id = $1 ORDER BY updated_at DESC LIMIT 1`,
		visitID,
	)
	d, err := scanDraftRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetLatestDraft not found", "visitID", visitID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLatestDraft failed", "error", err, "visitID", visitID)
		return nil, err
	}
	return d, nil
}

// DeleteDraft removes a draft by ID.
func (s *PostgresStore) DeleteDraft(id string) error {
	_, err := s.db.Exec(`DELETE FROM contract_drafts WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteDraft failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	return nil
}

// DeleteDraftsByVisit removes all drafts belonging to a visit.
func (s *PostgresStore) DeleteDraftsByVisit(visitID string) error {
	_, err := s.db.Exec(`DELETE FROM contract_drafts WHERE visit_id = $1`, visitID)
	if err != nil {
		slog.Error("PostgresStore DeleteDraftsByVisit failed", "error", err, "visitID", visitID)
		return fmt.Errorf("failed to delete drafts for visit %s: %w", visitID, err)
	}
	return nil
}

// PurgeDraftsBefore deletes drafts not updated since the cutoff.
func (s *PostgresStore) PurgeDraftsBefore(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM contract_drafts WHERE updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore PurgeDraftsBefore failed", "error", err)
		return 0, fmt.Errorf("failed to purge drafts: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore PurgeDraftsBefore purged drafts", "count", n)
	}
	return int(n), nil
}

// SaveVisit inserts or replaces a finalized visit record.
func (s *PostgresStore) SaveVisit(v models.VisitRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO visits (visit_id, sales_rep_id, customer_id, status, notes, revenue, out_of_region, finalized_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (visit_id) DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, revenue = EXCLUDED.revenue, out_of_region = EXCLUDED.out_of_region, finalized_at = EXCLUDED.finalized_at`,
		v.VisitID, v.SalesRepID, v.CustomerID, v.Status, nilIfEmpty(v.Notes), v.Revenue, v.OutOfRegion, v.FinalizedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveVisit failed", "error", err, "visitID", v.VisitID)
		return fmt.Errorf("failed to insert visit %s: %w", v.VisitID, err)
	}
	return nil
}

// GetVisit retrieves a finalized visit record. Returns (nil, nil) when not found.
func (s *PostgresStore) GetVisit(visitID string) (*models.VisitRecord, error) {
	var v models.VisitRecord
	var notes sql.NullString
	err := s.db.QueryRow(
		`SELECT visit_id, sales_rep_id, customer_id, status, notes, revenue, out_of_region, finalized_at
		 FROM visits WHERE visit_id = $1`,
		visitID,
	).Scan(&v.VisitID, &v.SalesRepID, &v.CustomerID, &v.Status, &notes, &v.Revenue, &v.OutOfRegion, &v.FinalizedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetVisit failed", "error", err, "visitID", visitID)
		return nil, fmt.Errorf("failed to query visit %s: %w", visitID, err)
	}
	v.Notes = notes.String
	return &v, nil
}

// ListVisitsByRep retrieves finalized visits for a sales rep, newest first.
func (s *PostgresStore) ListVisitsByRep(salesRepID string) ([]models.VisitRecord, error) {
	rows, err := s.db.Query(
		`SELECT visit_id, sales_rep_id, customer_id, status, notes, revenue, out_of_region, finalized_at
		 FROM visits WHERE sales_rep_id = $1 ORDER BY finalized_at DESC`,
		salesRepID,
	)
	if err != nil {
		slog.Error("PostgresStore ListVisitsByRep query failed", "error", err, "salesRepID", salesRepID)
		return nil, fmt.Errorf("failed to query visits for rep %s: %w", salesRepID, err)
	}
	defer rows.Close()

	var visits []models.VisitRecord
	for rows.Next() {
		var v models.VisitRecord
		var notes sql.NullString
		if err := rows.Scan(&v.VisitID, &v.SalesRepID, &v.CustomerID, &v.Status, &notes, &v.Revenue, &v.OutOfRegion, &v.FinalizedAt); err != nil {
			slog.Error("PostgresStore ListVisitsByRep scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan visit row: %w", err)
		}
		v.Notes = notes.String
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visit rows: %w", err)
	}
	return visits, nil
}

// SaveSalesRep inserts or replaces a sales rep record.
func (s *PostgresStore) SaveSalesRep(rep models.SalesRep) error {
	_, err := s.db.Exec(
		`INSERT INTO sales_reps (id, name, phone, region) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, region = EXCLUDED.region`,
		rep.ID, rep.Name, nilIfEmpty(rep.Phone), rep.Region,
	)
	if err != nil {
		slog.Error("PostgresStore SaveSalesRep failed", "error", err, "id", rep.ID)
		return fmt.Errorf("failed to insert sales rep %s: %w", rep.ID, err)
	}
	return nil
}

// GetSalesRep retrieves a sales rep by ID. Returns (nil, nil) when not found.
func (s *PostgresStore) GetSalesRep(id string) (*models.SalesRep, error) {
	var rep models.SalesRep
	var phone sql.NullString
	err := s.db.QueryRow(`SELECT id, name, phone, region FROM sales_reps WHERE id = $1`, id).
		Scan(&rep.ID, &rep.Name, &phone, &rep.Region)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSalesRep failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query sales rep %s: %w", id, err)
	}
	rep.Phone = phone.String
	return &rep, nil
}

// CreateNotification inserts a notification record and returns its ID.
func (s *PostgresStore) CreateNotification(n models.Notification) (string, error) {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, n.RecipientID, n.Kind, n.Title, nilIfEmpty(n.Body), nilIfEmpty(n.VisitID), n.Status, n.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateNotification failed", "error", err, "recipientID", n.RecipientID)
		return "", fmt.Errorf("failed to insert notification for %s: %w", n.RecipientID, err)
	}
	return id, nil
}

// ListUnreadNotifications retrieves unread notifications for a recipient,
// oldest first.
func (s *PostgresStore) ListUnreadNotifications(recipientID string) ([]models.Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, recipient_id, kind, title, body, visit_id, status, created_at
		 FROM notifications WHERE recipient_id = $1 AND status = 'unread' ORDER BY created_at ASC`,
		recipientID,
	)
	if err != nil {
		slog.Error("PostgresStore ListUnreadNotifications query failed", "error", err, "recipientID", recipientID)
		return nil, fmt.Errorf("failed to query notifications for %s: %w", recipientID, err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var body, visitID sql.NullString
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Title, &body, &visitID, &n.Status, &n.CreatedAt); err != nil {
			slog.Error("PostgresStore ListUnreadNotifications scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		n.Body = body.String
		n.VisitID = visitID.String
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification rows: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead marks a notification as read. Returns ErrNotFound when
// no notification with the given ID exists.
func (s *PostgresStore) MarkNotificationRead(id string) error {
	result, err := s.db.Exec(`UPDATE notifications SET status = 'read' WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore MarkNotificationRead failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAudit appends an audit log entry.
func (s *PostgresStore) AppendAudit(e models.AuditEntry) error {
	id := e.ID
	if id == "" {
		id = util.GenerateAuditID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, visit_id, sales_rep_id, action, description, completion, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, e.VisitID, nilIfEmpty(e.SalesRepID), e.Action, nilIfEmpty(e.Description), e.Completion, e.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AppendAudit failed", "error", err, "visitID", e.VisitID)
		return fmt.Errorf("failed to append audit entry for visit %s: %w", e.VisitID, err)
	}
	return nil
}

// ListAuditByVisit retrieves audit entries for a visit, oldest first.
func (s *PostgresStore) ListAuditByVisit(visitID string) ([]models.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, visit_id, sales_rep_id, action, description, completion, created_at
		 FROM audit_log WHERE visit_id = $1 ORDER BY created_at ASC`,
		visitID,
	)
	if err != nil {
		slog.Error("PostgresStore ListAuditByVisit query failed", "error", err, "visitID", visitID)
		return nil, fmt.Errorf("failed to query audit log for visit %s: %w", visitID, err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var salesRepID, description sql.NullString
		var completion sql.NullInt64
		if err := rows.Scan(&e.ID, &e.VisitID, &salesRepID, &e.Action, &description, &completion, &e.CreatedAt); err != nil {
			slog.Error("PostgresStore ListAuditByVisit scan failed", "error", err)
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
