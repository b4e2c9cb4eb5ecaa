package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/fieldops/VisitPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanDraftRow scans a ContractDraft from a single sql.Row.
func scanDraftRow(row *sql.Row) (*models.ContractDraft, error) {
	var d models.ContractDraft
	var customerID, salesRepID, signatureRef, smsPhone, notes, currentStage, metadataJSON sql.NullString
	err := row.Scan(
		&d.ID, &d.VisitID, &customerID, &salesRepID, &d.ContractAccepted, &signatureRef,
		&smsPhone, &d.SMSSent, &d.OTPVerified, &notes, &d.Completion, &currentStage,
		&metadataJSON, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.CustomerID = customerID.String
	d.SalesRepID = salesRepID.String
	d.SignatureRef = signatureRef.String
	d.SMSPhone = smsPhone.String
	d.Notes = notes.String
	d.CurrentStage = currentStage.String
	if metadataJSON.String != "" {
		d.Metadata = make(map[string]string)
		if err := json.Unmarshal([]byte(metadataJSON.String), &d.Metadata); err != nil {
			slog.Error("scanDraftRow metadata unmarshal failed", "error", err, "id", d.ID)
			// Continue with empty map rather than failing
			d.Metadata = make(map[string]string)
		}
	}
	return &d, nil
}
