// Package models defines the persisted contract draft shape for VisitPipe.
package models

import "time"

// Completion percentage steps. Each satisfied contract requirement is worth
// 25%: contract accepted, signature captured, SMS sent, OTP verified.
const CompletionStep = 25

// ContractDraft is a persisted snapshot of in-progress contract data, keyed
// by visit. One draft exists per open visit; it is superseded on finalize.
type ContractDraft struct {
	ID               string            `json:"id"`
	VisitID          string            `json:"visit_id"`
	CustomerID       string            `json:"customer_id"`
	SalesRepID       string            `json:"sales_rep_id"`
	ContractAccepted bool              `json:"contract_accepted"`
	SignatureRef     string            `json:"signature_ref,omitempty"`
	SMSPhone         string            `json:"sms_phone,omitempty"`
	SMSSent          bool              `json:"sms_sent"`
	OTPVerified      bool              `json:"otp_verified"`
	Notes            string            `json:"notes,omitempty"`
	Completion       int               `json:"completion"`
	CurrentStage     string            `json:"current_stage"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ComputeCompletion derives the completion percentage from the draft's
// requirement flags: 25% per satisfied requirement.
func (d *ContractDraft) ComputeCompletion() int {
	pct := 0
	if d.ContractAccepted {
		pct += CompletionStep
	}
	if d.SignatureRef != "" {
		pct += CompletionStep
	}
	if d.SMSSent {
		pct += CompletionStep
	}
	if d.OTPVerified {
		pct += CompletionStep
	}
	return pct
}

// DeriveStage returns the draft stage label for UI display, based on which
// requirements are satisfied so far.
func (d *ContractDraft) DeriveStage() string {
	switch {
	case d.OTPVerified:
		return "confirmed"
	case d.SMSSent:
		return "awaiting_otp"
	case d.SignatureRef != "":
		return "signed"
	case d.ContractAccepted:
		return "accepted"
	default:
		return "editing"
	}
}

// Refresh recomputes the derived fields and bumps the updated timestamp.
func (d *ContractDraft) Refresh(now time.Time) {
	d.Completion = d.ComputeCompletion()
	d.CurrentStage = d.DeriveStage()
	d.UpdatedAt = now
}
