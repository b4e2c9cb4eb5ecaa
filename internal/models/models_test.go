package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCustomerSnapshotValidate(t *testing.T) {
	valid := CustomerSnapshot{
		Name:     "Ayse Yilmaz",
		Type:     CustomerTypeIndividual,
		District: "Kadikoy",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid snapshot, got error: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*CustomerSnapshot)
		wantErr error
	}{
		{"empty name", func(c *CustomerSnapshot) { c.Name = "" }, ErrEmptyCustomerName},
		{"name too long", func(c *CustomerSnapshot) { c.Name = strings.Repeat("x", MaxNameLength+1) }, ErrNameTooLong},
		{"bad type", func(c *CustomerSnapshot) { c.Type = "alien" }, ErrInvalidCustomerType},
		{"empty district", func(c *CustomerSnapshot) { c.District = "" }, ErrEmptyDistrict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)
			if err := c.Validate(); !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestResultDataValidate(t *testing.T) {
	r := ResultData{Status: VisitResultCompleted, Notes: "signed at the door"}
	if err := r.Validate(); err != nil {
		t.Errorf("expected valid result, got error: %v", err)
	}

	r.Status = "maybe"
	if err := r.Validate(); !errors.Is(err, ErrInvalidResultStatus) {
		t.Errorf("expected ErrInvalidResultStatus, got %v", err)
	}

	r.Status = VisitResultRejected
	r.Notes = strings.Repeat("n", MaxNotesLength+1)
	if err := r.Validate(); !errors.Is(err, ErrNotesTooLong) {
		t.Errorf("expected ErrNotesTooLong, got %v", err)
	}

	// Status may be left unset while the agent is still editing.
	empty := ResultData{}
	if err := empty.Validate(); err != nil {
		t.Errorf("expected empty result to validate, got %v", err)
	}
}

func TestContractDraftCompletion(t *testing.T) {
	cases := []struct {
		name  string
		draft ContractDraft
		pct   int
		stage string
	}{
		{"empty", ContractDraft{}, 0, "editing"},
		{"accepted", ContractDraft{ContractAccepted: true}, 25, "accepted"},
		{"signed", ContractDraft{ContractAccepted: true, SignatureRef: "sig-1"}, 50, "signed"},
		{"awaiting otp", ContractDraft{ContractAccepted: true, SignatureRef: "sig-1", SMSSent: true}, 75, "awaiting_otp"},
		{"confirmed", ContractDraft{ContractAccepted: true, SignatureRef: "sig-1", SMSSent: true, OTPVerified: true}, 100, "confirmed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.draft.ComputeCompletion(); got != tc.pct {
				t.Errorf("completion: expected %d, got %d", tc.pct, got)
			}
			if got := tc.draft.DeriveStage(); got != tc.stage {
				t.Errorf("stage: expected %s, got %s", tc.stage, got)
			}
		})
	}
}

func TestContractDraftRefresh(t *testing.T) {
	d := ContractDraft{ContractAccepted: true, SMSSent: true}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.Refresh(now)
	if d.Completion != 50 {
		t.Errorf("expected completion 50, got %d", d.Completion)
	}
	if d.CurrentStage != "awaiting_otp" {
		t.Errorf("expected stage awaiting_otp, got %s", d.CurrentStage)
	}
	if !d.UpdatedAt.Equal(now) {
		t.Errorf("expected UpdatedAt %v, got %v", now, d.UpdatedAt)
	}
}

func TestNormalizeDistrict(t *testing.T) {
	if got := NormalizeDistrict("  Kadikoy "); got != "kadikoy" {
		t.Errorf("expected 'kadikoy', got %q", got)
	}
	if NormalizeDistrict("ANKARA") != NormalizeDistrict("ankara") {
		t.Error("expected case-insensitive district comparison")
	}
}

func TestIsValidOperationKind(t *testing.T) {
	for _, k := range []OperationKind{OperationDraftSave, OperationVisitFinalize, OperationAuditAppend} {
		if !IsValidOperationKind(k) {
			t.Errorf("expected %s to be valid", k)
		}
	}
	if IsValidOperationKind("teleport") {
		t.Error("expected unknown kind to be invalid")
	}
}

func TestIsValidEvent(t *testing.T) {
	for _, ev := range []Event{EventStartVisit, EventSetCustomer, EventOORApprovalRequested, EventOORApproved, EventSetKYC, EventKYCOk, EventContractAccepted, EventSetResult, EventNextStep, EventFinalize} {
		if !IsValidEvent(ev) {
			t.Errorf("expected %s to be valid", ev)
		}
	}
	if IsValidEvent("WARP") {
		t.Error("expected unknown event to be invalid")
	}
}

func TestAPIResponseBuilder(t *testing.T) {
	resp := NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage("done").
		WithResult(42).
		Build()
	if resp.Status != string(APIStatusOK) || resp.Message != "done" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if Error("boom").Status != string(APIStatusError) {
		t.Error("Error helper should set error status")
	}
	if Recorded().Status != string(APIStatusRecorded) {
		t.Error("Recorded helper should set recorded status")
	}
}
