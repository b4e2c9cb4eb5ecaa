// Package visit provides the Session type that sequences a single visit.
package visit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/region"
)

// EventPayload carries optional data for a dispatched event. Only the fields
// relevant to the event are consulted; the rest are ignored.
type EventPayload struct {
	Customer *models.CustomerSnapshot `json:"customer,omitempty"`
	KYC      *models.KYCData          `json:"kyc,omitempty"`
	Contract *models.ContractData     `json:"contract,omitempty"`
	Result   *models.ResultData       `json:"result,omitempty"`
	ActorID  string                   `json:"actor_id,omitempty"` // requester or approver identity
}

// Session is one active visit being processed by an agent. It is an
// explicitly constructed state object: callers hold the instance and its
// lifetime equals the visit session's lifetime. There is no ambient registry
// inside the machine itself.
//
// Failed guards are silent no-ops: Dispatch returns false and the session is
// left unchanged. Callers detect rejection through the returned flag or by
// consulting the guard predicates directly, never through an error value.
type Session struct {
	mu sync.Mutex

	visitID    string
	salesRepID string
	stage      models.Stage

	customer models.CustomerSnapshot
	kyc      models.KYCData
	contract models.ContractData
	result   models.ResultData
	oor      models.OORData

	checker region.Checker

	createdAt time.Time
	updatedAt time.Time
}

// Snapshot is a read-only copy of session state for API responses and guards.
type Snapshot struct {
	VisitID    string                  `json:"visit_id"`
	SalesRepID string                  `json:"sales_rep_id"`
	Stage      models.Stage            `json:"stage"`
	Customer   models.CustomerSnapshot `json:"customer"`
	KYC        models.KYCData          `json:"kyc"`
	Contract   models.ContractData     `json:"contract"`
	Result     models.ResultData       `json:"result"`
	OOR        models.OORData          `json:"oor"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// NewSession creates a visit session in the Setup stage for the given rep.
// The visit ID is assigned when START_VISIT is dispatched.
func NewSession(salesRepID string, checker region.Checker) *Session {
	now := time.Now()
	slog.Debug("Creating visit session", "salesRepID", salesRepID)
	return &Session{
		salesRepID: salesRepID,
		stage:      models.StageSetup,
		checker:    checker,
		createdAt:  now,
		updatedAt:  now,
	}
}

// VisitID returns the session's visit ID (empty until START_VISIT).
func (s *Session) VisitID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitID
}

// Stage returns the session's current stage.
func (s *Session) Stage() models.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Snapshot returns a copy of the full session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		VisitID:    s.visitID,
		SalesRepID: s.salesRepID,
		Stage:      s.stage,
		Customer:   s.customer,
		KYC:        s.kyc,
		Contract:   s.contract,
		Result:     s.result,
		OOR:        s.oor,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}

// Dispatch applies an event to the session. It returns true when the event
// took effect and false when it was rejected by a guard or did not match the
// current stage. Rejected dispatches leave the session unchanged.
func (s *Session) Dispatch(ctx context.Context, ev models.Event, payload EventPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Debug("Session Dispatch", "visitID", s.visitID, "stage", s.stage, "event", ev)

	applied := false
	switch s.stage {
	case models.StageSetup:
		applied = s.dispatchSetup(ev)
	case models.StageCustomer:
		applied = s.dispatchCustomer(ctx, ev, payload)
	case models.StageKYC:
		applied = s.dispatchKYC(ev, payload)
	case models.StageContract:
		applied = s.dispatchContract(ev, payload)
	case models.StageResult:
		applied = s.dispatchResult(ev, payload)
	case models.StageDone:
		// Terminal: all further dispatches are ignored.
	}

	if applied {
		s.updatedAt = time.Now()
		slog.Debug("Session Dispatch applied", "visitID", s.visitID, "event", ev, "stage", s.stage)
	} else {
		slog.Debug("Session Dispatch rejected", "visitID", s.visitID, "event", ev, "stage", s.stage)
	}
	return applied
}

func (s *Session) dispatchSetup(ev models.Event) bool {
	if ev != models.EventStartVisit {
		return false
	}
	s.visitID = uuid.NewString()
	s.stage = models.StageCustomer
	slog.Info("Session started", "visitID", s.visitID, "salesRepID", s.salesRepID)
	return true
}

func (s *Session) dispatchCustomer(ctx context.Context, ev models.Event, payload EventPayload) bool {
	switch ev {
	case models.EventSetCustomer:
		if payload.Customer == nil {
			return false
		}
		if err := payload.Customer.Validate(); err != nil {
			slog.Warn("Session SET_CUSTOMER invalid customer", "visitID", s.visitID, "error", err)
			return false
		}
		s.mergeCustomer(*payload.Customer)
		s.applyRegionCheck(ctx)
		return true

	case models.EventOORApprovalRequested:
		if !s.oor.IsOutOfRegion {
			return false
		}
		s.oor.ApprovalRequested = true
		s.oor.RequestedBy = payload.ActorID
		return true

	case models.EventOORApproved:
		// Advances unconditionally once called; the caller is responsible for
		// only dispatching after genuine approval.
		s.oor.ApprovalGranted = true
		s.oor.ApprovedBy = payload.ActorID
		s.stage = models.StageKYC
		slog.Info("Session OOR approved", "visitID", s.visitID, "approvedBy", payload.ActorID)
		return true

	case models.EventNextStep:
		if !CanAdvanceToKYC(s.customer, s.oor) {
			return false
		}
		s.stage = models.StageKYC
		return true
	}
	return false
}

// mergeCustomer overlays a validated re-submit onto the captured snapshot.
// Required fields (name, type, district) always come from the submission;
// optional fields left empty keep their previously captured values.
func (s *Session) mergeCustomer(in models.CustomerSnapshot) {
	s.customer.Name = in.Name
	s.customer.Type = in.Type
	s.customer.District = in.District
	if in.CustomerID != "" {
		s.customer.CustomerID = in.CustomerID
	}
	if in.Address != "" {
		s.customer.Address = in.Address
	}
	if in.Phone != "" {
		s.customer.Phone = in.Phone
	}
	if in.TaxNumber != "" {
		s.customer.TaxNumber = in.TaxNumber
	}
}

// applyRegionCheck consults the region collaborator and records the result.
// A check failure leaves the previous OOR state untouched so the operator can
// retry by re-submitting the customer.
func (s *Session) applyRegionCheck(ctx context.Context) {
	if s.checker == nil {
		return
	}
	res, err := s.checker.CheckRegion(ctx, s.customer.District, s.salesRepID)
	if err != nil {
		slog.Warn("Session region check failed", "visitID", s.visitID, "error", err)
		return
	}
	s.oor.IsOutOfRegion = res.IsOutOfRegion
	s.oor.CustomerDistrict = res.CustomerDistrict
	s.oor.RepRegion = res.RepRegion
	if res.IsOutOfRegion {
		slog.Info("Session customer is out of region", "visitID", s.visitID, "district", res.CustomerDistrict, "repRegion", res.RepRegion)
	}
}

func (s *Session) dispatchKYC(ev models.Event, payload EventPayload) bool {
	switch ev {
	case models.EventSetKYC:
		if payload.KYC == nil {
			return false
		}
		s.mergeKYC(*payload.KYC)
		return true

	case models.EventKYCOk:
		if !KYCComplete(s.customer.Type, s.kyc) {
			return false
		}
		s.stage = models.StageContract
		return true
	}
	return false
}

func (s *Session) mergeKYC(in models.KYCData) {
	if in.KVKKAccepted {
		s.kyc.KVKKAccepted = true
	}
	if in.SMSVerified {
		s.kyc.SMSVerified = true
	}
	if in.RepresentativeName != "" {
		s.kyc.RepresentativeName = in.RepresentativeName
	}
	if in.RepresentativePhone != "" {
		s.kyc.RepresentativePhone = in.RepresentativePhone
	}
	if in.RepresentativeConsent {
		s.kyc.RepresentativeConsent = true
	}
}

func (s *Session) dispatchContract(ev models.Event, payload EventPayload) bool {
	switch ev {
	case models.EventContractAccepted:
		if payload.Contract == nil {
			return false
		}
		s.mergeContract(*payload.Contract)
		return true

	case models.EventNextStep:
		// Advance to Result is an explicit UI step change; the finalize guard
		// protects Done.
		s.stage = models.StageResult
		return true
	}
	return false
}

func (s *Session) mergeContract(in models.ContractData) {
	if in.ContractAccepted {
		s.contract.ContractAccepted = true
	}
	if in.SignatureRef != "" {
		s.contract.SignatureRef = in.SignatureRef
	}
	if in.SMSPhone != "" {
		s.contract.SMSPhone = in.SMSPhone
	}
	if in.SMSSent {
		s.contract.SMSSent = true
	}
	if in.SMSVerified {
		s.contract.SMSVerified = true
	}
}

func (s *Session) dispatchResult(ev models.Event, payload EventPayload) bool {
	switch ev {
	case models.EventSetResult:
		if payload.Result == nil {
			return false
		}
		if err := payload.Result.Validate(); err != nil {
			slog.Warn("Session SET_RESULT invalid result", "visitID", s.visitID, "error", err)
			return false
		}
		s.mergeResult(*payload.Result)
		return true

	case models.EventFinalize:
		if !CanFinalize(s.contract, s.result, s.oor) {
			return false
		}
		s.stage = models.StageDone
		slog.Info("Session finalized", "visitID", s.visitID, "status", s.result.Status)
		return true
	}
	return false
}

func (s *Session) mergeResult(in models.ResultData) {
	if in.Status != "" {
		s.result.Status = in.Status
	}
	if in.Notes != "" {
		s.result.Notes = in.Notes
	}
	if in.RevenueAmount != 0 {
		s.result.RevenueAmount = in.RevenueAmount
	}
}

// Back navigates one stage backwards. Navigation never leaves Done, never
// goes before Customer, and returns false when no move was made.
func (s *Session) Back() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev models.Stage
	switch s.stage {
	case models.StageKYC:
		prev = models.StageCustomer
	case models.StageContract:
		prev = models.StageKYC
	case models.StageResult:
		prev = models.StageContract
	default:
		return false
	}
	s.stage = prev
	s.updatedAt = time.Now()
	slog.Debug("Session back-navigation", "visitID", s.visitID, "stage", prev)
	return true
}

// Record builds the finalized visit record. Valid only in the Done stage;
// returns nil otherwise.
func (s *Session) Record() *models.VisitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != models.StageDone {
		return nil
	}
	return &models.VisitRecord{
		VisitID:     s.visitID,
		SalesRepID:  s.salesRepID,
		CustomerID:  s.customer.CustomerID,
		Status:      s.result.Status,
		Notes:       s.result.Notes,
		Revenue:     s.result.RevenueAmount,
		OutOfRegion: s.oor.IsOutOfRegion,
		FinalizedAt: s.updatedAt,
	}
}
