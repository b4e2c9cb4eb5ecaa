// Package api provides HTTP handlers for VisitPipe endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/store"
	"github.com/fieldops/VisitPipe/internal/visit"
)

// EventBack is the pseudo-event for one-stage back navigation. It is handled
// by the events endpoint but never enters the state machine's dispatch table.
const EventBack models.Event = "BACK"

type startVisitRequest struct {
	SalesRepID string `json:"sales_rep_id"`
}

func (s *Server) startVisitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startVisitHandler: processing start request", "method", r.Method, "path", r.URL.Path)

	var req startVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startVisitHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SalesRepID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: sales_rep_id"))
		return
	}

	session, err := s.registry.StartVisit(r.Context(), req.SalesRepID)
	if err != nil {
		slog.Error("Server.startVisitHandler: failed to start visit", "error", err, "salesRepID", req.SalesRepID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start visit"))
		return
	}

	slog.Info("Server.startVisitHandler: visit started", "visitID", session.VisitID(), "salesRepID", req.SalesRepID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Visit started", map[string]interface{}{
		"visit_id": session.VisitID(),
		"stage":    session.Stage(),
	}))
}

// visitSnapshotView decorates a session snapshot with its current guard states
// so the client can enable or disable stage navigation without re-deriving the
// rules.
type visitSnapshotView struct {
	visit.Snapshot
	Guards map[string]bool `json:"guards"`
}

func snapshotView(snap visit.Snapshot) visitSnapshotView {
	return visitSnapshotView{
		Snapshot: snap,
		Guards: map[string]bool{
			"can_advance_to_kyc": visit.CanAdvanceToKYC(snap.Customer, snap.OOR),
			"kyc_complete":       visit.KYCComplete(snap.Customer.Type, snap.KYC),
			"contract_confirmed": visit.ContractConfirmed(snap.Contract),
			"can_finalize":       visit.CanFinalize(snap.Contract, snap.Result, snap.OOR),
		},
	}
}

func (s *Server) getVisitHandler(w http.ResponseWriter, r *http.Request) {
	visitID := r.PathValue("id")
	slog.Debug("Server.getVisitHandler: processing get request", "visitID", visitID)

	session := s.registry.Get(visitID)
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Visit not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(snapshotView(session.Snapshot())))
}

type visitEventRequest struct {
	Event   models.Event       `json:"event"`
	Payload visit.EventPayload `json:"payload"`
}

func (s *Server) visitEventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	visitID := r.PathValue("id")
	slog.Debug("Server.visitEventHandler: processing event", "visitID", visitID)

	session := s.registry.Get(visitID)
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Visit not found"))
		return
	}

	var req visitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.visitEventHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if req.Event == EventBack {
		applied := session.Back()
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
			"applied": applied,
			"stage":   session.Stage(),
		}))
		return
	}
	if !models.IsValidEvent(req.Event) {
		slog.Warn("Server.visitEventHandler: unknown event", "visitID", visitID, "event", req.Event)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown event"))
		return
	}

	applied := session.Dispatch(r.Context(), req.Event, req.Payload)

	// Finalization persists the record and retires the session. The write
	// goes through the sync queue so an offline finalize survives restart.
	if applied && req.Event == models.EventFinalize {
		if err := s.finalizeVisit(r, session); err != nil {
			slog.Error("Server.visitEventHandler: failed to persist finalized visit", "error", err, "visitID", visitID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to persist finalized visit"))
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"applied": applied,
		"stage":   session.Stage(),
	}))
}

// finalizeVisit queues the visit record for persistence, clears the contract
// draft, and removes the session from the registry.
func (s *Server) finalizeVisit(r *http.Request, session *visit.Session) error {
	record := session.Record()
	if record == nil {
		return errors.New("session is not finalized")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := s.queue.Add(r.Context(), models.OperationVisitFinalize, string(payload)); err != nil {
		return err
	}

	visitID := session.VisitID()
	if err := s.saverFor(visitID).DeleteDraft(); err != nil {
		slog.Warn("Server.finalizeVisit: draft cleanup failed", "error", err, "visitID", visitID)
	}
	s.dropSaver(visitID)
	s.registry.Remove(visitID)
	slog.Info("Server.finalizeVisit: visit finalized", "visitID", visitID, "status", record.Status)
	return nil
}

type oorRequest struct {
	ActorID string `json:"actor_id"`
}

func (s *Server) oorRequestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	visitID := r.PathValue("id")
	slog.Debug("Server.oorRequestHandler: processing approval request", "visitID", visitID)

	session := s.registry.Get(visitID)
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Visit not found"))
		return
	}

	var req oorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.oorRequestHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	applied := session.Dispatch(r.Context(), models.EventOORApprovalRequested, visit.EventPayload{ActorID: req.ActorID})
	if !applied {
		writeJSONResponse(w, http.StatusConflict, models.Error("Visit is not awaiting out-of-region approval"))
		return
	}

	snap := session.Snapshot()
	if err := s.approver.Request(r.Context(), visitID, snap.SalesRepID, snap.OOR.CustomerDistrict); err != nil {
		slog.Error("Server.oorRequestHandler: failed to file approval request", "error", err, "visitID", visitID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to file approval request"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Approval requested", nil))
}

func (s *Server) oorApproveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	visitID := r.PathValue("id")
	slog.Debug("Server.oorApproveHandler: processing approval", "visitID", visitID)

	session := s.registry.Get(visitID)
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Visit not found"))
		return
	}

	var req oorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.oorApproveHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	applied := session.Dispatch(r.Context(), models.EventOORApproved, visit.EventPayload{ActorID: req.ActorID})
	if !applied {
		writeJSONResponse(w, http.StatusConflict, models.Error("Visit is not in the customer stage"))
		return
	}

	slog.Info("Server.oorApproveHandler: visit approved", "visitID", visitID, "approvedBy", req.ActorID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Approval granted", map[string]interface{}{
		"stage": session.Stage(),
	}))
}

func (s *Server) saveDraftHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	visitID := r.PathValue("id")
	slog.Debug("Server.saveDraftHandler: processing save", "visitID", visitID)

	var d models.ContractDraft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		slog.Warn("Server.saveDraftHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	d.VisitID = visitID
	d.Refresh(time.Now())

	// Offline saves are queued for replay instead of written through.
	if !s.queue.Online() {
		payload, err := json.Marshal(d)
		if err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to encode draft"))
			return
		}
		opID, err := s.queue.Add(r.Context(), models.OperationDraftSave, string(payload))
		if err != nil {
			slog.Error("Server.saveDraftHandler: failed to queue draft save", "error", err, "visitID", visitID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to queue draft save"))
			return
		}
		writeJSONResponse(w, http.StatusAccepted, models.RecordedWithMessage("Draft queued for sync: "+opID))
		return
	}

	saver := s.saverFor(visitID)
	saver.Update(d)
	if err := saver.ManualSave(); err != nil {
		slog.Error("Server.saveDraftHandler: save failed", "error", err, "visitID", visitID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save draft"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Draft saved", map[string]interface{}{
		"completion": d.ComputeCompletion(),
		"stage":      d.DeriveStage(),
	}))
}

func (s *Server) getDraftHandler(w http.ResponseWriter, r *http.Request) {
	visitID := r.PathValue("id")
	slog.Debug("Server.getDraftHandler: processing load", "visitID", visitID)

	d, err := s.saverFor(visitID).LoadDraft(visitID)
	if err != nil {
		slog.Error("Server.getDraftHandler: load failed", "error", err, "visitID", visitID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load draft"))
		return
	}
	if d == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Draft not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(d))
}

func (s *Server) deleteDraftHandler(w http.ResponseWriter, r *http.Request) {
	visitID := r.PathValue("id")
	slog.Debug("Server.deleteDraftHandler: processing delete", "visitID", visitID)

	saver := s.saverFor(visitID)
	// Adopt any persisted draft so delete targets the stored record even when
	// this saver instance never saved.
	if _, err := saver.LoadDraft(visitID); err != nil {
		slog.Error("Server.deleteDraftHandler: lookup failed", "error", err, "visitID", visitID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete draft"))
		return
	}
	if err := saver.DeleteDraft(); err != nil {
		slog.Error("Server.deleteDraftHandler: delete failed", "error", err, "visitID", visitID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete draft"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Draft deleted", nil))
}

type otpSendRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) otpSendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.otpSendHandler: processing send", "method", r.Method)

	var req otpSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.otpSendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.otp.Send(r.Context(), req.Phone); err != nil {
		if errors.Is(err, models.ErrEmptyPhone) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.otpSendHandler: failed to send code", "error", err, "phone", req.Phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send verification code"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Verification code sent", nil))
}

type otpVerifyRequest struct {
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	VisitID string `json:"visit_id,omitempty"`
}

func (s *Server) otpVerifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.otpVerifyHandler: processing verify", "method", r.Method)

	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.otpVerifyHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := s.otp.Verify(req.Phone, req.Code); err != nil {
		slog.Warn("Server.otpVerifyHandler: verification failed", "error", err, "phone", req.Phone)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error(err.Error()))
		return
	}

	// When the verification belongs to a visit, record it on the session's
	// stage-appropriate data block.
	if req.VisitID != "" {
		s.markSessionVerified(r, req.VisitID)
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Phone verified", nil))
}

func (s *Server) markSessionVerified(r *http.Request, visitID string) {
	session := s.registry.Get(visitID)
	if session == nil {
		return
	}
	switch session.Stage() {
	case models.StageKYC:
		session.Dispatch(r.Context(), models.EventSetKYC, visit.EventPayload{
			KYC: &models.KYCData{SMSVerified: true},
		})
	case models.StageContract:
		session.Dispatch(r.Context(), models.EventContractAccepted, visit.EventPayload{
			Contract: &models.ContractData{SMSVerified: true},
		})
	default:
		slog.Debug("Server.markSessionVerified: no stage to record verification", "visitID", visitID, "stage", session.Stage())
	}
}

func (s *Server) queueStatusHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.queueStatusHandler: processing status request")
	writeJSONResponse(w, http.StatusOK, models.Success(s.queue.Status()))
}

func (s *Server) queueSyncHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.queueSyncHandler: processing manual sync")
	if !s.queue.Online() {
		writeJSONResponse(w, http.StatusConflict, models.Error("Cannot sync while offline"))
		return
	}
	go s.queue.ManualSync(context.WithoutCancel(r.Context()))
	writeJSONResponse(w, http.StatusAccepted, models.RecordedWithMessage("Sync started"))
}

type queueOnlineRequest struct {
	Online bool `json:"online"`
}

func (s *Server) queueOnlineHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.queueOnlineHandler: processing connectivity change")

	var req queueOnlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.queueOnlineHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.queue.SetOnline(context.WithoutCancel(r.Context()), req.Online)
	writeJSONResponse(w, http.StatusOK, models.Success(s.queue.Status()))
}

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("rep")
	slog.Debug("Server.notificationsHandler: processing list", "recipient", recipient)
	if recipient == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required parameter: rep"))
		return
	}

	notifications, err := s.st.ListUnreadNotifications(recipient)
	if err != nil {
		slog.Error("Server.notificationsHandler: list failed", "error", err, "recipient", recipient)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch notifications"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(notifications))
}

func (s *Server) notificationReadHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.notificationReadHandler: processing mark read", "id", id)

	if err := s.st.MarkNotificationRead(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Notification not found"))
			return
		}
		slog.Error("Server.notificationReadHandler: mark read failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to mark notification read"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Notification marked read", nil))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_sessions": s.registry.Count(),
		"queue":           s.queue.Status(),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
