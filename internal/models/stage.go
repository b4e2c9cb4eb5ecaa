// Package models defines stage and event types for the visit flow.
package models

// Stage represents a step in the visit flow.
type Stage string

// Stages of a visit, in order.
const (
	StageSetup    Stage = "SETUP"
	StageCustomer Stage = "CUSTOMER"
	StageKYC      Stage = "KYC"
	StageContract Stage = "CONTRACT"
	StageResult   Stage = "RESULT"
	StageDone     Stage = "DONE"
)

// Event represents a dispatchable visit flow event.
type Event string

// Events accepted by the visit flow.
const (
	EventStartVisit           Event = "START_VISIT"
	EventSetCustomer          Event = "SET_CUSTOMER"
	EventOORApprovalRequested Event = "OOR_APPROVAL_REQUESTED"
	EventOORApproved          Event = "OOR_APPROVED"
	EventSetKYC               Event = "SET_KYC"
	EventKYCOk                Event = "KYC_OK"
	EventContractAccepted     Event = "CONTRACT_ACCEPTED"
	EventSetResult            Event = "SET_RESULT"
	EventNextStep             Event = "NEXT_STEP"
	EventFinalize             Event = "FINALIZE"
)

// IsValidEvent checks if the given event is supported.
func IsValidEvent(ev Event) bool {
	switch ev {
	case EventStartVisit, EventSetCustomer, EventOORApprovalRequested,
		EventOORApproved, EventSetKYC, EventKYCOk, EventContractAccepted,
		EventSetResult, EventNextStep, EventFinalize:
		return true
	default:
		return false
	}
}
