// Package models defines the core data structures for VisitPipe.
//
// It includes types for visit sessions, contract drafts, and queued sync
// operations, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// CustomerType distinguishes individual from organizational customers.
type CustomerType string

const (
	// CustomerTypeIndividual is a private residential customer.
	CustomerTypeIndividual CustomerType = "individual"
	// CustomerTypeOrganization is a business/organizational customer.
	CustomerTypeOrganization CustomerType = "organization"
)

// IsValidCustomerType checks if the given customer type is supported.
func IsValidCustomerType(ct CustomerType) bool {
	switch ct {
	case CustomerTypeIndividual, CustomerTypeOrganization:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxNotesLength defines the maximum allowed length for free-text visit notes
	MaxNotesLength = 4096
	// MaxNameLength defines the maximum allowed length for customer and representative names
	MaxNameLength = 200
	// MinPhoneDigits defines the minimum number of digits for a phone number
	MinPhoneDigits = 6
)

// Error variables for better error handling and testability
var (
	ErrEmptyCustomerName    = errors.New("customer name cannot be empty")
	ErrInvalidCustomerType  = errors.New("invalid customer type")
	ErrEmptyDistrict        = errors.New("customer district cannot be empty")
	ErrNotesTooLong         = errors.New("notes exceed maximum length")
	ErrNameTooLong          = errors.New("name exceeds maximum length")
	ErrInvalidResultStatus  = errors.New("invalid visit result status")
	ErrEmptyVisitID         = errors.New("visit id cannot be empty")
	ErrEmptyPhone           = errors.New("phone number cannot be empty")
	ErrPhoneTooShort        = errors.New("phone number is too short")
	ErrEmptySalesRepID      = errors.New("sales rep id cannot be empty")
	ErrUnknownOperationKind = errors.New("unknown queued operation kind")
)

// CustomerSnapshot is an immutable copy of customer identity captured when a
// visit enters the Customer stage.
type CustomerSnapshot struct {
	CustomerID string       `json:"customer_id"`
	Name       string       `json:"name"`
	Type       CustomerType `json:"type"`
	Address    string       `json:"address,omitempty"`
	District   string       `json:"district"`
	Phone      string       `json:"phone,omitempty"`
	TaxNumber  string       `json:"tax_number,omitempty"` // organizational customers only
}

// Validate performs validation on a CustomerSnapshot.
func (c *CustomerSnapshot) Validate() error {
	if c.Name == "" {
		return ErrEmptyCustomerName
	}
	if len(c.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	if !IsValidCustomerType(c.Type) {
		return ErrInvalidCustomerType
	}
	if c.District == "" {
		return ErrEmptyDistrict
	}
	return nil
}

// KYCData holds the identity-verification outcome for a visit. Individual
// customers require KVKK consent and SMS verification; organizational
// customers require representative details and consent.
type KYCData struct {
	KVKKAccepted          bool   `json:"kvkk_accepted"`
	SMSVerified           bool   `json:"sms_verified"`
	RepresentativeName    string `json:"representative_name,omitempty"`
	RepresentativePhone   string `json:"representative_phone,omitempty"`
	RepresentativeConsent bool   `json:"representative_consent,omitempty"`
}

// ContractData holds contract-acceptance state for a visit.
type ContractData struct {
	ContractAccepted bool   `json:"contract_accepted"`
	SignatureRef     string `json:"signature_ref,omitempty"`
	SMSPhone         string `json:"sms_phone,omitempty"`
	SMSSent          bool   `json:"sms_sent"`
	SMSVerified      bool   `json:"sms_verified"`
}

// VisitResultStatus is the terminal outcome tag of a visit.
type VisitResultStatus string

const (
	// VisitResultCompleted indicates a signed, confirmed contract.
	VisitResultCompleted VisitResultStatus = "completed"
	// VisitResultRejected indicates the customer declined.
	VisitResultRejected VisitResultStatus = "rejected"
	// VisitResultNoAnswer indicates nobody answered the door.
	VisitResultNoAnswer VisitResultStatus = "no_answer"
	// VisitResultCancelled indicates the agent cancelled the visit.
	VisitResultCancelled VisitResultStatus = "cancelled"
)

// IsValidResultStatus checks if the given result status is supported.
func IsValidResultStatus(s VisitResultStatus) bool {
	switch s {
	case VisitResultCompleted, VisitResultRejected, VisitResultNoAnswer, VisitResultCancelled:
		return true
	default:
		return false
	}
}

// ResultData holds the terminal outcome of a visit.
type ResultData struct {
	Status        VisitResultStatus `json:"status,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	RevenueAmount float64           `json:"revenue_amount,omitempty"`
}

// Validate performs validation on ResultData.
func (r *ResultData) Validate() error {
	if r.Status != "" && !IsValidResultStatus(r.Status) {
		return ErrInvalidResultStatus
	}
	if len(r.Notes) > MaxNotesLength {
		return ErrNotesTooLong
	}
	return nil
}

// OORData tracks out-of-region state for a visit. A visit whose customer
// district differs from the rep's assigned region cannot finalize until a
// manager grants approval.
type OORData struct {
	IsOutOfRegion     bool   `json:"is_out_of_region"`
	CustomerDistrict  string `json:"customer_district,omitempty"`
	RepRegion         string `json:"rep_region,omitempty"`
	ApprovalRequested bool   `json:"approval_requested"`
	ApprovalGranted   bool   `json:"approval_granted"`
	RequestedBy       string `json:"requested_by,omitempty"`
	ApprovedBy        string `json:"approved_by,omitempty"`
}

// VisitRecord is a finalized visit persisted to the store.
type VisitRecord struct {
	VisitID     string            `json:"visit_id"`
	SalesRepID  string            `json:"sales_rep_id"`
	CustomerID  string            `json:"customer_id"`
	Status      VisitResultStatus `json:"status"`
	Notes       string            `json:"notes,omitempty"`
	Revenue     float64           `json:"revenue,omitempty"`
	OutOfRegion bool              `json:"out_of_region"`
	FinalizedAt time.Time         `json:"finalized_at"`
}

// SalesRep represents a sales representative and their assigned region.
type SalesRep struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Region string `json:"region"`
}

// NotificationStatus represents the read state of a notification.
type NotificationStatus string

const (
	NotificationStatusUnread NotificationStatus = "unread"
	NotificationStatusRead   NotificationStatus = "read"
)

// NotificationKindOORApproval marks OOR approval request notifications.
const NotificationKindOORApproval = "oor_approval_request"

// Notification is a message for a manager or rep, e.g. an OOR approval request.
type Notification struct {
	ID          string             `json:"id"`
	RecipientID string             `json:"recipient_id"`
	Kind        string             `json:"kind"`
	Title       string             `json:"title"`
	Body        string             `json:"body,omitempty"`
	VisitID     string             `json:"visit_id,omitempty"`
	Status      NotificationStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

// AuditEntry records an action against a visit, e.g. a draft save.
type AuditEntry struct {
	ID          string    `json:"id"`
	VisitID     string    `json:"visit_id"`
	SalesRepID  string    `json:"sales_rep_id,omitempty"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	Completion  int       `json:"completion,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NormalizeDistrict canonicalizes a district name for comparison.
func NormalizeDistrict(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
