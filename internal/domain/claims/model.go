package claims

import (
	"time"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/platform/apperr"
)

// Status is the claim lifecycle status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPaid      Status = "paid"
	StatusPartial   Status = "partial"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
)

// transitions is the full status graph. Paid and cancelled are terminal.
// Denied claims may return to submitted through resubmission.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted, StatusCancelled},
	StatusSubmitted: {StatusPending, StatusAccepted, StatusPaid, StatusPartial, StatusDenied, StatusCancelled},
	StatusPending:   {StatusAccepted, StatusPaid, StatusPartial, StatusDenied, StatusCancelled},
	StatusAccepted:  {StatusPaid, StatusPartial, StatusDenied, StatusCancelled},
	StatusPartial:   {StatusPaid, StatusDenied, StatusCancelled},
	StatusDenied:    {StatusSubmitted, StatusCancelled},
	StatusPaid:      {},
	StatusCancelled: {},
}

// CanTransition reports whether the status graph permits from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Payable reports whether a remittance payment may be applied.
func (s Status) Payable() bool {
	switch s {
	case StatusSubmitted, StatusPending, StatusAccepted, StatusPartial:
		return true
	}
	return false
}

func validStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// Claim maps to the claims table. PaidAmount accumulates across
// remittance postings; a claim paid over two remittance batches carries
// the sum.
type Claim struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	ClaimNumber           string     `db:"claim_number" json:"claim_number"`
	PatientID             uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName           string     `db:"patient_name" json:"patient_name"`
	InvoiceID             uuid.UUID  `db:"invoice_id" json:"invoice_id"`
	InsuranceCompanyID    *uuid.UUID `db:"insurance_company_id" json:"insurance_company_id,omitempty"`
	ProviderID            *uuid.UUID `db:"provider_id" json:"provider_id,omitempty"`
	PolicyNumber          *string    `db:"policy_number" json:"policy_number,omitempty"`
	Status                Status     `db:"status" json:"status"`
	SubmittedAmount       float64    `db:"submitted_amount" json:"submitted_amount"`
	PaidAmount            float64    `db:"paid_amount" json:"paid_amount"`
	PatientResponsibility float64    `db:"patient_responsibility" json:"patient_responsibility"`
	DiagnosisCodes        []string   `db:"diagnosis_codes" json:"diagnosis_codes"`
	ProcedureCodes        []string   `db:"procedure_codes" json:"procedure_codes"`
	ServiceDate           *time.Time `db:"service_date" json:"service_date,omitempty"`
	SubmissionDate        *time.Time `db:"submission_date" json:"submission_date,omitempty"`
	PaidDate              *time.Time `db:"paid_date" json:"paid_date,omitempty"`
	DeniedDate            *time.Time `db:"denied_date" json:"denied_date,omitempty"`
	DenialReason          *string    `db:"denial_reason" json:"denial_reason,omitempty"`
	Notes                 *string    `db:"notes" json:"notes,omitempty"`
	VersionID             int        `db:"version_id" json:"version_id"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// StatusHistoryEntry is one row of the append-only claim status log.
type StatusHistoryEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ClaimID    uuid.UUID `db:"claim_id" json:"claim_id"`
	FromStatus Status    `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	Note       *string   `db:"note" json:"note,omitempty"`
	ChangedBy  *string   `db:"changed_by" json:"changed_by,omitempty"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

// Document is a file attached to a claim, stored inline.
type Document struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ClaimID     uuid.UUID `db:"claim_id" json:"claim_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	Data        []byte    `db:"data" json:"-"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// ValidationResult is the outcome of the pre-submission checks. Errors
// block submission; warnings do not.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []apperr.FieldError `json:"errors"`
	Warnings []apperr.FieldError `json:"warnings"`
}

// Filter narrows claim listings.
type Filter struct {
	PatientID          *uuid.UUID
	InvoiceID          *uuid.UUID
	InsuranceCompanyID *uuid.UUID
	Status             *Status
}
