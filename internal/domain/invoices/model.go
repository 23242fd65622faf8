package invoices

import (
	"time"

	"github.com/google/uuid"
)

// Status is the invoice lifecycle status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusPartial   Status = "partial"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusDraft: true, StatusPending: true, StatusSent: true, StatusPaid: true,
	StatusPartial: true, StatusOverdue: true, StatusCancelled: true,
}

// Closed reports whether the invoice can no longer accept payments.
func (s Status) Closed() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Invoice maps to the invoice table. BalanceDue is derived: it is
// recomputed whenever a payment referencing the invoice is created or
// voided, and never edited directly.
type Invoice struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	InvoiceNumber      string     `db:"invoice_number" json:"invoice_number"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProviderID         *uuid.UUID `db:"provider_id" json:"provider_id,omitempty"`
	InsuranceCompanyID *uuid.UUID `db:"insurance_company_id" json:"insurance_company_id,omitempty"`
	AppointmentID      *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Status             Status     `db:"status" json:"status"`
	TotalAmount        float64    `db:"total_amount" json:"total_amount"`
	BalanceDue         float64    `db:"balance_due" json:"balance_due"`
	DueDate            *time.Time `db:"due_date" json:"due_date,omitempty"`
	Notes              *string    `db:"notes" json:"notes,omitempty"`
	VersionID          int        `db:"version_id" json:"version_id"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// LineItem maps to the invoice_line_item table.
type LineItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Description string    `db:"description" json:"description"`
	ServiceCode *string   `db:"service_code" json:"service_code,omitempty"`
	Quantity    float64   `db:"quantity" json:"quantity"`
	UnitPrice   float64   `db:"unit_price" json:"unit_price"`
	Amount      float64   `db:"amount" json:"amount"`
}

// Update carries the fields an invoice edit may change. Nil fields keep
// their current value. Totals, balance, and status are derived and have
// no place here.
type Update struct {
	DueDate            *time.Time `json:"due_date"`
	Notes              *string    `json:"notes"`
	ProviderID         *uuid.UUID `json:"provider_id"`
	InsuranceCompanyID *uuid.UUID `json:"insurance_company_id"`
}

// PatientBalance aggregates financial figures across all of a patient's
// invoices. Outstanding and AccountCredit are computed per invoice and
// summed: an individual invoice contributes to exactly one of the two.
type PatientBalance struct {
	PatientID     uuid.UUID `json:"patient_id"`
	TotalBilled   float64   `json:"total_billed"`
	TotalPaid     float64   `json:"total_paid"`
	Outstanding   float64   `json:"outstanding"`
	AccountCredit float64   `json:"account_credit"`
	InvoiceCount  int       `json:"invoice_count"`
}

// Filter narrows invoice listings.
type Filter struct {
	PatientID          *uuid.UUID
	ProviderID         *uuid.UUID
	InsuranceCompanyID *uuid.UUID
	Status             *Status
}
