package payments

import (
	"time"

	"github.com/google/uuid"
)

// Method is how a payment was tendered.
type Method string

const (
	MethodCash       Method = "cash"
	MethodCheck      Method = "check"
	MethodCreditCard Method = "credit_card"
	MethodACH        Method = "ach"
	MethodInsurance  Method = "insurance"
)

var validMethods = map[Method]bool{
	MethodCash: true, MethodCheck: true, MethodCreditCard: true,
	MethodACH: true, MethodInsurance: true,
}

// Source distinguishes who the money came from.
type Source string

const (
	SourcePatient   Source = "patient"
	SourceInsurance Source = "insurance"
)

var validSources = map[Source]bool{
	SourcePatient: true, SourceInsurance: true,
}

// Payment maps to the payments table. Payments are never deleted or
// edited once recorded; a mistaken payment is voided, which clears
// Active and excludes the row from every balance computation while
// preserving it for audit.
type Payment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	InvoiceID       uuid.UUID  `db:"invoice_id" json:"invoice_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	Amount          float64    `db:"amount" json:"amount"`
	Method          Method     `db:"method" json:"method"`
	Source          Source     `db:"source" json:"source"`
	ReferenceNumber *string    `db:"reference_number" json:"reference_number,omitempty"`
	PaymentDate     time.Time  `db:"payment_date" json:"payment_date"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	Active          bool       `db:"active" json:"active"`
	VoidedAt        *time.Time `db:"voided_at" json:"voided_at,omitempty"`
	VoidReason      *string    `db:"void_reason" json:"void_reason,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Filter narrows payment listings.
type Filter struct {
	InvoiceID  *uuid.UUID
	PatientID  *uuid.UUID
	Source     *Source
	ActiveOnly bool
}
