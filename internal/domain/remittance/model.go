package remittance

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks a remittance file through its lifecycle.
type BatchStatus string

const (
	// StatusImported means every parsed line matched but nothing has
	// been posted yet.
	StatusImported BatchStatus = "imported"
	// StatusProcessing means an auto-post run is underway.
	StatusProcessing BatchStatus = "processing"
	// StatusProcessed means every matched line posted successfully.
	StatusProcessed BatchStatus = "processed"
	// StatusPartial means some lines are unmatched, skipped, or failed
	// to post and need manual review.
	StatusPartial BatchStatus = "partial"
	// StatusError means the file could not be parsed at all.
	StatusError BatchStatus = "error"
)

// Batch is one imported remittance file.
type Batch struct {
	ID                 uuid.UUID   `db:"id" json:"id"`
	FileName           string      `db:"file_name" json:"file_name"`
	Format             string      `db:"format" json:"format"`
	PayerName          string      `db:"payer_name" json:"payer_name"`
	InsuranceCompanyID *uuid.UUID  `db:"insurance_company_id" json:"insurance_company_id,omitempty"`
	CheckNumber        *string     `db:"check_number" json:"check_number,omitempty"`
	RemittanceDate     *time.Time  `db:"remittance_date" json:"remittance_date,omitempty"`
	TotalAmount        float64     `db:"total_amount" json:"total_amount"`
	TotalRecords       int         `db:"total_records" json:"total_records"`
	MatchedCount       int         `db:"matched_count" json:"matched_count"`
	UnmatchedCount     int         `db:"unmatched_count" json:"unmatched_count"`
	SkippedCount       int         `db:"skipped_count" json:"skipped_count"`
	PostedCount        int         `db:"posted_count" json:"posted_count"`
	Status             BatchStatus `db:"status" json:"status"`
	ParseErrors        []string    `db:"parse_errors" json:"parse_errors,omitempty"`
	ImportedBy         *string     `db:"imported_by" json:"imported_by,omitempty"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

// LineItem is one payment advice line within a batch. A line targets a
// claim or an invoice, never both. Posted is one way: once a line has
// posted, re-running auto-post skips it.
type LineItem struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	BatchID               uuid.UUID  `db:"batch_id" json:"batch_id"`
	LineNumber            int        `db:"line_number" json:"line_number"`
	ClaimNumber           *string    `db:"claim_number" json:"claim_number,omitempty"`
	InvoiceNumber         *string    `db:"invoice_number" json:"invoice_number,omitempty"`
	PatientName           *string    `db:"patient_name" json:"patient_name,omitempty"`
	ServiceDate           *time.Time `db:"service_date" json:"service_date,omitempty"`
	BilledAmount          float64    `db:"billed_amount" json:"billed_amount"`
	PaidAmount            float64    `db:"paid_amount" json:"paid_amount"`
	PatientResponsibility float64    `db:"patient_responsibility" json:"patient_responsibility"`
	DenialCode            *string    `db:"denial_code" json:"denial_code,omitempty"`
	DenialReason          *string    `db:"denial_reason" json:"denial_reason,omitempty"`
	MatchedClaimID        *uuid.UUID `db:"matched_claim_id" json:"matched_claim_id,omitempty"`
	MatchedInvoiceID      *uuid.UUID `db:"matched_invoice_id" json:"matched_invoice_id,omitempty"`
	MatchConfidence       *float64   `db:"match_confidence" json:"match_confidence,omitempty"`
	Posted                bool       `db:"posted" json:"posted"`
	PostedAt              *time.Time `db:"posted_at" json:"posted_at,omitempty"`
	PaymentID             *uuid.UUID `db:"payment_id" json:"payment_id,omitempty"`
	PostError             *string    `db:"post_error" json:"post_error,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
}

// Matched reports whether the line is tied to a claim or invoice.
func (li *LineItem) Matched() bool {
	return li.MatchedClaimID != nil || li.MatchedInvoiceID != nil
}

// Denial reports whether the payer denied this line rather than paying it.
func (li *LineItem) Denial() bool {
	return li.DenialCode != nil || li.DenialReason != nil
}

// PostReport summarizes one auto-post run over a batch.
type PostReport struct {
	BatchID   uuid.UUID    `json:"batch_id"`
	Attempted int          `json:"attempted"`
	Posted    int          `json:"posted"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Failures  []LineResult `json:"failures,omitempty"`
}

// LineResult explains why one line did not post.
type LineResult struct {
	LineItemID uuid.UUID `json:"line_item_id"`
	LineNumber int       `json:"line_number"`
	Error      string    `json:"error"`
}
