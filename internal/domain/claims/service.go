package claims

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medbill/medbill/internal/platform/apperr"
)

// ResubmissionKind distinguishes the two ways a denied claim returns to
// the payer.
type ResubmissionKind string

const (
	ResubmitCorrection ResubmissionKind = "correction"
	ResubmitAppeal     ResubmissionKind = "appeal"
)

// Service holds claim business logic.
type Service struct {
	repo       Repository
	invoiceSrc InvoiceSource
}

func NewService(repo Repository, invoiceSrc InvoiceSource) *Service {
	return &Service{repo: repo, invoiceSrc: invoiceSrc}
}

// Create stores a new draft claim. Full validation happens at submission;
// creation only requires the identifiers that cannot be added later.
func (s *Service) Create(ctx context.Context, c *Claim) error {
	var fields []apperr.FieldError
	if c.PatientID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "patient_id", Message: "patient_id is required"})
	}
	if c.InvoiceID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "invoice_id", Message: "invoice_id is required"})
	}
	if len(fields) > 0 {
		return apperr.NewValidation("claim is invalid", fields)
	}
	if c.ClaimNumber == "" {
		c.ClaimNumber = "CLM-" + time.Now().Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:8])
	}
	c.Status = StatusDraft
	c.PaidAmount = 0
	if err := s.repo.Create(ctx, c); err != nil {
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("claim", id)
	}
	return c, err
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Claim, int, error) {
	if f.Status != nil && !validStatus(*f.Status) {
		return nil, 0, apperr.NewValidation("invalid filter", []apperr.FieldError{
			{Field: "status", Message: fmt.Sprintf("unknown status %q", *f.Status)},
		})
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) GetHistory(ctx context.Context, claimID uuid.UUID) ([]*StatusHistoryEntry, error) {
	if _, err := s.Get(ctx, claimID); err != nil {
		return nil, err
	}
	return s.repo.GetHistory(ctx, claimID)
}

// Update edits a draft or denied claim. Claims in flight with the payer
// are immutable except through status operations.
func (s *Service) Update(ctx context.Context, c *Claim) error {
	existing, err := s.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing.Status != StatusDraft && existing.Status != StatusDenied {
		return apperr.Conflict("claim %s is %s and cannot be edited", existing.ClaimNumber, existing.Status)
	}
	// identity and money-in columns never change through edits
	c.ClaimNumber = existing.ClaimNumber
	c.Status = existing.Status
	c.PaidAmount = existing.PaidAmount
	if err := s.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	return nil
}

// Validate runs the pre-submission checks without changing the claim.
func (s *Service) Validate(ctx context.Context, id uuid.UUID) (*ValidationResult, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.validate(ctx, c)
}

// Submit moves a draft claim to submitted. The claim must pass
// validation; errors come back as a ValidationError carrying every
// failed check.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, changedBy string) (*Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusDraft {
		return nil, apperr.Conflict("claim %s is %s; only draft claims can be submitted", c.ClaimNumber, c.Status)
	}
	res, err := s.validate(ctx, c)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, apperr.NewValidation("claim failed validation", res.Errors)
	}
	return s.transition(ctx, c, StatusSubmitted, nil, changedBy, func(c *Claim) {
		now := time.Now()
		c.SubmissionDate = &now
	})
}

// Resubmit returns a denied claim to the payer, either as a correction
// or an appeal. A note explaining the change is mandatory and the claim
// must pass validation again.
func (s *Service) Resubmit(ctx context.Context, id uuid.UUID, kind ResubmissionKind, note, changedBy string) (*Claim, error) {
	if kind != ResubmitCorrection && kind != ResubmitAppeal {
		return nil, apperr.NewValidation("resubmission is invalid", []apperr.FieldError{
			{Field: "kind", Message: fmt.Sprintf("kind must be %q or %q", ResubmitCorrection, ResubmitAppeal)},
		})
	}
	if strings.TrimSpace(note) == "" {
		return nil, apperr.NewValidation("resubmission is invalid", []apperr.FieldError{
			{Field: "note", Message: "a note describing the " + string(kind) + " is required"},
		})
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusDenied {
		return nil, apperr.Conflict("claim %s is %s; only denied claims can be resubmitted", c.ClaimNumber, c.Status)
	}
	res, err := s.validate(ctx, c)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, apperr.NewValidation("claim failed validation", res.Errors)
	}
	historyNote := fmt.Sprintf("%s: %s", kind, note)
	return s.transition(ctx, c, StatusSubmitted, &historyNote, changedBy, func(c *Claim) {
		now := time.Now()
		c.SubmissionDate = &now
		c.DenialReason = nil
		c.DeniedDate = nil
	})
}

// Cancel withdraws a claim from any non-terminal status.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, note, changedBy string) (*Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StatusCancelled) {
		return nil, apperr.Conflict("claim %s is %s and cannot be cancelled", c.ClaimNumber, c.Status)
	}
	var notePtr *string
	if strings.TrimSpace(note) != "" {
		notePtr = &note
	}
	return s.transition(ctx, c, StatusCancelled, notePtr, changedBy, nil)
}

// RecordExternalStatus applies a status reported by the payer, for
// example from a clearinghouse acknowledgment. Denials go through Deny
// so the reason is captured.
func (s *Service) RecordExternalStatus(ctx context.Context, id uuid.UUID, to Status, note, changedBy string) (*Claim, error) {
	if !validStatus(to) {
		return nil, apperr.NewValidation("status is invalid", []apperr.FieldError{
			{Field: "status", Message: fmt.Sprintf("unknown status %q", to)},
		})
	}
	if to == StatusDenied {
		return s.Deny(ctx, id, note, changedBy)
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, to) {
		return nil, apperr.Conflict("claim %s cannot move from %s to %s", c.ClaimNumber, c.Status, to)
	}
	var notePtr *string
	if strings.TrimSpace(note) != "" {
		notePtr = &note
	}
	return s.transition(ctx, c, to, notePtr, changedBy, nil)
}

// Deny marks a claim denied with the payer's reason.
func (s *Service) Deny(ctx context.Context, id uuid.UUID, reason, changedBy string) (*Claim, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.NewValidation("denial is invalid", []apperr.FieldError{
			{Field: "reason", Message: "a denial reason is required"},
		})
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StatusDenied) {
		return nil, apperr.Conflict("claim %s cannot move from %s to denied", c.ClaimNumber, c.Status)
	}
	return s.transition(ctx, c, StatusDenied, &reason, changedBy, func(c *Claim) {
		now := time.Now()
		c.DenialReason = &reason
		c.DeniedDate = &now
	})
}

// ApplyRemittancePayment records how much the payer paid on a claim and
// how much shifted to the patient, and derives the resulting status.
// PaidAmount accumulates, so a claim settled across two remittance
// batches ends at the summed figure. The claim becomes paid once the
// accumulated payments cover the submitted amount minus the patient
// responsibility; anything less is partial. The paid amount must be
// positive: a payer that sends zero money sends a denial, which goes
// through Deny instead.
//
// The caller is expected to run this inside a transaction; the claim row
// is locked so concurrent batch postings serialize.
func (s *Service) ApplyRemittancePayment(ctx context.Context, id uuid.UUID, paidAmount, patientResponsibility float64, note string) (*Claim, error) {
	var fields []apperr.FieldError
	if paidAmount <= 0 {
		fields = append(fields, apperr.FieldError{Field: "paid_amount", Message: "paid_amount must be positive"})
	}
	if patientResponsibility < 0 {
		fields = append(fields, apperr.FieldError{Field: "patient_responsibility", Message: "patient_responsibility cannot be negative"})
	}
	if len(fields) > 0 {
		return nil, apperr.NewValidation("remittance payment is invalid", fields)
	}

	c, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("claim", id)
		}
		return nil, fmt.Errorf("lock claim: %w", err)
	}
	if !c.Status.Payable() {
		return nil, apperr.Conflict("claim %s is %s and cannot receive payments", c.ClaimNumber, c.Status)
	}

	c.PaidAmount = math.Round((c.PaidAmount+paidAmount)*100) / 100
	c.PatientResponsibility = patientResponsibility

	to := StatusPartial
	if c.PaidAmount >= c.SubmittedAmount-c.PatientResponsibility-amountTolerance {
		to = StatusPaid
	}
	var notePtr *string
	if strings.TrimSpace(note) != "" {
		notePtr = &note
	}
	return s.transition(ctx, c, to, notePtr, "", func(c *Claim) {
		if to == StatusPaid {
			now := time.Now()
			c.PaidDate = &now
		}
	})
}

// transition writes the status change and its history entry atomically.
// mutate, when set, adjusts claim fields that travel with the change.
func (s *Service) transition(ctx context.Context, c *Claim, to Status, note *string, changedBy string, mutate func(*Claim)) (*Claim, error) {
	from := c.Status
	c.Status = to
	if mutate != nil {
		mutate(c)
	}
	entry := &StatusHistoryEntry{FromStatus: from, ToStatus: to, Note: note}
	if changedBy != "" {
		entry.ChangedBy = &changedBy
	}
	if err := s.repo.UpdateWithHistory(ctx, c, entry); err != nil {
		return nil, fmt.Errorf("transition claim to %s: %w", to, err)
	}
	return c, nil
}

// FindOpenByNumber resolves a claim number to an open claim. Used by
// remittance matching; claims in a terminal or draft status do not
// match.
func (s *Service) FindOpenByNumber(ctx context.Context, number string) (*Claim, error) {
	c, err := s.repo.GetByNumber(ctx, number)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !c.Status.Payable() {
		return nil, nil
	}
	return c, nil
}

// ListOpen returns payable claims for the remittance matcher.
func (s *Service) ListOpen(ctx context.Context, insuranceCompanyID *uuid.UUID) ([]*Claim, error) {
	return s.repo.ListOpen(ctx, insuranceCompanyID)
}

// -- Documents --

const maxDocumentBytes = 10 << 20

// AttachDocument stores a supporting file on a claim.
func (s *Service) AttachDocument(ctx context.Context, claimID uuid.UUID, d *Document) error {
	if _, err := s.Get(ctx, claimID); err != nil {
		return err
	}
	var fields []apperr.FieldError
	if strings.TrimSpace(d.FileName) == "" {
		fields = append(fields, apperr.FieldError{Field: "file_name", Message: "file_name is required"})
	}
	if len(d.Data) == 0 {
		fields = append(fields, apperr.FieldError{Field: "data", Message: "file is empty"})
	}
	if len(d.Data) > maxDocumentBytes {
		fields = append(fields, apperr.FieldError{Field: "data", Message: "file exceeds 10 MB"})
	}
	if len(fields) > 0 {
		return apperr.NewValidation("document is invalid", fields)
	}
	d.ClaimID = claimID
	d.SizeBytes = int64(len(d.Data))
	if d.ContentType == "" {
		d.ContentType = "application/octet-stream"
	}
	if err := s.repo.AddDocument(ctx, d); err != nil {
		return fmt.Errorf("attach document: %w", err)
	}
	return nil
}

func (s *Service) ListDocuments(ctx context.Context, claimID uuid.UUID) ([]*Document, error) {
	if _, err := s.Get(ctx, claimID); err != nil {
		return nil, err
	}
	return s.repo.GetDocuments(ctx, claimID)
}

func (s *Service) GetDocument(ctx context.Context, claimID, docID uuid.UUID) (*Document, error) {
	d, err := s.repo.GetDocument(ctx, claimID, docID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("document", docID)
	}
	return d, err
}

func (s *Service) RemoveDocument(ctx context.Context, claimID, docID uuid.UUID) error {
	err := s.repo.RemoveDocument(ctx, claimID, docID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("document", docID)
	}
	return err
}
