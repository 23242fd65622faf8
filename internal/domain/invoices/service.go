package invoices

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

// Service holds invoice business logic.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Create validates and persists a new invoice with its line items. The
// total is always computed from line items; a caller-supplied total is
// ignored. When no invoice number is supplied one is generated.
func (s *Service) Create(ctx context.Context, inv *Invoice, items []*LineItem) error {
	if inv.PatientID == uuid.Nil {
		return apperr.NewValidation("invoice is invalid", []apperr.FieldError{
			{Field: "patient_id", Message: "patient_id is required"},
		})
	}
	if inv.Status == "" {
		inv.Status = StatusDraft
	}
	if !validStatuses[inv.Status] {
		return apperr.NewValidation("invoice is invalid", []apperr.FieldError{
			{Field: "status", Message: fmt.Sprintf("unknown status %q", inv.Status)},
		})
	}
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = generateNumber(time.Now())
	}

	var total float64
	for i, li := range items {
		if strings.TrimSpace(li.Description) == "" {
			return apperr.NewValidation("invoice is invalid", []apperr.FieldError{
				{Field: fmt.Sprintf("line_items[%d].description", i), Message: "description is required"},
			})
		}
		if li.Quantity <= 0 {
			return apperr.NewValidation("invoice is invalid", []apperr.FieldError{
				{Field: fmt.Sprintf("line_items[%d].quantity", i), Message: "quantity must be positive"},
			})
		}
		li.Amount = round2(li.Quantity * li.UnitPrice)
		total += li.Amount
	}
	inv.TotalAmount = round2(total)
	inv.BalanceDue = inv.TotalAmount

	if err := s.repo.Create(ctx, inv); err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	for _, li := range items {
		li.InvoiceID = inv.ID
		if err := s.repo.AddLineItem(ctx, li); err != nil {
			return fmt.Errorf("add line item: %w", err)
		}
	}
	return nil
}

func generateNumber(now time.Time) string {
	return "INV-" + now.Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:8])
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice", id)
	}
	return inv, err
}

// FindOpenByNumber resolves an invoice number to an invoice still able
// to receive payments. Returns nil without error when the number is
// unknown or the invoice is closed.
func (s *Service) FindOpenByNumber(ctx context.Context, number string) (*Invoice, error) {
	inv, err := s.repo.GetByNumber(ctx, number)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if inv.Status.Closed() {
		return nil, nil
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	if f.Status != nil && !validStatuses[*f.Status] {
		return nil, 0, apperr.NewValidation("invalid filter", []apperr.FieldError{
			{Field: "status", Message: fmt.Sprintf("unknown status %q", *f.Status)},
		})
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	if _, err := s.Get(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.GetLineItems(ctx, invoiceID)
}

// AddLineItem appends a line item to an open invoice and recomputes the
// total and balance.
func (s *Service) AddLineItem(ctx context.Context, invoiceID uuid.UUID, li *LineItem) error {
	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status.Closed() {
		return apperr.Conflict("invoice %s is %s and cannot be modified", inv.InvoiceNumber, inv.Status)
	}
	if strings.TrimSpace(li.Description) == "" {
		return apperr.NewValidation("line item is invalid", []apperr.FieldError{
			{Field: "description", Message: "description is required"},
		})
	}
	if li.Quantity <= 0 {
		return apperr.NewValidation("line item is invalid", []apperr.FieldError{
			{Field: "quantity", Message: "quantity must be positive"},
		})
	}
	li.InvoiceID = invoiceID
	li.Amount = round2(li.Quantity * li.UnitPrice)
	if err := s.repo.AddLineItem(ctx, li); err != nil {
		return fmt.Errorf("add line item: %w", err)
	}
	_, err = s.RecomputeBalance(ctx, invoiceID)
	return err
}

// RemoveLineItem deletes a line item from an open invoice and recomputes
// the total and balance.
func (s *Service) RemoveLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) error {
	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status.Closed() {
		return apperr.Conflict("invoice %s is %s and cannot be modified", inv.InvoiceNumber, inv.Status)
	}
	if err := s.repo.RemoveLineItem(ctx, invoiceID, lineItemID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("line item", lineItemID)
		}
		return fmt.Errorf("remove line item: %w", err)
	}
	_, err = s.RecomputeBalance(ctx, invoiceID)
	return err
}

// Update edits the mutable invoice fields. Closed invoices reject
// edits; amounts and status can only change through line items and
// payments.
func (s *Service) Update(ctx context.Context, id uuid.UUID, upd Update) (*Invoice, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status.Closed() {
		return nil, apperr.Conflict("invoice %s is %s and cannot be modified", inv.InvoiceNumber, inv.Status)
	}
	if upd.DueDate != nil {
		inv.DueDate = upd.DueDate
	}
	if upd.Notes != nil {
		inv.Notes = upd.Notes
	}
	if upd.ProviderID != nil {
		inv.ProviderID = upd.ProviderID
	}
	if upd.InsuranceCompanyID != nil {
		inv.InsuranceCompanyID = upd.InsuranceCompanyID
	}
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	return inv, nil
}

// Cancel marks an invoice cancelled. Paid invoices cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusPaid {
		return nil, apperr.Conflict("invoice %s is paid and cannot be cancelled", inv.InvoiceNumber)
	}
	if inv.Status == StatusCancelled {
		return inv, nil
	}
	inv.Status = StatusCancelled
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("cancel invoice: %w", err)
	}
	return inv, nil
}

// MarkSent moves a draft or pending invoice to sent.
func (s *Service) MarkSent(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft && inv.Status != StatusPending {
		return nil, apperr.Conflict("invoice %s is %s and cannot be marked sent", inv.InvoiceNumber, inv.Status)
	}
	inv.Status = StatusSent
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("mark invoice sent: %w", err)
	}
	return inv, nil
}

// RecomputeBalance reloads the invoice, re-derives the total from its
// line items and the balance from active payments, and persists the
// result. Balance never goes below zero; an overpaid invoice carries a
// zero balance and the excess surfaces as account credit in the patient
// balance. Status follows the balance: fully covered invoices become
// paid, partially covered become partial, and an invoice whose payments
// were all voided reverts to sent. Cancelled invoices keep their status.
//
// Callers posting payments run this inside their transaction; the row
// lock from GetForUpdate serializes concurrent recomputes per invoice.
func (s *Service) RecomputeBalance(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("invoice", id)
		}
		return nil, fmt.Errorf("lock invoice: %w", err)
	}

	items, err := s.repo.GetLineItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	var total float64
	for _, li := range items {
		total += li.Amount
	}
	inv.TotalAmount = round2(total)

	applied, err := s.repo.AppliedPayments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	applied = round2(applied)
	inv.BalanceDue = round2(math.Max(inv.TotalAmount-applied, 0))

	if inv.Status != StatusCancelled {
		switch {
		case applied > 0 && inv.BalanceDue == 0:
			inv.Status = StatusPaid
		case applied > 0:
			inv.Status = StatusPartial
		case inv.Status == StatusPaid || inv.Status == StatusPartial:
			inv.Status = StatusSent
		}
	}

	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	return inv, nil
}

// PatientBalance sums financial figures over every invoice of a patient.
// Each invoice contributes max(total-applied, 0) to the outstanding
// amount and max(applied-total, 0) to the account credit, so an
// overpayment on one invoice never hides an open balance on another.
// Cancelled invoices are excluded.
func (s *Service) PatientBalance(ctx context.Context, patientID uuid.UUID) (*PatientBalance, error) {
	invs, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient invoices: %w", err)
	}

	bal := &PatientBalance{PatientID: patientID}
	for _, inv := range invs {
		if inv.Status == StatusCancelled {
			continue
		}
		applied, err := s.repo.AppliedPayments(ctx, inv.ID)
		if err != nil {
			return nil, fmt.Errorf("sum payments: %w", err)
		}
		applied = round2(applied)
		bal.InvoiceCount++
		bal.TotalBilled = round2(bal.TotalBilled + inv.TotalAmount)
		bal.TotalPaid = round2(bal.TotalPaid + applied)
		bal.Outstanding = round2(bal.Outstanding + math.Max(inv.TotalAmount-applied, 0))
		bal.AccountCredit = round2(bal.AccountCredit + math.Max(applied-inv.TotalAmount, 0))
	}
	return bal, nil
}
