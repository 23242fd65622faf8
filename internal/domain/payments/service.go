package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medbill/medbill/internal/domain/invoices"
	"github.com/medbill/medbill/internal/platform/apperr"
)

// InvoiceService is the slice of the invoice service payments depend on.
type InvoiceService interface {
	Get(ctx context.Context, id uuid.UUID) (*invoices.Invoice, error)
	RecomputeBalance(ctx context.Context, id uuid.UUID) (*invoices.Invoice, error)
}

// TxRunner executes a function inside a database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service holds payment business logic. Creating and voiding a payment
// both run in a transaction together with the invoice balance recompute,
// so the payment row and the derived balance never diverge.
type Service struct {
	repo   Repository
	invSvc InvoiceService
	runner TxRunner
}

func NewService(repo Repository, invSvc InvoiceService, runner TxRunner) *Service {
	return &Service{repo: repo, invSvc: invSvc, runner: runner}
}

// Create validates and records a payment against an invoice, then
// recomputes the invoice balance in the same transaction.
func (s *Service) Create(ctx context.Context, p *Payment) error {
	var fields []apperr.FieldError
	if p.InvoiceID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "invoice_id", Message: "invoice_id is required"})
	}
	if p.Amount <= 0 {
		fields = append(fields, apperr.FieldError{Field: "amount", Message: "amount must be positive"})
	}
	if p.Method == "" {
		p.Method = MethodCash
	}
	if !validMethods[p.Method] {
		fields = append(fields, apperr.FieldError{Field: "method", Message: fmt.Sprintf("unknown method %q", p.Method)})
	}
	if p.Source == "" {
		p.Source = SourcePatient
	}
	if !validSources[p.Source] {
		fields = append(fields, apperr.FieldError{Field: "source", Message: fmt.Sprintf("unknown source %q", p.Source)})
	}
	if len(fields) > 0 {
		return apperr.NewValidation("payment is invalid", fields)
	}

	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invSvc.Get(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoices.StatusCancelled {
			return apperr.Conflict("invoice %s is cancelled and cannot receive payments", inv.InvoiceNumber)
		}
		p.PatientID = inv.PatientID
		p.Active = true
		if p.PaymentDate.IsZero() {
			p.PaymentDate = time.Now()
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		_, err = s.invSvc.RecomputeBalance(ctx, p.InvoiceID)
		return err
	})
}

// Void marks an active payment void and recomputes the invoice balance.
// Voiding is one way: a voided payment stays voided and a second void
// attempt is a conflict.
func (s *Service) Void(ctx context.Context, id uuid.UUID, reason string) (*Payment, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.NewValidation("void is invalid", []apperr.FieldError{
			{Field: "reason", Message: "reason is required"},
		})
	}

	var voided *Payment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !p.Active {
			return apperr.Conflict("payment %s is already void", p.ID)
		}
		now := time.Now()
		p.Active = false
		p.VoidedAt = &now
		p.VoidReason = &reason
		if err := s.repo.Update(ctx, p); err != nil {
			return fmt.Errorf("void payment: %w", err)
		}
		if _, err := s.invSvc.RecomputeBalance(ctx, p.InvoiceID); err != nil {
			return err
		}
		voided = p
		return nil
	})
	return voided, err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment", id)
	}
	return p, err
}

// GetByReference looks a payment up by reference number. Returns nil
// without error when no payment carries the reference.
func (s *Service) GetByReference(ctx context.Context, ref string) (*Payment, error) {
	p, err := s.repo.GetByReference(ctx, ref)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error) {
	if f.Source != nil && !validSources[*f.Source] {
		return nil, 0, apperr.NewValidation("invalid filter", []apperr.FieldError{
			{Field: "source", Message: fmt.Sprintf("unknown source %q", *f.Source)},
		})
	}
	return s.repo.List(ctx, f, limit, offset)
}
