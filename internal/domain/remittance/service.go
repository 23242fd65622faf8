package remittance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medbill/medbill/internal/domain/payments"
	"github.com/medbill/medbill/internal/platform/apperr"
)

// PaymentSource is the slice of the payment service posting depends on.
type PaymentSource interface {
	Create(ctx context.Context, p *payments.Payment) error
	GetByReference(ctx context.Context, ref string) (*payments.Payment, error)
}

// TxRunner executes a function inside a database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config tunes import and posting behavior.
type Config struct {
	// MaxImportBytes caps the accepted file size. Oversized files are
	// rejected before any parsing.
	MaxImportBytes int64
	// MaxPostRetries bounds retries when a posting transaction hits lock
	// contention.
	MaxPostRetries int
	// PostRetryBackoff is the pause between retries.
	PostRetryBackoff time.Duration
}

// Service ties parsing, matching, and posting together.
type Service struct {
	repo       Repository
	matcher    *Matcher
	claimSrc   ClaimSource
	invoiceSrc InvoiceSource
	paySrc     PaymentSource
	runner     TxRunner
	cfg        Config
}

func NewService(repo Repository, matcher *Matcher, claimSrc ClaimSource, invoiceSrc InvoiceSource,
	paySrc PaymentSource, runner TxRunner, cfg Config) *Service {
	if cfg.MaxImportBytes <= 0 {
		cfg.MaxImportBytes = 10 << 20
	}
	if cfg.MaxPostRetries < 1 {
		cfg.MaxPostRetries = 3
	}
	if cfg.PostRetryBackoff <= 0 {
		cfg.PostRetryBackoff = 50 * time.Millisecond
	}
	return &Service{
		repo: repo, matcher: matcher, claimSrc: claimSrc,
		invoiceSrc: invoiceSrc, paySrc: paySrc, runner: runner, cfg: cfg,
	}
}

// deriveStatus recomputes a batch status from its counters.
func deriveStatus(b *Batch) BatchStatus {
	if b.TotalRecords == 0 {
		return StatusError
	}
	clean := b.UnmatchedCount == 0 && b.SkippedCount == 0
	switch {
	case b.PostedCount == 0:
		if clean {
			return StatusImported
		}
		return StatusPartial
	case clean && b.PostedCount == b.MatchedCount:
		return StatusProcessed
	default:
		return StatusPartial
	}
}

// Import parses a remittance file, persists the batch with its lines,
// and matches every line against open claims and invoices. A file that
// cannot be parsed at all still produces a batch, with status error and
// the parse failure recorded, so the upload is visible for review.
func (s *Service) Import(ctx context.Context, fileName string, data []byte, insuranceCompanyID *uuid.UUID, importedBy string) (*Batch, error) {
	if int64(len(data)) > s.cfg.MaxImportBytes {
		return nil, apperr.ImportParse(
			fmt.Sprintf("file is %d bytes; the limit is %d", len(data), s.cfg.MaxImportBytes), nil)
	}
	if len(data) == 0 {
		return nil, apperr.ImportParse("file is empty", nil)
	}

	b := &Batch{
		FileName:           fileName,
		InsuranceCompanyID: insuranceCompanyID,
		Status:             StatusError,
	}
	if importedBy != "" {
		b.ImportedBy = &importedBy
	}

	parsed, parseErr := ParseFile(fileName, data)
	if parseErr != nil {
		if !apperr.IsKind(parseErr, apperr.KindImportParse) {
			return nil, parseErr
		}
		b.ParseErrors = []string{parseErr.Error()}
		if err := s.repo.CreateBatch(ctx, b); err != nil {
			return nil, fmt.Errorf("create batch: %w", err)
		}
		return b, nil
	}

	b.Format = parsed.Format
	b.PayerName = parsed.PayerName
	b.CheckNumber = parsed.CheckNumber
	b.RemittanceDate = parsed.RemittanceDate
	b.TotalAmount = parsed.TotalAmount
	b.TotalRecords = len(parsed.Lines)
	b.SkippedCount = len(parsed.Skipped)
	b.ParseErrors = parsed.Skipped

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateBatch(ctx, b); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		for _, li := range parsed.Lines {
			li.BatchID = b.ID
			outcome, err := s.matcher.Match(ctx, li, insuranceCompanyID)
			if err != nil {
				return fmt.Errorf("match line %d: %w", li.LineNumber, err)
			}
			if outcome != nil {
				li.MatchedClaimID = outcome.ClaimID
				li.MatchedInvoiceID = outcome.InvoiceID
				li.MatchConfidence = &outcome.Confidence
				b.MatchedCount++
			} else {
				b.UnmatchedCount++
			}
			if err := s.repo.CreateLineItem(ctx, li); err != nil {
				return fmt.Errorf("create line %d: %w", li.LineNumber, err)
			}
		}
		b.Status = deriveStatus(b)
		return s.repo.UpdateBatch(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := s.repo.GetBatch(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("remittance batch", id)
	}
	return b, err
}

func (s *Service) ListBatches(ctx context.Context, f BatchFilter, limit, offset int) ([]*Batch, int, error) {
	return s.repo.ListBatches(ctx, f, limit, offset)
}

func (s *Service) GetLineItems(ctx context.Context, batchID uuid.UUID) ([]*LineItem, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.GetLineItems(ctx, batchID)
}

func (s *Service) ListUnmatched(ctx context.Context, limit, offset int) ([]*LineItem, int, error) {
	return s.repo.ListUnmatched(ctx, limit, offset)
}

func (s *Service) getLineItem(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	li, err := s.repo.GetLineItem(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("remittance line item", id)
	}
	return li, err
}

// MatchItem manually ties an unmatched line to a claim or an invoice.
// Exactly one target must be given; the target must still be open.
func (s *Service) MatchItem(ctx context.Context, lineID uuid.UUID, claimID, invoiceID *uuid.UUID) (*LineItem, error) {
	if (claimID == nil) == (invoiceID == nil) {
		return nil, apperr.Conflict("exactly one of claim_id or invoice_id must be given")
	}
	li, err := s.getLineItem(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if li.Posted {
		return nil, apperr.Conflict("line %d has already been posted", li.LineNumber)
	}

	if claimID != nil {
		c, err := s.claimSrc.Get(ctx, *claimID)
		if err != nil {
			return nil, err
		}
		if !c.Status.Payable() {
			return nil, apperr.Conflict("claim %s is %s and cannot receive payments", c.ClaimNumber, c.Status)
		}
	} else {
		inv, err := s.invoiceSrc.Get(ctx, *invoiceID)
		if err != nil {
			return nil, err
		}
		if inv.Status.Closed() {
			return nil, apperr.Conflict("invoice %s is %s and cannot receive payments", inv.InvoiceNumber, inv.Status)
		}
	}

	li.MatchedClaimID = claimID
	li.MatchedInvoiceID = invoiceID
	one := 1.0
	li.MatchConfidence = &one
	if err := s.repo.UpdateLineItem(ctx, li); err != nil {
		return nil, fmt.Errorf("update line item: %w", err)
	}
	if err := s.refreshBatchCounts(ctx, li.BatchID); err != nil {
		return nil, err
	}
	return li, nil
}

// UnmatchItem clears a line's match so it can be re-reviewed. Posted
// lines cannot be unmatched; void the payment instead.
func (s *Service) UnmatchItem(ctx context.Context, lineID uuid.UUID) (*LineItem, error) {
	li, err := s.getLineItem(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if li.Posted {
		return nil, apperr.Conflict("line %d has already been posted", li.LineNumber)
	}
	if !li.Matched() {
		return li, nil
	}
	li.MatchedClaimID = nil
	li.MatchedInvoiceID = nil
	li.MatchConfidence = nil
	if err := s.repo.UpdateLineItem(ctx, li); err != nil {
		return nil, fmt.Errorf("update line item: %w", err)
	}
	if err := s.refreshBatchCounts(ctx, li.BatchID); err != nil {
		return nil, err
	}
	return li, nil
}

// refreshBatchCounts recounts match and post figures from the stored
// lines and re-derives the batch status.
func (s *Service) refreshBatchCounts(ctx context.Context, batchID uuid.UUID) error {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	lines, err := s.repo.GetLineItems(ctx, batchID)
	if err != nil {
		return err
	}
	b.MatchedCount = 0
	b.UnmatchedCount = 0
	b.PostedCount = 0
	for _, li := range lines {
		if li.Matched() {
			b.MatchedCount++
		} else {
			b.UnmatchedCount++
		}
		if li.Posted {
			b.PostedCount++
		}
	}
	b.Status = deriveStatus(b)
	return s.repo.UpdateBatch(ctx, b)
}
