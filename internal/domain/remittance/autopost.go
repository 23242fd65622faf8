package remittance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/domain/payments"
	"github.com/medbill/medbill/internal/platform/apperr"
)

// AutoPost walks every matched, unposted line of a batch and posts it:
// denial lines deny their claim, payment lines apply the paid amount to
// the claim and record an insurance payment against its invoice. Each
// line is one transaction, so one bad line never rolls back its
// neighbors, and a re-run is safe: the posted flag is checked again
// under a row lock inside the transaction.
//
// Failures are recorded on the line and in the report, never returned
// as an error. Lock contention retries a bounded number of times. A
// cancelled context stops before the next line; lines already posted
// stay posted.
func (s *Service) AutoPost(ctx context.Context, batchID uuid.UUID) (*PostReport, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusError {
		return nil, apperr.Conflict("batch %s failed to parse and has nothing to post", b.ID)
	}

	claimed, err := s.repo.MarkBatchProcessing(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("mark batch processing: %w", err)
	}
	if !claimed {
		return nil, apperr.Conflict("batch %s is already being processed", b.ID)
	}

	lines, err := s.repo.GetLineItems(ctx, batchID)
	if err != nil {
		// settle the status from the stored counters so the batch is
		// not stuck in processing after a failed load
		b.Status = deriveStatus(b)
		_ = s.repo.UpdateBatch(context.WithoutCancel(ctx), b)
		return nil, fmt.Errorf("load line items: %w", err)
	}

	report := &PostReport{BatchID: batchID}
	for _, li := range lines {
		if ctx.Err() != nil {
			break
		}
		if !li.Matched() || li.Posted {
			report.Skipped++
			continue
		}
		report.Attempted++
		if err := s.postLineWithRetry(ctx, li.ID); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, LineResult{
				LineItemID: li.ID,
				LineNumber: li.LineNumber,
				Error:      err.Error(),
			})
			s.recordPostError(ctx, li.ID, err)
			continue
		}
		report.Posted++
	}

	// counters persist even when the context was cancelled mid-run
	finishCtx := context.WithoutCancel(ctx)
	if err := s.refreshBatchCounts(finishCtx, batchID); err != nil {
		return report, err
	}
	return report, nil
}

// postLineWithRetry retries transient failures such as row lock
// contention; anything else surfaces immediately.
func (s *Service) postLineWithRetry(ctx context.Context, lineID uuid.UUID) error {
	var err error
	for attempt := 0; attempt < s.cfg.MaxPostRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.cfg.PostRetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = s.postLine(ctx, lineID)
		if err == nil || !apperr.IsRetriable(err) {
			return err
		}
	}
	return err
}

// postLine posts one line in one transaction.
func (s *Service) postLine(ctx context.Context, lineID uuid.UUID) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		li, err := s.repo.GetLineItemForUpdate(ctx, lineID)
		if err != nil {
			return fmt.Errorf("lock line item: %w", err)
		}
		if li.Posted {
			return nil
		}

		switch {
		case li.MatchedClaimID != nil:
			if err := s.postClaimLine(ctx, li); err != nil {
				return err
			}
		case li.MatchedInvoiceID != nil:
			if err := s.postInvoiceLine(ctx, li); err != nil {
				return err
			}
		default:
			return apperr.Conflict("line %d is not matched", li.LineNumber)
		}

		now := time.Now()
		li.Posted = true
		li.PostedAt = &now
		li.PostError = nil
		return s.repo.UpdateLineItem(ctx, li)
	})
}

func (s *Service) postClaimLine(ctx context.Context, li *LineItem) error {
	if li.Denial() {
		reason := "denied by payer"
		if li.DenialReason != nil {
			reason = *li.DenialReason
		} else if li.DenialCode != nil {
			reason = "denial code " + *li.DenialCode
		}
		_, err := s.claimSrc.Deny(ctx, *li.MatchedClaimID, reason, "remittance")
		return err
	}

	// a line that pays nothing and carries no denial code is a payer
	// discrepancy; leave the claim alone and flag the line for review
	if li.PaidAmount <= 0 {
		return apperr.Conflict("line %d pays nothing and carries no denial code", li.LineNumber)
	}

	c, err := s.claimSrc.ApplyRemittancePayment(ctx, *li.MatchedClaimID,
		li.PaidAmount, li.PatientResponsibility, "remittance line "+fmt.Sprint(li.LineNumber))
	if err != nil {
		return err
	}
	return s.createLinePayment(ctx, li, c.InvoiceID, c.PatientID)
}

func (s *Service) postInvoiceLine(ctx context.Context, li *LineItem) error {
	if li.PaidAmount <= 0 {
		return apperr.Conflict("line %d pays nothing and targets no claim", li.LineNumber)
	}
	inv, err := s.invoiceSrc.Get(ctx, *li.MatchedInvoiceID)
	if err != nil {
		return err
	}
	return s.createLinePayment(ctx, li, inv.ID, inv.PatientID)
}

// createLinePayment records the insurance payment for a line. The
// reference number is derived from the line id, so a line that somehow
// re-enters posting finds its own payment and does not book it twice.
func (s *Service) createLinePayment(ctx context.Context, li *LineItem, invoiceID, patientID uuid.UUID) error {
	ref := "REM-" + li.ID.String()
	existing, err := s.paySrc.GetByReference(ctx, ref)
	if err != nil {
		return err
	}
	if existing != nil {
		li.PaymentID = &existing.ID
		return nil
	}

	p := &payments.Payment{
		InvoiceID:       invoiceID,
		PatientID:       patientID,
		Amount:          li.PaidAmount,
		Method:          payments.MethodInsurance,
		Source:          payments.SourceInsurance,
		ReferenceNumber: &ref,
	}
	if li.ServiceDate != nil {
		p.PaymentDate = *li.ServiceDate
	}
	if err := s.paySrc.Create(ctx, p); err != nil {
		return err
	}
	li.PaymentID = &p.ID
	return nil
}

// recordPostError stores the failure on the line for review. Best
// effort: the line itself stays unposted either way.
func (s *Service) recordPostError(ctx context.Context, lineID uuid.UUID, postErr error) {
	li, err := s.repo.GetLineItem(context.WithoutCancel(ctx), lineID)
	if err != nil {
		return
	}
	msg := postErr.Error()
	li.PostError = &msg
	_ = s.repo.UpdateLineItem(context.WithoutCancel(ctx), li)
}
