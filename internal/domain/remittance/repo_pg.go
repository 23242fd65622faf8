package remittance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/medbill/internal/platform/apperr"
	"github.com/medbill/medbill/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const batchCols = `id, file_name, format, payer_name, insurance_company_id, check_number,
	remittance_date, total_amount, total_records, matched_count, unmatched_count,
	skipped_count, posted_count, status, parse_errors, imported_by, created_at, updated_at`

func (r *repoPG) scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.FileName, &b.Format, &b.PayerName, &b.InsuranceCompanyID, &b.CheckNumber,
		&b.RemittanceDate, &b.TotalAmount, &b.TotalRecords, &b.MatchedCount, &b.UnmatchedCount,
		&b.SkippedCount, &b.PostedCount, &b.Status, &b.ParseErrors, &b.ImportedBy, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *repoPG) CreateBatch(ctx context.Context, b *Batch) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO remittance_batches (id, file_name, format, payer_name, insurance_company_id,
			check_number, remittance_date, total_amount, total_records, matched_count,
			unmatched_count, skipped_count, posted_count, status, parse_errors, imported_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		b.ID, b.FileName, b.Format, b.PayerName, b.InsuranceCompanyID,
		b.CheckNumber, b.RemittanceDate, b.TotalAmount, b.TotalRecords, b.MatchedCount,
		b.UnmatchedCount, b.SkippedCount, b.PostedCount, b.Status, b.ParseErrors, b.ImportedBy)
	return err
}

func (r *repoPG) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return r.scanBatch(r.conn(ctx).QueryRow(ctx, `SELECT `+batchCols+` FROM remittance_batches WHERE id = $1`, id))
}

func (r *repoPG) UpdateBatch(ctx context.Context, b *Batch) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE remittance_batches SET insurance_company_id=$2, matched_count=$3, unmatched_count=$4,
			skipped_count=$5, posted_count=$6, status=$7, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.InsuranceCompanyID, b.MatchedCount, b.UnmatchedCount,
		b.SkippedCount, b.PostedCount, b.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) MarkBatchProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE remittance_batches SET status=$2, updated_at=NOW()
		WHERE id = $1 AND status <> $2`, id, StatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) ListBatches(ctx context.Context, f BatchFilter, limit, offset int) ([]*Batch, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	if f.Status != nil {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, *f.Status)
	}
	if f.InsuranceCompanyID != nil {
		n++
		where += fmt.Sprintf(" AND insurance_company_id = $%d", n)
		args = append(args, *f.InsuranceCompanyID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM remittance_batches `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM remittance_batches %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		batchCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := r.scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

const lineCols = `id, batch_id, line_number, claim_number, invoice_number, patient_name,
	service_date, billed_amount, paid_amount, patient_responsibility, denial_code,
	denial_reason, matched_claim_id, matched_invoice_id, match_confidence,
	posted, posted_at, payment_id, post_error, created_at`

func (r *repoPG) scanLineItem(row pgx.Row) (*LineItem, error) {
	var li LineItem
	err := row.Scan(&li.ID, &li.BatchID, &li.LineNumber, &li.ClaimNumber, &li.InvoiceNumber, &li.PatientName,
		&li.ServiceDate, &li.BilledAmount, &li.PaidAmount, &li.PatientResponsibility, &li.DenialCode,
		&li.DenialReason, &li.MatchedClaimID, &li.MatchedInvoiceID, &li.MatchConfidence,
		&li.Posted, &li.PostedAt, &li.PaymentID, &li.PostError, &li.CreatedAt)
	return &li, err
}

func (r *repoPG) CreateLineItem(ctx context.Context, li *LineItem) error {
	li.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO remittance_line_items (id, batch_id, line_number, claim_number, invoice_number,
			patient_name, service_date, billed_amount, paid_amount, patient_responsibility,
			denial_code, denial_reason, matched_claim_id, matched_invoice_id, match_confidence, posted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		li.ID, li.BatchID, li.LineNumber, li.ClaimNumber, li.InvoiceNumber,
		li.PatientName, li.ServiceDate, li.BilledAmount, li.PaidAmount, li.PatientResponsibility,
		li.DenialCode, li.DenialReason, li.MatchedClaimID, li.MatchedInvoiceID, li.MatchConfidence, li.Posted)
	return err
}

func (r *repoPG) GetLineItem(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	return r.scanLineItem(r.conn(ctx).QueryRow(ctx, `SELECT `+lineCols+` FROM remittance_line_items WHERE id = $1`, id))
}

func (r *repoPG) GetLineItemForUpdate(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	li, err := r.scanLineItem(r.conn(ctx).QueryRow(ctx, `SELECT `+lineCols+` FROM remittance_line_items WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if db.IsLockNotAvailable(err) {
		return nil, apperr.Retriable(fmt.Sprintf("remittance line %s is locked by another posting run", id), err)
	}
	return li, err
}

func (r *repoPG) UpdateLineItem(ctx context.Context, li *LineItem) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE remittance_line_items SET matched_claim_id=$2, matched_invoice_id=$3, match_confidence=$4,
			posted=$5, posted_at=$6, payment_id=$7, post_error=$8
		WHERE id = $1`,
		li.ID, li.MatchedClaimID, li.MatchedInvoiceID, li.MatchConfidence,
		li.Posted, li.PostedAt, li.PaymentID, li.PostError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) GetLineItems(ctx context.Context, batchID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lineCols+` FROM remittance_line_items WHERE batch_id = $1 ORDER BY line_number`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		li, err := r.scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func (r *repoPG) ListUnmatched(ctx context.Context, limit, offset int) ([]*LineItem, int, error) {
	const where = `WHERE matched_claim_id IS NULL AND matched_invoice_id IS NULL`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM remittance_line_items `+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lineCols+` FROM remittance_line_items `+where+` ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		li, err := r.scanLineItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, li)
	}
	return items, total, rows.Err()
}
