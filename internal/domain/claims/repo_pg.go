package claims

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

const claimCols = `id, claim_number, patient_id, patient_name, invoice_id, insurance_company_id,
	provider_id, policy_number, status, submitted_amount, paid_amount, patient_responsibility,
	diagnosis_codes, procedure_codes, service_date, submission_date, paid_date, denied_date,
	denial_reason, notes, version_id, created_at, updated_at`

func (r *repoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.PatientID, &c.PatientName, &c.InvoiceID, &c.InsuranceCompanyID,
		&c.ProviderID, &c.PolicyNumber, &c.Status, &c.SubmittedAmount, &c.PaidAmount, &c.PatientResponsibility,
		&c.DiagnosisCodes, &c.ProcedureCodes, &c.ServiceDate, &c.SubmissionDate, &c.PaidDate, &c.DeniedDate,
		&c.DenialReason, &c.Notes, &c.VersionID, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	c.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, claim_number, patient_id, patient_name, invoice_id, insurance_company_id,
			provider_id, policy_number, status, submitted_amount, paid_amount, patient_responsibility,
			diagnosis_codes, procedure_codes, service_date, submission_date, notes, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		c.ID, c.ClaimNumber, c.PatientID, c.PatientName, c.InvoiceID, c.InsuranceCompanyID,
		c.ProviderID, c.PolicyNumber, c.Status, c.SubmittedAmount, c.PaidAmount, c.PatientResponsibility,
		c.DiagnosisCodes, c.ProcedureCodes, c.ServiceDate, c.SubmissionDate, c.Notes, c.VersionID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if db.IsLockNotAvailable(err) {
		return nil, apperr.Retriable(fmt.Sprintf("claim %s is locked by another posting run", id), err)
	}
	return c, err
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE claim_number = $1`, number))
}

const claimUpdateSQL = `
	UPDATE claims SET patient_name=$2, insurance_company_id=$3, provider_id=$4, policy_number=$5,
		status=$6, submitted_amount=$7, paid_amount=$8, patient_responsibility=$9,
		diagnosis_codes=$10, procedure_codes=$11, service_date=$12, submission_date=$13,
		paid_date=$14, denied_date=$15, denial_reason=$16, notes=$17,
		version_id=version_id+1, updated_at=NOW()
	WHERE id = $1`

func (r *repoPG) updateArgs(c *Claim) []interface{} {
	return []interface{}{
		c.ID, c.PatientName, c.InsuranceCompanyID, c.ProviderID, c.PolicyNumber,
		c.Status, c.SubmittedAmount, c.PaidAmount, c.PatientResponsibility,
		c.DiagnosisCodes, c.ProcedureCodes, c.ServiceDate, c.SubmissionDate,
		c.PaidDate, c.DeniedDate, c.DenialReason, c.Notes,
	}
}

func (r *repoPG) Update(ctx context.Context, c *Claim) error {
	tag, err := r.conn(ctx).Exec(ctx, claimUpdateSQL, r.updateArgs(c)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	c.VersionID++
	return nil
}

func (r *repoPG) UpdateWithHistory(ctx context.Context, c *Claim, entry *StatusHistoryEntry) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.Update(ctx, c); err != nil {
			return err
		}
		entry.ID = uuid.New()
		entry.ClaimID = c.ID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO claim_status_history (id, claim_id, from_status, to_status, note, changed_by)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			entry.ID, entry.ClaimID, entry.FromStatus, entry.ToStatus, entry.Note, entry.ChangedBy)
		return err
	})
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Claim, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(col string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", col, n)
		args = append(args, v)
	}
	if f.PatientID != nil {
		add("patient_id", *f.PatientID)
	}
	if f.InvoiceID != nil {
		add("invoice_id", *f.InvoiceID)
	}
	if f.InsuranceCompanyID != nil {
		add("insurance_company_id", *f.InsuranceCompanyID)
	}
	if f.Status != nil {
		add("status", *f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM claims %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		claimCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListOpen(ctx context.Context, insuranceCompanyID *uuid.UUID) ([]*Claim, error) {
	query := `SELECT ` + claimCols + ` FROM claims
		WHERE status IN ('submitted','pending','accepted','partial')`
	args := []interface{}{}
	if insuranceCompanyID != nil {
		query += ` AND insurance_company_id = $1`
		args = append(args, *insuranceCompanyID)
	}
	query += ` ORDER BY submission_date`
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) GetHistory(ctx context.Context, claimID uuid.UUID) ([]*StatusHistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, from_status, to_status, note, changed_by, changed_at
		FROM claim_status_history WHERE claim_id = $1 ORDER BY changed_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.FromStatus, &e.ToStatus, &e.Note, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *repoPG) AddDocument(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_documents (id, claim_id, file_name, content_type, size_bytes, data)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.ClaimID, d.FileName, d.ContentType, d.SizeBytes, d.Data)
	return err
}

func (r *repoPG) GetDocuments(ctx context.Context, claimID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, file_name, content_type, size_bytes, uploaded_at
		FROM claim_documents WHERE claim_id = $1 ORDER BY uploaded_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ClaimID, &d.FileName, &d.ContentType, &d.SizeBytes, &d.UploadedAt); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

func (r *repoPG) GetDocument(ctx context.Context, claimID, docID uuid.UUID) (*Document, error) {
	var d Document
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, claim_id, file_name, content_type, size_bytes, data, uploaded_at
		FROM claim_documents WHERE id = $1 AND claim_id = $2`, docID, claimID).
		Scan(&d.ID, &d.ClaimID, &d.FileName, &d.ContentType, &d.SizeBytes, &d.Data, &d.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) RemoveDocument(ctx context.Context, claimID, docID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM claim_documents WHERE id = $1 AND claim_id = $2`, docID, claimID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
