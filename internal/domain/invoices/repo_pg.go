package invoices

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

const invCols = `id, invoice_number, patient_id, provider_id, insurance_company_id,
	appointment_id, status, total_amount, balance_due, due_date, notes,
	version_id, created_at, updated_at`

func (r *repoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.ProviderID, &inv.InsuranceCompanyID,
		&inv.AppointmentID, &inv.Status, &inv.TotalAmount, &inv.BalanceDue, &inv.DueDate, &inv.Notes,
		&inv.VersionID, &inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoices (id, invoice_number, patient_id, provider_id, insurance_company_id,
			appointment_id, status, total_amount, balance_due, due_date, notes, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		inv.ID, inv.InvoiceNumber, inv.PatientID, inv.ProviderID, inv.InsuranceCompanyID,
		inv.AppointmentID, inv.Status, inv.TotalAmount, inv.BalanceDue, inv.DueDate, inv.Notes, inv.VersionID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if db.IsLockNotAvailable(err) {
		return nil, apperr.Retriable(fmt.Sprintf("invoice %s is locked by another posting run", id), err)
	}
	return inv, err
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE invoice_number = $1`, number))
}

func (r *repoPG) Update(ctx context.Context, inv *Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET status=$2, total_amount=$3, balance_due=$4, due_date=$5, notes=$6,
			provider_id=$7, insurance_company_id=$8, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.Status, inv.TotalAmount, inv.BalanceDue, inv.DueDate, inv.Notes,
		inv.ProviderID, inv.InsuranceCompanyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	inv.VersionID++
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
	}
	if f.PatientID != nil {
		add("patient_id", *f.PatientID)
	}
	if f.ProviderID != nil {
		add("provider_id", *f.ProviderID)
	}
	if f.InsuranceCompanyID != nil {
		add("insurance_company_id", *f.InsuranceCompanyID)
	}
	if f.Status != nil {
		add("status", *f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM invoices %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		invCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invCols+` FROM invoices WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

func (r *repoPG) AddLineItem(ctx context.Context, li *LineItem) error {
	li.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_line_items (id, invoice_id, description, service_code, quantity, unit_price, amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		li.ID, li.InvoiceID, li.Description, li.ServiceCode, li.Quantity, li.UnitPrice, li.Amount)
	return err
}

func (r *repoPG) RemoveLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM invoice_line_items WHERE id = $1 AND invoice_id = $2`, lineItemID, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, description, service_code, quantity, unit_price, amount
		FROM invoice_line_items WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Description, &li.ServiceCode,
			&li.Quantity, &li.UnitPrice, &li.Amount); err != nil {
			return nil, err
		}
		items = append(items, &li)
	}
	return items, rows.Err()
}

func (r *repoPG) AppliedPayments(ctx context.Context, invoiceID uuid.UUID) (float64, error) {
	var sum float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE invoice_id = $1 AND active`, invoiceID).Scan(&sum)
	return sum, err
}
