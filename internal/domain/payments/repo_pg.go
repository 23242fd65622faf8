package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const payCols = `id, invoice_id, patient_id, amount, method, source, reference_number,
	payment_date, notes, active, voided_at, void_reason, created_at, updated_at`

func (r *repoPG) scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.PatientID, &p.Amount, &p.Method, &p.Source, &p.ReferenceNumber,
		&p.PaymentDate, &p.Notes, &p.Active, &p.VoidedAt, &p.VoidReason, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, invoice_id, patient_id, amount, method, source,
			reference_number, payment_date, notes, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.InvoiceID, p.PatientID, p.Amount, p.Method, p.Source,
		p.ReferenceNumber, p.PaymentDate, p.Notes, p.Active)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+payCols+` FROM payments WHERE id = $1`, id))
}

func (r *repoPG) GetByReference(ctx context.Context, ref string) (*Payment, error) {
	return r.scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+payCols+` FROM payments WHERE reference_number = $1`, ref))
}

func (r *repoPG) Update(ctx context.Context, p *Payment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET active=$2, voided_at=$3, void_reason=$4, notes=$5, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Active, p.VoidedAt, p.VoidReason, p.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(col string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", col, n)
		args = append(args, v)
	}
	if f.InvoiceID != nil {
		add("invoice_id", *f.InvoiceID)
	}
	if f.PatientID != nil {
		add("patient_id", *f.PatientID)
	}
	if f.Source != nil {
		add("source", *f.Source)
	}
	if f.ActiveOnly {
		where += " AND active"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payments `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM payments %s ORDER BY payment_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		payCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
