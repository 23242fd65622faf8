package invoices

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for invoices and their line items.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate locks the invoice row for the duration of the
	// surrounding transaction. Callers recomputing the balance use it so
	// concurrent payment postings serialize per invoice.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error)

	AddLineItem(ctx context.Context, li *LineItem) error
	RemoveLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) error
	GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error)

	// AppliedPayments returns the sum of active (non-voided) payment
	// amounts recorded against the invoice.
	AppliedPayments(ctx context.Context, invoiceID uuid.UUID) (float64, error)
}
