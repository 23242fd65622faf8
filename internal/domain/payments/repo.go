package payments

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for payments.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	// GetByReference finds a payment by its reference number, voided or
	// not. Remittance posting uses it to detect an already recorded line.
	GetByReference(ctx context.Context, ref string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error)
}
