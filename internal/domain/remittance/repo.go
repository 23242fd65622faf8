package remittance

import (
	"context"

	"github.com/google/uuid"
)

// BatchFilter narrows batch listings.
type BatchFilter struct {
	Status             *BatchStatus
	InsuranceCompanyID *uuid.UUID
}

// Repository is the storage contract for remittance batches and lines.
type Repository interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	UpdateBatch(ctx context.Context, b *Batch) error
	// MarkBatchProcessing atomically claims the batch for a posting run.
	// It reports false when the batch is already in processing, so two
	// concurrent runs cannot both walk the same lines.
	MarkBatchProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	ListBatches(ctx context.Context, f BatchFilter, limit, offset int) ([]*Batch, int, error)

	CreateLineItem(ctx context.Context, li *LineItem) error
	GetLineItem(ctx context.Context, id uuid.UUID) (*LineItem, error)
	// GetLineItemForUpdate locks the line row; auto-post uses it so a
	// concurrent run cannot post the same line twice. A row already held
	// elsewhere surfaces as a retriable error instead of blocking.
	GetLineItemForUpdate(ctx context.Context, id uuid.UUID) (*LineItem, error)
	UpdateLineItem(ctx context.Context, li *LineItem) error
	GetLineItems(ctx context.Context, batchID uuid.UUID) ([]*LineItem, error)
	ListUnmatched(ctx context.Context, limit, offset int) ([]*LineItem, int, error)
}
