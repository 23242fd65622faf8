package claims

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for claims, their status history,
// and attached documents.
type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	// GetForUpdate locks the claim row so concurrent remittance postings
	// against the same claim serialize.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByNumber(ctx context.Context, number string) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	// UpdateWithHistory writes the claim and appends a status history
	// entry in one transaction. If the context already carries a
	// transaction both writes join it.
	UpdateWithHistory(ctx context.Context, c *Claim, entry *StatusHistoryEntry) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Claim, int, error)
	// ListOpen returns claims in a payable status, optionally narrowed to
	// one insurance company. The remittance matcher scans these.
	ListOpen(ctx context.Context, insuranceCompanyID *uuid.UUID) ([]*Claim, error)
	GetHistory(ctx context.Context, claimID uuid.UUID) ([]*StatusHistoryEntry, error)

	AddDocument(ctx context.Context, d *Document) error
	GetDocuments(ctx context.Context, claimID uuid.UUID) ([]*Document, error)
	GetDocument(ctx context.Context, claimID, docID uuid.UUID) (*Document, error)
	RemoveDocument(ctx context.Context, claimID, docID uuid.UUID) error
}
