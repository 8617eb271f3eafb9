package order

import (
	"context"
	"time"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetForUpdate reads the row and holds its lock until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	UpdateFields(ctx context.Context, id string, values map[Field]*string, acceptedAI bool, at time.Time) error
	SetStatus(ctx context.Context, id, status string, review ReviewStatus, at time.Time) error
	SaveSuggestions(ctx context.Context, id string, set *SuggestionSet, at time.Time) error
}

// RevisionRepository is the append-only ledger. There is no update or delete.
type RevisionRepository interface {
	Append(ctx context.Context, rev *Revision) error
	ListByOrder(ctx context.Context, orderID string, limit, offset int) ([]*Revision, int, error)
}

// TxRunner runs fn inside one transaction. db.TxManager satisfies it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
