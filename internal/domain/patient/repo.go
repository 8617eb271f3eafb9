package patient

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("patient not found")

// RescoreFilter selects patients for batch re-scoring. A nil StaleBefore
// selects everyone.
type RescoreFilter struct {
	StaleBefore *time.Time
	Limit       int
	Offset      int
}

type Repository interface {
	GetByID(ctx context.Context, id string) (*Patient, error)
	ListForRescore(ctx context.Context, f RescoreFilter) ([]*Patient, error)
}
