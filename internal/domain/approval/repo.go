package approval

import (
	"context"
	"errors"
	"time"
)

var ErrNoScore = errors.New("no approval score recorded")

// ScoreRepository stores score records. Records are insert-only.
type ScoreRepository interface {
	Insert(ctx context.Context, rec *Record) error
	Latest(ctx context.Context, patientID string) (*Record, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Record, int, error)
}

// ColorCache maintains the denormalized color on the patient row.
type ColorCache interface {
	SetColor(ctx context.Context, patientID string, color Color, at time.Time) error
}
