package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsupply/portal/internal/platform/db"
)

type scoreRepoPG struct{ pool *pgxpool.Pool }

func NewScoreRepoPG(pool *pgxpool.Pool) ScoreRepository {
	return &scoreRepoPG{pool: pool}
}

func (r *scoreRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const scoreCols = `id, patient_id, created_by, score, score_numeric, summary,
	missing_items, complete_items, recommendations, concerns, document_analysis, created_at`

func (r *scoreRepoPG) scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var score string
	var summary *string
	var missing, complete, recs, concerns, docs []byte
	if err := row.Scan(&rec.ID, &rec.PatientID, &rec.CreatedBy, &score, &rec.ScoreNumeric, &summary,
		&missing, &complete, &recs, &concerns, &docs, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Score = Color(score)
	if summary != nil {
		rec.Summary = *summary
	}
	for _, f := range []struct {
		raw []byte
		dst interface{}
	}{
		{missing, &rec.MissingItems},
		{complete, &rec.CompleteItems},
		{recs, &rec.Recommendations},
		{concerns, &rec.Concerns},
		{docs, &rec.DocumentAnalysis},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode score %d: %w", rec.ID, err)
		}
	}
	rec.normalize()
	return &rec, nil
}

func (r *scoreRepoPG) Insert(ctx context.Context, rec *Record) error {
	rec.normalize()
	enc := func(v interface{}) []byte {
		b, _ := json.Marshal(v)
		return b
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_approval_scores
			(patient_id, created_by, score, score_numeric, summary,
			 missing_items, complete_items, recommendations, concerns, document_analysis, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		rec.PatientID, rec.CreatedBy, string(rec.Score), rec.ScoreNumeric, rec.Summary,
		enc(rec.MissingItems), enc(rec.CompleteItems), enc(rec.Recommendations), enc(rec.Concerns),
		enc(rec.DocumentAnalysis), rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert approval score for patient %s: %w", rec.PatientID, err)
	}
	return nil
}

func (r *scoreRepoPG) Latest(ctx context.Context, patientID string) (*Record, error) {
	rec, err := r.scanRecord(r.conn(ctx).QueryRow(ctx, `
		SELECT `+scoreCols+` FROM patient_approval_scores
		WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoScore
	}
	if err != nil {
		return nil, fmt.Errorf("latest approval score: %w", err)
	}
	return rec, nil
}

func (r *scoreRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_approval_scores WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count approval scores: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+scoreCols+` FROM patient_approval_scores
		WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list approval scores: %w", err)
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

type colorCachePG struct{ pool *pgxpool.Pool }

func NewColorCachePG(pool *pgxpool.Pool) ColorCache {
	return &colorCachePG{pool: pool}
}

func (c *colorCachePG) SetColor(ctx context.Context, patientID string, color Color, at time.Time) error {
	_, err := db.Conn(ctx, c.pool).Exec(ctx,
		`UPDATE patients SET approval_score_color = $1, approval_score_at = $2
		 WHERE id = $3 AND (approval_score_at IS NULL OR approval_score_at <= $2)`,
		string(color), at, patientID)
	if err != nil {
		return fmt.Errorf("cache approval color for patient %s: %w", patientID, err)
	}
	return nil
}
