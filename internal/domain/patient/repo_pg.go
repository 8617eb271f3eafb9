package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsupply/portal/internal/platform/db"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, user_id, first_name, last_name, dob, sex, phone,
	address, city, state, zip,
	insurance_provider, insurance_member_id, insurance_group_id,
	id_card_path, id_card_mime, ins_card_path, ins_card_mime, notes_path, notes_mime,
	approval_score_color, approval_score_at, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.DOB, &p.Sex, &p.Phone,
		&p.Address, &p.City, &p.State, &p.Zip,
		&p.InsuranceProvider, &p.InsuranceMemberID, &p.InsuranceGroupID,
		&p.IDCardPath, &p.IDCardMime, &p.InsCardPath, &p.InsCardMime, &p.NotesPath, &p.NotesMime,
		&p.ApprovalScoreColor, &p.ApprovalScoreAt, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return p, nil
}

func (r *patientRepoPG) ListForRescore(ctx context.Context, f RescoreFilter) ([]*Patient, error) {
	q := `SELECT ` + patientCols + ` FROM patients`
	args := []interface{}{}
	if f.StaleBefore != nil {
		q += ` WHERE approval_score_at IS NULL OR approval_score_at < $1`
		args = append(args, *f.StaleBefore)
	}
	q += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients for rescore: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
