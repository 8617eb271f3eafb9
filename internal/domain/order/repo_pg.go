package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsupply/portal/internal/platform/db"
)

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) Repository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const orderCols = `id, user_id, patient_id, product, product_id, status, review_status,
	locked_at, locked_by,
	frequency, wound_location, wound_laterality, wound_notes, wounds_data,
	delivery_mode, shipping_name, shipping_phone, shipping_address,
	shipping_city, shipping_state, shipping_zip,
	insurer_name, member_id, group_id, payer_phone, payment_type, prior_auth,
	ai_suggestions, ai_suggestions_accepted, ai_suggestions_accepted_at,
	created_at, updated_at`

func (r *orderRepoPG) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var review *string
	var suggestions []byte
	var accepted *bool
	e := &o.EditableFields
	err := row.Scan(&o.ID, &o.UserID, &o.PatientID, &o.Product, &o.ProductID, &o.Status, &review,
		&o.LockedAt, &o.LockedBy,
		&e.Frequency, &e.WoundLocation, &e.WoundLaterality, &e.WoundNotes, &e.WoundsData,
		&e.DeliveryMode, &e.ShippingName, &e.ShippingPhone, &e.ShippingAddress,
		&e.ShippingCity, &e.ShippingState, &e.ShippingZip,
		&e.InsurerName, &e.MemberID, &e.GroupID, &e.PayerPhone, &e.PaymentType, &e.PriorAuth,
		&suggestions, &accepted, &o.AISuggestionsAcceptedAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if review != nil {
		o.ReviewStatus = ReviewStatus(*review)
	}
	if accepted != nil {
		o.AISuggestionsAccepted = *accepted
	}
	if len(suggestions) > 0 {
		var set SuggestionSet
		// A malformed blob is treated as no suggestions rather than an
		// unreadable order.
		if json.Unmarshal(suggestions, &set) == nil {
			o.AISuggestions = &set
		}
	}
	return &o, nil
}

func (r *orderRepoPG) get(ctx context.Context, q, id string) (*Order, error) {
	o, err := r.scanOrder(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepoPG) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepoPG) UpdateFields(ctx context.Context, id string, values map[Field]*string, acceptedAI bool, at time.Time) error {
	fields := orderedFields(values)
	sets := make([]string, 0, len(fields)+3)
	args := make([]interface{}, 0, len(fields)+2)
	for _, f := range fields {
		args = append(args, values[f])
		// Field is a closed enum, so the column name is never user text.
		sets = append(sets, fmt.Sprintf("%s = $%d", f, len(args)))
	}
	args = append(args, at)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	if acceptedAI {
		sets = append(sets, "ai_suggestions_accepted = TRUE",
			fmt.Sprintf("ai_suggestions_accepted_at = $%d", len(args)))
	}
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	tag, err := r.conn(ctx).Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepoPG) SetStatus(ctx context.Context, id, status string, review ReviewStatus, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE orders SET status = $1, review_status = $2, updated_at = $3 WHERE id = $4`,
		status, string(review), at, id)
	if err != nil {
		return fmt.Errorf("set order %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepoPG) SaveSuggestions(ctx context.Context, id string, set *SuggestionSet, at time.Time) error {
	blob, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE orders SET ai_suggestions = $1, ai_suggestions_accepted = FALSE,
			ai_suggestions_accepted_at = NULL, updated_at = $2 WHERE id = $3`,
		blob, at, id)
	if err != nil {
		return fmt.Errorf("save suggestions for order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type revisionRepoPG struct{ pool *pgxpool.Pool }

func NewRevisionRepoPG(pool *pgxpool.Pool) RevisionRepository {
	return &revisionRepoPG{pool: pool}
}

func (r *revisionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *revisionRepoPG) Append(ctx context.Context, rev *Revision) error {
	changes, err := json.Marshal(rev.Changes)
	if err != nil {
		return fmt.Errorf("encode revision changes: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO order_revisions (order_id, changed_by, changed_at, changes, reason, ai_suggested)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rev.OrderID, rev.ChangedBy, rev.ChangedAt, changes, rev.Reason, rev.AISuggested,
	).Scan(&rev.ID)
	if err != nil {
		return fmt.Errorf("append revision for order %s: %w", rev.OrderID, err)
	}
	return nil
}

func (r *revisionRepoPG) ListByOrder(ctx context.Context, orderID string, limit, offset int) ([]*Revision, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM order_revisions WHERE order_id = $1`, orderID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count revisions: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, changed_by, changed_at, changes, reason, ai_suggested
		FROM order_revisions WHERE order_id = $1
		ORDER BY changed_at, id LIMIT $2 OFFSET $3`, orderID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var items []*Revision
	for rows.Next() {
		var rev Revision
		var changes []byte
		if err := rows.Scan(&rev.ID, &rev.OrderID, &rev.ChangedBy, &rev.ChangedAt, &changes, &rev.Reason, &rev.AISuggested); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(changes, &rev.Changes); err != nil {
			return nil, 0, fmt.Errorf("decode revision %d: %w", rev.ID, err)
		}
		items = append(items, &rev)
	}
	return items, total, rows.Err()
}
