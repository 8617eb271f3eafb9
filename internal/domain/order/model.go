package order

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReviewStatus is the approval-workflow axis of an order.
type ReviewStatus string

const (
	ReviewDraft              ReviewStatus = "draft"
	ReviewPendingAdminReview ReviewStatus = "pending_admin_review"
	ReviewUnderReview        ReviewStatus = "under_review"
	ReviewNeedsRevision      ReviewStatus = "needs_revision"
	ReviewApproved           ReviewStatus = "approved"
	ReviewRejected           ReviewStatus = "rejected"
)

// Editable reports whether the owner may still change the order.
func (s ReviewStatus) Editable() bool {
	return s == ReviewDraft || s == ReviewNeedsRevision
}

// Fulfillment statuses written by this engine. Others (shipped, delivered,
// ...) are set elsewhere and only read here.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
)

// Field is one of the columns an owner may edit after creation.
type Field string

const (
	FieldFrequency       Field = "frequency"
	FieldWoundLocation   Field = "wound_location"
	FieldWoundLaterality Field = "wound_laterality"
	FieldWoundNotes      Field = "wound_notes"
	FieldWoundsData      Field = "wounds_data"
	FieldDeliveryMode    Field = "delivery_mode"
	FieldShippingName    Field = "shipping_name"
	FieldShippingPhone   Field = "shipping_phone"
	FieldShippingAddress Field = "shipping_address"
	FieldShippingCity    Field = "shipping_city"
	FieldShippingState   Field = "shipping_state"
	FieldShippingZip     Field = "shipping_zip"
	FieldInsurerName     Field = "insurer_name"
	FieldMemberID        Field = "member_id"
	FieldGroupID         Field = "group_id"
	FieldPayerPhone      Field = "payer_phone"
	FieldPaymentType     Field = "payment_type"
	FieldPriorAuth       Field = "prior_auth"
)

// AllFields is the edit allow-list in column order.
var AllFields = []Field{
	FieldFrequency,
	FieldWoundLocation, FieldWoundLaterality, FieldWoundNotes, FieldWoundsData,
	FieldDeliveryMode, FieldShippingName, FieldShippingPhone,
	FieldShippingAddress, FieldShippingCity, FieldShippingState, FieldShippingZip,
	FieldInsurerName, FieldMemberID, FieldGroupID, FieldPayerPhone,
	FieldPaymentType, FieldPriorAuth,
}

var fieldSet = func() map[string]Field {
	m := make(map[string]Field, len(AllFields))
	for _, f := range AllFields {
		m[string(f)] = f
	}
	return m
}()

// ParseField maps a request key onto the allow-list.
func ParseField(s string) (Field, bool) {
	f, ok := fieldSet[s]
	return f, ok
}

// EditableFields holds the mutable part of an order. A nil pointer is SQL NULL.
type EditableFields struct {
	Frequency       *string `db:"frequency" json:"frequency"`
	WoundLocation   *string `db:"wound_location" json:"wound_location"`
	WoundLaterality *string `db:"wound_laterality" json:"wound_laterality"`
	WoundNotes      *string `db:"wound_notes" json:"wound_notes"`
	WoundsData      *string `db:"wounds_data" json:"wounds_data"`
	DeliveryMode    *string `db:"delivery_mode" json:"delivery_mode"`
	ShippingName    *string `db:"shipping_name" json:"shipping_name"`
	ShippingPhone   *string `db:"shipping_phone" json:"shipping_phone"`
	ShippingAddress *string `db:"shipping_address" json:"shipping_address"`
	ShippingCity    *string `db:"shipping_city" json:"shipping_city"`
	ShippingState   *string `db:"shipping_state" json:"shipping_state"`
	ShippingZip     *string `db:"shipping_zip" json:"shipping_zip"`
	InsurerName     *string `db:"insurer_name" json:"insurer_name"`
	MemberID        *string `db:"member_id" json:"member_id"`
	GroupID         *string `db:"group_id" json:"group_id"`
	PayerPhone      *string `db:"payer_phone" json:"payer_phone"`
	PaymentType     *string `db:"payment_type" json:"payment_type"`
	PriorAuth       *string `db:"prior_auth" json:"prior_auth"`
}

func (e *EditableFields) ptr(f Field) **string {
	switch f {
	case FieldFrequency:
		return &e.Frequency
	case FieldWoundLocation:
		return &e.WoundLocation
	case FieldWoundLaterality:
		return &e.WoundLaterality
	case FieldWoundNotes:
		return &e.WoundNotes
	case FieldWoundsData:
		return &e.WoundsData
	case FieldDeliveryMode:
		return &e.DeliveryMode
	case FieldShippingName:
		return &e.ShippingName
	case FieldShippingPhone:
		return &e.ShippingPhone
	case FieldShippingAddress:
		return &e.ShippingAddress
	case FieldShippingCity:
		return &e.ShippingCity
	case FieldShippingState:
		return &e.ShippingState
	case FieldShippingZip:
		return &e.ShippingZip
	case FieldInsurerName:
		return &e.InsurerName
	case FieldMemberID:
		return &e.MemberID
	case FieldGroupID:
		return &e.GroupID
	case FieldPayerPhone:
		return &e.PayerPhone
	case FieldPaymentType:
		return &e.PaymentType
	case FieldPriorAuth:
		return &e.PriorAuth
	}
	panic(fmt.Sprintf("order: unknown field %q", f))
}

// Get returns the current value of f.
func (e *EditableFields) Get(f Field) *string { return *e.ptr(f) }

// Set replaces the value of f.
func (e *EditableFields) Set(f Field, v *string) { *e.ptr(f) = v }

// Order is a single product request for one patient by one practitioner.
type Order struct {
	ID        string  `db:"id" json:"id"`
	UserID    string  `db:"user_id" json:"user_id"`
	PatientID string  `db:"patient_id" json:"patient_id"`
	Product   *string `db:"product" json:"product,omitempty"`
	ProductID *string `db:"product_id" json:"product_id,omitempty"`

	Status       string       `db:"status" json:"status"`
	ReviewStatus ReviewStatus `db:"review_status" json:"review_status"`
	LockedAt     *time.Time   `db:"locked_at" json:"locked_at,omitempty"`
	LockedBy     *string      `db:"locked_by" json:"locked_by,omitempty"`

	EditableFields

	AISuggestions           *SuggestionSet `db:"ai_suggestions" json:"ai_suggestions,omitempty"`
	AISuggestionsAccepted   bool           `db:"ai_suggestions_accepted" json:"ai_suggestions_accepted"`
	AISuggestionsAcceptedAt *time.Time     `db:"ai_suggestions_accepted_at" json:"ai_suggestions_accepted_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Priority ranks a suggestion by how badly it could hold up the order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Suggestion is one proposed field change from the order reviewer model.
type Suggestion struct {
	Field          string   `json:"field"`
	CurrentValue   *string  `json:"current_value,omitempty"`
	SuggestedValue *string  `json:"suggested_value,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
}

// UnmarshalJSON accepts non-string values for current_value and
// suggested_value, which the model sometimes emits.
func (s *Suggestion) UnmarshalJSON(b []byte) error {
	var raw struct {
		Field          string          `json:"field"`
		CurrentValue   json.RawMessage `json:"current_value"`
		SuggestedValue json.RawMessage `json:"suggested_value"`
		Reason         string          `json:"reason"`
		Priority       Priority        `json:"priority"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	cur, err := NormalizeValue(raw.CurrentValue)
	if err != nil {
		return fmt.Errorf("current_value: %w", err)
	}
	sug, err := NormalizeValue(raw.SuggestedValue)
	if err != nil {
		return fmt.Errorf("suggested_value: %w", err)
	}
	*s = Suggestion{
		Field:          raw.Field,
		CurrentValue:   cur,
		SuggestedValue: sug,
		Reason:         raw.Reason,
		Priority:       raw.Priority,
	}
	return nil
}

// SuggestionSet is the ai_suggestions column.
type SuggestionSet struct {
	Suggestions       []Suggestion `json:"suggestions"`
	MissingItems      []string     `json:"missing_items"`
	Concerns          []string     `json:"concerns"`
	OverallAssessment string       `json:"overall_assessment"`
	Readiness         *Readiness   `json:"approval_score,omitempty"`
	GeneratedAt       *time.Time   `json:"generated_at,omitempty"`
}

// Readiness is the order score derived from a SuggestionSet.
type Readiness struct {
	Score        string `json:"score"`
	ScoreNumeric int    `json:"score_numeric"`
	Summary      string `json:"summary"`
}

// Change is one field's before and after value in a ledger entry.
type Change struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

// Diff maps column name to Change. Only changed columns appear.
type Diff map[string]Change

// Revision is one append-only entry in order_revisions.
type Revision struct {
	ID          int64     `db:"id" json:"id"`
	OrderID     string    `db:"order_id" json:"order_id"`
	ChangedBy   string    `db:"changed_by" json:"changed_by"`
	ChangedAt   time.Time `db:"changed_at" json:"changed_at"`
	Changes     Diff      `db:"changes" json:"changes"`
	Reason      *string   `db:"reason" json:"reason,omitempty"`
	AISuggested bool      `db:"ai_suggested" json:"ai_suggested"`
}

// EditRequest is an owner's change set. A nil value in Updates clears the
// column.
type EditRequest struct {
	Updates             map[string]*string
	AcceptAISuggestions bool
	Reason              *string
}

// RevisionResult is the outcome of ApplyEdit.
type RevisionResult struct {
	NoOp          bool      `json:"-"`
	Message       string    `json:"message"`
	ChangesCount  int       `json:"changes_count"`
	IgnoredFields []string  `json:"ignored_fields,omitempty"`
	Revision      *Revision `json:"revision,omitempty"`
}

const (
	MsgUpdated   = "Order updated successfully"
	MsgNoChanges = "No changes detected"
	MsgSubmitted = "Order submitted successfully for admin review"
)
