package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/medsupply/portal/internal/domain/patient"
	"github.com/medsupply/portal/internal/platform/auth"
	"github.com/medsupply/portal/internal/platform/llm"
)

// ErrAdvisorUnavailable is returned when suggestions cannot be generated
// because the model could not be reached.
var ErrAdvisorUnavailable = errors.New("order suggestions unavailable")

const (
	promptValueLimit = 500
	notProvided      = "Not provided"
)

// Readiness colors.
const (
	ReadinessGreen  = "GREEN"
	ReadinessYellow = "YELLOW"
	ReadinessRed    = "RED"
)

var priorityPenalty = map[Priority]int{
	PriorityHigh:   15,
	PriorityMedium: 10,
	PriorityLow:    5,
}

// ScoreSuggestions rates how ready an order is for submission. It starts at
// 100 and deducts per suggestion by priority, per missing item and per
// concern. Unknown priorities count as medium.
func ScoreSuggestions(set *SuggestionSet) Readiness {
	score := 100
	for _, s := range set.Suggestions {
		p, ok := priorityPenalty[Priority(strings.ToLower(string(s.Priority)))]
		if !ok {
			p = priorityPenalty[PriorityMedium]
		}
		score -= p
	}
	score -= 10 * len(set.MissingItems)
	score -= 5 * len(set.Concerns)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	color := ReadinessRed
	switch {
	case score >= 85:
		color = ReadinessGreen
	case score >= 70:
		color = ReadinessYellow
	}
	summary := set.OverallAssessment
	if summary == "" {
		summary = "Order reviewed"
	}
	return Readiness{Score: color, ScoreNumeric: score, Summary: summary}
}

// ParseSuggestions reads the model reply. Replies without a JSON object
// holding a "suggestions" key become an empty set whose assessment is the
// raw reply.
func ParseSuggestions(reply string) *SuggestionSet {
	fallback := &SuggestionSet{
		Suggestions:       []Suggestion{},
		MissingItems:      []string{},
		Concerns:          []string{},
		OverallAssessment: strings.TrimSpace(reply),
	}
	obj, ok := llm.ExtractJSONObject(reply)
	if !ok {
		return fallback
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &probe); err != nil {
		return fallback
	}
	if _, ok := probe["suggestions"]; !ok {
		return fallback
	}
	var set SuggestionSet
	if err := json.Unmarshal([]byte(obj), &set); err != nil {
		return fallback
	}
	if set.Suggestions == nil {
		set.Suggestions = []Suggestion{}
	}
	if set.MissingItems == nil {
		set.MissingItems = []string{}
	}
	if set.Concerns == nil {
		set.Concerns = []string{}
	}
	return &set
}

func promptValue(v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return notProvided
	}
	s := strings.TrimSpace(*v)
	if r := []rune(s); len(r) > promptValueLimit {
		s = string(r[:promptValueLimit])
	}
	return s
}

// BuildSuggestionPrompt renders the order-review prompt. p may be nil when
// the patient record is unavailable.
func BuildSuggestionPrompt(o *Order, p *patient.Patient) string {
	var name, dob, mrn *string
	if p != nil {
		full := p.FullName()
		name = &full
		if p.DOB != nil {
			d := p.DOB.Format("2006-01-02")
			dob = &d
		}
		mrn = &p.ID
	}
	e := &o.EditableFields

	var b strings.Builder
	b.WriteString("You are a medical supply order reviewer. Review this wound care order for completeness and accuracy ")
	b.WriteString("and suggest corrections that would help it get approved by insurance.\n\n")

	b.WriteString("PATIENT:\n")
	fmt.Fprintf(&b, "- Name: %s\n- DOB: %s\n- MRN: %s\n\n", promptValue(name), promptValue(dob), promptValue(mrn))

	b.WriteString("INSURANCE:\n")
	fmt.Fprintf(&b, "- Payment type: %s\n- Provider: %s\n- Member ID: %s\n- Group ID: %s\n\n",
		promptValue(e.PaymentType), promptValue(e.InsurerName), promptValue(e.MemberID), promptValue(e.GroupID))

	b.WriteString("CLINICAL:\n")
	fmt.Fprintf(&b, "- Product: %s\n- CPT/Product code: %s\n- Wound location: %s\n- Laterality: %s\n- Wound notes: %s\n- Frequency: %s\n\n",
		promptValue(o.Product), promptValue(o.ProductID), promptValue(e.WoundLocation),
		promptValue(e.WoundLaterality), promptValue(e.WoundNotes), promptValue(e.Frequency))

	b.WriteString("DELIVERY:\n")
	address := joinPresent(e.ShippingAddress, e.ShippingCity, e.ShippingState, e.ShippingZip)
	fmt.Fprintf(&b, "- Mode: %s\n- Address: %s\n\n", promptValue(e.DeliveryMode), promptValue(address))

	b.WriteString("Respond with JSON only, in this exact format:\n")
	b.WriteString(`{"suggestions":[{"field":"<order field name>","current_value":"<current>","suggested_value":"<suggested>","reason":"<why>","priority":"high|medium|low"}],`)
	b.WriteString(`"missing_items":["<missing item>"],"concerns":["<concern>"],"overall_assessment":"<one or two sentences>"}`)
	b.WriteString("\n\nOnly use these field names: ")
	names := make([]string, len(AllFields))
	for i, f := range AllFields {
		names[i] = string(f)
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".\n")
	return b.String()
}

func joinPresent(parts ...*string) *string {
	var out []string
	for _, p := range parts {
		if p != nil && strings.TrimSpace(*p) != "" {
			out = append(out, strings.TrimSpace(*p))
		}
	}
	if len(out) == 0 {
		return nil
	}
	s := strings.Join(out, ", ")
	return &s
}

// GenerateSuggestions asks the model to review an order and stores the
// result on it, clearing any earlier acceptance.
func (s *Service) GenerateSuggestions(ctx context.Context, actor auth.Actor, id string) (*SuggestionSet, error) {
	if s.advisor == nil {
		return nil, ErrAdvisorUnavailable
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanEdit(o, actor).Err(); err != nil {
		return nil, err
	}

	var p *patient.Patient
	if s.patients != nil {
		if p, err = s.patients.GetByID(ctx, o.PatientID); err != nil && !errors.Is(err, patient.ErrNotFound) {
			return nil, err
		}
	}

	reply, err := s.advisor.Complete(ctx, BuildSuggestionPrompt(o, p), s.maxTokens)
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", id).Msg("suggestion generation failed")
		return nil, fmt.Errorf("%w: %v", ErrAdvisorUnavailable, err)
	}

	set := ParseSuggestions(reply)
	readiness := ScoreSuggestions(set)
	set.Readiness = &readiness
	at := s.now()
	set.GeneratedAt = &at

	// The order may have been locked or moved on while the model ran.
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := CanEdit(cur, actor).Err(); err != nil {
			return err
		}
		return s.orders.SaveSuggestions(ctx, id, set, at)
	})
	if err != nil {
		s.logFailure(err, "generate_suggestions", id, actor)
		return nil, err
	}
	s.logger.Info().Str("order_id", id).Int("suggestions", len(set.Suggestions)).
		Str("readiness", readiness.Score).Msg("order suggestions stored")
	return set, nil
}
