package order

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/medsupply/portal/internal/domain/patient"
	"github.com/medsupply/portal/internal/platform/llm"
)

func TestScoreSuggestions(t *testing.T) {
	tests := []struct {
		name  string
		set   SuggestionSet
		score int
		color string
	}{
		{"clean", SuggestionSet{}, 100, ReadinessGreen},
		{"one high", SuggestionSet{Suggestions: []Suggestion{{Priority: PriorityHigh}}}, 85, ReadinessGreen},
		{"high and medium", SuggestionSet{Suggestions: []Suggestion{{Priority: PriorityHigh}, {Priority: "MEDIUM"}}}, 75, ReadinessYellow},
		{"missing priority counts as medium", SuggestionSet{Suggestions: []Suggestion{{}, {}, {}}}, 70, ReadinessYellow},
		{"items and concerns", SuggestionSet{
			Suggestions:  []Suggestion{{Priority: PriorityLow}},
			MissingItems: []string{"a", "b"},
			Concerns:     []string{"c"},
		}, 70, ReadinessYellow},
		{"clamped", SuggestionSet{MissingItems: make([]string, 12)}, 0, ReadinessRed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ScoreSuggestions(&tt.set)
			if r.ScoreNumeric != tt.score || r.Score != tt.color {
				t.Errorf("got %d/%s, want %d/%s", r.ScoreNumeric, r.Score, tt.score, tt.color)
			}
			if r.Summary != "Order reviewed" {
				t.Errorf("unexpected default summary %q", r.Summary)
			}
		})
	}
}

func TestParseSuggestions(t *testing.T) {
	reply := "Here you go:\n```json\n" +
		`{"suggestions":[{"field":"wound_laterality","current_value":"","suggested_value":"left","reason":"required","priority":"high"}],` +
		`"missing_items":["photo id"],"concerns":[],"overall_assessment":"Nearly ready"}` +
		"\n```"
	set := ParseSuggestions(reply)
	if len(set.Suggestions) != 1 || set.Suggestions[0].Field != "wound_laterality" {
		t.Fatalf("unexpected suggestions: %+v", set.Suggestions)
	}
	if set.OverallAssessment != "Nearly ready" || len(set.MissingItems) != 1 {
		t.Errorf("unexpected set: %+v", set)
	}
	if set.Concerns == nil {
		t.Error("concerns should be an empty list, not nil")
	}
}

func TestParseSuggestions_Fallback(t *testing.T) {
	for _, reply := range []string{
		"I could not review this order.",
		`{"assessment":"no suggestions key"}`,
		`{"suggestions": [broken`,
	} {
		set := ParseSuggestions(reply)
		if len(set.Suggestions) != 0 || set.Suggestions == nil {
			t.Errorf("%q: expected empty suggestion list", reply)
		}
		if set.OverallAssessment != reply {
			t.Errorf("%q: assessment = %q", reply, set.OverallAssessment)
		}
	}
}

func TestBuildSuggestionPrompt(t *testing.T) {
	o := draftOrder()
	o.WoundNotes = strPtr(strings.Repeat("x", 700))
	o.ShippingCity = strPtr("Austin")
	o.ShippingState = strPtr("TX")
	dob := time.Date(1948, 5, 2, 0, 0, 0, 0, time.UTC)
	p := &patient.Patient{ID: "patient-1", FirstName: strPtr("Ada"), LastName: strPtr("Byron"), DOB: &dob}

	prompt := BuildSuggestionPrompt(o, p)
	for _, want := range []string{"PATIENT:", "INSURANCE:", "CLINICAL:", "DELIVERY:", "Ada Byron", "1948-05-02",
		"Address: Austin, TX", "Member ID: Not provided", `"priority":"high|medium|low"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, strings.Repeat("x", 501)) {
		t.Error("long values should be truncated to 500 characters")
	}
}

func TestGenerateSuggestions(t *testing.T) {
	svc, s := newTestService()
	o := draftOrder()
	o.AISuggestionsAccepted = true
	s.put(o)
	c := &stubCompleter{reply: `{"suggestions":[{"field":"frequency","suggested_value":"weekly","priority":"medium"}],"missing_items":[],"concerns":["no laterality"],"overall_assessment":"ok"}`}
	svc.SetAdvisor(c, 0)

	set, err := svc.GenerateSuggestions(context.Background(), owner, "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Readiness == nil || set.Readiness.ScoreNumeric != 85 || set.Readiness.Score != ReadinessGreen {
		t.Errorf("unexpected readiness: %+v", set.Readiness)
	}
	got, _ := orderRepo{s}.GetByID(context.Background(), "order-1")
	if got.AISuggestions == nil || len(got.AISuggestions.Suggestions) != 1 {
		t.Error("suggestions not stored on order")
	}
	if got.AISuggestionsAccepted {
		t.Error("acceptance should be reset")
	}
	if !strings.Contains(c.prompt, "Frequency: daily") {
		t.Error("prompt should include current frequency")
	}
}

func TestGenerateSuggestions_Unavailable(t *testing.T) {
	svc, s := newTestService()
	s.put(draftOrder())
	svc.SetAdvisor(&stubCompleter{err: llm.ErrUnavailable}, 0)

	_, err := svc.GenerateSuggestions(context.Background(), owner, "order-1")
	if !errors.Is(err, ErrAdvisorUnavailable) {
		t.Fatalf("expected ErrAdvisorUnavailable, got %v", err)
	}
}

func TestGenerateSuggestions_RequiresEditPermission(t *testing.T) {
	svc, s := newTestService()
	o := draftOrder()
	o.ReviewStatus = ReviewApproved
	s.put(o)
	c := &stubCompleter{reply: `{"suggestions":[]}`}
	svc.SetAdvisor(c, 0)

	_, err := svc.GenerateSuggestions(context.Background(), owner, "order-1")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if c.prompt != "" {
		t.Error("model should not be called when the guard denies")
	}
}

// lockingCompleter simulates an admin locking and approving the order while
// the model call is in flight.
type lockingCompleter struct {
	s     *store
	reply string
}

func (c *lockingCompleter) Complete(_ context.Context, _ string, _ int) (string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	o := c.s.orders["order-1"]
	at := fixedNow
	o.LockedAt = &at
	o.ReviewStatus = ReviewApproved
	return c.reply, nil
}

func TestGenerateSuggestions_LockedDuringModelCall(t *testing.T) {
	svc, s := newTestService()
	o := draftOrder()
	o.AISuggestionsAccepted = true
	s.put(o)
	svc.SetAdvisor(&lockingCompleter{s: s, reply: `{"suggestions":[{"field":"frequency","suggested_value":"weekly"}]}`}, 0)

	_, err := svc.GenerateSuggestions(context.Background(), owner, "order-1")
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Code != DenyLocked {
		t.Fatalf("expected locked DeniedError, got %v", err)
	}

	got, _ := orderRepo{s}.GetByID(context.Background(), "order-1")
	if got.AISuggestions != nil {
		t.Error("suggestions must not be stored on a locked order")
	}
	if !got.AISuggestionsAccepted {
		t.Error("earlier acceptance must survive")
	}
	if s.forUpdate != 1 {
		t.Errorf("expected the order to be re-read under lock once, got %d", s.forUpdate)
	}
}

func TestBuildSuggestionPrompt_TruncatesByRune(t *testing.T) {
	o := draftOrder()
	o.WoundNotes = strPtr(strings.Repeat("é", 600))

	prompt := BuildSuggestionPrompt(o, nil)
	if !utf8.ValidString(prompt) {
		t.Fatal("truncation split a multi-byte character")
	}
	if !strings.Contains(prompt, strings.Repeat("é", 500)) || strings.Contains(prompt, strings.Repeat("é", 501)) {
		t.Error("expected exactly 500 characters of the notes")
	}
}
