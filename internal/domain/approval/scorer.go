package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsupply/portal/internal/domain/patient"
	"github.com/medsupply/portal/internal/platform/llm"
)

// ErrScoringUnavailable means the model could not be reached or timed out.
// Callers may retry.
var ErrScoringUnavailable = fmt.Errorf("approval scoring unavailable: %w", llm.ErrUnavailable)

const (
	defaultNotesLimit = 8 << 10
	imageMarker       = "[image present]"
)

// Completer is the model call the scorer depends on. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Scorer turns a patient record and its documents into a Report.
type Scorer struct {
	llm        Completer
	maxTokens  int
	notesLimit int64
	open       func(path string) (io.ReadCloser, error)
	now        func() time.Time
	logger     zerolog.Logger
}

func NewScorer(c Completer, maxTokens int, logger zerolog.Logger) *Scorer {
	return &Scorer{
		llm:        c,
		maxTokens:  maxTokens,
		notesLimit: defaultNotesLimit,
		open:       func(path string) (io.ReadCloser, error) { return os.Open(path) },
		now:        time.Now,
		logger:     logger.With().Str("component", "scorer").Logger(),
	}
}

// Score asks the model to rate p's readiness for insurance approval. An
// unreadable reply yields DefaultReport; a failed call yields
// ErrScoringUnavailable.
func (s *Scorer) Score(ctx context.Context, p *patient.Patient, docs []patient.Document) (*Report, error) {
	prompt := s.BuildPrompt(p, docs)
	reply, err := s.llm.Complete(ctx, prompt, s.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
	}
	report, ok := ParseReport(reply)
	if !ok {
		s.logger.Warn().Str("patient_id", p.ID).Int("reply_len", len(reply)).Msg("unparseable scoring reply, using default report")
		return DefaultReport(), nil
	}
	return report, nil
}

// ParseReport reads a model reply, tolerating code fences and prose around
// the JSON object.
func ParseReport(reply string) (*Report, bool) {
	text := llm.StripCodeFences(reply)
	obj, ok := llm.ExtractJSONObject(text)
	if !ok {
		return nil, false
	}
	var raw struct {
		Report
		Score        json.RawMessage `json:"score"`
		ScoreNumeric json.RawMessage `json:"score_numeric"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, false
	}
	r := raw.Report
	r.Score = ""
	if len(raw.Score) > 0 {
		var c string
		if json.Unmarshal(raw.Score, &c) == nil {
			r.Score = Color(c)
		}
	}
	if len(raw.ScoreNumeric) == 0 {
		c, known := ParseColor(string(r.Score))
		if !known {
			return nil, false
		}
		r.ScoreNumeric = defaultNumeric(c)
	} else {
		var f float64
		if err := json.Unmarshal(raw.ScoreNumeric, &f); err != nil {
			var str string
			if json.Unmarshal(raw.ScoreNumeric, &str) != nil {
				return nil, false
			}
			if _, err := fmt.Sscanf(strings.TrimSpace(str), "%g", &f); err != nil {
				return nil, false
			}
		}
		r.ScoreNumeric = int(f + 0.5)
	}
	r.normalize()
	return &r, true
}

func defaultNumeric(c Color) int {
	switch c {
	case ColorGreen:
		return 85
	case ColorRed:
		return 30
	}
	return 50
}

// BuildPrompt renders the scoring prompt. Images are only marked present;
// text clinical notes are excerpted up to the configured limit.
func (s *Scorer) BuildPrompt(p *patient.Patient, docs []patient.Document) string {
	var b strings.Builder
	b.WriteString("You are an insurance pre-authorization specialist for wound care supplies. ")
	b.WriteString("Assess how likely this patient's documentation is to be approved by their insurer.\n\n")

	b.WriteString("PATIENT DEMOGRAPHICS:\n")
	fmt.Fprintf(&b, "- Name: %s\n", orMissing(p.FullName()))
	if p.DOB != nil {
		fmt.Fprintf(&b, "- DOB: %s (age %d)\n", p.DOB.Format("2006-01-02"), p.Age(s.now()))
	} else {
		b.WriteString("- DOB: MISSING\n")
	}
	fmt.Fprintf(&b, "- Sex: %s\n", value(p.Sex))
	fmt.Fprintf(&b, "- Phone: %s\n", value(p.Phone))
	fmt.Fprintf(&b, "- Address: %s\n\n", orMissing(joinNonBlank(p.Address, p.City, p.State, p.Zip)))

	b.WriteString("INSURANCE:\n")
	fmt.Fprintf(&b, "- Provider: %s\n", value(p.InsuranceProvider))
	fmt.Fprintf(&b, "- Member ID: %s\n", value(p.InsuranceMemberID))
	fmt.Fprintf(&b, "- Group ID: %s\n\n", value(p.InsuranceGroupID))

	b.WriteString("DOCUMENTS:\n")
	if len(docs) == 0 {
		b.WriteString("- none uploaded\n")
	}
	for _, d := range docs {
		fmt.Fprintf(&b, "- %s (%s, %s): ", d.Type, d.Filename, d.Mime)
		switch {
		case d.IsImage():
			b.WriteString(imageMarker + "\n")
		case d.Type == patient.DocClinicalNotes && d.IsText():
			excerpt := s.readExcerpt(d.Path)
			if excerpt == "" {
				b.WriteString("[file present, text unavailable]\n")
			} else {
				b.WriteString("\n" + excerpt + "\n")
			}
		default:
			b.WriteString("[file present]\n")
		}
	}

	b.WriteString("\nRespond with JSON only, in this exact format:\n")
	b.WriteString(`{"score":"GREEN|YELLOW|RED","score_numeric":0-100,"summary":"2-3 sentences",`)
	b.WriteString(`"missing_items":[],"complete_items":[],"recommendations":[],"concerns":[],`)
	b.WriteString(`"document_analysis":{"<document type>":{"status":"ok|incomplete|missing","notes":"..."}}}`)
	b.WriteString("\nGREEN means low denial risk, YELLOW medium, RED high.\n")
	return b.String()
}

func (s *Scorer) readExcerpt(path string) string {
	f, err := s.open(path)
	if err != nil {
		s.logger.Debug().Err(err).Str("path", path).Msg("clinical notes unreadable")
		return ""
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, s.notesLimit))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(buf), ""))
}

func value(v *string) string {
	if v == nil {
		return "MISSING"
	}
	return orMissing(*v)
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return "MISSING"
	}
	return strings.TrimSpace(s)
}

func joinNonBlank(parts ...*string) string {
	var out []string
	for _, p := range parts {
		if p != nil && strings.TrimSpace(*p) != "" {
			out = append(out, strings.TrimSpace(*p))
		}
	}
	return strings.Join(out, ", ")
}
