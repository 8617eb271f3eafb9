package approval

import (
	"encoding/json"
	"strings"
	"time"
)

// Color is the traffic-light risk band of a score.
type Color string

const (
	ColorGreen  Color = "GREEN"
	ColorYellow Color = "YELLOW"
	ColorRed    Color = "RED"
)

// ParseColor accepts any case and the low/medium/high risk aliases.
func ParseColor(s string) (Color, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GREEN", "LOW":
		return ColorGreen, true
	case "YELLOW", "MEDIUM", "AMBER":
		return ColorYellow, true
	case "RED", "HIGH":
		return ColorRed, true
	}
	return "", false
}

// ColorForScore derives a band from the numeric score.
func ColorForScore(n int) Color {
	switch {
	case n >= 75:
		return ColorGreen
	case n >= 50:
		return ColorYellow
	}
	return ColorRed
}

// DocumentFinding is the model's view of one uploaded document.
type DocumentFinding struct {
	Status string   `json:"status,omitempty"`
	Notes  string   `json:"notes,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

// UnmarshalJSON also accepts a bare string, which becomes Notes.
func (d *DocumentFinding) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = DocumentFinding{Notes: s}
		return nil
	}
	type plain DocumentFinding
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = DocumentFinding(p)
	return nil
}

// Report is the typed form of a scoring reply.
type Report struct {
	Score            Color                      `json:"score"`
	ScoreNumeric     int                        `json:"score_numeric"`
	Summary          string                     `json:"summary"`
	MissingItems     []string                   `json:"missing_items"`
	CompleteItems    []string                   `json:"complete_items"`
	Recommendations  []string                   `json:"recommendations"`
	Concerns         []string                   `json:"concerns"`
	DocumentAnalysis map[string]DocumentFinding `json:"document_analysis"`
}

// DefaultReport is used when the model answered but the answer could not be
// read.
func DefaultReport() *Report {
	return &Report{
		Score:            ColorYellow,
		ScoreNumeric:     50,
		Summary:          "manual review recommended",
		MissingItems:     []string{},
		CompleteItems:    []string{},
		Recommendations:  []string{"manual review recommended"},
		Concerns:         []string{},
		DocumentAnalysis: map[string]DocumentFinding{},
	}
}

// normalize clamps the numeric score, fixes up the color and replaces nil
// collections so the stored JSON is never null.
func (r *Report) normalize() {
	if r.ScoreNumeric < 0 {
		r.ScoreNumeric = 0
	}
	if r.ScoreNumeric > 100 {
		r.ScoreNumeric = 100
	}
	if c, ok := ParseColor(string(r.Score)); ok {
		r.Score = c
	} else {
		r.Score = ColorForScore(r.ScoreNumeric)
	}
	if r.MissingItems == nil {
		r.MissingItems = []string{}
	}
	if r.CompleteItems == nil {
		r.CompleteItems = []string{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	if r.Concerns == nil {
		r.Concerns = []string{}
	}
	if r.DocumentAnalysis == nil {
		r.DocumentAnalysis = map[string]DocumentFinding{}
	}
}

// Record is one immutable row of patient_approval_scores.
type Record struct {
	ID        int64     `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	CreatedBy *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Report
}

// RescoreOptions selects patients for a batch run.
type RescoreOptions struct {
	Limit  int
	Offset int
	// Force ignores the staleness window and rescores everyone in range.
	Force bool
}

// RescoreSummary counts the outcome of a batch run.
type RescoreSummary struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}
