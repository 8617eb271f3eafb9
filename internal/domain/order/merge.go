package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// NormalizeValue turns a raw JSON value into the text stored in a column.
// null and absent values become nil, strings are taken as-is and anything
// else is kept as its compact JSON text.
func NormalizeValue(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return &s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	s := buf.String()
	return &s, nil
}

// MergeSuggestions layers accepted suggestions under the explicit updates.
// A suggestion is used only when it names a field and carries a non-empty
// suggested value. Keys already present in updates are never overridden.
func MergeSuggestions(updates map[string]*string, set *SuggestionSet) map[string]*string {
	merged := make(map[string]*string, len(updates))
	for k, v := range updates {
		merged[k] = v
	}
	if set == nil {
		return merged
	}
	for _, s := range set.Suggestions {
		if s.Field == "" || s.SuggestedValue == nil || *s.SuggestedValue == "" {
			continue
		}
		if _, explicit := updates[s.Field]; explicit {
			continue
		}
		merged[s.Field] = s.SuggestedValue
	}
	return merged
}

// Project keeps the keys that are on the edit allow-list. Dropped keys come
// back sorted.
func Project(updates map[string]*string) (map[Field]*string, []string) {
	proj := make(map[Field]*string, len(updates))
	var ignored []string
	for k, v := range updates {
		f, ok := ParseField(k)
		if !ok {
			ignored = append(ignored, k)
			continue
		}
		proj[f] = v
	}
	sort.Strings(ignored)
	return proj, ignored
}

// ComputeDiff compares proposed values against the order's current values
// and keeps only the ones that differ. Two nils are equal; nil and "" are not.
func ComputeDiff(current *EditableFields, proposed map[Field]*string) (Diff, map[Field]*string) {
	diff := Diff{}
	changed := map[Field]*string{}
	for f, next := range proposed {
		prev := current.Get(f)
		if sameValue(prev, next) {
			continue
		}
		diff[string(f)] = Change{Old: prev, New: next}
		changed[f] = next
	}
	return diff, changed
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// orderedFields returns the keys of m in allow-list order so SQL built from
// it is deterministic.
func orderedFields(m map[Field]*string) []Field {
	out := make([]Field, 0, len(m))
	for _, f := range AllFields {
		if _, ok := m[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
