package approval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/medsupply/portal/internal/domain/patient"
	"github.com/medsupply/portal/internal/platform/jobs"
	"github.com/medsupply/portal/internal/platform/notification"
)

type mockPatientRepo struct {
	patients map[string]*patient.Patient
	lastF    patient.RescoreFilter
}

func (m *mockPatientRepo) GetByID(_ context.Context, id string) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) ListForRescore(_ context.Context, f patient.RescoreFilter) ([]*patient.Patient, error) {
	m.lastF = f
	ids := make([]string, 0, len(m.patients))
	for id := range m.patients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []*patient.Patient
	for _, id := range ids {
		p := m.patients[id]
		if f.StaleBefore != nil && p.ApprovalScoreAt != nil && !p.ApprovalScoreAt.Before(*f.StaleBefore) {
			continue
		}
		out = append(out, p)
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type memScores struct {
	mu      sync.Mutex
	records []*Record
	nextID  int64
	failErr error
}

func (m *memScores) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	rec.normalize()
	m.nextID++
	rec.ID = m.nextID
	c := *rec
	m.records = append(m.records, &c)
	return nil
}

func (m *memScores) Latest(_ context.Context, patientID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Record
	for _, r := range m.records {
		if r.PatientID != patientID {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) || (r.CreatedAt.Equal(best.CreatedAt) && r.ID > best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNoScore
	}
	c := *best
	return &c, nil
}

func (m *memScores) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Record
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].PatientID == patientID {
			all = append(all, m.records[i])
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// memCache mirrors the pg cache: a write older than the cached timestamp is
// ignored.
type memCache struct {
	colors  map[string]Color
	at      map[string]time.Time
	failErr error
}

func (m *memCache) SetColor(_ context.Context, patientID string, color Color, at time.Time) error {
	if m.failErr != nil {
		return m.failErr
	}
	if m.colors == nil {
		m.colors = map[string]Color{}
		m.at = map[string]time.Time{}
	}
	if prev, ok := m.at[patientID]; ok && at.Before(prev) {
		return nil
	}
	m.colors[patientID] = color
	m.at[patientID] = at
	return nil
}

type stubScorer struct {
	reports []*Report
	err     error
	calls   int
}

func (s *stubScorer) Score(_ context.Context, _ *patient.Patient, _ []patient.Document) (*Report, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := s.reports[(s.calls-1)%len(s.reports)]
	c := *r
	return &c, nil
}

type recordingDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type recordingNotifier struct {
	sent []string
}

func (n *recordingNotifier) SendFromTemplate(_ context.Context, templateID string, _ map[string]string, recipient string) (*notification.Notification, error) {
	n.sent = append(n.sent, templateID)
	return &notification.Notification{Recipient: recipient}, nil
}

type stubCompleter struct {
	reply  string
	err    error
	prompt string
}

func (c *stubCompleter) Complete(_ context.Context, prompt string, _ int) (string, error) {
	c.prompt = prompt
	return c.reply, c.err
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }
