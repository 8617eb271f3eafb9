package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/medsupply/portal/internal/domain/patient"
	"github.com/medsupply/portal/internal/platform/notification"
)

// store is an in-memory orders + order_revisions pair. Its InTx snapshots
// both tables and restores them when fn fails, so tests can observe
// rollback.
type store struct {
	mu        sync.Mutex
	orders    map[string]*Order
	revisions []*Revision
	nextRevID int64

	failAppend error
	failUpdate error
	forUpdate  int
}

func newStore() *store {
	return &store{orders: make(map[string]*Order)}
}

func cloneOrder(o *Order) *Order {
	c := *o
	if o.AISuggestions != nil {
		s := *o.AISuggestions
		c.AISuggestions = &s
	}
	return &c
}

func (s *store) put(o *Order) { s.orders[o.ID] = cloneOrder(o) }

func (s *store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snapOrders := make(map[string]*Order, len(s.orders))
	for k, v := range s.orders {
		snapOrders[k] = cloneOrder(v)
	}
	snapRevs := append([]*Revision(nil), s.revisions...)
	snapID := s.nextRevID
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.orders, s.revisions, s.nextRevID = snapOrders, snapRevs, snapID
		s.mu.Unlock()
		return err
	}
	return nil
}

type orderRepo struct{ s *store }

func (r orderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	r.s.mu.Lock()
	r.s.forUpdate++
	r.s.mu.Unlock()
	return r.GetByID(ctx, id)
}

func (r orderRepo) UpdateFields(_ context.Context, id string, values map[Field]*string, acceptedAI bool, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failUpdate != nil {
		return r.s.failUpdate
	}
	o, ok := r.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	for f, v := range values {
		o.Set(f, v)
	}
	o.UpdatedAt = at
	if acceptedAI {
		o.AISuggestionsAccepted = true
		o.AISuggestionsAcceptedAt = &at
	}
	return nil
}

func (r orderRepo) SetStatus(_ context.Context, id, status string, review ReviewStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status, o.ReviewStatus, o.UpdatedAt = status, review, at
	return nil
}

func (r orderRepo) SaveSuggestions(_ context.Context, id string, set *SuggestionSet, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.AISuggestions = set
	o.AISuggestionsAccepted = false
	o.AISuggestionsAcceptedAt = nil
	o.UpdatedAt = at
	return nil
}

type revisionRepo struct{ s *store }

func (r revisionRepo) Append(_ context.Context, rev *Revision) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failAppend != nil {
		return r.s.failAppend
	}
	r.s.nextRevID++
	rev.ID = r.s.nextRevID
	c := *rev
	r.s.revisions = append(r.s.revisions, &c)
	return nil
}

func (r revisionRepo) ListByOrder(_ context.Context, orderID string, limit, offset int) ([]*Revision, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*Revision
	for _, rev := range r.s.revisions {
		if rev.OrderID == orderID {
			all = append(all, rev)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ChangedAt.Before(all[j].ChangedAt) })
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

func (s *store) revisionsFor(orderID string) []*Revision {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Revision
	for _, r := range s.revisions {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out
}

type mockPatientRepo struct {
	patients map[string]*patient.Patient
}

func (m *mockPatientRepo) GetByID(_ context.Context, id string) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) ListForRescore(_ context.Context, _ patient.RescoreFilter) ([]*patient.Patient, error) {
	return nil, nil
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []string
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, patientID, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, patientID)
}

type recordingNotifier struct {
	sent []map[string]string
	err  error
}

func (n *recordingNotifier) SendFromTemplate(_ context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error) {
	if n.err != nil {
		return nil, n.err
	}
	n.sent = append(n.sent, data)
	return &notification.Notification{Recipient: recipient, Subject: templateID}, nil
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
