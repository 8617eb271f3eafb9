package order

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsupply/portal/internal/domain/patient"
	"github.com/medsupply/portal/internal/platform/auth"
	"github.com/medsupply/portal/internal/platform/notification"
)

const submitReason = "Submitted for admin review"

// ScoreEnqueuer schedules a background approval score. It never fails from
// the caller's point of view.
type ScoreEnqueuer interface {
	Enqueue(ctx context.Context, patientID, requestedBy string)
}

// Notifier sends a rendered template to one recipient.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// Completer is the text-completion call the suggestion generator needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type Service struct {
	orders    Repository
	revisions RevisionRepository
	tx        TxRunner
	logger    zerolog.Logger
	now       func() time.Time

	patients  patient.Repository
	scoring   ScoreEnqueuer
	notifier  Notifier
	notifyTo  string
	advisor   Completer
	maxTokens int
}

func NewService(orders Repository, revisions RevisionRepository, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		orders:    orders,
		revisions: revisions,
		tx:        tx,
		logger:    logger.With().Str("component", "order").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		maxTokens: 2048,
	}
}

// SetPatients attaches the patient store used for auto-score eligibility and
// suggestion prompts.
func (s *Service) SetPatients(p patient.Repository) {
	s.patients = p
}

// SetScoring attaches the background scorer triggered after edits and
// submissions.
func (s *Service) SetScoring(e ScoreEnqueuer) {
	s.scoring = e
}

// SetNotifier enables the "order submitted" notification. An empty
// recipient disables it.
func (s *Service) SetNotifier(n Notifier, recipient string) {
	s.notifier = n
	s.notifyTo = recipient
}

// SetAdvisor attaches the model used by GenerateSuggestions.
func (s *Service) SetAdvisor(c Completer, maxTokens int) {
	s.advisor = c
	if maxTokens > 0 {
		s.maxTokens = maxTokens
	}
}

// Get returns the order if actor may see it. Orders the actor cannot see are
// reported as not found.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(o, actor) {
		return nil, ErrNotFound
	}
	return o, nil
}

// Revisions lists the ledger for an order, oldest first.
func (s *Service) Revisions(ctx context.Context, actor auth.Actor, id string, limit, offset int) ([]*Revision, int, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, 0, err
	}
	return s.revisions.ListByOrder(ctx, id, limit, offset)
}

// ApplyEdit merges, filters and diffs the requested changes, then writes the
// fields and one ledger entry atomically. An empty diff writes nothing.
func (s *Service) ApplyEdit(ctx context.Context, actor auth.Actor, id string, req EditRequest) (*RevisionResult, error) {
	if len(req.Updates) == 0 && !req.AcceptAISuggestions {
		return nil, ErrNoUpdates
	}

	var (
		result    *RevisionResult
		patientID string
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := CanEdit(o, actor).Err(); err != nil {
			return err
		}
		patientID = o.PatientID

		updates := req.Updates
		acceptedAI := req.AcceptAISuggestions && o.AISuggestions != nil
		if acceptedAI {
			updates = MergeSuggestions(updates, o.AISuggestions)
		}
		proposed, ignored := Project(updates)
		diff, changed := ComputeDiff(&o.EditableFields, proposed)
		if len(diff) == 0 {
			result = &RevisionResult{NoOp: true, Message: MsgNoChanges, IgnoredFields: ignored}
			return nil
		}

		at := s.now()
		if err := s.orders.UpdateFields(ctx, id, changed, acceptedAI, at); err != nil {
			return err
		}
		rev := &Revision{
			OrderID:     id,
			ChangedBy:   actor.ID,
			ChangedAt:   at,
			Changes:     diff,
			Reason:      req.Reason,
			AISuggested: acceptedAI,
		}
		if err := s.revisions.Append(ctx, rev); err != nil {
			return err
		}
		result = &RevisionResult{
			Message:       MsgUpdated,
			ChangesCount:  len(diff),
			IgnoredFields: ignored,
			Revision:      rev,
		}
		return nil
	})
	if err != nil {
		s.logFailure(err, "apply edit", id, actor)
		return nil, err
	}

	if !result.NoOp {
		s.logger.Info().Str("order_id", id).Str("actor_id", actor.ID).
			Int("changes", result.ChangesCount).Bool("ai_suggested", result.Revision.AISuggested).
			Msg("order updated")
		s.maybeScore(ctx, patientID, actor.ID)
	}
	return result, nil
}

// SubmitDraft moves a draft into the admin review queue.
func (s *Service) SubmitDraft(ctx context.Context, actor auth.Actor, id string) (*Order, error) {
	var submitted *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsSuperadmin() && o.UserID != actor.ID {
			return &DeniedError{Code: DenyNotOwner, Reason: "You do not have permission to submit this order"}
		}
		if o.ReviewStatus != ReviewDraft {
			return &InvalidStateError{Current: o.ReviewStatus}
		}

		at := s.now()
		if err := s.orders.SetStatus(ctx, id, StatusSubmitted, ReviewPendingAdminReview, at); err != nil {
			return err
		}
		reason := submitReason
		prevStatus, prevReview := o.Status, string(o.ReviewStatus)
		newStatus, newReview := StatusSubmitted, string(ReviewPendingAdminReview)
		rev := &Revision{
			OrderID:   id,
			ChangedBy: actor.ID,
			ChangedAt: at,
			Changes: Diff{
				"status":        {Old: &prevStatus, New: &newStatus},
				"review_status": {Old: &prevReview, New: &newReview},
			},
			Reason: &reason,
		}
		if err := s.revisions.Append(ctx, rev); err != nil {
			return err
		}

		o.Status = StatusSubmitted
		o.ReviewStatus = ReviewPendingAdminReview
		o.UpdatedAt = at
		submitted = o
		return nil
	})
	if err != nil {
		s.logFailure(err, "submit draft", id, actor)
		return nil, err
	}

	s.logger.Info().Str("order_id", id).Str("actor_id", actor.ID).Msg("order submitted for review")
	s.notifySubmitted(ctx, submitted, actor)
	s.maybeScore(ctx, submitted.PatientID, actor.ID)
	return submitted, nil
}

func (s *Service) notifySubmitted(ctx context.Context, o *Order, actor auth.Actor) {
	if s.notifier == nil || s.notifyTo == "" {
		return
	}
	data := map[string]string{
		"order_id":     o.ID,
		"patient_id":   o.PatientID,
		"submitted_by": actor.ID,
		"submitted_at": o.UpdatedAt.Format(time.RFC3339),
	}
	if _, err := s.notifier.SendFromTemplate(ctx, notification.TemplateOrderSubmitted, data, s.notifyTo); err != nil {
		s.logger.Warn().Err(err).Str("order_id", o.ID).Msg("review notification failed")
	}
}

// maybeScore queues a background score when the patient record is complete
// enough to be worth scoring.
func (s *Service) maybeScore(ctx context.Context, patientID, requestedBy string) {
	if s.scoring == nil || s.patients == nil || patientID == "" {
		return
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID).Msg("auto-score lookup failed")
		return
	}
	if !p.ShouldAutoScore() {
		return
	}
	s.scoring.Enqueue(ctx, patientID, requestedBy)
}

func (s *Service) logFailure(err error, op, id string, actor auth.Actor) {
	var denied *DeniedError
	var invalid *InvalidStateError
	switch {
	case errors.As(err, &denied), errors.As(err, &invalid), errors.Is(err, ErrNotFound):
		s.logger.Debug().Err(err).Str("order_id", id).Str("actor_id", actor.ID).Msg(op + " refused")
	default:
		s.logger.Error().Err(err).Str("order_id", id).Str("actor_id", actor.ID).Msg(op + " failed")
	}
}
