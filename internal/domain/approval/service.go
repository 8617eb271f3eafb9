package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsupply/portal/internal/domain/patient"
	"github.com/medsupply/portal/internal/platform/auth"
	"github.com/medsupply/portal/internal/platform/jobs"
	"github.com/medsupply/portal/internal/platform/notification"
)

// ErrPatientNotFound also covers patients the actor may not see.
var ErrPatientNotFound = errors.New("patient not found or access denied")

const maxRescoreLimit = 500

// ReportScorer produces a Report for a patient. *Scorer satisfies it.
type ReportScorer interface {
	Score(ctx context.Context, p *patient.Patient, docs []patient.Document) (*Report, error)
}

// Notifier sends a rendered template. *notification.Manager satisfies it.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

type Service struct {
	patients patient.Repository
	scores   ScoreRepository
	cache    ColorCache
	scorer   ReportScorer
	logger   zerolog.Logger
	now      func() time.Time

	dispatcher jobs.Dispatcher
	notifier   Notifier
	notifyTo   string
	staleAfter time.Duration
}

func NewService(patients patient.Repository, scores ScoreRepository, cache ColorCache, scorer ReportScorer, logger zerolog.Logger) *Service {
	return &Service{
		patients:   patients,
		scores:     scores,
		cache:      cache,
		scorer:     scorer,
		logger:     logger.With().Str("component", "approval").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		staleAfter: 7 * 24 * time.Hour,
	}
}

// SetDispatcher attaches the background queue used by Enqueue.
func (s *Service) SetDispatcher(d jobs.Dispatcher) {
	s.dispatcher = d
}

// SetNotifier enables an email when a background score cannot be produced.
func (s *Service) SetNotifier(n Notifier, recipient string) {
	s.notifier = n
	s.notifyTo = recipient
}

// SetStaleAfter sets how old a cached score must be before RescoreStale
// picks the patient up.
func (s *Service) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.staleAfter = d
	}
}

func (s *Service) visiblePatient(ctx context.Context, actor auth.Actor, id string) (*patient.Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.AccessibleBy(actor) {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

// RunNow scores the patient synchronously and stores the result.
func (s *Service) RunNow(ctx context.Context, actor auth.Actor, patientID string) (*Record, error) {
	p, err := s.visiblePatient(ctx, actor, patientID)
	if err != nil {
		return nil, err
	}
	return s.scoreAndStore(ctx, p, actor.ID)
}

// RequestAsync checks access and queues a background score.
func (s *Service) RequestAsync(ctx context.Context, actor auth.Actor, patientID string) error {
	if _, err := s.visiblePatient(ctx, actor, patientID); err != nil {
		return err
	}
	s.Enqueue(ctx, patientID, actor.ID)
	return nil
}

// Enqueue hands a scoring job to the dispatcher. Failures are logged and
// never returned.
func (s *Service) Enqueue(ctx context.Context, patientID, requestedBy string) {
	log := s.logger.With().Str("patient_id", patientID).Logger()
	if s.dispatcher == nil {
		log.Warn().Msg("no job dispatcher configured, approval score not queued")
		return
	}
	job := jobs.Job{Kind: jobs.KindApprovalScore, PatientID: patientID, RequestedBy: requestedBy}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			log.Warn().Err(err).Msg("approval score dropped")
			return
		}
		log.Error().Err(err).Msg("approval score dispatch failed")
		return
	}
	log.Debug().Msg("approval score queued")
}

// HandleJob is the jobs.Handler for jobs.KindApprovalScore.
func (s *Service) HandleJob(ctx context.Context, job jobs.Job) error {
	p, err := s.patients.GetByID(ctx, job.PatientID)
	if err != nil {
		return fmt.Errorf("load patient %s: %w", job.PatientID, err)
	}
	if _, err := s.scoreAndStore(ctx, p, job.RequestedBy); err != nil {
		if errors.Is(err, ErrScoringUnavailable) {
			s.notifyUnavailable(ctx, job.PatientID, err)
		}
		return err
	}
	return nil
}

func (s *Service) scoreAndStore(ctx context.Context, p *patient.Patient, requestedBy string) (*Record, error) {
	start := time.Now()
	report, err := s.scorer.Score(ctx, p, p.Documents())
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", p.ID).Dur("elapsed", time.Since(start)).Msg("approval scoring failed")
		return nil, err
	}

	rec := &Record{PatientID: p.ID, CreatedAt: s.now(), Report: *report}
	if requestedBy != "" {
		rec.CreatedBy = &requestedBy
	}
	if err := s.scores.Insert(ctx, rec); err != nil {
		return nil, err
	}
	// The cached color is advisory. The record above is the source of truth.
	if err := s.cache.SetColor(ctx, p.ID, rec.Score, rec.CreatedAt); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", p.ID).Msg("approval color cache update failed")
	}

	s.logger.Info().Str("patient_id", p.ID).Str("score", string(rec.Score)).
		Int("score_numeric", rec.ScoreNumeric).Dur("elapsed", time.Since(start)).Msg("approval score recorded")
	return rec, nil
}

func (s *Service) notifyUnavailable(ctx context.Context, patientID string, cause error) {
	if s.notifier == nil || s.notifyTo == "" {
		return
	}
	data := map[string]string{"patient_id": patientID, "reason": cause.Error()}
	if _, err := s.notifier.SendFromTemplate(ctx, notification.TemplateScoreUnavailable, data, s.notifyTo); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID).Msg("score-unavailable notification failed")
	}
}

// Current returns the newest record for the patient.
func (s *Service) Current(ctx context.Context, actor auth.Actor, patientID string) (*Record, error) {
	if _, err := s.visiblePatient(ctx, actor, patientID); err != nil {
		return nil, err
	}
	return s.scores.Latest(ctx, patientID)
}

// History lists records newest first.
func (s *Service) History(ctx context.Context, actor auth.Actor, patientID string, limit, offset int) ([]*Record, int, error) {
	if _, err := s.visiblePatient(ctx, actor, patientID); err != nil {
		return nil, 0, err
	}
	return s.scores.ListByPatient(ctx, patientID, limit, offset)
}

// RescoreStale synchronously rescores a page of patients whose cached score
// is missing or older than the staleness window. Patients without name and
// date of birth are skipped. Individual failures are counted, not returned.
func (s *Service) RescoreStale(ctx context.Context, opts RescoreOptions) (*RescoreSummary, error) {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	if opts.Limit > maxRescoreLimit {
		opts.Limit = maxRescoreLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	filter := patient.RescoreFilter{Limit: opts.Limit, Offset: opts.Offset}
	if !opts.Force {
		cutoff := s.now().Add(-s.staleAfter)
		filter.StaleBefore = &cutoff
	}

	list, err := s.patients.ListForRescore(ctx, filter)
	if err != nil {
		return nil, err
	}

	sum := &RescoreSummary{}
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Processed++
		if !p.HasBasicInfo() {
			sum.Skipped++
			continue
		}
		if _, err := s.scoreAndStore(ctx, p, ""); err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", p.ID, err))
			continue
		}
		sum.Succeeded++
	}
	s.logger.Info().Int("processed", sum.Processed).Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).Int("skipped", sum.Skipped).Bool("force", opts.Force).Msg("batch rescore finished")
	return sum, nil
}
