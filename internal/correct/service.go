package correct

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/audit"
	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

// LearnEnqueuer hands deferred-tier corrections to the learning pipeline.
type LearnEnqueuer interface {
	Enqueue(ctx context.Context, c model.Correction) error
}

// ServiceConfig tunes the correction ingestion pipeline.
type ServiceConfig struct {
	// Window is how long the first correction for a field waits for
	// concurrent rivals before resolution runs.
	Window time.Duration
	Policy ConflictPolicy
}

// Service is the correction ingestion pipeline: validate, gather rivals,
// resolve conflicts, route by tier, and commit to the version store.
type Service struct {
	st        store.Store
	validator *Validator
	batcher   *Batcher
	learn     LearnEnqueuer
	audit     *audit.Recorder
	locks     *FieldLocks
	cfg       ServiceConfig

	mu      sync.Mutex
	pending map[string]*pendingField
}

// pendingField gathers corrections for one field during the resolution
// window. Submitters block on done; flush fills results before closing it.
type pendingField struct {
	corrs   []model.Correction
	results map[string]*model.CorrectionResult
	done    chan struct{}
}

// NewService wires the correction pipeline. learn may be nil when the
// deferred-learning queue is disabled.
func NewService(st store.Store, validator *Validator, batcher *Batcher, learn LearnEnqueuer, rec *audit.Recorder, cfg ServiceConfig) *Service {
	if cfg.Window <= 0 {
		cfg.Window = 250 * time.Millisecond
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyLatestTimestamp
	}
	return &Service{
		st:        st,
		validator: validator,
		batcher:   batcher,
		learn:     learn,
		audit:     rec,
		locks:     NewFieldLocks(),
		cfg:       cfg,
		pending:   make(map[string]*pendingField),
	}
}

// Submit runs one correction through the pipeline. It blocks until the
// field's resolution window closes, so the returned result reflects any
// conflict the correction lost.
func (s *Service) Submit(ctx context.Context, c model.Correction) (*model.CorrectionResult, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}

	sanitized, issues, err := s.validator.Validate(ctx, c)
	if err != nil {
		return nil, err
	}
	c.CorrectedValue = sanitized

	if model.HasCritical(issues) {
		if err := s.st.SaveCorrection(ctx, c, model.CorrectionRejected, RouteTier(c)); err != nil {
			return nil, err
		}
		s.audit.Record(ctx, model.AuditValidationFail, c.FieldID, c.ActorID, issues)
		return &model.CorrectionResult{
			CorrectionID: c.ID,
			Accepted:     false,
			Status:       model.CorrectionRejected,
			Issues:       issues,
		}, nil
	}

	p, dup := s.join(c)
	if dup {
		return &model.CorrectionResult{
			CorrectionID: c.ID,
			Accepted:     false,
			Status:       model.CorrectionRejected,
			Issues: append(issues, model.Issue{
				Severity: model.SeverityCritical,
				Code:     CodeDuplicateID,
				Message:  "a correction with this id is already awaiting resolution",
			}),
		}, nil
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		// The correction stays in the window and will still be resolved;
		// only this caller stops waiting for the outcome.
		return nil, eris.Wrap(ctx.Err(), "correct: submit cancelled")
	}

	res := p.results[c.ID]
	res.Issues = append(issues, res.Issues...)
	return res, nil
}

// join adds the correction to its field's open window, opening one (and
// arming its flush timer) if needed. Results are keyed by correction ID,
// so a rival reusing an ID already in the window is refused instead of
// silently sharing the first submitter's slot.
func (s *Service) join(c model.Correction) (*pendingField, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[c.FieldID]
	if !ok {
		p = &pendingField{
			results: make(map[string]*model.CorrectionResult),
			done:    make(chan struct{}),
		}
		s.pending[c.FieldID] = p
		fieldID := c.FieldID
		time.AfterFunc(s.cfg.Window, func() { s.flushField(fieldID) })
	}
	for _, existing := range p.corrs {
		if existing.ID == c.ID {
			return nil, true
		}
	}
	p.corrs = append(p.corrs, c)
	return p, false
}

// flushField closes the field's window, resolves any conflict, and
// commits the winner. Runs on the window timer goroutine with its own
// context; submitters may already be gone.
func (s *Service) flushField(fieldID string) {
	s.mu.Lock()
	p := s.pending[fieldID]
	delete(s.pending, fieldID)
	s.mu.Unlock()
	if p == nil {
		return
	}
	defer close(p.done)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	lock := s.locks.Get(fieldID)
	lock.Lock()
	defer lock.Unlock()

	winner := &p.corrs[0]
	var losers []model.Correction

	if len(p.corrs) > 1 {
		set := model.ConflictSet{FieldID: fieldID, Corrections: p.corrs}
		s.audit.Record(ctx, model.AuditConflict, fieldID, "", set)

		var err error
		winner, losers, err = Resolve(s.cfg.Policy, set)
		if eris.Is(err, ErrConflictUnresolved) {
			s.markUnresolved(ctx, p, set)
			return
		}
		if err != nil {
			s.failAll(p, err)
			return
		}
	}

	for _, loser := range losers {
		if err := s.st.SaveCorrection(ctx, loser, model.CorrectionSuperseded, RouteTier(loser)); err != nil {
			zap.L().Error("superseded correction save failed",
				zap.String("correction_id", loser.ID),
				zap.Error(err),
			)
		}
		p.results[loser.ID] = &model.CorrectionResult{
			CorrectionID: loser.ID,
			Accepted:     false,
			Status:       model.CorrectionSuperseded,
		}
	}

	p.results[winner.ID] = s.commitWinner(ctx, *winner)
}

// commitWinner routes the winning correction by tier. Immediate and
// deferred tiers write the version now; batched hands off to the batcher
// and acknowledges with pending status.
func (s *Service) commitWinner(ctx context.Context, c model.Correction) *model.CorrectionResult {
	tier := RouteTier(c)

	if tier == model.TierBatched {
		if err := s.st.SaveCorrection(ctx, c, model.CorrectionPending, tier); err != nil {
			return s.failResult(c, err)
		}
		s.batcher.Add(c)
		s.audit.Record(ctx, model.AuditCorrection, c.FieldID, c.ActorID, map[string]any{
			"correction_id": c.ID,
			"tier":          tier,
		})
		return &model.CorrectionResult{
			CorrectionID: c.ID,
			Accepted:     true,
			Status:       model.CorrectionPending,
			Tier:         tier,
		}
	}

	if err := s.st.SaveCorrection(ctx, c, model.CorrectionCommitted, tier); err != nil {
		return s.failResult(c, err)
	}
	v, err := s.st.AppendVersion(ctx, model.FieldVersion{
		FieldID:    c.FieldID,
		Value:      c.CorrectedValue,
		Confidence: 1.0, // human-confirmed
		ProducedBy: model.ProducedByCorrection,
		Timestamp:  c.Timestamp,
	})
	if err != nil {
		return s.failResult(c, err)
	}

	s.audit.Record(ctx, model.AuditCorrection, c.FieldID, c.ActorID, map[string]any{
		"correction_id": c.ID,
		"tier":          tier,
		"version_id":    v.VersionID,
	})

	if tier == model.TierDeferred && s.learn != nil {
		if err := s.learn.Enqueue(ctx, c); err != nil {
			zap.L().Warn("learn enqueue failed",
				zap.String("correction_id", c.ID),
				zap.Error(err),
			)
		}
	}

	vid := v.VersionID
	return &model.CorrectionResult{
		CorrectionID: c.ID,
		Accepted:     true,
		Status:       model.CorrectionCommitted,
		Tier:         tier,
		VersionID:    &vid,
	}
}

// Rollback restores a prior version by appending a new one, honoring the
// same per-field serialization as corrections.
func (s *Service) Rollback(ctx context.Context, fieldID string, toVersionID int64, actorID string) (*model.FieldVersion, error) {
	lock := s.locks.Get(fieldID)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.st.Rollback(ctx, fieldID, toVersionID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, model.AuditRollback, fieldID, actorID, map[string]any{
		"to_version":  toVersionID,
		"new_version": v.VersionID,
	})
	return v, nil
}

func (s *Service) markUnresolved(ctx context.Context, p *pendingField, set model.ConflictSet) {
	for _, c := range set.Corrections {
		if err := s.st.SaveCorrection(ctx, c, model.CorrectionUnresolved, RouteTier(c)); err != nil {
			zap.L().Error("unresolved correction save failed",
				zap.String("correction_id", c.ID),
				zap.Error(err),
			)
		}
		p.results[c.ID] = &model.CorrectionResult{
			CorrectionID: c.ID,
			Accepted:     false,
			Status:       model.CorrectionUnresolved,
			Conflicts:    set.Corrections,
		}
	}
}

func (s *Service) failAll(p *pendingField, err error) {
	zap.L().Error("conflict resolution failed", zap.Error(err))
	for _, c := range p.corrs {
		p.results[c.ID] = &model.CorrectionResult{
			CorrectionID: c.ID,
			Accepted:     false,
			Status:       model.CorrectionRejected,
			Issues: []model.Issue{{
				Severity: model.SeverityCritical,
				Code:     "internal",
				Message:  err.Error(),
			}},
		}
	}
}

func (s *Service) failResult(c model.Correction, err error) *model.CorrectionResult {
	zap.L().Error("correction commit failed",
		zap.String("correction_id", c.ID),
		zap.Error(err),
	)
	return &model.CorrectionResult{
		CorrectionID: c.ID,
		Accepted:     false,
		Status:       model.CorrectionRejected,
		Issues: []model.Issue{{
			Severity: model.SeverityCritical,
			Code:     "internal",
			Message:  err.Error(),
		}},
	}
}
