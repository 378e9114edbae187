// Package workflow drives a case from uploaded transcript to rendered quote.
package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/document"
	"github.com/Kiwi1009/interview-to-quote/internal/extraction"
	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/pricing"
	"github.com/Kiwi1009/interview-to-quote/internal/upload"
)

// Options tunes how long the pipeline waits for extraction.
type Options struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	// PhotoWorkers bounds concurrent photo registration.
	PhotoWorkers int
}

// Service owns case lifecycle and the end-to-end pipeline.
type Service struct {
	db         *casedb.Store
	uploads    *upload.Manager
	extraction *extraction.Orchestrator
	pricing    *pricing.Engine
	documents  *document.Service
	opts       Options
	log        *logger.Logger
}

// New wires the workflow and registers it for run completion so that a
// case moves to reviewing even when nobody awaits the run.
func New(db *casedb.Store, uploads *upload.Manager, ext *extraction.Orchestrator, engine *pricing.Engine, docs *document.Service, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if opts.PhotoWorkers <= 0 {
		opts.PhotoWorkers = 4
	}
	s := &Service{
		db:         db,
		uploads:    uploads,
		extraction: ext,
		pricing:    engine,
		documents:  docs,
		opts:       opts,
		log:        log,
	}
	ext.OnComplete(s.onRunComplete)
	return s
}

// CreateCase opens a new case in draft.
func (s *Service) CreateCase(ctx context.Context, owner, title string, industry *string) (*models.Case, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.E(models.KindValidation, "workflow.CreateCase", "title is required")
	}
	if industry != nil {
		v := strings.TrimSpace(*industry)
		if v == "" {
			industry = nil
		} else {
			industry = &v
		}
	}
	now := time.Now().UTC()
	c := &models.Case{
		ID:        uuid.New().String(),
		Owner:     owner,
		Title:     title,
		Industry:  industry,
		Status:    models.CaseDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("case created", "case_id", c.ID, "owner", owner)
	return c, nil
}

func (s *Service) GetCase(ctx context.Context, id string) (*models.Case, error) {
	return s.db.GetCase(ctx, id)
}

// ListCases returns an owner's cases newest first.
func (s *Service) ListCases(ctx context.Context, owner string) ([]*models.Case, error) {
	return s.db.ListCases(ctx, owner)
}

func (s *Service) ArchiveCase(ctx context.Context, id string) (*models.Case, error) {
	c, err := s.db.ArchiveCase(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("case archived", "case_id", id)
	return c, nil
}

// advanceTo walks the case forward one step at a time until it reaches
// target. A case already at or past target is left alone.
func (s *Service) advanceTo(ctx context.Context, caseID string, target models.CaseStatus) (*models.Case, error) {
	c, err := s.db.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for c.Status != models.CaseArchived && c.Status.Rank() < target.Rank() {
		next, ok := c.Status.Next()
		if !ok {
			break
		}
		from := c.Status
		if c, err = s.db.AdvanceCaseStatus(ctx, caseID, next); err != nil {
			return nil, err
		}
		s.log.Info("case status changed", "case_id", caseID, "from", from, "to", c.Status)
	}
	if c.Status == models.CaseArchived {
		return nil, models.E(models.KindPrecondition, "workflow.advance", "case %s is archived", caseID)
	}
	return c, nil
}

func (s *Service) onRunComplete(ctx context.Context, run *models.ExtractionRun) {
	if _, err := s.advanceTo(ctx, run.CaseID, models.CaseReviewing); err != nil {
		if errors.Is(err, models.ErrPrecondition) {
			s.log.Debug("case not advanced after run", "case_id", run.CaseID, "run_id", run.ID, "reason", err)
			return
		}
		s.log.Warn("failed to advance case after run", "case_id", run.CaseID, "run_id", run.ID, "error", err)
	}
}
