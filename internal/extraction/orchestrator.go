package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/observability"
	"github.com/Kiwi1009/interview-to-quote/internal/upload"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 120 * time.Second

	// RestartReason is recorded on runs that were active when the process stopped.
	RestartReason = "interrupted by restart"
)

// TranscriptLoader supplies the transcript a run extracts from.
type TranscriptLoader interface {
	LoadTranscript(ctx context.Context, caseID string) (*upload.Transcript, error)
}

// Options tunes polling and the worker pool.
type Options struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	Workers      int
}

// CompletionHook is called after a run completed successfully.
type CompletionHook func(ctx context.Context, run *models.ExtractionRun)

// Orchestrator starts extraction runs, executes them on a bounded pool of
// workers and lets callers await the outcome.
type Orchestrator struct {
	db          *casedb.Store
	transcripts TranscriptLoader
	backend     Extractor
	opts        Options
	log         *logger.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	hookMu sync.RWMutex
	hooks  []CompletionHook

	// Workers run on this context so a finished HTTP request does not
	// cancel the extraction it started.
	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(db *casedb.Store, transcripts TranscriptLoader, backend Extractor, opts Options, log *logger.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		db:          db,
		transcripts: transcripts,
		backend:     backend,
		opts:        opts,
		log:         log,
		sem:         make(chan struct{}, opts.Workers),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// OnComplete registers fn to run after every successfully completed run.
func (o *Orchestrator) OnComplete(fn CompletionHook) {
	o.hookMu.Lock()
	o.hooks = append(o.hooks, fn)
	o.hookMu.Unlock()
}

// Start creates a pending run for the case and hands it to a worker.
func (o *Orchestrator) Start(ctx context.Context, caseID string) (*models.ExtractionRun, error) {
	const op = "extraction.Start"

	c, err := o.db.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CaseArchived {
		return nil, models.E(models.KindPrecondition, op, "case %s is archived", caseID)
	}
	if _, err := o.db.LatestTranscript(ctx, caseID); err != nil {
		return nil, err
	}

	run, err := o.db.CreateRun(ctx, caseID, o.backend.Model())
	if err != nil {
		return nil, err
	}
	o.log.Info("extraction run created", "case_id", caseID, "run_id", run.ID, "version", run.Version, "model", run.Model)

	o.dispatch(run)
	return run, nil
}

func (o *Orchestrator) dispatch(run *models.ExtractionRun) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-o.baseCtx.Done():
			// Left pending; Recover fails it on the next start.
			return
		}
		o.execute(run)
	}()
}

func (o *Orchestrator) execute(run *models.ExtractionRun) {
	ctx, span := observability.StartSpan(o.baseCtx, "extraction.run",
		"case_id", run.CaseID, "run_id", run.ID, "model", run.Model)
	var runErr error
	defer func() { observability.EndSpan(span, runErr) }()

	log := o.log.With("case_id", run.CaseID, "run_id", run.ID, "version", run.Version)

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("extraction panicked: %v", r)
			log.Error("extraction panicked", "panic", r)
			if err := o.db.FailRun(ctx, run.ID, runErr.Error()); err != nil {
				log.Error("failed to mark run failed", "error", err)
			}
		}
	}()

	moved, err := o.db.MarkRunRunning(ctx, run.ID)
	if err != nil {
		runErr = err
		log.Error("failed to mark run running", "error", err)
		o.fail(ctx, log, run.ID, err)
		return
	}
	if !moved {
		log.Warn("run is no longer pending, skipping")
		return
	}

	started := time.Now()
	res, err := o.extract(ctx, run)
	if err != nil {
		runErr = err
		log.Warn("extraction failed", "error", err, "elapsed", time.Since(started))
		o.fail(ctx, log, run.ID, err)
		return
	}

	if res.Data == nil {
		res.Data = map[string]interface{}{}
	}
	if res.Confidence == nil {
		res.Confidence = map[string]float64{}
	}
	kept, dropped := filterEvidence(res.Data, res.Evidence)
	if len(dropped) > 0 {
		log.Warn("evidence dropped for unknown fields", "fields", dropped)
	}
	if missing := Validate(res.Data); len(missing) > 0 {
		log.Info("required fields missing", "fields", missing)
	}

	model := res.Model
	if model == "" {
		model = o.backend.Model()
	}
	req := &models.Requirements{RunID: run.ID, Data: res.Data, Confidence: res.Confidence, Evidence: kept}
	if err := o.db.CompleteRun(ctx, run.ID, model, res.PromptHash, req); err != nil {
		runErr = err
		log.Error("failed to store requirements", "error", err)
		if !errors.Is(err, models.ErrConflict) {
			o.fail(ctx, log, run.ID, err)
		}
		return
	}
	log.Info("extraction run completed", "evidence", len(kept), "elapsed", time.Since(started))

	done, err := o.db.GetRun(ctx, run.ID)
	if err != nil {
		log.Warn("failed to reload completed run", "error", err)
		return
	}
	o.hookMu.RLock()
	hooks := append([]CompletionHook(nil), o.hooks...)
	o.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, done)
	}
}

func (o *Orchestrator) extract(ctx context.Context, run *models.ExtractionRun) (*Result, error) {
	tr, err := o.transcripts.LoadTranscript(ctx, run.CaseID)
	if err != nil {
		return nil, err
	}
	return o.backend.Extract(ctx, Input{
		CaseID:   run.CaseID,
		RunID:    run.ID,
		Text:     tr.Text,
		Segments: tr.Segments,
	})
}

func (o *Orchestrator) fail(ctx context.Context, log *logger.Logger, runID string, cause error) {
	if err := o.db.FailRun(ctx, runID, cause.Error()); err != nil {
		log.Error("failed to mark run failed", "error", err)
	}
}

// AwaitCompletion polls the run until it is terminal. A failed run yields an
// ExtractionFailed error carrying the backend message; reaching maxWait
// yields a Timeout error and leaves the run alone so it can be awaited again.
// Zero durations fall back to the configured defaults.
func (o *Orchestrator) AwaitCompletion(ctx context.Context, runID string, poll, maxWait time.Duration) (*models.Requirements, error) {
	const op = "extraction.AwaitCompletion"
	if poll <= 0 {
		poll = o.opts.PollInterval
	}
	if maxWait <= 0 {
		maxWait = o.opts.MaxWait
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		req, done, err := o.check(ctx, op, runID)
		if done {
			return req, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, models.E(models.KindTimeout, op, "extraction run %s did not finish within %s", runID, maxWait)
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) check(ctx context.Context, op, runID string) (*models.Requirements, bool, error) {
	run, err := o.db.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, true, err
		}
		if ctx.Err() == nil {
			o.log.Warn("polling extraction run failed, retrying", "run_id", runID, "error", err)
		}
		return nil, false, nil
	}
	switch run.Status {
	case models.RunCompleted:
		req, err := o.db.GetRequirements(ctx, runID)
		if err != nil {
			if ctx.Err() == nil {
				o.log.Warn("reading requirements failed, retrying", "run_id", runID, "error", err)
			}
			return nil, false, nil
		}
		return req, true, nil
	case models.RunFailed:
		return nil, true, &models.Error{Kind: models.KindExtractionFailed, Op: op, Message: run.Error}
	}
	return nil, false, nil
}

// StartAndAwait starts a run and waits for it.
func (o *Orchestrator) StartAndAwait(ctx context.Context, caseID string, poll, maxWait time.Duration) (*models.ExtractionRun, *models.Requirements, error) {
	run, err := o.Start(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	req, err := o.AwaitCompletion(ctx, run.ID, poll, maxWait)
	if err != nil {
		return run, nil, err
	}
	if latest, err := o.db.GetRun(ctx, run.ID); err == nil {
		run = latest
	}
	return run, req, nil
}

// GetRun returns a run by id.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*models.ExtractionRun, error) {
	return o.db.GetRun(ctx, runID)
}

// ListRuns returns a case's runs by ascending version.
func (o *Orchestrator) ListRuns(ctx context.Context, caseID string) ([]*models.ExtractionRun, error) {
	if _, err := o.db.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return o.db.ListRuns(ctx, caseID)
}

// ResolveRunID returns runID after checking it belongs to the case, or the
// id of the case's highest version run when runID is empty.
func (o *Orchestrator) ResolveRunID(ctx context.Context, caseID, runID string) (string, error) {
	if runID == "" {
		if _, err := o.db.GetCase(ctx, caseID); err != nil {
			return "", err
		}
		run, err := o.db.LatestRun(ctx, caseID)
		if err != nil {
			return "", err
		}
		return run.ID, nil
	}
	run, err := o.db.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run.CaseID != caseID {
		return "", models.NotFound("extraction.ResolveRunID", "extraction run", runID)
	}
	return run.ID, nil
}

// GetRequirements returns the requirements of runID, or of the latest run
// when runID is empty.
func (o *Orchestrator) GetRequirements(ctx context.Context, caseID, runID string) (*models.Requirements, error) {
	id, err := o.ResolveRunID(ctx, caseID, runID)
	if err != nil {
		return nil, err
	}
	return o.db.GetRequirements(ctx, id)
}

// UpdateRequirements replaces the stored requirement fields wholesale.
// Evidence is left as extracted.
func (o *Orchestrator) UpdateRequirements(ctx context.Context, caseID string, fields map[string]interface{}, runID string) (*models.Requirements, error) {
	if fields == nil {
		return nil, models.E(models.KindValidation, "extraction.UpdateRequirements", "requirement fields are required")
	}
	id, err := o.ResolveRunID(ctx, caseID, runID)
	if err != nil {
		return nil, err
	}
	if err := o.db.ReplaceRequirementsData(ctx, id, fields); err != nil {
		return nil, err
	}
	o.log.Info("requirements updated", "case_id", caseID, "run_id", id)
	return o.db.GetRequirements(ctx, id)
}

// Recover fails runs left active by a previous process so their cases can
// start new runs.
func (o *Orchestrator) Recover(ctx context.Context) error {
	n, err := o.db.FailActiveRuns(ctx, RestartReason)
	if err != nil {
		return err
	}
	if n > 0 {
		o.log.Warn("failed orphaned extraction runs", "count", n)
	}
	return nil
}

// Wait blocks until every dispatched run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for in-flight runs until ctx expires, then stops queued
// runs from starting.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		return ctx.Err()
	}
}
