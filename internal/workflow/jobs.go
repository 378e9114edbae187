package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// MaxJobs limits how many pipeline jobs are tracked at once.
const MaxJobs = 50

// JobKeepAliveWindow protects finished jobs that are still being polled.
const JobKeepAliveWindow = 2 * time.Minute

// stageProgress is the percentage reported when a stage starts.
var stageProgress = map[string]float64{
	StageUploadTranscript: 5,
	StageUploadPhotos:     15,
	StageExtract:          25,
	StageAwait:            30,
	StagePlans:            70,
	StageDocuments:        85,
	StageDone:             100,
}

// JobManager runs full pipelines in the background for the guided flow.
type JobManager struct {
	jobs     map[string]*jobState
	mu       sync.RWMutex
	pipeline *Service
	log      *logger.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

type jobState struct {
	job          *models.PipelineJob
	lastAccessed time.Time
	// subscribers receive a snapshot after every change.
	subscribers map[chan models.PipelineJob]struct{}
}

// NewJobManager creates a job manager. timeout bounds a whole pipeline run;
// zero means no limit beyond the extraction ceiling.
func NewJobManager(pipeline *Service, timeout time.Duration, log *logger.Logger) *JobManager {
	if log == nil {
		log = logger.Nop()
	}
	return &JobManager{
		jobs:     make(map[string]*jobState),
		pipeline: pipeline,
		log:      log,
		timeout:  timeout,
	}
}

// Start launches RunFullPipeline for the case and returns the pending job.
func (m *JobManager) Start(caseID string, in PipelineInput) (*models.PipelineJob, error) {
	if in.Transcript == nil || len(in.Transcript.Data) == 0 {
		return nil, models.E(models.KindMissingInput, "workflow.JobManager.Start", "a transcript file is required")
	}
	m.evictIfFull()

	job := models.NewPipelineJob(uuid.New().String(), caseID)
	m.mu.Lock()
	m.jobs[job.ID] = &jobState{
		job:          job,
		lastAccessed: time.Now(),
		subscribers:  make(map[chan models.PipelineJob]struct{}),
	}
	snapshot := *job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(job.ID, caseID, in)
	return &snapshot, nil
}

func (m *JobManager) run(jobID, caseID string, in PipelineInput) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("pipeline job panicked", "job_id", jobID, "case_id", caseID, "panic", r)
			m.finish(jobID, nil, fmt.Errorf("pipeline panicked: %v", r))
		}
	}()

	ctx := context.Background()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	m.update(jobID, func(j *models.PipelineJob) { j.Status = models.JobRunning })
	res, err := m.pipeline.RunFullPipeline(ctx, caseID, in, func(stage, message string) {
		m.update(jobID, func(j *models.PipelineJob) {
			j.Stage = stage
			j.Message = message
			j.Progress = stageProgress[stage]
		})
	})
	m.finish(jobID, res, err)
}

func (m *JobManager) finish(jobID string, res *models.PipelineResult, err error) {
	m.update(jobID, func(j *models.PipelineJob) {
		now := time.Now().UTC()
		j.FinishedAt = &now
		if err != nil {
			j.Status = models.JobError
			j.Error = models.MessageOf(err)
			j.ErrorKind = models.KindOf(err)
			j.Message = "處理失敗，請重試"
			return
		}
		j.Status = models.JobComplete
		j.Progress = 100
		j.Result = res
	})
	if err != nil {
		m.log.Warn("pipeline job failed", "job_id", jobID, "error", err)
	} else {
		m.log.Info("pipeline job complete", "job_id", jobID)
	}
}

// update applies fn under the lock and fans the new snapshot out.
func (m *JobManager) update(jobID string, fn func(j *models.PipelineJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.jobs[jobID]
	if !ok {
		return
	}
	fn(state.job)
	snapshot := *state.job
	for ch := range state.subscribers {
		offer(ch, snapshot)
	}
	if snapshot.Status.Done() {
		for ch := range state.subscribers {
			close(ch)
		}
		state.subscribers = make(map[chan models.PipelineJob]struct{})
	}
}

// offer delivers snap without blocking. A slow reader loses its oldest
// buffered snapshot so it always sees the newest one.
func offer(ch chan models.PipelineJob, snap models.PipelineJob) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Get returns a copy of a job and marks it as recently used.
func (m *JobManager) Get(id string) (*models.PipelineJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	state.lastAccessed = time.Now()
	snapshot := *state.job
	return &snapshot, true
}

// Subscribe streams job snapshots, starting with the current one. The
// channel is closed when the job finishes; call cancel to stop early.
func (m *JobManager) Subscribe(id string) (<-chan models.PipelineJob, func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.jobs[id]
	if !ok {
		return nil, nil, false
	}
	state.lastAccessed = time.Now()

	ch := make(chan models.PipelineJob, 8)
	ch <- *state.job
	if state.job.Status.Done() {
		close(ch)
		return ch, func() {}, true
	}
	state.subscribers[ch] = struct{}{}
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := state.subscribers[ch]; ok {
			delete(state.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel, true
}

// evictIfFull drops the oldest finished jobs when at capacity.
func (m *JobManager) evictIfFull() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.jobs) >= MaxJobs {
		var oldestID string
		var oldest time.Time
		for id, state := range m.jobs {
			if !state.job.Status.Done() {
				continue
			}
			if oldestID == "" || state.lastAccessed.Before(oldest) {
				oldestID, oldest = id, state.lastAccessed
			}
		}
		if oldestID == "" {
			return
		}
		delete(m.jobs, oldestID)
		m.log.Debug("evicted pipeline job", "job_id", oldestID)
	}
}

// CleanupOldJobs removes finished jobs older than maxAge that were not
// polled within JobKeepAliveWindow.
func (m *JobManager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, state := range m.jobs {
		j := state.job
		if !j.Status.Done() || j.FinishedAt == nil {
			continue
		}
		if now.Sub(state.lastAccessed) < JobKeepAliveWindow {
			continue
		}
		if now.Sub(*j.FinishedAt) >= maxAge {
			delete(m.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Info("cleaned up pipeline jobs", "count", removed)
	}
	return removed
}

// Wait blocks until every started job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}
