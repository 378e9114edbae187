// store_test.go - Tests for the DuckDB case store
package casedb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cases.duckdb"), Options{Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCase(t *testing.T, s *Store) *models.Case {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Case{
		ID:        uuid.New().String(),
		Owner:     "alice",
		Title:     "ACME Automation",
		Status:    models.CaseDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateCase(context.Background(), c))
	return c
}

func completeRun(t *testing.T, s *Store, caseID string) *models.ExtractionRun {
	t.Helper()
	ctx := context.Background()
	run, err := s.CreateRun(ctx, caseID, "test-model")
	require.NoError(t, err)
	seg := 0
	require.NoError(t, s.CompleteRun(ctx, run.ID, "test-model", "hash", &models.Requirements{
		Data:       map[string]interface{}{"workpiece": map[string]interface{}{"weight_range": "5kg"}},
		Confidence: map[string]float64{"workpiece": 0.9},
		Evidence:   []models.Evidence{{FieldPath: "workpiece.weight_range", SegmentIdx: &seg, Snippet: "about 5kg"}},
	}))
	return run
}

func TestStore_CaseLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "ACME Automation", got.Title)
	assert.Nil(t, got.Industry)
	assert.Equal(t, models.CaseDraft, got.Status)

	_, err = s.GetCase(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	list, err := s.ListCases(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = s.ListCases(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_AdvanceCaseStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)

	_, err := s.AdvanceCaseStatus(ctx, c.ID, models.CaseReviewing)
	assert.True(t, errors.Is(err, models.ErrPrecondition), "skipping a stage is rejected")

	got, err := s.AdvanceCaseStatus(ctx, c.ID, models.CaseExtracting)
	require.NoError(t, err)
	assert.Equal(t, models.CaseExtracting, got.Status)

	got, err = s.AdvanceCaseStatus(ctx, c.ID, models.CaseExtracting)
	require.NoError(t, err, "re-entering the current stage is a no-op")
	assert.Equal(t, models.CaseExtracting, got.Status)

	_, err = s.AdvanceCaseStatus(ctx, c.ID, models.CaseReviewing)
	require.NoError(t, err)

	got, err = s.AdvanceCaseStatus(ctx, c.ID, models.CaseExtracting)
	require.NoError(t, err, "moving backwards is a no-op")
	assert.Equal(t, models.CaseReviewing, got.Status)

	_, err = s.AdvanceCaseStatus(ctx, c.ID, models.CaseQuoted)
	assert.True(t, errors.Is(err, models.ErrPrecondition), "quoted needs a completed run and plans")

	run := completeRun(t, s, c.ID)
	plan := &models.Plan{ID: uuid.New().String(), CaseID: c.ID, RunID: &run.ID, Code: models.PlanP1, Name: "P1"}
	_, _, err = s.CreatePlanSet(ctx, c.ID, run.ID, []*models.Plan{plan})
	require.NoError(t, err)

	got, err = s.AdvanceCaseStatus(ctx, c.ID, models.CaseQuoted)
	require.NoError(t, err)
	assert.Equal(t, models.CaseQuoted, got.Status)

	got, err = s.ArchiveCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseArchived, got.Status)

	_, err = s.AdvanceCaseStatus(ctx, c.ID, models.CaseQuoted)
	assert.True(t, errors.Is(err, models.ErrPrecondition))
}

func TestStore_CreateRunVersionsAndConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)

	run1, err := s.CreateRun(ctx, c.ID, "m")
	require.NoError(t, err)
	assert.Equal(t, 1, run1.Version)
	assert.Equal(t, models.RunPending, run1.Status)

	_, err = s.CreateRun(ctx, c.ID, "m")
	assert.True(t, errors.Is(err, models.ErrConflict))

	moved, err := s.MarkRunRunning(ctx, run1.ID)
	require.NoError(t, err)
	assert.True(t, moved)
	_, err = s.CreateRun(ctx, c.ID, "m")
	assert.True(t, errors.Is(err, models.ErrConflict), "running runs also block")

	require.NoError(t, s.FailRun(ctx, run1.ID, "backend exploded"))
	failed, err := s.GetRun(ctx, run1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, failed.Status)
	assert.Equal(t, "backend exploded", failed.Error)
	assert.NotNil(t, failed.FinishedAt)

	for want := 2; want <= 4; want++ {
		run, err := s.CreateRun(ctx, c.ID, "m")
		require.NoError(t, err)
		assert.Equal(t, want, run.Version)
		require.NoError(t, s.FailRun(ctx, run.ID, "x"))
	}

	latest, err := s.LatestRun(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, latest.Version)

	_, err = s.LatestRun(ctx, "no-such-case")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStore_CreateRunConcurrent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateRun(ctx, c.ID, "m")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, models.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	runs, err := s.ListRuns(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStore_RequirementsRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)
	run := completeRun(t, s, c.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, "hash", got.PromptHash)
	assert.NotNil(t, got.FinishedAt)

	req, err := s.GetRequirements(ctx, run.ID)
	require.NoError(t, err)
	v, ok := models.Lookup(req.Data, "workpiece.weight_range")
	assert.True(t, ok)
	assert.Equal(t, "5kg", v)
	assert.InDelta(t, 0.9, req.Confidence["workpiece"], 1e-9)
	require.Len(t, req.Evidence, 1)
	require.NotNil(t, req.Evidence[0].SegmentIdx)
	assert.Equal(t, 0, *req.Evidence[0].SegmentIdx)
	assert.Nil(t, req.Evidence[0].StartChar)

	require.NoError(t, s.ReplaceRequirementsData(ctx, run.ID, map[string]interface{}{"process": map[string]interface{}{"count": 3.0}}))
	req, err = s.GetRequirements(ctx, run.ID)
	require.NoError(t, err)
	_, ok = req.Data["workpiece"]
	assert.False(t, ok, "data is replaced wholesale")
	assert.Len(t, req.Evidence, 1, "evidence is untouched")

	err = s.ReplaceRequirementsData(ctx, "nope", map[string]interface{}{})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	err = s.CompleteRun(ctx, run.ID, "m", "h", &models.Requirements{})
	assert.True(t, errors.Is(err, models.ErrConflict), "terminal runs cannot complete twice")
}

func TestStore_UploadDedupAndSegments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)

	_, err := s.LatestTranscript(ctx, c.ID)
	assert.True(t, errors.Is(err, models.ErrPrecondition))

	u := &models.Upload{
		ID: uuid.New().String(), CaseID: c.ID, Type: models.UploadTranscript,
		Filename: "meeting.txt", Path: "uploads/x", SHA256: "abc", Size: 10, CreatedAt: time.Now().UTC(),
	}
	segs := []models.TranscriptSegment{
		{Idx: 0, Text: "hello", StartChar: 0, EndChar: 5},
		{Idx: 1, Text: "world", StartChar: 6, EndChar: 11},
	}
	got, created, err := s.CreateUpload(ctx, u, segs)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, u.ID, got.ID)

	dup := *u
	dup.ID = uuid.New().String()
	got, created, err = s.CreateUpload(ctx, &dup, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, got.ID)

	latest, err := s.LatestTranscript(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, latest.ID)

	stored, err := s.ListSegments(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "world", stored[1].Text)

	list, err := s.ListUploads(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// A, B, then A again: the re-registered A is the latest transcript.
	other := &models.Upload{
		ID: uuid.New().String(), CaseID: c.ID, Type: models.UploadTranscript,
		Filename: "second.txt", Path: "uploads/y", SHA256: "def", Size: 10, CreatedAt: time.Now().UTC(),
	}
	_, created, err = s.CreateUpload(ctx, other, nil)
	require.NoError(t, err)
	require.True(t, created)
	latest, err = s.LatestTranscript(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, latest.ID)

	reused, err := s.ReuseUpload(ctx, c.ID, models.UploadTranscript, "abc")
	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, u.ID, reused.ID)
	latest, err = s.LatestTranscript(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, latest.ID)

	// Dedup is per upload type.
	none, err := s.ReuseUpload(ctx, c.ID, models.UploadPhoto, "abc")
	require.NoError(t, err)
	assert.Nil(t, none)
	photo := *u
	photo.ID = uuid.New().String()
	photo.Type = models.UploadPhoto
	got, created, err = s.CreateUpload(ctx, &photo, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.UploadPhoto, got.Type)

	list, err = s.ListUploads(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestStore_PlanSetAndSave(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)
	run := completeRun(t, s, c.ID)

	now := time.Now().UTC()
	planID := uuid.New().String()
	item := models.QuoteItem{ID: uuid.New().String(), PlanID: planID, Position: 0, Category: "主要設備", ItemName: "robot", Qty: 2, Unit: "台", UnitPriceLow: 10, UnitPriceHigh: 20}
	item.Recompute()
	plan := &models.Plan{ID: planID, CaseID: c.ID, RunID: &run.ID, Code: models.PlanP1, Name: "P1",
		Assumptions: map[string]interface{}{"robot_count": 2.0}, Items: []models.QuoteItem{item}, CreatedAt: now, UpdatedAt: now}

	out, created, err := s.CreatePlanSet(ctx, c.ID, run.ID, []*models.Plan{plan})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, out, 1)

	again, created, err := s.CreatePlanSet(ctx, c.ID, run.ID, []*models.Plan{{ID: uuid.New().String(), CaseID: c.ID, RunID: &run.ID, Code: models.PlanP1}})
	require.NoError(t, err)
	assert.False(t, created)
	require.Len(t, again, 1)
	assert.Equal(t, planID, again[0].ID)
	require.Len(t, again[0].Items, 1)
	assert.Equal(t, 20.0, *again[0].Items[0].SubtotalLow)

	runID, err := s.LatestPlanRunID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, runID)

	p, err := s.GetPlan(ctx, planID)
	require.NoError(t, err)
	p.Name = "renamed"
	p.Items[0].Qty = 3
	p.Items[0].Recompute()
	extra := models.QuoteItem{ID: uuid.New().String(), PlanID: planID, Position: 1, Category: "c", ItemName: "extra", Qty: 1, Unit: "項", UnitPriceLow: 1, UnitPriceHigh: 2}
	extra.Recompute()
	p.Items = append(p.Items, extra)
	p.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.SavePlan(ctx, p))

	p, err = s.GetPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", p.Name)
	require.Len(t, p.Items, 2)
	assert.Equal(t, 30.0, *p.Items[0].SubtotalLow)

	p.Items = p.Items[1:]
	require.NoError(t, s.SavePlan(ctx, p))
	p, err = s.GetPlan(ctx, planID)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "extra", p.Items[0].ItemName)

	n, err := s.CountPlans(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetPlan(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStore_DocumentsNewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)

	ts := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		d := &models.Document{ID: uuid.New().String(), CaseID: c.ID, DocType: models.DocSpec, Format: models.FormatPDF,
			Path: "documents/x", Size: 1, CreatedAt: ts}
		require.NoError(t, s.CreateDocument(ctx, d))
		ids = append(ids, d.ID)
	}

	docs, err := s.ListDocuments(ctx, c.ID, "")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, ids[2], docs[0].ID, "ties on created_at fall back to insertion order")

	_, err = s.GetDocument(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStore_FailActiveRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCase(t, s)
	_, err := s.CreateRun(ctx, c.ID, "m")
	require.NoError(t, err)

	n, err := s.FailActiveRuns(ctx, "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.CreateRun(ctx, c.ID, "m")
	assert.NoError(t, err)
}
