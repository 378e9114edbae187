package workflow

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/observability"
	"github.com/Kiwi1009/interview-to-quote/internal/upload"
)

// Pipeline stages, in order.
const (
	StageUploadTranscript = "upload_transcript"
	StageUploadPhotos     = "upload_photos"
	StageExtract          = "extract"
	StageAwait            = "await_extraction"
	StagePlans            = "generate_plans"
	StageDocuments        = "generate_documents"
	StageDone             = "done"
)

var stageMessages = map[string]string{
	StageUploadTranscript: "正在上傳逐字稿...",
	StageUploadPhotos:     "正在上傳圖片...",
	StageExtract:          "正在提取需求...",
	StageAwait:            "等待需求提取完成...",
	StagePlans:            "正在產生報價方案...",
	StageDocuments:        "正在產生文件...",
	StageDone:             "處理完成！文件已生成",
}

// ProgressFunc receives a stage and its human-readable status line.
type ProgressFunc func(stage, message string)

// PipelineInput is the material of one full pipeline run.
type PipelineInput struct {
	Transcript *upload.File
	Photos     []upload.File
}

// RunFullPipeline uploads the transcript and photos, extracts requirements,
// prices the plans and renders every document. On failure the originating
// error is returned and the case keeps the last status it reached.
func (s *Service) RunFullPipeline(ctx context.Context, caseID string, in PipelineInput, progress ProgressFunc) (res *models.PipelineResult, err error) {
	const op = "workflow.RunFullPipeline"
	ctx, span := observability.StartSpan(ctx, "workflow.pipeline", "case_id", caseID)
	defer func() { observability.EndSpan(span, err) }()

	log := s.log.With("case_id", caseID)
	report := func(stage string) {
		log.Debug("pipeline stage", "stage", stage)
		if progress != nil {
			progress(stage, stageMessages[stage])
		}
	}

	if in.Transcript == nil || len(in.Transcript.Data) == 0 {
		return nil, models.E(models.KindMissingInput, op, "a transcript file is required")
	}
	if _, err := s.db.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	res = &models.PipelineResult{PhotoIDs: []string{}}

	report(StageUploadTranscript)
	err = s.stage(ctx, StageUploadTranscript, func(ctx context.Context) error {
		u, err := s.uploads.Register(ctx, caseID, *in.Transcript, models.UploadTranscript)
		if err != nil {
			return err
		}
		res.TranscriptID = u.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(in.Photos) > 0 {
		report(StageUploadPhotos)
		_ = s.stage(ctx, StageUploadPhotos, func(ctx context.Context) error {
			res.PhotoIDs, res.SkippedPhotos = s.registerPhotos(ctx, caseID, in.Photos)
			return nil
		})
	}

	report(StageExtract)
	if _, err := s.advanceTo(ctx, caseID, models.CaseExtracting); err != nil {
		return nil, err
	}
	run, err := s.extraction.Start(ctx, caseID)
	if err != nil {
		return nil, err
	}
	res.Run = run
	log = log.With("run_id", run.ID)

	report(StageAwait)
	err = s.stage(ctx, StageAwait, func(ctx context.Context) error {
		req, err := s.extraction.AwaitCompletion(ctx, run.ID, s.opts.PollInterval, s.opts.MaxWait)
		if err != nil {
			return err
		}
		res.Requirements = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest, err := s.extraction.GetRun(ctx, run.ID); err == nil {
		res.Run = latest
	}
	if _, err := s.advanceTo(ctx, caseID, models.CaseReviewing); err != nil {
		return nil, err
	}

	report(StagePlans)
	err = s.stage(ctx, StagePlans, func(ctx context.Context) error {
		plans, err := s.pricing.GeneratePlans(ctx, caseID, run.ID)
		if err != nil {
			return err
		}
		res.Plans = plans
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.advanceTo(ctx, caseID, models.CaseQuoted); err != nil {
		return nil, err
	}

	report(StageDocuments)
	err = s.stage(ctx, StageDocuments, func(ctx context.Context) error {
		docs, err := s.documents.Generate(ctx, caseID, run.ID, nil, nil)
		if err != nil {
			return err
		}
		res.Documents = docs
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Case, err = s.db.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	report(StageDone)
	log.Info("pipeline complete", "photos", len(res.PhotoIDs), "skipped_photos", len(res.SkippedPhotos),
		"plans", len(res.Plans), "documents", len(res.Documents))
	return res, nil
}

// stage runs fn inside its own span.
func (s *Service) stage(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	ctx, span := observability.StartSpan(ctx, "workflow."+name)
	defer func() { observability.EndSpan(span, err) }()
	return fn(ctx)
}

// registerPhotos uploads photos concurrently. A failed photo is logged and
// skipped; the ids of stored photos keep the input order.
func (s *Service) registerPhotos(ctx context.Context, caseID string, photos []upload.File) (ids, skipped []string) {
	stored := make([]string, len(photos))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.PhotoWorkers)
	for i, p := range photos {
		i, p := i, p
		g.Go(func() error {
			u, err := s.uploads.Register(gctx, caseID, p, models.UploadPhoto)
			if err != nil {
				s.log.Warn("photo skipped", "case_id", caseID, "file", p.Filename, "error", err)
				mu.Lock()
				skipped = append(skipped, p.Filename)
				mu.Unlock()
				return nil
			}
			stored[i] = u.ID
			return nil
		})
	}
	_ = g.Wait()

	ids = make([]string, 0, len(photos))
	for _, id := range stored {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, skipped
}
