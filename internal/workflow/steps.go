package workflow

import (
	"context"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/upload"
)

// Step names a single stage of the manual flow.
type Step string

const (
	StepUpload            Step = "upload"
	StepExtract           Step = "extract"
	StepGeneratePlans     Step = "generate_plans"
	StepGenerateDocuments Step = "generate_documents"
)

// StepInput carries the arguments a step needs. Unused fields are ignored.
type StepInput struct {
	File       *upload.File
	UploadType models.UploadType
	RunID      string
	DocTypes   []models.DocType
	Formats    []models.DocFormat
}

// StepResult holds whatever the step produced.
type StepResult struct {
	Step      Step                  `json:"step"`
	Case      *models.Case          `json:"case"`
	Upload    *models.Upload        `json:"upload,omitempty"`
	Run       *models.ExtractionRun `json:"run,omitempty"`
	Plans     []*models.Plan        `json:"plans,omitempty"`
	Documents []*models.Document    `json:"documents,omitempty"`
}

// RunStep performs one step of the manual flow. extract starts a run and
// returns at once; callers poll the run.
func (s *Service) RunStep(ctx context.Context, caseID string, step Step, in StepInput) (*StepResult, error) {
	const op = "workflow.RunStep"
	res := &StepResult{Step: step}

	switch step {
	case StepUpload:
		if in.File == nil {
			return nil, models.E(models.KindMissingInput, op, "a file is required")
		}
		u, err := s.uploads.Register(ctx, caseID, *in.File, in.UploadType)
		if err != nil {
			return nil, err
		}
		res.Upload = u

	case StepExtract:
		if _, err := s.db.LatestTranscript(ctx, caseID); err != nil {
			return nil, err
		}
		if _, err := s.advanceTo(ctx, caseID, models.CaseExtracting); err != nil {
			return nil, err
		}
		run, err := s.extraction.Start(ctx, caseID)
		if err != nil {
			return nil, err
		}
		res.Run = run

	case StepGeneratePlans:
		plans, err := s.pricing.GeneratePlans(ctx, caseID, in.RunID)
		if err != nil {
			return nil, err
		}
		res.Plans = plans
		if _, err := s.advanceTo(ctx, caseID, models.CaseQuoted); err != nil {
			return nil, err
		}

	case StepGenerateDocuments:
		docs, err := s.documents.Generate(ctx, caseID, in.RunID, in.DocTypes, in.Formats)
		if err != nil {
			return nil, err
		}
		res.Documents = docs

	default:
		return nil, models.E(models.KindValidation, op, "unknown step %q", step)
	}

	c, err := s.db.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	res.Case = c
	return res, nil
}
