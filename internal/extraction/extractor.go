// Package extraction runs versioned requirement extraction for a case and
// lets callers wait for the outcome.
package extraction

import (
	"context"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// Input is what a backend receives for one run.
type Input struct {
	CaseID   string
	RunID    string
	Text     string
	Segments []models.TranscriptSegment
}

// Result is a backend's structured output.
type Result struct {
	Model      string
	PromptHash string
	Data       map[string]interface{}
	Confidence map[string]float64
	Evidence   []models.Evidence
}

// Extractor turns a transcript into requirements. Implementations may take
// a long time and are never cancelled by the orchestrator.
type Extractor interface {
	Model() string
	Extract(ctx context.Context, in Input) (*Result, error)
}
