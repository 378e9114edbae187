package models

import (
	"strings"
	"time"
)

// RunStatus is the state of an extraction run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run will not change anymore.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Active reports whether the run blocks a new run for the same case.
func (s RunStatus) Active() bool {
	return s == RunPending || s == RunRunning
}

// ExtractionRun is one versioned attempt at extracting requirements.
type ExtractionRun struct {
	ID         string     `json:"id"`
	CaseID     string     `json:"case_id"`
	Version    int        `json:"version"`
	Model      string     `json:"model"`
	PromptHash string     `json:"prompt_hash,omitempty"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Evidence is a transcript excerpt supporting one extracted field.
type Evidence struct {
	FieldPath  string `json:"field_path"`
	SegmentIdx *int   `json:"segment_idx,omitempty"`
	Snippet    string `json:"snippet"`
	StartChar  *int   `json:"start_char,omitempty"`
	EndChar    *int   `json:"end_char,omitempty"`
}

// Requirements holds the structured output of a completed run.
type Requirements struct {
	RunID      string                 `json:"run_id"`
	Data       map[string]interface{} `json:"jsonb_data"`
	Confidence map[string]float64     `json:"confidence"`
	Evidence   []Evidence             `json:"evidence"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Lookup resolves a dot-separated path such as "workpiece.weight_range"
// inside data.
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Section returns data[key] as an object, or nil.
func Section(data map[string]interface{}, key string) map[string]interface{} {
	m, _ := data[key].(map[string]interface{})
	return m
}
