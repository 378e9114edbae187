// handlers_pipeline.go - One-shot guided flow handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

// PipelineHandlerImpl implements the PipelineHandler interface
type PipelineHandlerImpl struct {
	workflow *workflow.Service
	jobs     *workflow.JobManager
}

// NewPipelineHandler creates a new pipeline handler instance
func NewPipelineHandler(wf *workflow.Service, jobs *workflow.JobManager) PipelineHandler {
	return &PipelineHandlerImpl{workflow: wf, jobs: jobs}
}

// HandleProcess starts the full pipeline from a multipart "transcript" and
// any number of "photos". Returns the job immediately; follow it via
// /pipelines/:jobId/progress.
func (h *PipelineHandlerImpl) HandleProcess(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("multipart form expected", err)
	}

	var in workflow.PipelineInput
	if fhs := form.File["transcript"]; len(fhs) > 0 {
		f, err := readFormFile(fhs[0])
		if err != nil {
			return err
		}
		in.Transcript = &f
	}
	for _, fh := range form.File["photos"] {
		f, err := readFormFile(fh)
		if err != nil {
			return err
		}
		in.Photos = append(in.Photos, f)
	}

	job, err := h.jobs.Start(cs.ID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, job)
}

// ownedJob loads a job and hides jobs of other owners behind a 404.
func (h *PipelineHandlerImpl) ownedJob(c echo.Context, id string) (*models.PipelineJob, error) {
	job, ok := h.jobs.Get(id)
	if !ok {
		return nil, NewNotFoundError("pipeline job", id)
	}
	if _, err := ownedCase(c, h.workflow, job.CaseID); err != nil {
		return nil, NewNotFoundError("pipeline job", id)
	}
	return job, nil
}

func (h *PipelineHandlerImpl) HandlePipelineStatus(c echo.Context) error {
	job, err := h.ownedJob(c, c.Param("jobId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// HandlePipelineProgressStream streams job snapshots via SSE until the job
// finishes or the client goes away.
func (h *PipelineHandlerImpl) HandlePipelineProgressStream(c echo.Context) error {
	jobID := c.Param("jobId")
	if _, err := h.ownedJob(c, jobID); err != nil {
		return err
	}
	updates, cancel, ok := h.jobs.Subscribe(jobID)
	if !ok {
		return NewNotFoundError("pipeline job", jobID)
	}
	defer cancel()

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case job, open := <-updates:
			if !open {
				return nil
			}
			if err := sendSSEData(c, job); err != nil {
				return nil
			}
		}
	}
}

func sendSSEData(c echo.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

