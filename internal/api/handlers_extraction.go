// handlers_extraction.go - Extraction run and requirements handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/extraction"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

// ExtractionHandlerImpl implements the ExtractionHandler interface
type ExtractionHandlerImpl struct {
	workflow   *workflow.Service
	extraction *extraction.Orchestrator
}

// NewExtractionHandler creates a new extraction handler instance
func NewExtractionHandler(wf *workflow.Service, orch *extraction.Orchestrator) ExtractionHandler {
	return &ExtractionHandlerImpl{workflow: wf, extraction: orch}
}

// HandleStartExtraction starts a run and answers 202 without waiting
func (h *ExtractionHandlerImpl) HandleStartExtraction(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	res, err := h.workflow.RunStep(c.Request().Context(), cs.ID, workflow.StepExtract, workflow.StepInput{})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, res.Run)
}

// HandleGetRun returns one run, for polling
func (h *ExtractionHandlerImpl) HandleGetRun(c echo.Context) error {
	runID := c.Param("runId")
	if runID == "" {
		return NewValidationError("runId")
	}
	run, err := h.extraction.GetRun(c.Request().Context(), runID)
	if err != nil {
		return err
	}
	if _, err := ownedCase(c, h.workflow, run.CaseID); err != nil {
		return NewNotFoundError("extraction run", runID)
	}
	return c.JSON(http.StatusOK, run)
}

// HandleListRuns returns the case's runs by version
func (h *ExtractionHandlerImpl) HandleListRuns(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	runs, err := h.extraction.ListRuns(c.Request().Context(), cs.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

// HandleGetRequirements returns requirements of ?run_id= or the latest run
func (h *ExtractionHandlerImpl) HandleGetRequirements(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	req, err := h.extraction.GetRequirements(c.Request().Context(), cs.ID, c.QueryParam("run_id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, req)
}

// HandleUpdateRequirements replaces the requirement fields with the body
func (h *ExtractionHandlerImpl) HandleUpdateRequirements(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	var fields map[string]interface{}
	if err := bindBody(c, &fields); err != nil {
		return err
	}
	req, err := h.extraction.UpdateRequirements(c.Request().Context(), cs.ID, fields, c.QueryParam("run_id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, req)
}
