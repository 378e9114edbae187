// handlers_case.go - Case lifecycle handlers
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

// CaseGetter loads a case by id.
type CaseGetter interface {
	GetCase(ctx context.Context, id string) (*models.Case, error)
}

// ownedCase loads the case named by the :id path param and hides cases of
// other owners behind a 404.
func ownedCase(c echo.Context, cases CaseGetter, id string) (*models.Case, error) {
	if id == "" {
		return nil, NewValidationError("id")
	}
	cs, err := cases.GetCase(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if cs.Owner != Owner(c) {
		return nil, NewNotFoundError("case", id)
	}
	return cs, nil
}

// CaseHandlerImpl implements the CaseHandler interface
type CaseHandlerImpl struct {
	workflow *workflow.Service
}

// NewCaseHandler creates a new case handler instance
func NewCaseHandler(wf *workflow.Service) CaseHandler {
	return &CaseHandlerImpl{workflow: wf}
}

type createCaseRequest struct {
	Title    string  `json:"title"`
	Industry *string `json:"industry"`
}

// HandleCreateCase opens a draft case owned by the caller
func (h *CaseHandlerImpl) HandleCreateCase(c echo.Context) error {
	var req createCaseRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	cs, err := h.workflow.CreateCase(c.Request().Context(), Owner(c), req.Title, req.Industry)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cs)
}

// HandleListCases returns the caller's cases newest first
func (h *CaseHandlerImpl) HandleListCases(c echo.Context) error {
	cases, err := h.workflow.ListCases(c.Request().Context(), Owner(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cases)
}

func (h *CaseHandlerImpl) HandleGetCase(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *CaseHandlerImpl) HandleArchiveCase(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	archived, err := h.workflow.ArchiveCase(c.Request().Context(), cs.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, archived)
}
