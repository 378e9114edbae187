// handlers_plan.go - Plan generation and editing handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/pricing"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

// PlanHandlerImpl implements the PlanHandler interface
type PlanHandlerImpl struct {
	workflow *workflow.Service
	engine   *pricing.Engine
}

// NewPlanHandler creates a new plan handler instance
func NewPlanHandler(wf *workflow.Service, engine *pricing.Engine) PlanHandler {
	return &PlanHandlerImpl{workflow: wf, engine: engine}
}

// HandleGeneratePlans builds (or returns the existing) plans for ?run_id=
// or the latest completed run
func (h *PlanHandlerImpl) HandleGeneratePlans(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	res, err := h.workflow.RunStep(c.Request().Context(), cs.ID, workflow.StepGeneratePlans,
		workflow.StepInput{RunID: c.QueryParam("run_id")})
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, pricing.PriceAll(res.Plans))
}

// HandleListPlans returns the case's plans with totals
func (h *PlanHandlerImpl) HandleListPlans(c echo.Context) error {
	cs, err := ownedCase(c, h.workflow, c.Param("id"))
	if err != nil {
		return err
	}
	plans, err := h.engine.ListPlans(c.Request().Context(), cs.ID, c.QueryParam("run_id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, pricing.PriceAll(plans))
}

func (h *PlanHandlerImpl) HandleGetPlan(c echo.Context) error {
	planID := c.Param("planId")
	plan, err := h.engine.GetPlan(c.Request().Context(), planID)
	if err != nil {
		return err
	}
	if _, err := ownedCase(c, h.workflow, plan.CaseID); err != nil {
		return NewNotFoundError("plan", planID)
	}
	return respond(c, http.StatusOK, pricing.Price(plan))
}

// HandleUpdatePlan applies a manual edit and answers with recomputed totals
func (h *PlanHandlerImpl) HandleUpdatePlan(c echo.Context) error {
	planID := c.Param("planId")
	plan, err := h.engine.GetPlan(c.Request().Context(), planID)
	if err != nil {
		return err
	}
	if _, err := ownedCase(c, h.workflow, plan.CaseID); err != nil {
		return NewNotFoundError("plan", planID)
	}

	var patch pricing.PlanPatch
	if err := bindBody(c, &patch); err != nil {
		return err
	}
	updated, err := h.engine.UpdatePlan(c.Request().Context(), planID, patch)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, pricing.Price(updated))
}
