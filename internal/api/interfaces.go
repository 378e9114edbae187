// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import "github.com/labstack/echo/v4"

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// AuthHandler issues tokens
type AuthHandler interface {
	HandleLogin(c echo.Context) error
}

// CaseHandler handles case lifecycle operations
type CaseHandler interface {
	HandleCreateCase(c echo.Context) error
	HandleListCases(c echo.Context) error
	HandleGetCase(c echo.Context) error
	HandleArchiveCase(c echo.Context) error
}

// UploadHandler handles transcript and photo uploads
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleListUploads(c echo.Context) error
}

// ExtractionHandler handles extraction runs and requirements
type ExtractionHandler interface {
	HandleStartExtraction(c echo.Context) error
	HandleGetRun(c echo.Context) error
	HandleListRuns(c echo.Context) error
	HandleGetRequirements(c echo.Context) error
	HandleUpdateRequirements(c echo.Context) error
}

// PlanHandler handles plan generation and editing
type PlanHandler interface {
	HandleGeneratePlans(c echo.Context) error
	HandleListPlans(c echo.Context) error
	HandleGetPlan(c echo.Context) error
	HandleUpdatePlan(c echo.Context) error
}

// DocumentHandler handles document generation and download
type DocumentHandler interface {
	HandleGenerateDocuments(c echo.Context) error
	HandleListDocuments(c echo.Context) error
	HandleDownloadDocument(c echo.Context) error
}

// PipelineHandler handles the one-shot guided flow
type PipelineHandler interface {
	HandleProcess(c echo.Context) error
	HandlePipelineStatus(c echo.Context) error
	HandlePipelineProgressStream(c echo.Context) error
}
