// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/config"
	"github.com/Kiwi1009/interview-to-quote/internal/document"
	"github.com/Kiwi1009/interview-to-quote/internal/extraction"
	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/observability"
	"github.com/Kiwi1009/interview-to-quote/internal/pricing"
	"github.com/Kiwi1009/interview-to-quote/internal/upload"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	DB         *casedb.Store
	Workflow   *workflow.Service
	Jobs       *workflow.JobManager
	UploadMgr  *upload.Manager
	Extraction *extraction.Orchestrator
	Pricing    *pricing.Engine
	Documents  *document.Service
	Security   config.SecurityConfig
	Version    string
}

// Handlers holds all handler instances
type Handlers struct {
	Health     HealthHandler
	Auth       AuthHandler
	Case       CaseHandler
	Upload     UploadHandler
	Extraction ExtractionHandler
	Plan       PlanHandler
	Document   DocumentHandler
	Pipeline   PipelineHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	var db Pinger
	if deps.DB != nil {
		db = deps.DB
	}
	return &Handlers{
		Health:     NewHealthHandler(deps.Version, db),
		Auth:       NewAuthHandler(deps.Security),
		Case:       NewCaseHandler(deps.Workflow),
		Upload:     NewUploadHandler(deps.Workflow, deps.UploadMgr),
		Extraction: NewExtractionHandler(deps.Workflow, deps.Extraction),
		Plan:       NewPlanHandler(deps.Workflow, deps.Pricing),
		Document:   NewDocumentHandler(deps.Workflow, deps.Documents),
		Pipeline:   NewPipelineHandler(deps.Workflow, deps.Jobs),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers, security config.SecurityConfig) {
	apiGroup := e.Group("/api")

	// Public
	apiGroup.GET("/health", handlers.Health.HandleHealth)
	apiGroup.POST("/auth/login", handlers.Auth.HandleLogin)

	secured := apiGroup.Group("", AuthMiddleware(security))

	// Cases
	secured.POST("/cases", handlers.Case.HandleCreateCase)
	secured.GET("/cases", handlers.Case.HandleListCases)
	secured.GET("/cases/:id", handlers.Case.HandleGetCase)
	secured.POST("/cases/:id/archive", handlers.Case.HandleArchiveCase)

	// Uploads
	secured.POST("/cases/:id/uploads", handlers.Upload.HandleUploadFile)
	secured.GET("/cases/:id/uploads", handlers.Upload.HandleListUploads)

	// Extraction
	secured.POST("/cases/:id/extract", handlers.Extraction.HandleStartExtraction)
	secured.GET("/cases/:id/runs", handlers.Extraction.HandleListRuns)
	secured.GET("/cases/runs/:runId", handlers.Extraction.HandleGetRun)
	secured.GET("/cases/:id/requirements", handlers.Extraction.HandleGetRequirements)
	secured.PUT("/cases/:id/requirements", handlers.Extraction.HandleUpdateRequirements)

	// Plans
	secured.POST("/cases/:id/generate-plans", handlers.Plan.HandleGeneratePlans)
	secured.GET("/cases/:id/plans", handlers.Plan.HandleListPlans)
	secured.GET("/plans/:planId", handlers.Plan.HandleGetPlan)
	secured.PUT("/plans/:planId", handlers.Plan.HandleUpdatePlan)

	// Documents
	secured.POST("/cases/:id/documents", handlers.Document.HandleGenerateDocuments)
	secured.GET("/cases/:id/documents", handlers.Document.HandleListDocuments)
	secured.GET("/documents/:docId/download", handlers.Document.HandleDownloadDocument)

	// Guided flow
	secured.POST("/cases/:id/process", handlers.Pipeline.HandleProcess)
	secured.GET("/pipelines/:jobId", handlers.Pipeline.HandlePipelineStatus)
	secured.GET("/pipelines/:jobId/progress", handlers.Pipeline.HandlePipelineProgressStream)
}

// isStream reports whether the request is an SSE subscription.
func isStream(c echo.Context) bool {
	return strings.HasSuffix(c.Request().URL.Path, "/progress") ||
		c.Request().Header.Get(echo.HeaderAccept) == "text/event-stream"
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig, log *logger.Logger) {
	if log == nil {
		log = logger.Nop()
	}
	e.HTTPErrorHandler = NewErrorHandler(log, strings.EqualFold(cfg.Advanced.LogMode, "dev"))

	e.Use(middleware.RequestID())

	if cfg.Advanced.EnableRequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/progress") || path == "/api/health"
			},
			LogMethod:    true,
			LogURI:       true,
			LogStatus:    true,
			LogLatency:   true,
			LogRequestID: true,
			LogError:     true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				kv := []interface{}{
					"method", v.Method, "uri", v.URI, "status", v.Status,
					"latency_ms", v.Latency.Milliseconds(), "request_id", v.RequestID,
				}
				if v.Error != nil {
					log.Warn("request", append(kv, "error", v.Error)...)
					return nil
				}
				log.Info("request", kv...)
				return nil
			},
		}))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(tracing())

	// Compression middleware
	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level:   cfg.Processing.CompressionLevel,
			Skipper: isStream,
		}))
	}

	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  origins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			ExposeHeaders: []string{echo.HeaderContentDisposition, echo.HeaderXRequestID},
			MaxAge:        int((12 * time.Hour).Seconds()),
		}))
	}
}

// tracing opens a server span per request, continuing any incoming trace.
func tracing() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := observability.StartSpan(ctx, req.Method+" "+c.Path(),
				"http.method", req.Method, "http.route", c.Path())
			c.SetRequest(req.WithContext(ctx))
			err := next(c)
			observability.EndSpan(span, err)
			return err
		}
	}
}
