package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/api"
	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/config"
	"github.com/Kiwi1009/interview-to-quote/internal/document"
	"github.com/Kiwi1009/interview-to-quote/internal/extraction"
	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/observability"
	"github.com/Kiwi1009/interview-to-quote/internal/pricing"
	"github.com/Kiwi1009/interview-to-quote/internal/storage"
	"github.com/Kiwi1009/interview-to-quote/internal/upload"
	"github.com/Kiwi1009/interview-to-quote/internal/web"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	defaultConfig := filepath.Join(filepath.Dir(exePath), "interview-to-quote.config.xml")
	configPath := flag.String("config", defaultConfig, "path to the XML configuration file")
	flag.Parse()

	// Load XML configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Advanced.LogMode, cfg.Advanced.LogLevel)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal("failed to create directories", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.Init(ctx, cfg.Telemetry, Version, log)

	db, err := casedb.Open(cfg.Storage.DatabasePath, casedb.Options{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
		Log:         log.With("component", "casedb"),
	})
	if err != nil {
		log.Fatal("failed to open case database", "path", cfg.Storage.DatabasePath, "error", err)
	}
	defer db.Close()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize storage", "backend", cfg.Storage.Backend, "error", err)
	}

	catalog := pricing.DefaultCatalog()
	if cfg.Pricing.CatalogPath != "" {
		if catalog, err = pricing.LoadCatalog(cfg.Pricing.CatalogPath); err != nil {
			log.Fatal("failed to load price catalog", "path", cfg.Pricing.CatalogPath, "error", err)
		}
	}

	pdf, err := document.NewPDFRenderer(cfg.Documents.PDFFontPath)
	if err != nil {
		log.Fatal("failed to load PDF font", "path", cfg.Documents.PDFFontPath, "error", err)
	}
	if !pdf.HasUnicodeFont() {
		log.Warn("no PDF font configured, non-Latin text in PDFs is replaced")
	}

	uploadMgr := upload.NewManager(db, blobs, cfg.AllowedExtensions(), log.With("component", "upload"))
	extractor := extraction.NewLLMExtractor(extraction.LLMConfig{
		BaseURL: cfg.Extraction.BaseURL,
		APIKey:  cfg.Extraction.APIKey,
		Model:   cfg.Extraction.Model,
		Timeout: time.Duration(cfg.Extraction.RequestTimeoutSeconds) * time.Second,
	})
	orch := extraction.New(db, uploadMgr, extractor, extraction.Options{
		PollInterval: cfg.PollInterval(),
		MaxWait:      cfg.MaxWait(),
		Workers:      cfg.Extraction.MaxConcurrentExtractions,
	}, log.With("component", "extraction"))
	if err := orch.Recover(ctx); err != nil {
		log.Warn("failed to recover interrupted runs", "error", err)
	}

	engine := pricing.NewEngine(db, orch, catalog, log.With("component", "pricing"))
	docs := document.NewService(db, orch, engine, blobs, log.With("component", "document"), document.DOCXRenderer{}, pdf)
	wf := workflow.New(db, uploadMgr, orch, engine, docs, workflow.Options{
		PollInterval: cfg.PollInterval(),
		MaxWait:      cfg.MaxWait(),
	}, log.With("component", "workflow"))
	jobs := workflow.NewJobManager(wf, cfg.MaxWait()+5*time.Minute, log.With("component", "jobs"))

	// Start background job cleanup
	go func() {
		interval := time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := jobs.CleanupOldJobs(time.Duration(cfg.Processing.JobRetentionMinutes) * time.Minute); n > 0 {
					log.Debug("pipeline jobs cleaned up", "count", n)
				}
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e, cfg, log)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		DB:         db,
		Workflow:   wf,
		Jobs:       jobs,
		UploadMgr:  uploadMgr,
		Extraction: orch,
		Pricing:    engine,
		Documents:  docs,
		Security:   cfg.Security,
		Version:    Version,
	}), cfg.Security)

	// Register embedded frontend if available
	embeddedMode := web.HasEmbeddedFiles()
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			log.Warn("failed to register static routes", "error", err)
			embeddedMode = false
		}
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	log.Info("server starting",
		"version", Version,
		"build_time", BuildTime,
		"config", *configPath,
		"listen", cfg.GetServerAddr(),
		"data_dir", cfg.Storage.DataDirectory,
		"storage", cfg.Storage.Backend,
		"model", extractor.Model(),
		"auth", cfg.Security.RequireAuth,
		"embedded_ui", embeddedMode,
	)

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("extraction shutdown", "error", err)
	}
	jobs.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", "error", err)
	}
}

// openBlobStore returns the configured blob backend.
func openBlobStore(ctx context.Context, cfg *config.AppConfig) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "", "local":
		return storage.NewLocalStore(cfg.Storage.DataDirectory)
	case "minio":
		store, err := storage.NewMinioStore(cfg.Storage.Minio)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
