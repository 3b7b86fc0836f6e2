package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/synoptic-visualizer/backend/internal/api"
	"github.com/synoptic-visualizer/backend/internal/config"
	"github.com/synoptic-visualizer/backend/internal/diagram"
	"github.com/synoptic-visualizer/backend/internal/engine"
	"github.com/synoptic-visualizer/backend/internal/history"
	"github.com/synoptic-visualizer/backend/internal/models"
	"github.com/synoptic-visualizer/backend/internal/plugin"
	"github.com/synoptic-visualizer/backend/internal/storage"
	"github.com/synoptic-visualizer/backend/internal/web"
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
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "SynopticViewer.exe.config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Check if running in embedded mode (viewer built into binary)
	embeddedMode := web.HasEmbeddedFiles()

	// Initialize diagram storage
	diagramStore, err := storage.NewLocalStore(cfg.GetDiagramsDir())
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	// Initialize the history recorder / snapshot source
	histStore, err := history.NewStore(cfg.GetHistoryDir(), history.Options{
		BatchSize:   cfg.Engine.HistoryBatchSize,
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
	})
	if err != nil {
		fmt.Printf("Failed to initialize history store: %v\n", err)
		os.Exit(1)
	}
	defer histStore.Close()

	// Optional visual rule table extending the built-in mapping table
	var rules *models.VisualRules
	if cfg.Storage.RulesFile != "" {
		if r, err := diagram.ParseVisualRules(cfg.Storage.RulesFile); err == nil {
			rules = r
			fmt.Printf("Visual rules loaded: %d mappings\n", len(r.Mappings))
		} else if !os.IsNotExist(err) {
			fmt.Printf("Warning: failed to load visual rules: %v\n", err)
		}
	}

	// Initialize the synchronization engine on a frame scheduler
	sched := engine.NewFrameScheduler(time.Duration(cfg.Engine.FlushIntervalMs) * time.Millisecond)
	defer sched.Stop()

	eng := engine.New(diagramStore, plugin.GetGlobalRegistry(), histStore, sched)
	eng.Initialize(engine.Config{
		HighlightDuration: time.Duration(cfg.Engine.HighlightDurationMs) * time.Millisecond,
		SnapshotTimeout:   time.Duration(cfg.Engine.SnapshotTimeoutSeconds) * time.Second,
	}, rules)

	// Wire the live feed hub: pushed updates are recorded and enqueued;
	// flushed mutations fan out to every viewer.
	hub := api.NewFeedHub(func(sourceID, topicID, payload string) {
		if err := histStore.Record(sourceID, topicID, payload); err != nil {
			fmt.Printf("[Main] history record failed: %v\n", err)
		}
		eng.Update(sourceID, topicID, payload)
	})
	eng.SetMutationSink(hub.BroadcastMutations)
	eng.SetResyncNotifier(hub.BroadcastResync)

	// Initialize API handler
	h := api.NewHandler(diagramStore, eng, histStore, Version)

	e := echo.New()
	e.HideBanner = true

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" ||
				path == "/api/update" ||
				strings.Contains(path, "/ws/")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			return strings.Contains(c.Request().URL.Path, "/ws/")
		},
		ErrorMessage: "Request timeout - query took too long",
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	// API routes
	api.RegisterRoutes(e, h, hub)

	// Register embedded viewer if available
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			fmt.Printf("Warning: failed to register static routes: %v\n", err)
		} else {
			fmt.Println("Serving embedded viewer from binary")
		}
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Print startup banner
	mode := "Development"
	if embeddedMode {
		mode = "Air-Gapped (Embedded)"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Synoptic Viewer Server                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Diagrams:  %-46s║\n", cfg.GetDiagramsDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}
