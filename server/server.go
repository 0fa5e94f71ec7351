package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"

	"github.com/docstack/docstack/api"
	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/internal/cron"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/services"
	"github.com/docstack/docstack/services/watcher"
)

type Server struct {
	config       *config.Config
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	watcher      *watcher.Watcher
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(db)

	// Initialize services
	svcs, err := services.InitServices(cfg, appLogger, db, repos)
	if err != nil {
		return nil, err
	}

	fileWatcher := watcher.NewWatcher(*cfg.WatcherConfig, svcs.Store.ConsumeDir(), appLogger, svcs.Dispatcher)
	cronManager := cron.NewCronManager(cfg.CronConfig, appLogger, svcs.Dispatcher)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		router:       router,
		services:     svcs,
		repositories: repos,
		watcher:      fileWatcher,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func (s *Server) Initialize(ctx context.Context) error {
	// Setup API routes
	api.RegisterRoutes(ctx, s.router, s.services, s.repositories, s.config.AppConfig.APIKey)

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)

		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("❌ Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	// Create root context for the application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize server components
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	// Start the task worker with panic recovery
	log.Println("Starting task worker...")
	if err := s.services.Worker.Listen(); err != nil {
		return err
	}
	log.Println("✅ Task worker started successfully")

	// Start the consume directory watcher
	if s.config.WatcherConfig.Enabled {
		log.Println("Starting consume directory watcher...")
		if err := s.watcher.Start(ctx); err != nil {
			return err
		}
		log.Println("✅ Watcher started successfully")
	}

	// Start scheduled jobs
	s.cronManager.StartCron()
	log.Println("✅ Cron jobs registered successfully")

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")
	log.Println("DocStack is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for termination signal
	<-stop
	log.Println("Shutting down...")

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shut down HTTP server
	log.Println("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	// Stop background components with timeout and panic recovery
	stopDone := make(chan struct{})
	go s.wrapGoroutine("background_shutdown", func() {
		defer close(stopDone)
		s.cronManager.Stop()
		s.watcher.Stop()
		s.services.Close()
	})

	select {
	case <-stopDone:
		log.Println("✅ Background services stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Println("⚠️ Background service stop timed out, forcing exit")
	}

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
