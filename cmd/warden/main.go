// Warden control-plane server — serves the HTTP API and room streams,
// runs the queue workers, and schedules the daily snapshot job.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warden-dev/warden/pkg/api"
	"github.com/warden-dev/warden/pkg/config"
	"github.com/warden-dev/warden/pkg/database"
	"github.com/warden-dev/warden/pkg/egress"
	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/learning"
	"github.com/warden-dev/warden/pkg/metrics"
	"github.com/warden-dev/warden/pkg/queue"
	"github.com/warden-dev/warden/pkg/services"
	"github.com/warden-dev/warden/pkg/snapshot"
)

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, continuing with existing environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	podID := resolvePodID()
	slog.Info("Starting warden", "http_port", cfg.HTTPPort, "pod_id", podID)

	ctx := context.Background()

	// 1. Database (runs embedded migrations)
	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Metrics registry
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	// 3. Event log + broker
	store := events.NewStore(dbClient.DB())
	broker := events.NewBroker(store)

	// 4. Domain services
	pipeline := learning.NewPipeline()
	policySvc := services.NewPolicyService(dbClient.DB(), broker, pipeline)
	egressCtrl := egress.NewController(cfg.EgressMaxRequestsPerHour, policySvc, pipeline)

	principalSvc := services.NewPrincipalService(dbClient.DB())
	agentSvc := services.NewAgentService(dbClient.DB(), broker)
	roomSvc := services.NewRoomService(dbClient.DB(), broker)
	runSvc := services.NewRunService(dbClient.DB(), broker, roomSvc)
	approvalSvc := services.NewApprovalService(dbClient.DB(), broker)
	egressSvc := services.NewEgressService(dbClient.DB(), broker, egressCtrl)
	evalSvc := services.NewEvaluationService(dbClient.DB(), broker, runSvc, cfg.PromotionLoopEnabled)
	slog.Info("Services initialized")

	// 5. Run worker pool
	processor := queue.NewProcessor(dbClient.DB(), broker, egressCtrl, cfg.RunLeaseTTL)
	workerPool := queue.NewWorkerPool(podID, processor, cfg.WorkerCount, cfg.WorkerPollInterval, cfg.LeaseSweepInterval)
	workerPool.Start(ctx)

	// 6. Daily snapshot scheduler
	snapshotJob := snapshot.NewJob(dbClient.DB(), broker)
	scheduler := snapshot.NewScheduler(snapshotJob, dbClient.DB())
	if err := scheduler.Start(cfg.SnapshotCron); err != nil {
		slog.Error("Failed to start snapshot scheduler", "error", err)
		os.Exit(1)
	}

	// 7. HTTP server
	server := api.NewServer(api.ServerDeps{
		DB:         dbClient,
		Broker:     broker,
		Config:     cfg,
		Principals: principalSvc,
		Agents:     agentSvc,
		Rooms:      roomSvc,
		Runs:       runSvc,
		Policies:   policySvc,
		Approvals:  approvalSvc,
		Egress:     egressSvc,
		Evals:      evalSvc,
		Processor:  processor,
		Snapshots:  snapshotJob,
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	router := gin.New()
	router.Use(gin.Recovery())
	server.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("Warden started", "pod_id", podID, "workers", cfg.WorkerCount)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: scheduler, workers (finish in-flight run), HTTP
	scheduler.Stop()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Worker pool shutdown timeout exceeded — leased runs will be swept")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
