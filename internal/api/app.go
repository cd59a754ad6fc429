// Package api binds the core API surface (SPEC_FULL §6) to HTTP+JSON: a
// go-chi/chi/v5 router in front of internal/workflow.Service, narrowed to
// the execution lifecycle and the WebSocket event channel. The teacher's
// ~40 other handler files (billing, sso, rbac, marketplace, webhooks,
// OAuth, …) bind surfaces that don't exist in this core and are not
// ported here.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/yash-kavaiya/orchestrator/internal/agent"
	"github.com/yash-kavaiya/orchestrator/internal/api/handlers"
	apimiddleware "github.com/yash-kavaiya/orchestrator/internal/api/middleware"
	"github.com/yash-kavaiya/orchestrator/internal/config"
	"github.com/yash-kavaiya/orchestrator/internal/executor"
	"github.com/yash-kavaiya/orchestrator/internal/metrics"
	"github.com/yash-kavaiya/orchestrator/internal/queue"
	"github.com/yash-kavaiya/orchestrator/internal/websocket"
	"github.com/yash-kavaiya/orchestrator/internal/workflow"
)

// App holds the wired dependencies of the API binary.
type App struct {
	config *config.Config
	logger *slog.Logger
	db     *sqlx.DB
	redis  *redis.Client
	router *chi.Mux

	metrics         *metrics.Metrics
	metricsRegistry *prometheus.Registry

	workflowRepo    *workflow.Repository
	workflowService *workflow.Service
	wsHub           *websocket.Hub

	healthHandler    *handlers.HealthHandler
	executionHandler *handlers.ExecutionHandler
	websocketHandler *handlers.WebSocketHandler
}

// NewApp constructs the App: database/redis connections, the workflow
// service (wired either to an inline Executor or, when queue dispatch is
// enabled, to the same queue.Publisher the worker consumes from), the
// event bus Hub, and the chi router.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	app.db = db

	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	app.metrics = metrics.NewMetrics()
	app.metricsRegistry = prometheus.NewRegistry()
	if err := app.metrics.Register(app.metricsRegistry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	workflowRepo, err := workflow.NewRepository(db)
	if err != nil {
		return nil, fmt.Errorf("build workflow repository: %w", err)
	}
	app.workflowRepo = workflowRepo

	app.wsHub = websocket.NewHub(logger)
	go app.wsHub.Run()
	broadcaster := websocket.NewHubBroadcaster(app.wsHub)

	workflowService := workflow.NewService(workflowRepo, logger)
	if cfg.Queue.Enabled {
		sqsConfig := queue.SQSConfig{
			Region: cfg.AWS.Region,
			QueueURLs: map[queue.QueueName]string{
				queue.QueueWorkflowExecution: cfg.AWS.SQSWorkflowExecutionQueueURL,
				queue.QueueNodeExecution:     cfg.AWS.SQSNodeExecutionQueueURL,
				queue.QueueCleanup:           cfg.AWS.SQSCleanupQueueURL,
			},
			DLQueueURL:      cfg.AWS.SQSDLQueueURL,
			Endpoint:        cfg.AWS.Endpoint,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		}
		sqsClient, err := queue.NewSQSClient(context.Background(), sqsConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("build SQS client: %w", err)
		}
		workflowService.SetQueuePublisher(queue.NewPublisher(sqsClient, logger))
	} else {
		exec := executor.NewWithAgent(workflowRepo, logger, broadcaster, agent.NewEcho(), nil)
		workflowService.SetExecutor(exec)
	}
	app.workflowService = workflowService

	app.healthHandler = handlers.NewHealthHandler(db, app.redis)
	app.executionHandler = handlers.NewExecutionHandler(workflowService, logger)
	app.websocketHandler = handlers.NewWebSocketHandler(app.wsHub, workflowRepo, logger)

	router, err := app.buildRouter()
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	app.router = router

	return app, nil
}

// Router returns the root http.Handler serving the API.
func (a *App) Router() http.Handler {
	return a.router
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	if err := a.db.Close(); err != nil {
		return err
	}
	return a.redis.Close()
}

func (a *App) buildRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(apimiddleware.StructuredLogger(a.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	corsMiddleware, err := apimiddleware.NewCORSMiddleware(a.config.CORS, a.config.Server.Env)
	if err != nil {
		return nil, err
	}
	r.Use(corsMiddleware)

	r.Get("/health", a.healthHandler.Health)
	r.Get("/ready", a.healthHandler.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(a.metricsRegistry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimiddleware.Authenticate)

		r.Route("/workflows/{workflowID}/executions", func(r chi.Router) {
			r.Post("/", a.executionHandler.Create)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", a.executionHandler.List)
			r.Get("/{executionID}", a.executionHandler.Get)
			r.Post("/{executionID}/cancel", a.executionHandler.Cancel)
			r.Post("/{executionID}/retry", a.executionHandler.Retry)
			r.Get("/{executionID}/nodes", a.executionHandler.ListNodes)
			r.Get("/{executionID}/nodes/{nodeExecID}", a.executionHandler.GetNode)
			r.Get("/{executionID}/logs", a.executionHandler.Logs)
		})

		r.Get("/ws", a.websocketHandler.HandleConnection)
	})

	return r, nil
}
