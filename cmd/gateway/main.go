// Command gateway runs the task-oriented AI coding agent gateway: the
// Task Store, Host Registry, Worktree Manager, Event Log, Execution
// Engine, and Subscription Bus exposed over REST and a websocket
// channel. Wiring order is load-config -> init-logger -> connect-bus ->
// build-components -> recover -> start-http -> wait-for-signal ->
// graceful-shutdown.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/agent/adapter/factory"
	"github.com/kandev/kandev/internal/agent/credentials"
	agentdocker "github.com/kandev/kandev/internal/agent/docker"
	"github.com/kandev/kandev/internal/common/config"
	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/eventlog"
	"github.com/kandev/kandev/internal/events/bus"
	"github.com/kandev/kandev/internal/execution"
	executionapi "github.com/kandev/kandev/internal/execution/api"
	gatewayapi "github.com/kandev/kandev/internal/gateway/api"
	"github.com/kandev/kandev/internal/gateway/ws"
	"github.com/kandev/kandev/internal/hostregistry"
	hostapi "github.com/kandev/kandev/internal/hostregistry/api"
	"github.com/kandev/kandev/internal/subscription"
	"github.com/kandev/kandev/internal/task/api"
	"github.com/kandev/kandev/internal/task/repository"
	"github.com/kandev/kandev/internal/task/service"
	"github.com/kandev/kandev/internal/worktree"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting gateway", zap.String("version", version))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("failed to create data directory", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, err := bus.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer eventBus.Close()

	taskRepo, closeTaskRepo, err := buildTaskRepository(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize task repository", zap.Error(err))
	}
	defer closeTaskRepo()

	taskSvc := service.NewService(taskRepo, eventBus, log)

	store, err := eventlog.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event log", zap.Error(err))
	}
	defer store.Close()

	worktreeDB, err := sql.Open("sqlite3", cfg.DataDir+"/worktrees.db?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		log.Fatal("failed to open worktree database", zap.Error(err))
	}
	defer worktreeDB.Close()
	worktreeDB.SetMaxOpenConns(1)

	wtMgr, err := worktree.Provide(worktreeDB, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize worktree manager", zap.Error(err))
	}

	hosts := hostregistry.Provide(ctx, cfg, log)
	if cfg.HostRegistry.LocalHost {
		hostregistry.StartLocalHost(ctx, hosts, cfg.Execution.MaxConcurrentPerHost, cfg.HostRegistry.HeartbeatInterval)
	}

	dockerClient, err := agentdocker.NewClient(cfg.Docker, log)
	if err != nil {
		log.Warn("docker client unavailable; sandboxed agent launches will fail", zap.Error(err))
	} else if err := dockerClient.Ping(ctx); err != nil {
		log.Warn("docker daemon unreachable; sandboxed agent launches will fail", zap.Error(err))
	} else {
		// Agent containers from a previous gateway process are orphans:
		// their runs are marked failed on recovery, never resumed.
		if _, err := dockerClient.ReapStale(ctx, map[string]string{"kandev.component": "agent-adapter"}); err != nil {
			log.Warn("failed to reap stale agent containers", zap.Error(err))
		}
	}

	adapterFactory := factory.Provide(cfg, dockerClient, log)

	credsProvider := credentials.NewEnvProvider("KANDEV_AGENT_")

	engine := execution.Provide(cfg, execution.Dependencies{
		Store:        store,
		Hosts:        hosts,
		Worktrees:    wtMgr,
		Factory:      adapterFactory,
		Tasks:        taskSvc,
		Bus:          eventBus,
		Credentials:  credsProvider,
		RepoResolver: execution.DirRepoResolver{Root: cfg.Worktree.ProjectRoot},
		Logger:       log,
	})

	if err := engine.Recover(ctx); err != nil {
		log.Fatal("crash recovery failed", zap.Error(err))
	}
	log.Info("crash recovery complete")

	if err := wtMgr.Reconcile(ctx); err != nil {
		log.Warn("worktree reconciliation failed", zap.Error(err))
	}

	subBus := subscription.NewBus(store, taskSvc, log)
	hub := ws.NewHub(engine, subBus, taskSvc, hosts, eventBus, log)
	go hub.Run(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gatewayapi.Recovery(log), gatewayapi.RequestLogger(log), gatewayapi.ErrorHandler(log), gatewayapi.CORS())

	router.GET("/health", healthHandler(cfg))
	router.GET("/ws", ws.Handler(hub, log))
	router.GET("/ws/host", ws.HostHandler(hosts, eventBus, log))

	apiGroup := router.Group("/api")
	tasksGroup := apiGroup.Group("/tasks")
	api.SetupRoutes(apiGroup, taskSvc, log)
	executionapi.SetupRoutes(tasksGroup, engine, store, taskSvc, log)
	hostapi.SetupRoutes(apiGroup.Group("/hosts"), hosts, log)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gateway")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("gateway stopped")
}

// buildTaskRepository selects the Task Store backend named by
// cfg.Database.Driver, returning a close func the caller always invokes.
func buildTaskRepository(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		repo, err := repository.NewPostgresRepository(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	case "", "sqlite":
		path := cfg.Database.Path
		if path == "" {
			path = cfg.DataDir + "/tasks.db"
		}
		repo, err := repository.NewSQLiteRepository(path)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

type healthResponse struct {
	Status       string          `json:"status"`
	Version      string          `json:"version"`
	WorkerURL    string          `json:"workerUrl"`
	DataDir      string          `json:"dataDir"`
	FeatureFlags map[string]bool `json:"featureFlags"`
}

func healthHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{
			Status:    "ok",
			Version:   version,
			WorkerURL: cfg.Docker.Host,
			DataDir:   cfg.DataDir,
			FeatureFlags: map[string]bool{
				"memoryEnhanced": cfg.MemoryEnhanced,
			},
		})
	}
}
