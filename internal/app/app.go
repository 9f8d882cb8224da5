// Package app wires together the orchestrator's components: the broker
// connection, queue manager, lock service, dispatcher, worker pool, scope
// controller, holder-profiles cache, and progress bus.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/dispatcher"
	"github.com/solwallet/orchestrator/internal/holderprofiles"
	"github.com/solwallet/orchestrator/internal/interfaces"
	"github.com/solwallet/orchestrator/internal/lock"
	"github.com/solwallet/orchestrator/internal/progress"
	"github.com/solwallet/orchestrator/internal/queue"
	"github.com/solwallet/orchestrator/internal/scope"
	"github.com/solwallet/orchestrator/internal/worker"
)

// App holds every initialized component. It is the shared core used by
// cmd/orchestrator-server.
type App struct {
	Config *common.Config
	Logger *common.Logger

	Broker         *broker.Client
	QueueManager   interfaces.QueueManager
	LockService    interfaces.LockService
	Dispatcher     *dispatcher.Dispatcher
	WorkerPool     *worker.Pool
	Scope          *scope.Controller
	HolderProfiles interfaces.HolderProfilesCache
	Progress       *progress.Hub

	StartupTime time.Time
}

// NewApp loads configuration, dials the broker, and wires every component.
// configPath may be empty, in which case the default resolution logic
// (ORCHESTRATOR_CONFIG env var, then ./config/orchestrator.toml) is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	if configPath == "" {
		configPath = os.Getenv("ORCHESTRATOR_CONFIG")
	}
	if configPath == "" {
		configPath = "config/orchestrator.toml"
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	brokerClient := broker.New(config.Redis.Addr(), config.Redis.DB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := brokerClient.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("broker not reachable at startup, continuing (circuit breaker will classify calls)")
	}

	queueManager := queue.New(brokerClient)
	lockService := lock.New(brokerClient)
	holderProfilesCache := holderprofiles.New(brokerClient)
	progressHub := progress.NewHub(logger)

	disp := dispatcher.New(queueManager, lockService, config.Lock.DefaultTTL)
	scopeController := scope.New(brokerClient, disp, lockService)

	registry := worker.NewRegistry()
	registerHandlers(registry, scopeController, holderProfilesCache, logger)

	workerPool := worker.New(queueManager, lockService, progressHub, registry, config.Queues, logger)

	return &App{
		Config:         config,
		Logger:         logger,
		Broker:         brokerClient,
		QueueManager:   queueManager,
		LockService:    lockService,
		Dispatcher:     disp,
		WorkerPool:     workerPool,
		Scope:          scopeController,
		HolderProfiles: holderProfilesCache,
		Progress:       progressHub,
		StartupTime:    startupStart,
	}, nil
}

// Start performs the startup orphan sweep, then launches the progress hub
// and worker pool.
func (a *App) Start() {
	sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := a.LockService.Sweep(sweepCtx, a.QueueManager); err != nil {
		a.Logger.Warn().Err(err).Msg("lock orphan sweep failed")
	} else if n > 0 {
		a.Logger.Info().Int("count", n).Msg("swept orphaned locks from previous run")
	}

	go a.Progress.Run()
	a.WorkerPool.Start()

	a.Logger.Info().Dur("startup", time.Since(a.StartupTime)).Msg("orchestrator core started")
}

// Close shuts down every component in reverse dependency order.
func (a *App) Close() {
	a.WorkerPool.Stop()
	a.Progress.Stop()
	if err := a.Broker.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("error closing broker connection")
	}
}
