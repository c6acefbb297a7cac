// cmd/pppd/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ppp-gateway/internal/config"
	"ppp-gateway/internal/database"
	"ppp-gateway/internal/events"
	"ppp-gateway/internal/handler"
	"ppp-gateway/internal/modemreset"
	"ppp-gateway/internal/mqtt"
	"ppp-gateway/internal/repository"
	"ppp-gateway/internal/routes"
	"ppp-gateway/internal/service"
	"ppp-gateway/internal/supervisor"
	"ppp-gateway/internal/utils"
)

const (
	cleanupInterval = time.Hour
	stopTimeout     = 30 * time.Second
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Services
	history    *service.HistoryService
	connection *service.ConnectionService

	bus       *events.Bus
	publisher *mqtt.Publisher
	websocket *handler.WebSocketHandler
	launcher  *supervisor.Launcher

	// set by the first shutdown signal
	interrupted atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	// consumers of the event bus
	eventsWG sync.WaitGroup
	wg       sync.WaitGroup
}

// loadConfig reads configuration and builds the logger
func loadConfig(global *globalOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(global.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if global.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// NewApplication creates a new application instance. The HTTP server is only
// built when withServer is set.
func NewApplication(cfg *config.Config, logger *zap.Logger, withServer bool) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeDatabase(); err != nil {
		app.shutdown()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.bus = events.NewBus(logger)

	if err := app.initializeMQTT(); err != nil {
		app.shutdown()
		return nil, fmt.Errorf("failed to initialize mqtt: %w", err)
	}

	if err := app.initializeSupervisor(); err != nil {
		app.shutdown()
		return nil, fmt.Errorf("failed to initialize supervisor: %w", err)
	}

	if withServer {
		app.initializeServer()
	}

	return app, nil
}

// initializeDatabase opens history storage and runs migrations
func (app *Application) initializeDatabase() error {
	if app.config.Database.Driver == "none" {
		app.logger.Info("History storage disabled")
		return nil
	}

	db, err := database.Open(&app.config.Database, app.config.GetDatabaseDSN(), app.logger)
	if err != nil {
		return err
	}
	app.database = db

	if err := database.NewMigrator(db, app.logger).Up(); err != nil {
		return err
	}

	repo := repository.NewSessionRepository(db, app.logger)
	app.history = service.NewHistoryService(repo, app.logger)

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeMQTT connects the state publisher when enabled
func (app *Application) initializeMQTT() error {
	if !app.config.MQTT.Enabled {
		return nil
	}

	app.publisher = mqtt.NewPublisher(&app.config.MQTT, app.logger)
	if err := app.publisher.Connect(); err != nil {
		return err
	}

	app.logger.Info("MQTT publisher initialized",
		zap.String("broker", app.config.MQTT.Broker),
		zap.String("state_topic", app.publisher.StateTopic()),
	)
	return nil
}

// initializeSupervisor builds the launcher and connection service
func (app *Application) initializeSupervisor() error {
	var resetter supervisor.ModemResetter
	if len(app.config.ModemReset.Command) > 0 {
		exec, err := modemreset.New(app.config.ModemReset.Command, app.config.ModemReset.Timeout, app.logger)
		if err != nil {
			return err
		}
		resetter = exec
	}

	app.launcher = supervisor.NewLauncher(supervisor.Options{
		Logger:        app.logger,
		ModemResetter: resetter,
		Events:        app.bus,
	})
	app.connection = service.NewConnectionService(app.ctx, app.launcher, app.config, app.logger)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.websocket = handler.NewWebSocketHandler(app.connection, app.config.Server.AllowedOrigins, app.logger)

	var (
		pinger  handler.Pinger
		history handler.HistoryReader
	)
	if app.database != nil {
		pinger = app.database
		history = app.history
	}

	router := routes.NewRouter(app.config, app.logger, pinger, app.connection, history, app.websocket).SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts the event bus and its consumers
func (app *Application) startBackgroundServices() {
	// the bus stops on Close only, so consumers always see their channels closed
	app.goConsume(func() { app.bus.Run(context.Background()) })

	if app.history != nil {
		ch, cancel := app.bus.Subscribe(service.HistoryEvents...)
		app.goConsume(func() {
			defer cancel()
			app.history.Run(context.WithoutCancel(app.ctx), ch)
		})
		app.goRun(app.startCleanupService)
	}

	if app.publisher != nil {
		ch, cancel := app.bus.Subscribe()
		app.goConsume(func() {
			defer cancel()
			app.publisher.Run(context.WithoutCancel(app.ctx), ch)
		})
	}

	if app.websocket != nil {
		ch, cancel := app.bus.Subscribe()
		app.goConsume(func() {
			defer cancel()
			app.websocket.Run(context.WithoutCancel(app.ctx), ch)
		})
	}

	app.logger.Info("Background services started")
}

// goConsume runs an event consumer; consumers exit when the bus closes
func (app *Application) goConsume(fn func()) {
	app.eventsWG.Add(1)
	go func() {
		defer app.eventsWG.Done()
		fn()
	}()
}

func (app *Application) goRun(fn func()) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn()
	}()
}

// startCleanupService prunes old history
func (app *Application) startCleanupService() {
	retention := app.config.Database.Retention
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(app.ctx, time.Minute)
		if deleted, err := app.history.Prune(ctx, retention); err != nil {
			app.logger.Error("Failed to prune history", zap.Error(err))
		} else if deleted > 0 {
			app.logger.Info("Pruned history", zap.Int64("deleted", deleted))
		}
		cancel()

		select {
		case <-ticker.C:
		case <-app.ctx.Done():
			return
		}
	}
}

// startServer serves HTTP until shutdown
func (app *Application) startServer() {
	app.goRun(func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(app.config.Server.TLS.CertFile, app.config.Server.TLS.KeyFile)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server failed", zap.Error(err))
			app.cancel()
		}
	})
}

// stopSupervisor terminates a running supervisor and waits for it
func (app *Application) stopSupervisor(reason string) {
	if app.launcher == nil || !app.launcher.Running() {
		return
	}
	if err := app.launcher.Terminate(reason); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
		app.logger.Warn("Failed to stop supervisor", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if _, err := app.launcher.Wait(ctx); errors.Is(err, context.DeadlineExceeded) {
		app.logger.Warn("Supervisor did not stop in time")
	}
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
		cancel()
	}

	// deliver the final events before stopping everything else
	if app.bus != nil {
		app.bus.Close()
	}
	app.eventsWG.Wait()
	app.cancel()
	app.wg.Wait()

	if app.publisher != nil {
		app.publisher.Close()
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		}
	}

	app.logger.Info("Application shutdown completed")
	utils.CloseLogger(app.logger)
}
