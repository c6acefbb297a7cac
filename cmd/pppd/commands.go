// cmd/pppd/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ppp-gateway/internal/chat"
	"ppp-gateway/internal/config"
	"ppp-gateway/internal/database"
	"ppp-gateway/internal/supervisor"
	"ppp-gateway/internal/utils"
)

// version is set at build time
var version = "dev"

// runCommand runs one supervisor in the foreground
type runCommand struct {
	global *globalOptions

	Device    string `short:"d" long:"device" description:"Serial device, overrides connection.device"`
	Persist   bool   `long:"persist" description:"Redial after the link drops"`
	NoPersist bool   `long:"no-persist" description:"Exit after the first link failure"`
	Holdoff   *int   `long:"holdoff" description:"Seconds to wait before redialing"`
}

func (c *runCommand) apply(cfg *config.Config) error {
	if c.Persist && c.NoPersist {
		return errors.New("--persist and --no-persist are mutually exclusive")
	}
	if c.Device != "" {
		cfg.Connection.Device = c.Device
	}
	if c.Persist {
		cfg.Connection.Persist = true
	}
	if c.NoPersist {
		cfg.Connection.Persist = false
	}
	if c.Holdoff != nil {
		cfg.Connection.Holdoff = time.Duration(*c.Holdoff) * time.Second
	}
	return nil
}

// Execute implements flags.Commander
func (c *runCommand) Execute(args []string) error {
	cfg, logger, err := loadConfig(c.global)
	if err != nil {
		return err
	}
	if err := c.apply(cfg); err != nil {
		return err
	}

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	utils.LogServiceStart(logger, version, cfg)

	app, err := NewApplication(cfg, logger, false)
	if err != nil {
		return err
	}
	app.startBackgroundServices()

	stopSignals := app.handleSignals()
	defer stopSignals()

	launched, err := app.launch(settings)
	if err != nil || !launched {
		app.shutdown()
		if err != nil {
			return err
		}
		return &exitError{code: supervisor.ExitNormal}
	}

	status, err := app.launcher.Wait(context.Background())
	if err != nil {
		logger.Error("Supervisor failed", zap.Error(err), zap.Int("status", status))
	}

	app.shutdown()
	return &exitError{code: status}
}

// launch starts the supervisor unless a shutdown signal already arrived. A
// signal that lands while Launch runs stops the new supervisor right away.
func (app *Application) launch(settings supervisor.Settings) (bool, error) {
	if app.interrupted.Load() {
		app.logger.Info("Shutdown requested before the supervisor started")
		return false, nil
	}
	if _, err := app.launcher.Launch(app.ctx, settings); err != nil {
		return false, err
	}
	if app.interrupted.Load() {
		if err := app.launcher.Terminate("signal received during startup"); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			return true, err
		}
	}
	return true, nil
}

// handleSignals terminates the supervisor on the first SIGINT or SIGTERM and
// exits the process on the second. The connect retry loop does not watch for
// shutdown, so the second signal is the only way out of a failing dial.
func (app *Application) handleSignals() func() {
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-quit:
			app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			app.interrupted.Store(true)
			if err := app.launcher.Terminate("signal: " + sig.String()); err != nil {
				app.logger.Debug("Nothing to terminate", zap.Error(err))
			}
		case <-done:
			return
		}

		select {
		case sig := <-quit:
			app.logger.Warn("Received second signal, exiting immediately", zap.String("signal", sig.String()))
			utils.CloseLogger(app.logger)
			os.Exit(supervisor.ExitNormal)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(quit)
		close(done)
	}
}

// serveCommand runs the control API
type serveCommand struct {
	global *globalOptions
}

// Execute implements flags.Commander
func (c *serveCommand) Execute(args []string) error {
	cfg, logger, err := loadConfig(c.global)
	if err != nil {
		return err
	}

	utils.LogServiceStart(logger, version, cfg)

	app, err := NewApplication(cfg, logger, true)
	if err != nil {
		return err
	}
	app.startBackgroundServices()
	app.startServer()

	if cfg.Connection.AutoStart {
		if _, err := app.connection.Start(nil); err != nil {
			logger.Error("Failed to auto-start connection", zap.Error(err))
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-app.ctx.Done():
	}

	app.stopSupervisor("service shutdown")
	app.shutdown()
	return nil
}

// checkScriptCommand validates a chat script file
type checkScriptCommand struct {
	out io.Writer

	Args struct {
		File string `positional-arg-name:"FILE" description:"Chat script file, - for stdin"`
	} `positional-args:"yes" required:"yes"`
}

// Execute implements flags.Commander
func (c *checkScriptCommand) Execute(args []string) error {
	var (
		data []byte
		err  error
	)
	if c.Args.File == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(c.Args.File)
	}
	if err != nil {
		return fmt.Errorf("failed to read chat script: %w", err)
	}

	script, err := chat.Parse(string(data))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "# %d steps, %d abort patterns\n", len(script.Steps), len(script.Aborts))
	fmt.Fprint(c.out, script.String())
	return nil
}

// migrateCommand manages the history schema
type migrateCommand struct {
	global *globalOptions

	Down    bool `long:"down" description:"Roll back all migrations"`
	Force   *int `long:"force" description:"Force the schema version after a failed migration"`
	Version bool `long:"version" description:"Print the schema version"`
}

// Execute implements flags.Commander
func (c *migrateCommand) Execute(args []string) error {
	cfg, logger, err := loadConfig(c.global)
	if err != nil {
		return err
	}
	defer utils.CloseLogger(logger)

	if cfg.Database.Driver == "none" {
		return errors.New("history storage is disabled")
	}

	db, err := database.Open(&cfg.Database, cfg.GetDatabaseDSN(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	switch {
	case c.Force != nil:
		return migrator.Force(*c.Force)
	case c.Down:
		return migrator.Down()
	case c.Version:
		v, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%t\n", v, dirty)
		return nil
	default:
		return migrator.Up()
	}
}
