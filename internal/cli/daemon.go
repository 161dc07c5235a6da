package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"openqr/internal/config"
	"openqr/internal/ipc"
	"openqr/internal/logging"
	"openqr/internal/service"
)

// Execute implements the go-flags Commander interface for DaemonCommand.
func (c *DaemonCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx)
}

func (c *DaemonCommand) run(ctx context.Context) error {
	dir := dataDir(c.globals)
	if err := config.EnsureDataDir(dir); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	loader := config.NewLoader(configPath(c.globals, dir))
	cfg, loadErr := loader.Load()
	if cfg == nil {
		return loadErr
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}

	logCfg, err := logging.FromSettings(cfg.Logging, dir)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.globals != nil && c.globals.Verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.WithComponent("daemon").Logger

	if loadErr != nil {
		log.Warn("config unreadable, running with defaults", "path", loader.Path(), "error", loadErr)
	}
	log.Info("starting openqr", "version", c.version, "data_dir", dir, "config", loader.Path())

	svc := service.New(service.Options{
		DataDir: dir,
		Config:  cfg,
		Persist: loader.Store,
		Logger:  logger.Logger,
	})
	defer svc.Close()

	loader.OnChange(func(cfg *config.Config) {
		if err := svc.ApplyConfig(ctx, cfg); err != nil {
			log.Error("apply reloaded config", "error", err)
			return
		}
		log.Info("config reloaded")
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watching disabled", "error", err)
	}
	defer loader.Close()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				log.Warn("config reload rejected", "error", err)
			}
		}
	}()

	events, cancelEvents := svc.Subscribe()
	defer cancelEvents()
	go logEvents(log, events)

	if cfg.IPC.Enabled {
		sc, err := ipc.ServerConfigFrom(cfg, dir)
		if err != nil {
			return fmt.Errorf("ipc: %w", err)
		}
		sc.Logger = logger.Logger
		server := ipc.NewServer(sc, ipc.NewServiceHandler(svc))
		if err := server.Start(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}
		defer server.Stop()

		relay, cancelRelay := svc.Subscribe()
		defer cancelRelay()
		server.Relay(relay)
	}

	if c.Listen {
		if err := svc.StartListener(); err != nil {
			return fmt.Errorf("start listener: %w", err)
		}
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
