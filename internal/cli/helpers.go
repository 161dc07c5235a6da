package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"openqr/internal/config"
	"openqr/internal/history"
	"openqr/internal/ipc"
	"openqr/internal/service"
)

// stdout is where command output goes; tests replace it.
var stdout io.Writer = os.Stdout

// api is the subset of daemon operations available with or without a
// running daemon.
type api interface {
	Status(ctx context.Context) (service.Status, error)
	ProcessScan(ctx context.Context, raw string) (service.ScanResult, error)
	CheckURL(ctx context.Context, url string) (string, error)
	History(ctx context.Context) ([]history.Record, error)
	ClearHistory(ctx context.Context) error
	MigrateHistory(ctx context.Context, from, to string) (int, error)
	Close() error
}

func dataDir(g *GlobalFlags) string {
	if g != nil && g.DataDir != "" {
		return g.DataDir
	}
	return config.DataDir()
}

func configPath(g *GlobalFlags, dir string) string {
	if g != nil && g.Config != "" {
		return g.Config
	}
	return config.ConfigPath(dir)
}

// loadConfig reads the configuration without creating or migrating it.
func loadConfig(g *GlobalFlags) (*config.Config, string, error) {
	dir := dataDir(g)
	cfg, err := config.Load(configPath(g, dir))
	if err != nil {
		return nil, dir, err
	}
	return cfg, dir, nil
}

func socketPath(g *GlobalFlags) (string, error) {
	cfg, dir, err := loadConfig(g)
	if err != nil {
		return "", err
	}
	return cfg.SocketPath(dir), nil
}

// dial connects to the running daemon.
func dial(g *GlobalFlags) (*ipc.IPCClient, error) {
	path, err := socketPath(g)
	if err != nil {
		return nil, err
	}
	return ipc.Dial(ipc.DefaultClientConfig(path))
}

// connect returns the daemon when it is running and an in-process service
// over the same data directory otherwise.
func connect(g *GlobalFlags) (api, error) {
	c, err := dial(g)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ipc.ErrDaemonNotRunning) {
		return nil, err
	}

	cfg, dir, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	if g != nil && g.Verbose {
		fmt.Fprintf(os.Stderr, "daemon not running, using %s directly\n", dir)
	}
	return &local{svc: service.New(service.Options{DataDir: dir, Config: cfg})}, nil
}

// local adapts an in-process Service to api.
type local struct {
	svc *service.Service
}

func (l *local) Status(context.Context) (service.Status, error) { return l.svc.Status(), nil }

func (l *local) ProcessScan(ctx context.Context, raw string) (service.ScanResult, error) {
	return l.svc.ProcessScan(ctx, raw)
}

func (l *local) CheckURL(_ context.Context, url string) (string, error) { return l.svc.CheckURL(url) }

func (l *local) History(ctx context.Context) ([]history.Record, error) { return l.svc.History(ctx) }

func (l *local) ClearHistory(ctx context.Context) error { return l.svc.ClearHistory(ctx) }

func (l *local) MigrateHistory(ctx context.Context, from, to string) (int, error) {
	return l.svc.MigrateHistory(ctx, from, to)
}

func (l *local) Close() error {
	l.svc.Close()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput(g *GlobalFlags) bool {
	return g != nil && g.JSON
}
