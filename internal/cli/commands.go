package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"openqr/internal/config"
	"openqr/internal/service"
)

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	a, err := connect(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Status(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput(c.globals) {
		return printJSON(st)
	}

	listener := "stopped"
	if st.ListenerActive {
		listener = "running"
	}
	capture := "ready"
	if !st.CaptureReady {
		capture = "unavailable"
	}
	fmt.Fprintln(stdout, "OpenQR Status")
	fmt.Fprintln(stdout, "=============")
	fmt.Fprintf(stdout, "Version:       %s\n", c.version)
	fmt.Fprintf(stdout, "Listener:      %s\n", listener)
	fmt.Fprintf(stdout, "Trigger:       %s\n", st.TriggerMode)
	fmt.Fprintf(stdout, "Capture:       %s (%s)\n", capture, st.CaptureDetail)
	fmt.Fprintf(stdout, "History:       %s, max %d (%s)\n", st.StorageMethod, st.MaxHistoryItems, st.HistoryPath)
	fmt.Fprintf(stdout, "Data dir:      %s\n", st.DataDir)
	return nil
}

// Execute implements the go-flags Commander interface for StartCommand.
func (c *StartCommand) Execute(args []string) error {
	client, err := dial(c.globals)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.StartListener(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "listener started")
	return nil
}

// Execute implements the go-flags Commander interface for StopCommand.
func (c *StopCommand) Execute(args []string) error {
	client, err := dial(c.globals)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.StopListener(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "listener stopped")
	return nil
}

// Execute implements the go-flags Commander interface for ProcessCommand.
func (c *ProcessCommand) Execute(args []string) error {
	a, err := connect(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.ProcessScan(context.Background(), c.Args.Raw)
	if err != nil {
		return err
	}
	if jsonOutput(c.globals) {
		return printJSON(res)
	}
	fmt.Fprintf(stdout, "%s  %s  %s\n", res.Record.Timestamp, res.Host, res.Record.URL)
	return nil
}

// Execute implements the go-flags Commander interface for CheckCommand.
func (c *CheckCommand) Execute(args []string) error {
	a, err := connect(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	host, err := a.CheckURL(context.Background(), c.Args.URL)
	if err != nil {
		return err
	}
	if jsonOutput(c.globals) {
		return printJSON(map[string]string{"host": host})
	}
	fmt.Fprintf(stdout, "allowed: %s\n", host)
	return nil
}

// Execute implements the go-flags Commander interface for WatchCommand.
func (c *WatchCommand) Execute(args []string) error {
	client, err := dial(c.globals)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Subscribe(ctx, c.Events...); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			unsubCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			client.Unsubscribe(unsubCtx)
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				return fmt.Errorf("daemon closed the connection")
			}
			if jsonOutput(c.globals) {
				if err := printJSON(ev); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(stdout, describeEvent(ev))
		}
	}
}

// Execute implements the go-flags Commander interface for MetricsCommand.
func (c *MetricsCommand) Execute(args []string) error {
	client, err := dial(c.globals)
	if err != nil {
		return err
	}
	defer client.Close()

	m, err := client.Metrics(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput(c.globals) {
		return printJSON(m.Values)
	}
	fmt.Fprint(stdout, m.Text)
	return nil
}

func describeEvent(ev service.Event) string {
	switch ev.Name {
	case service.EventScanInput:
		return fmt.Sprintf("scan-input      %q", ev.Text)
	case service.EventScanProcessed:
		if ev.Record != nil {
			return fmt.Sprintf("scan-processed  %s  %s", ev.Host, ev.Record.URL)
		}
		return "scan-processed  " + ev.Host
	case service.EventScanError:
		return "scan-error      " + ev.Text
	case service.EventListenerState:
		if ev.Active != nil && *ev.Active {
			return "listener-state  running"
		}
		return "listener-state  stopped"
	}
	return ev.Name
}

// logEvents writes service events to log until events is closed.
func logEvents(log *slog.Logger, events <-chan service.Event) {
	for ev := range events {
		switch ev.Name {
		case service.EventScanError:
			log.Warn("scan rejected", "reason", ev.Text)
		case service.EventScanProcessed:
			log.Info("scan recorded", "host", ev.Host)
		case service.EventScanInput:
			log.Debug("scan received", "length", len(ev.Text))
		case service.EventListenerState:
			log.Info("listener state changed", "active", ev.Active != nil && *ev.Active)
		}
	}
}

// Execute implements the go-flags Commander interface for HistoryListCommand.
func (c *HistoryListCommand) Execute(args []string) error {
	a, err := connect(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.History(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput(c.globals) {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "no scans recorded")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(stdout, "%s  %s  %s\n", r.Timestamp, r.ID, r.URL)
	}
	return nil
}

// Execute implements the go-flags Commander interface for HistoryClearCommand.
func (c *HistoryClearCommand) Execute(args []string) error {
	if !c.Yes && !confirm("Delete all scan history?") {
		fmt.Fprintln(stdout, "aborted")
		return nil
	}

	a, err := connect(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ClearHistory(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "history cleared")
	return nil
}

// confirm reads a yes/no answer from stdin.
func confirm(prompt string) bool {
	fmt.Fprintf(stdout, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// Execute implements the go-flags Commander interface for HistoryMigrateCommand.
func (c *HistoryMigrateCommand) Execute(args []string) error {
	a, err := connect(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.MigrateHistory(context.Background(), c.From, c.To)
	if err != nil {
		return err
	}
	if jsonOutput(c.globals) {
		return printJSON(map[string]int{"migrated": n})
	}
	fmt.Fprintf(stdout, "migrated %d records from %s to %s\n", n, c.From, c.To)
	return nil
}

// Execute implements the go-flags Commander interface for ConfigShowCommand.
func (c *ConfigShowCommand) Execute(args []string) error {
	cfg, _, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	return printJSON(cfg)
}

// Execute implements the go-flags Commander interface for ConfigPathCommand.
func (c *ConfigPathCommand) Execute(args []string) error {
	fmt.Fprintln(stdout, configPath(c.globals, dataDir(c.globals)))
	return nil
}

// Execute implements the go-flags Commander interface for ConfigValidateCommand.
func (c *ConfigValidateCommand) Execute(args []string) error {
	cfg, dir, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: ok (version %d, current %d)\n", configPath(c.globals, dir), cfg.Version, config.Version)
	return nil
}
