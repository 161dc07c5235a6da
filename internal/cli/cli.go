// Package cli implements the openqr command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Daemon         *DaemonCommand
	Status         *StatusCommand
	Start          *StartCommand
	Stop           *StopCommand
	Process        *ProcessCommand
	Check          *CheckCommand
	Watch          *WatchCommand
	Metrics        *MetricsCommand
	HistoryList    *HistoryListCommand
	HistoryClear   *HistoryClearCommand
	HistoryMigrate *HistoryMigrateCommand
	ConfigShow     *ConfigShowCommand
	ConfigPath     *ConfigPathCommand
	ConfigValidate *ConfigValidateCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "openqr"
	parser.LongDescription = "Capture QR scanner input, validate scanned URLs against allow and block lists, and keep a scan history."

	g := &globals
	cmds := &commands{
		Daemon:         &DaemonCommand{globals: g, version: version},
		Status:         &StatusCommand{globals: g, version: version},
		Start:          &StartCommand{globals: g},
		Stop:           &StopCommand{globals: g},
		Process:        &ProcessCommand{globals: g},
		Check:          &CheckCommand{globals: g},
		Watch:          &WatchCommand{globals: g},
		Metrics:        &MetricsCommand{globals: g},
		HistoryList:    &HistoryListCommand{globals: g},
		HistoryClear:   &HistoryClearCommand{globals: g},
		HistoryMigrate: &HistoryMigrateCommand{globals: g},
		ConfigShow:     &ConfigShowCommand{globals: g},
		ConfigPath:     &ConfigPathCommand{globals: g},
		ConfigValidate: &ConfigValidateCommand{globals: g},
	}

	parser.AddCommand("daemon", "Run the openqr daemon", "Run keyboard capture, the IPC server and config watching in the foreground.", cmds.Daemon)
	parser.AddCommand("status", "Show daemon status", "Show listener state, trigger mode and history storage.", cmds.Status)
	parser.AddCommand("start", "Start keyboard capture", "Ask the daemon to start capturing scanner input.", cmds.Start)
	parser.AddCommand("stop", "Stop keyboard capture", "Ask the daemon to stop capturing scanner input.", cmds.Stop)
	parser.AddCommand("process", "Process a raw scan", "Normalize a raw scan, check its domain and record it in history.", cmds.Process)
	parser.AddCommand("check", "Check a URL against the domain lists", "Check a URL against the allowlist and blocklist without recording it.", cmds.Check)
	parser.AddCommand("metrics", "Show pipeline metrics", "Print scan counters and history latency in Prometheus text format.", cmds.Metrics)
	parser.AddCommand("watch", "Stream daemon events", "Print scan and listener events from the daemon until interrupted.", cmds.Watch)

	hist, _ := parser.AddCommand("history", "Manage scan history", "List, clear or migrate scan history.", &HistoryCommand{})
	hist.AddCommand("list", "List scans", "List stored scans, newest first.", cmds.HistoryList)
	hist.AddCommand("clear", "Clear history", "Remove every stored scan.", cmds.HistoryClear)
	hist.AddCommand("migrate", "Migrate history", "Copy history from one storage method to another.", cmds.HistoryMigrate)

	conf, _ := parser.AddCommand("config", "Inspect configuration", "Show, locate or validate the configuration file.", &ConfigCommand{})
	conf.AddCommand("show", "Show configuration", "Print the effective configuration.", cmds.ConfigShow)
	conf.AddCommand("path", "Show configuration path", "Print the configuration file path.", cmds.ConfigPath)
	conf.AddCommand("validate", "Validate configuration", "Parse and validate the configuration file.", cmds.ConfigValidate)

	return parser, &globals, cmds
}

// Run is the main entry point for the openqr CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// go-flags requires a subcommand, but --version is valid without one.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Fprintf(stdout, "openqr %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
			return nil
		}
		return err
	}
	return nil
}
