package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file (toml, json or yaml)"`
	DataDir string `long:"data-dir" description:"Directory holding config, history and the daemon socket" env:"OPENQR_DATA_DIR"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" short:"v" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// DaemonCommand runs capture, the IPC server and config watching in the
// foreground.
type DaemonCommand struct {
	Listen   bool   `long:"listen" description:"Start keyboard capture immediately"`
	LogLevel string `long:"log-level" description:"Override log level (debug, info, warn, error)"`

	globals *GlobalFlags
	version string
}

// StatusCommand prints the daemon status.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// StartCommand starts keyboard capture in the daemon.
type StartCommand struct {
	globals *GlobalFlags
}

// StopCommand stops keyboard capture in the daemon.
type StopCommand struct {
	globals *GlobalFlags
}

// ProcessCommand runs a raw scan through normalization, the domain gate and
// history.
type ProcessCommand struct {
	Args struct {
		Raw string `positional-arg-name:"raw" required:"yes"`
	} `positional-args:"yes"`

	globals *GlobalFlags
}

// CheckCommand runs a URL through the domain gate only.
type CheckCommand struct {
	Args struct {
		URL string `positional-arg-name:"url" required:"yes"`
	} `positional-args:"yes"`

	globals *GlobalFlags
}

// WatchCommand streams daemon events until interrupted.
type WatchCommand struct {
	Events []string `long:"event" description:"Event name to receive (repeatable; default all)"`

	globals *GlobalFlags
}

// MetricsCommand prints the daemon's pipeline metrics.
type MetricsCommand struct {
	globals *GlobalFlags
}

// HistoryCommand groups history subcommands.
type HistoryCommand struct{}

// HistoryListCommand prints stored scans, newest first.
type HistoryListCommand struct {
	globals *GlobalFlags
}

// HistoryClearCommand removes every stored scan.
type HistoryClearCommand struct {
	Yes bool `long:"yes" short:"y" description:"Do not ask for confirmation"`

	globals *GlobalFlags
}

// HistoryMigrateCommand copies history between storage methods.
type HistoryMigrateCommand struct {
	From string `long:"from" description:"Source storage method (json or sqlite)" required:"yes"`
	To   string `long:"to" description:"Destination storage method (json or sqlite)" required:"yes"`

	globals *GlobalFlags
}

// ConfigCommand groups configuration subcommands.
type ConfigCommand struct{}

// ConfigShowCommand prints the effective configuration.
type ConfigShowCommand struct {
	globals *GlobalFlags
}

// ConfigPathCommand prints the configuration file path.
type ConfigPathCommand struct {
	globals *GlobalFlags
}

// ConfigValidateCommand checks the configuration file without starting
// anything.
type ConfigValidateCommand struct {
	globals *GlobalFlags
}
