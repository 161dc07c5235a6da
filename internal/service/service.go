// Package service wires keyboard capture, scan assembly, URL validation and
// history persistence into the operations UI collaborators invoke.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"openqr/internal/config"
	"openqr/internal/domain"
	"openqr/internal/history"
	"openqr/internal/keystroke"
	"openqr/internal/metrics"
	"openqr/internal/scan"
)

// ErrAlreadyRunning is returned by StartListener while capture is active.
var ErrAlreadyRunning = keystroke.ErrAlreadyRunning

const messageBuffer = 256

// Options configures a Service.
type Options struct {
	DataDir string
	Config  *config.Config
	Source  keystroke.Source

	// Persist stores a configuration accepted by SaveConfig. Nil skips
	// persistence.
	Persist func(*config.Config) error

	Logger *slog.Logger

	// Metrics defaults to a fresh registry in the "openqr" namespace.
	Metrics *metrics.Scanner

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service owns the listener state, the current configuration and the event
// bus. All methods are safe for concurrent use.
type Service struct {
	dataDir string
	source  keystroke.Source
	persist func(*config.Config) error
	log     *slog.Logger
	now     func() time.Time
	metrics *metrics.Scanner

	mu  sync.RWMutex
	cfg *config.Config

	// lifecycle serializes StartListener and StopListener.
	lifecycle sync.Mutex
	active    atomic.Bool
	run       *listenerRun

	// configMu serializes configuration changes.
	configMu sync.Mutex

	events *bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// listenerRun is one StartListener to StopListener cycle. The source only
// forwards keys while the cycle's own flag is set, so a stale cycle can never
// capture for a newer one.
type listenerRun struct {
	active atomic.Bool
	done   chan struct{}
}

// Status describes the daemon state.
type Status struct {
	ListenerActive  bool   `json:"listener_active"`
	TriggerMode     string `json:"trigger_mode"`
	StorageMethod   string `json:"storage_method"`
	HistoryPath     string `json:"history_path"`
	DataDir         string `json:"data_dir"`
	CaptureReady    bool   `json:"capture_ready"`
	CaptureDetail   string `json:"capture_detail"`
	MaxHistoryItems uint32 `json:"max_history_items"`
}

// ScanResult is the outcome of a processed scan.
type ScanResult struct {
	Host   string         `json:"host"`
	Record history.Record `json:"record"`
}

// New creates a Service. The listener is not started.
func New(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	src := opts.Source
	if src == nil {
		src = keystroke.New()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewScanner(metrics.NewRegistry("openqr"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		dataDir: opts.DataDir,
		source:  src,
		persist: opts.Persist,
		log:     log.With("component", "service"),
		now:     now,
		metrics: m,
		cfg:     cfg.Clone(),
		events:  newBus(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Config returns a copy of the current configuration.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Metrics returns the pipeline metrics.
func (s *Service) Metrics() *metrics.Scanner { return s.metrics }

// DataDir returns the directory holding history artifacts.
func (s *Service) DataDir() string { return s.dataDir }

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

func (s *Service) emit(ev Event) {
	s.events.publish(ev)
}

func (s *Service) emitError(msg string) {
	s.log.Warn("scan error", "error", msg)
	s.emit(Event{Name: EventScanError, Text: msg})
}

func (s *Service) emitState(active bool) {
	s.metrics.ListenerActive.SetBool(active)
	s.emit(Event{Name: EventListenerState, Active: &active})
}

// StartListener begins capturing keystrokes. Completed scans are published
// as scan-input events and, with auto_process enabled, processed right away.
func (s *Service) StartListener() error {
	if s.ctx.Err() != nil {
		return errors.New("service closed")
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	cfg := s.Config()
	mode := scan.ParseTriggerMode(cfg.EffectiveTriggerMode())
	msgs := make(chan keystroke.Message, messageBuffer)

	run := &listenerRun{done: make(chan struct{})}
	run.active.Store(true)
	prev := s.run
	s.run = run

	s.log.Info("listener starting", "trigger", mode.String())
	s.emitState(true)

	go s.runSource(run, prev, msgs)

	s.wg.Add(1)
	go s.runAccumulator(scan.NewAccumulator(mode), msgs)

	return nil
}

// runSource blocks in the platform event loop for one cycle. It first waits
// for the previous cycle's source to return, so two cycles never hold the OS
// hook at once.
func (s *Service) runSource(run, prev *listenerRun, msgs chan<- keystroke.Message) {
	defer close(run.done)
	if prev != nil {
		<-prev.done
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("listener panic: %v", r)
				s.log.Error("listener panic", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		err = s.source.Start(&run.active, msgs)
	}()

	if err == nil {
		s.log.Debug("listener event loop returned")
		return
	}

	s.lifecycle.Lock()
	current := s.run == run && run.active.Swap(false)
	if current {
		s.active.Store(false)
	}
	s.lifecycle.Unlock()

	s.emitError(err.Error())
	if current {
		s.emitState(false)
	}
}

func (s *Service) runAccumulator(acc *scan.Accumulator, msgs <-chan keystroke.Message) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("accumulator panic", "panic", r, "stack", string(debug.Stack()))
			s.emitError(fmt.Sprintf("scan buffer failed: %v", r))
		}
	}()

	acc.Run(s.ctx, msgs, s.handleScan)
}

func (s *Service) handleScan(raw string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan handler panic", "panic", r, "stack", string(debug.Stack()))
			s.emitError(fmt.Sprintf("scan handling failed: %v", r))
		}
	}()

	s.log.Debug("scan received", "length", len(raw))
	s.metrics.ScansReceived.Inc()
	s.emit(Event{Name: EventScanInput, Text: raw})

	if !s.Config().AutoProcess {
		return
	}
	if _, err := s.ProcessScan(s.ctx, raw); err != nil {
		s.emitError(err.Error())
	}
}

// StopListener stops forwarding keystrokes and ends the platform event loop.
func (s *Service) StopListener() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.run != nil {
		s.run.active.Store(false)
	}
	wasActive := s.active.Swap(false)
	s.source.Stop()
	if wasActive {
		s.log.Info("listener stopped")
		s.emitState(false)
	}
}

// ListenerActive reports whether keystrokes are being forwarded.
func (s *Service) ListenerActive() bool {
	return s.active.Load()
}

// ProcessScan normalizes raw, validates it against the domain lists and
// records it in history. Nothing is recorded when validation fails.
func (s *Service) ProcessScan(ctx context.Context, raw string) (ScanResult, error) {
	cfg := s.Config()

	url := scan.Normalize(raw, cfg.Prefix, cfg.Suffix)
	host, err := domain.Check(url, cfg.Allowlist, cfg.Blocklist)
	if err != nil {
		s.metrics.Rejected(err)
		return ScanResult{}, err
	}

	rec := history.NewRecord(url, s.now())
	start := time.Now()
	if err := s.backend(cfg).Append(ctx, rec, cfg.MaxHistoryItems); err != nil {
		s.metrics.StorageErrors.Inc()
		return ScanResult{}, fmt.Errorf("record scan: %w", err)
	}
	s.metrics.HistoryWrite.Since(start)
	s.metrics.ScansProcessed.Inc()

	s.log.Info("scan processed", "host", host, "id", rec.ID)
	s.emit(Event{Name: EventScanProcessed, Record: &rec, Host: host})
	return ScanResult{Host: host, Record: rec}, nil
}

// CheckURL validates raw against the configured lists and returns its host.
func (s *Service) CheckURL(raw string) (string, error) {
	cfg := s.Config()
	return domain.Check(raw, cfg.Allowlist, cfg.Blocklist)
}

// AddScan appends a caller-built record, bounded by the configured cap.
func (s *Service) AddScan(ctx context.Context, rec history.Record) error {
	cfg := s.Config()
	return s.backend(cfg).Append(ctx, rec, cfg.MaxHistoryItems)
}

// History lists up to the configured cap of records, newest first.
func (s *Service) History(ctx context.Context) ([]history.Record, error) {
	cfg := s.Config()
	return s.backend(cfg).List(ctx, cfg.MaxHistoryItems)
}

// ClearHistory removes every record from the active backend.
func (s *Service) ClearHistory(ctx context.Context) error {
	return s.backend(s.Config()).Clear(ctx)
}

// MigrateHistory copies up to the configured cap of records between storage
// methods and returns the number copied.
func (s *Service) MigrateHistory(ctx context.Context, from, to string) (int, error) {
	n, err := history.MigrateMethod(ctx, s.dataDir, from, to, s.Config().MaxHistoryItems)
	if err != nil {
		return n, err
	}
	s.log.Info("history migrated", "from", from, "to", to, "records", n)
	return n, nil
}

func (s *Service) backend(cfg *config.Config) history.Backend {
	return history.Open(s.dataDir, cfg.HistoryStorageMethod)
}

// SaveConfig validates, persists and activates cfg. When the storage method
// changes, existing history follows it first; if that fails nothing is
// persisted or activated. A new trigger mode takes effect the next time the
// listener starts.
func (s *Service) SaveConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if err := s.migrateFor(ctx, cfg); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}
	s.activate(cfg)
	return nil
}

// ApplyConfig activates cfg without persisting it, migrating history first
// when the storage method changes. On failure the current configuration
// stays in effect.
func (s *Service) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if err := s.migrateFor(ctx, cfg); err != nil {
		return err
	}
	s.activate(cfg)
	return nil
}

func (s *Service) migrateFor(ctx context.Context, cfg *config.Config) error {
	old := s.Config()
	if history.ParseMethod(old.HistoryStorageMethod) == history.ParseMethod(cfg.HistoryStorageMethod) {
		return nil
	}
	if _, err := history.MigrateMethod(ctx, s.dataDir, old.HistoryStorageMethod, cfg.HistoryStorageMethod, cfg.MaxHistoryItems); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	s.log.Info("history storage changed", "from", old.HistoryStorageMethod, "to", cfg.HistoryStorageMethod)
	return nil
}

func (s *Service) activate(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg.Clone()
	s.mu.Unlock()
}

// Status reports the listener and storage state.
func (s *Service) Status() Status {
	cfg := s.Config()
	ok, detail := s.source.Available()
	return Status{
		ListenerActive:  s.ListenerActive(),
		TriggerMode:     scan.ParseTriggerMode(cfg.EffectiveTriggerMode()).String(),
		StorageMethod:   history.ParseMethod(cfg.HistoryStorageMethod).String(),
		HistoryPath:     s.backend(cfg).Path(),
		DataDir:         s.dataDir,
		CaptureReady:    ok,
		CaptureDetail:   detail,
		MaxHistoryItems: cfg.MaxHistoryItems,
	}
}

// Close stops the listener, waits for in-flight scan handling and closes all
// subscriptions.
func (s *Service) Close() {
	s.StopListener()
	s.cancel()
	s.wg.Wait()
	s.events.close()
}
