// Package scheduler polls the input directory and hands new billing files to
// the sync pipeline.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	csvimport "github.com/qbsync/backend/internal/infrastructure/import"
)

// Processor runs the pipeline over every file waiting in the input directory
type Processor interface {
	ProcessDirectory(ctx context.Context) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context) error

// ProcessDirectory calls f(ctx)
func (f ProcessorFunc) ProcessDirectory(ctx context.Context) error {
	return f(ctx)
}

// WatcherConfig holds input watcher configuration
type WatcherConfig struct {
	InputDir string
	// Interval between directory scans
	Interval time.Duration
	// RunTimeout bounds a single pipeline run; zero means no limit
	RunTimeout time.Duration
}

// DefaultWatcherConfig returns default watcher configuration
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		InputDir:   "data/input",
		Interval:   time.Minute,
		RunTimeout: 30 * time.Minute,
	}
}

// WatcherStats summarizes watcher activity
type WatcherStats struct {
	Polls     int64
	Runs      int64
	Failures  int64
	LastRunAt time.Time
	LastError string
}

// InputWatcher periodically scans the input directory and runs the processor
// when supported files are present. Runs never overlap.
type InputWatcher struct {
	config    WatcherConfig
	processor Processor
	logger    *zap.Logger

	trigger   chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	stats     WatcherStats
}

// NewInputWatcher creates a new input watcher
func NewInputWatcher(config WatcherConfig, processor Processor, logger *zap.Logger) (*InputWatcher, error) {
	if config.InputDir == "" {
		return nil, fmt.Errorf("%w: input directory is required", ErrInvalidConfig)
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if processor == nil {
		return nil, fmt.Errorf("%w: processor is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InputWatcher{
		config:    config,
		processor: processor,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}, nil
}

// Start starts the polling loop. The directory is scanned once immediately.
func (w *InputWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = true
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.runLoop(ctx)

	w.logger.Info("Input watcher started",
		zap.String("input_dir", w.config.InputDir),
		zap.Duration("interval", w.config.Interval),
	)
	return nil
}

// Stop stops the watcher, waiting for an in-flight run until ctx expires
func (w *InputWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Input watcher stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Input watcher stop timed out")
		return ctx.Err()
	}
}

// Trigger requests a scan ahead of the next tick
func (w *InputWatcher) Trigger() error {
	w.mu.Lock()
	running := w.isRunning
	w.mu.Unlock()
	if !running {
		return ErrWatcherNotRunning
	}

	select {
	case w.trigger <- struct{}{}:
		return nil
	default:
		return ErrPollAlreadyQueued
	}
}

// IsRunning reports whether the polling loop is active
func (w *InputWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// Stats returns a snapshot of watcher activity
func (w *InputWatcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *InputWatcher) runLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		case <-w.trigger:
			w.poll(ctx)
		}
	}
}

// poll runs the processor when the input directory holds supported files
func (w *InputWatcher) poll(ctx context.Context) {
	w.mu.Lock()
	w.stats.Polls++
	w.mu.Unlock()

	pending, err := PendingFiles(w.config.InputDir)
	if err != nil {
		w.logger.Error("Failed to scan input directory",
			zap.String("input_dir", w.config.InputDir),
			zap.Error(err),
		)
		w.recordRun(err)
		return
	}
	if len(pending) == 0 {
		return
	}

	w.logger.Info("Found files to process",
		zap.Int("count", len(pending)),
		zap.Strings("files", pending),
	)

	runCtx := ctx
	if w.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.config.RunTimeout)
		defer cancel()
	}

	err = w.processor.ProcessDirectory(runCtx)
	if err != nil {
		w.logger.Error("Input directory run failed", zap.Error(err))
	}
	w.recordRun(err)
}

func (w *InputWatcher) recordRun(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Runs++
	w.stats.LastRunAt = time.Now()
	w.stats.LastError = ""
	if err != nil {
		w.stats.Failures++
		w.stats.LastError = err.Error()
	}
}

// PendingFiles lists the supported files in dir in name order.
// A missing directory has no pending files.
func PendingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !csvimport.IsSupported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
