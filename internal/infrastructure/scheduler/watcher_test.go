package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingProcessor struct {
	calls atomic.Int32
	err   error
	onRun func()
}

func (p *countingProcessor) ProcessDirectory(ctx context.Context) error {
	p.calls.Add(1)
	if p.onRun != nil {
		p.onRun()
	}
	return p.err
}

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestNewInputWatcher_Validation(t *testing.T) {
	proc := &countingProcessor{}

	_, err := NewInputWatcher(WatcherConfig{Interval: time.Second}, proc, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewInputWatcher(WatcherConfig{InputDir: "in"}, proc, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewInputWatcher(WatcherConfig{InputDir: "in", Interval: time.Second}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	w, err := NewInputWatcher(DefaultWatcherConfig(), proc, nil)
	require.NoError(t, err)
	assert.False(t, w.IsRunning())
}

func TestPendingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv")
	writeFile(t, dir, "a.xlsx")
	writeFile(t, dir, "notes.pdf")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.csv"), 0o755))

	files, err := PendingFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.xlsx", "b.csv"}, files)

	files, err = PendingFiles(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestInputWatcher_PollsOnStart(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "billing.csv")

	proc := &countingProcessor{}
	w, err := NewInputWatcher(WatcherConfig{InputDir: dir, Interval: time.Hour}, proc, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop(context.Background()) }()

	assert.Eventually(t, func() bool { return proc.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, w.IsRunning())
}

func TestInputWatcher_SkipsEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	proc := &countingProcessor{}
	w, err := NewInputWatcher(WatcherConfig{InputDir: dir, Interval: 20 * time.Millisecond}, proc, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Eventually(t, func() bool { return w.Stats().Polls >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop(context.Background()))

	assert.Zero(t, proc.calls.Load())
	assert.Zero(t, w.Stats().Runs)
}

func TestInputWatcher_TriggerAndFailureStats(t *testing.T) {
	dir := t.TempDir()
	proc := &countingProcessor{err: errors.New("quickbooks unavailable")}
	w, err := NewInputWatcher(WatcherConfig{InputDir: dir, Interval: time.Hour}, proc, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.ErrorIs(t, w.Trigger(), ErrWatcherNotRunning)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop(context.Background()) }()

	// initial scan sees nothing
	assert.Eventually(t, func() bool { return w.Stats().Polls == 1 }, 2*time.Second, 10*time.Millisecond)

	writeFile(t, dir, "late.tsv")
	require.NoError(t, w.Trigger())

	assert.Eventually(t, func() bool { return w.Stats().Failures == 1 }, 2*time.Second, 10*time.Millisecond)
	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, "quickbooks unavailable", stats.LastError)
	assert.False(t, stats.LastRunAt.IsZero())
}

func TestInputWatcher_StopWaitsForRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "slow.csv")

	started := make(chan struct{})
	release := make(chan struct{})
	proc := &countingProcessor{onRun: func() {
		close(started)
		<-release
	}}
	w, err := NewInputWatcher(WatcherConfig{InputDir: dir, Interval: time.Hour}, proc, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Stop(ctx), context.DeadlineExceeded)

	close(release)
	w.wg.Wait()
	assert.False(t, w.IsRunning())
	assert.Equal(t, int64(1), w.Stats().Runs)
}

func TestProcessorFunc(t *testing.T) {
	called := false
	var p Processor = ProcessorFunc(func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, p.ProcessDirectory(context.Background()))
	assert.True(t, called)
}
