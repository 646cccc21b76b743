package scheduler

import "errors"

var (
	// ErrWatcherNotRunning is returned when triggering a poll on a stopped watcher
	ErrWatcherNotRunning = errors.New("input watcher is not running")

	// ErrPollAlreadyQueued is returned when a manual poll is already waiting to run
	ErrPollAlreadyQueued = errors.New("a poll is already queued")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid watcher configuration")
)
