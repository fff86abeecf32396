// Package observer watches the operating system for network changes and
// turns each change into a connectivity snapshot.
//
// Two variants implement Observer: a netlink observer driven by kernel
// notifications (Linux) and a polling observer used everywhere else and as
// the netlink fallback. New picks one based on configuration and platform
// capability.
package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"netinfo/internal/config"
	"netinfo/internal/models"
)

// Observer reports connectivity changes while registered.
type Observer interface {
	// Register starts observing. Calling it while registered is a no-op.
	Register(ctx context.Context) error
	// Unregister stops observing and waits for the observer goroutine.
	Unregister() error
	// CurrentState computes a snapshot right now, independent of registration.
	CurrentState() (models.Snapshot, error)
	// Kind names the variant ("netlink" or "poll").
	Kind() string
}

// Source computes snapshots from the live system.
type Source interface {
	Snapshot() (models.Snapshot, error)
}

// Options configure New.
type Options struct {
	Mode         string
	PollInterval time.Duration
	Debounce     time.Duration
	Source       Source
	OnChange     func(models.Snapshot)
	Logger       *slog.Logger
}

// New selects the observer variant. In auto mode netlink is used when the
// platform supports it and a socket can be opened; otherwise polling.
func New(opts Options) Observer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnChange == nil {
		opts.OnChange = func(models.Snapshot) {}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	logger := opts.Logger.With("component", "observer")

	switch opts.Mode {
	case config.ModePoll:
		return newPollObserver(opts.Source, opts.PollInterval, opts.OnChange, logger)
	case config.ModeNetlink:
		if err := netlinkAvailable(); err != nil {
			logger.Warn("netlink requested but unavailable, polling instead", "error", err)
			return newPollObserver(opts.Source, opts.PollInterval, opts.OnChange, logger)
		}
		return newNetlinkObserver(opts, logger)
	default:
		if err := netlinkAvailable(); err != nil {
			logger.Debug("netlink unavailable", "error", err)
			return newPollObserver(opts.Source, opts.PollInterval, opts.OnChange, logger)
		}
		return newNetlinkObserver(opts, logger)
	}
}

// loop owns the lifecycle of one background goroutine.
type loop struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// start launches run unless it is already running.
func (l *loop) start(ctx context.Context, run func(ctx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go func() {
		defer close(done)
		run(ctx)
	}()
	return true
}

// stop cancels the goroutine and waits for it.
func (l *loop) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *loop) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// emit computes a snapshot and forwards it.
func emit(source Source, onChange func(models.Snapshot), logger *slog.Logger) {
	snap, err := source.Snapshot()
	if err != nil {
		logger.Warn("snapshot failed", "error", err)
		return
	}
	onChange(snap)
}
