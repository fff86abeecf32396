package observer

import (
	"context"
	"log/slog"
	"time"

	"netinfo/internal/models"
)

// PollObserver recomputes the snapshot on a fixed interval.
type PollObserver struct {
	source   Source
	interval time.Duration
	onChange func(models.Snapshot)
	logger   *slog.Logger
	loop     loop
}

func newPollObserver(source Source, interval time.Duration, onChange func(models.Snapshot), logger *slog.Logger) *PollObserver {
	return &PollObserver{
		source:   source,
		interval: interval,
		onChange: onChange,
		logger:   logger.With("variant", "poll"),
	}
}

// Kind implements Observer.
func (p *PollObserver) Kind() string { return "poll" }

// Register implements Observer.
func (p *PollObserver) Register(ctx context.Context) error {
	if p.loop.start(ctx, p.run) {
		p.logger.Debug("registered", "interval", p.interval)
	}
	return nil
}

// Unregister implements Observer.
func (p *PollObserver) Unregister() error {
	p.loop.stop()
	return nil
}

// CurrentState implements Observer.
func (p *PollObserver) CurrentState() (models.Snapshot, error) {
	return p.source.Snapshot()
}

func (p *PollObserver) run(ctx context.Context) {
	emit(p.source, p.onChange, p.logger)
	pollUntilDone(ctx, p.interval, func() {
		emit(p.source, p.onChange, p.logger)
	})
}

func pollUntilDone(ctx context.Context, interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tick()
		case <-ctx.Done():
			return
		}
	}
}
