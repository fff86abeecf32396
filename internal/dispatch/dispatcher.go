package dispatch

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"netinfo/internal/models"
)

// Listener receives snapshots that differ from the previous one.
type Listener func(models.Snapshot)

// Handle identifies a subscription. It is opaque to callers.
type Handle string

// Hooks observe listener activity. OnActive runs when the count goes from
// zero to one and OnIdle when it returns to zero. Hooks must not subscribe
// or unsubscribe.
type Hooks struct {
	OnActive func()
	OnIdle   func()
	// OnPanic is told about each recovered listener panic.
	OnPanic func()
}

type subscription struct {
	handle Handle
	fn     Listener
}

// Dispatcher fans state changes out to listeners.
type Dispatcher struct {
	logger *slog.Logger
	hooks  Hooks

	// transitionMu serialises count changes with their hooks.
	transitionMu sync.Mutex

	mu      sync.RWMutex
	subs    []subscription
	remote  int
	emitter Listener

	publishMu sync.Mutex
	last      *models.Snapshot
}

// New creates a dispatcher. A nil logger falls back to slog.Default.
func New(logger *slog.Logger, hooks Hooks) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger.With("component", "dispatch"),
		hooks:  hooks,
	}
}

// Subscribe registers fn and returns its handle.
func (d *Dispatcher) Subscribe(fn Listener) Handle {
	h := Handle(uuid.NewString())

	d.transitionMu.Lock()
	defer d.transitionMu.Unlock()

	d.mu.Lock()
	before := d.countLocked()
	d.subs = append(d.subs, subscription{handle: h, fn: fn})
	d.mu.Unlock()

	if before == 0 {
		d.fire(d.hooks.OnActive)
	}
	return h
}

// Unsubscribe removes a listener. It reports false for unknown handles.
func (d *Dispatcher) Unsubscribe(h Handle) bool {
	d.transitionMu.Lock()
	defer d.transitionMu.Unlock()

	d.mu.Lock()
	idx := -1
	for i, sub := range d.subs {
		if sub.handle == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return false
	}
	subs := make([]subscription, 0, len(d.subs)-1)
	subs = append(subs, d.subs[:idx]...)
	subs = append(subs, d.subs[idx+1:]...)
	d.subs = subs
	after := d.countLocked()
	d.mu.Unlock()

	if after == 0 {
		d.fire(d.hooks.OnIdle)
	}
	return true
}

// SetEmitter sets the callback that carries snapshots to remote listeners.
// It is called only while the remote count is above zero.
func (d *Dispatcher) SetEmitter(fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitter = fn
}

// AddListeners counts n listeners that are served through the emitter (for
// example over a websocket) and have no callback here.
func (d *Dispatcher) AddListeners(n int) {
	if n <= 0 {
		return
	}
	d.transitionMu.Lock()
	defer d.transitionMu.Unlock()

	d.mu.Lock()
	before := d.countLocked()
	d.remote += n
	d.mu.Unlock()

	if before == 0 {
		d.fire(d.hooks.OnActive)
	}
}

// RemoveListeners drops n remote listeners. The count never goes negative.
func (d *Dispatcher) RemoveListeners(n int) {
	if n <= 0 {
		return
	}
	d.transitionMu.Lock()
	defer d.transitionMu.Unlock()

	d.mu.Lock()
	before := d.countLocked()
	d.remote -= n
	if d.remote < 0 {
		d.remote = 0
	}
	after := d.countLocked()
	d.mu.Unlock()

	if before > 0 && after == 0 {
		d.fire(d.hooks.OnIdle)
	}
}

// ListenerCount returns local subscriptions plus remote listeners.
func (d *Dispatcher) ListenerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.countLocked()
}

func (d *Dispatcher) countLocked() int {
	return len(d.subs) + d.remote
}

// Publish delivers snap to every listener unless it equals the previously
// published snapshot. It reports whether the snapshot was new.
func (d *Dispatcher) Publish(snap models.Snapshot) bool {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()

	if d.last != nil && d.last.Equal(snap) {
		return false
	}
	stored := snap.Clone()
	d.last = &stored

	d.mu.RLock()
	subs, remote, emitter := d.subs, d.remote, d.emitter
	d.mu.RUnlock()

	for _, sub := range subs {
		d.deliver(sub, snap.Clone())
	}
	if remote > 0 && emitter != nil {
		d.deliver(subscription{handle: "remote", fn: emitter}, snap.Clone())
	}
	return true
}

// Last returns the most recently published snapshot.
func (d *Dispatcher) Last() (models.Snapshot, bool) {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()
	if d.last == nil {
		return models.Snapshot{}, false
	}
	return d.last.Clone(), true
}

func (d *Dispatcher) deliver(sub subscription, snap models.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked",
				"handle", string(sub.handle),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			if d.hooks.OnPanic != nil {
				d.hooks.OnPanic()
			}
		}
	}()
	sub.fn(snap)
}

func (d *Dispatcher) fire(hook func()) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener hook panicked", "panic", fmt.Sprint(r))
		}
	}()
	hook()
}
