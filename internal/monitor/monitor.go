package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"netinfo/internal/config"
	"netinfo/internal/dispatch"
	"netinfo/internal/gateway"
	"netinfo/internal/metrics"
	"netinfo/internal/models"
	"netinfo/internal/observer"
	"netinfo/internal/state"
	"netinfo/internal/storage"
)

// Options configure New. Only Config is required.
type Options struct {
	Config      config.Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Transitions *storage.TransitionStorage
	Probes      *storage.ProbeStorage
	// Source replaces live interface discovery.
	Source observer.Source
	// Resolver replaces the system gateway resolver.
	Resolver *gateway.Resolver
	// ProbeFunc replaces the network probe.
	ProbeFunc ProbeFunc
}

// Monitor ties the observer, state cache and dispatcher together. The OS
// observer is registered only while at least one listener exists.
type Monitor struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	cache       *state.Cache
	dispatcher  *dispatch.Dispatcher
	observer    observer.Observer
	resolver    *gateway.Resolver
	prober      *ReachabilityProber
	transitions *storage.TransitionStorage

	// stateMu orders cache writes with their publication.
	stateMu sync.Mutex
	// observations counts snapshots delivered by the observer.
	observations atomic.Uint64

	// wantRegistered is what the listener count asks for; the reconcile
	// loop applies it so hooks never wait on the observer goroutine.
	regMu          sync.Mutex
	wantRegistered bool
	registered     bool
	regSignal      chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	doneCh    chan struct{}
}

// New wires a monitor from configuration.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		logger:      logger.With("component", "monitor"),
		metrics:     opts.Metrics,
		cache:       state.NewCache(),
		transitions: opts.Transitions,
		regSignal:   make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		doneCh:      make(chan struct{}),
	}

	m.resolver = opts.Resolver
	if m.resolver == nil {
		m.resolver = gateway.NewResolver(cfg.Gateway.Timeout(), logger,
			gateway.WithResultHook(m.metrics.ObserveGatewayLookup))
	}

	m.dispatcher = dispatch.New(logger, dispatch.Hooks{
		OnActive: func() { m.requestRegistration(true) },
		OnIdle:   func() { m.requestRegistration(false) },
		OnPanic:  m.metrics.ObserveListenerPanic,
	})

	source := opts.Source
	if source == nil {
		source = observer.NewDiscoverer(m.resolver.DefaultRoute)
	}
	m.observer = observer.New(observer.Options{
		Mode:         cfg.Observer.Mode,
		PollInterval: cfg.Observer.PollInterval(),
		Debounce:     cfg.Observer.Debounce(),
		Source:       source,
		OnChange:     m.handleSnapshot,
		Logger:       logger,
	})

	if cfg.Probe.Enabled {
		m.prober = NewReachabilityProber(cfg.Probe, cfg.History.MaxEntries, ProberOptions{
			Store:    opts.Probes,
			Probe:    opts.ProbeFunc,
			OnResult: m.handleProbe,
			Metrics:  m.metrics,
			Logger:   logger,
		})
	}
	return m
}

// Start launches the background loops.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.started.Store(true)
		m.logger.Info("monitor starting", "observer", m.observer.Kind(), "probe", m.prober != nil)
		go m.reconcile()
		if m.prober != nil {
			m.prober.Start()
		}
	})
}

// Stop terminates the loops and unregisters the observer.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		// A stopped monitor never starts.
		m.startOnce.Do(func() {})
		if m.prober != nil {
			m.prober.Stop()
		}
		m.cancel()
		if m.started.Load() {
			<-m.doneCh
		}
	})
}

// CurrentState returns the cached snapshot, restricted to filter when set.
// While nobody is listening the observer is idle, so the cache is refreshed
// from a one-off computation first.
func (m *Monitor) CurrentState(filter string) models.Snapshot {
	if !m.isRegistered() {
		m.refresh()
	}
	return m.cache.CurrentFor(filter)
}

// refresh stores a one-off snapshot unless the observer delivered a newer
// one while it was being computed.
func (m *Monitor) refresh() {
	seen := m.observations.Load()
	snap, err := m.observer.CurrentState()
	if err != nil {
		m.logger.Debug("refresh failed", "error", err)
		return
	}
	// A publish in progress already carries a fresher state. Not waiting
	// also keeps listeners free to query from inside their callback.
	if !m.stateMu.TryLock() {
		return
	}
	defer m.stateMu.Unlock()
	if m.observations.Load() != seen || m.isRegistered() {
		return
	}
	m.cache.Update(snap)
}

// GatewayAddress returns the default gateway, or "" when it cannot be found.
func (m *Monitor) GatewayAddress(ctx context.Context) string {
	return m.resolver.Address(ctx)
}

// LookupGateway is the asynchronous form of GatewayAddress.
func (m *Monitor) LookupGateway(ctx context.Context) <-chan string {
	return m.resolver.Lookup(ctx)
}

// Subscribe registers fn for change notifications.
func (m *Monitor) Subscribe(fn dispatch.Listener) dispatch.Handle {
	h := m.dispatcher.Subscribe(fn)
	m.metrics.SetListeners(m.dispatcher.ListenerCount())
	return h
}

// Unsubscribe removes a listener registered with Subscribe.
func (m *Monitor) Unsubscribe(h dispatch.Handle) bool {
	ok := m.dispatcher.Unsubscribe(h)
	m.metrics.SetListeners(m.dispatcher.ListenerCount())
	return ok
}

// SetEmitter routes snapshots to the listeners counted by AddListeners.
func (m *Monitor) SetEmitter(fn dispatch.Listener) {
	m.dispatcher.SetEmitter(fn)
}

// AddListeners counts n listeners served through the emitter.
func (m *Monitor) AddListeners(n int) {
	m.dispatcher.AddListeners(n)
	m.metrics.SetListeners(m.dispatcher.ListenerCount())
}

// RemoveListeners drops n listeners added with AddListeners.
func (m *Monitor) RemoveListeners(n int) {
	m.dispatcher.RemoveListeners(n)
	m.metrics.SetListeners(m.dispatcher.ListenerCount())
}

// ListenerCount returns the number of active listeners.
func (m *Monitor) ListenerCount() int {
	return m.dispatcher.ListenerCount()
}

// ObserverKind names the observer variant in use.
func (m *Monitor) ObserverKind() string {
	return m.observer.Kind()
}

// Transitions returns up to limit recent dispatched snapshots.
func (m *Monitor) Transitions(limit int) []models.Transition {
	if m.transitions == nil {
		return nil
	}
	return m.transitions.History(limit)
}

// ProbeHistory returns up to limit recent probe samples checked at or
// after since.
func (m *Monitor) ProbeHistory(since time.Time, limit int) []models.ProbeResult {
	if m.prober == nil {
		return nil
	}
	return m.prober.HistorySince(since, limit)
}

// LatestProbe returns the newest probe sample.
func (m *Monitor) LatestProbe() (models.ProbeResult, bool) {
	if m.prober == nil {
		return models.ProbeResult{}, false
	}
	return m.prober.Latest()
}

// Uptime summarises the probe history.
func (m *Monitor) Uptime() []metrics.ReachabilityUptime {
	if m.prober == nil {
		return nil
	}
	return metrics.ComputeReachabilityUptime(m.prober.History())
}

func (m *Monitor) handleSnapshot(snap models.Snapshot) {
	m.metrics.ObserveSnapshot(m.observer.Kind())

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.observations.Add(1)
	m.publish(m.cache.Update(snap))
}

func (m *Monitor) handleProbe(res models.ProbeResult) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.cache.SetReachabilityOverride(res.OK)
	if !m.cache.Observed() {
		return
	}
	m.publish(m.cache.Current())
}

func (m *Monitor) publish(effective models.Snapshot) {
	delivered := m.dispatcher.Publish(effective)
	m.metrics.ObserveDispatch(string(effective.Type), delivered)
	if !delivered {
		return
	}
	m.metrics.SetInternetReachable(reachabilityGauge(effective.IsInternetReachable))

	if m.transitions == nil {
		return
	}
	if err := m.transitions.Append(models.Transition{At: time.Now().UTC(), Snapshot: effective}); err != nil {
		m.logger.Warn("persist transition failed", "error", err)
	}
}

func (m *Monitor) requestRegistration(want bool) {
	m.regMu.Lock()
	m.wantRegistered = want
	m.regMu.Unlock()

	select {
	case m.regSignal <- struct{}{}:
	default:
	}
}

func (m *Monitor) isRegistered() bool {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	return m.registered
}

func (m *Monitor) reconcile() {
	defer close(m.doneCh)
	defer m.setRegistered(false)

	// Listeners may have subscribed before Start.
	m.apply()
	for {
		select {
		case <-m.regSignal:
			m.apply()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Monitor) apply() {
	m.regMu.Lock()
	want, have := m.wantRegistered, m.registered
	m.regMu.Unlock()
	if want == have {
		return
	}
	m.setRegistered(want)
}

func (m *Monitor) setRegistered(on bool) {
	if on {
		if err := m.observer.Register(m.ctx); err != nil {
			m.logger.Warn("observer register failed", "error", err)
			return
		}
	} else {
		if err := m.observer.Unregister(); err != nil {
			m.logger.Warn("observer unregister failed", "error", err)
		}
	}

	m.regMu.Lock()
	changed := m.registered != on
	m.registered = on
	m.regMu.Unlock()

	if changed {
		m.logger.Debug("observer registration changed", "observer", m.observer.Kind(), "registered", on)
		m.metrics.SetObserverRegistered(m.observer.Kind(), on)
	}
}

func reachabilityGauge(r models.Reachability) float64 {
	switch r {
	case models.ReachabilityReachable:
		return 1
	case models.ReachabilityUnreachable:
		return 0
	default:
		return -1
	}
}
