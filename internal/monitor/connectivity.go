package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"netinfo/internal/config"
	"netinfo/internal/metrics"
	"netinfo/internal/models"
	"netinfo/internal/storage"
)

// ProbeFunc performs one reachability probe and returns its round-trip time.
type ProbeFunc func(ctx context.Context) (time.Duration, error)

// ProberOptions carry the optional collaborators of a ReachabilityProber.
type ProberOptions struct {
	Store    *storage.ProbeStorage
	Probe    ProbeFunc
	OnResult func(models.ProbeResult)
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// ReachabilityProber periodically checks that the internet is reachable and
// reports each result. Results feed the reachability override.
type ReachabilityProber struct {
	method     string
	target     string
	interval   time.Duration
	timeout    time.Duration
	maxHistory int

	probe    ProbeFunc
	store    *storage.ProbeStorage
	onResult func(models.ProbeResult)
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	history []models.ProbeResult

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewReachabilityProber configures a prober. Persisted samples from opts.Store
// seed the history.
func NewReachabilityProber(cfg config.Probe, maxHistory int, opts ProberOptions) *ReachabilityProber {
	interval := cfg.Interval()
	if interval <= 0 {
		interval = 60 * time.Second
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if maxHistory <= 0 {
		maxHistory = 2048
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	address := probeAddress(cfg.Target)
	p := &ReachabilityProber{
		method:     cfg.Method,
		target:     address,
		interval:   interval,
		timeout:    timeout,
		maxHistory: maxHistory,
		probe:      opts.Probe,
		store:      opts.Store,
		onResult:   opts.OnResult,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "prober", "method", cfg.Method, "target", address),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if p.probe == nil {
		switch cfg.Method {
		case config.ProbeDNS:
			p.probe = dnsProbe(address, cfg.DNSName)
		default:
			p.probe = tcpProbe(address)
		}
	}

	if p.store != nil {
		history := p.store.History()
		if len(history) > maxHistory {
			history = history[len(history)-maxHistory:]
		}
		p.history = history
	}
	return p
}

// Start launches the probe loop.
func (p *ReachabilityProber) Start() {
	p.startOnce.Do(func() { go p.run() })
}

// Stop requests the probe loop to terminate and waits for it.
func (p *ReachabilityProber) Stop() {
	p.startOnce.Do(func() { close(p.doneCh) })
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// Latest returns the newest sample, including one loaded from disk.
func (p *ReachabilityProber) Latest() (models.ProbeResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n := len(p.history); n > 0 {
		return p.history[n-1], true
	}
	return models.ProbeResult{}, false
}

// History returns every retained sample, oldest first.
func (p *ReachabilityProber) History() []models.ProbeResult {
	return p.HistorySince(time.Time{}, 0)
}

// HistorySince returns up to limit of the newest samples checked at or after
// cutoff. A zero cutoff or a limit <= 0 does not restrict.
func (p *ReachabilityProber) HistorySince(cutoff time.Time, limit int) []models.ProbeResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	start := sort.Search(len(p.history), func(i int) bool {
		return !p.history[i].CheckedAt.Before(cutoff)
	})
	if limit > 0 && len(p.history)-start > limit {
		start = len(p.history) - limit
	}
	if start >= len(p.history) {
		return nil
	}
	return append([]models.ProbeResult(nil), p.history[start:]...)
}

func (p *ReachabilityProber) run() {
	defer close(p.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.check(ctx)
		case <-p.stopCh:
			return
		}
	}
}

func (p *ReachabilityProber) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	rtt, err := p.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		// Stopped mid-probe; the failure says nothing about the network.
		return
	}

	result := models.ProbeResult{
		Target:    p.target,
		Method:    p.method,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = "probe timed out"
		}
		p.logger.Debug("probe failed", "error", err)
	} else {
		result.OK = true
		result.LatencyMs = rtt.Milliseconds()
	}

	p.metrics.ObserveProbe(p.method, result.OK, rtt)

	p.mu.Lock()
	p.history = append(p.history, result)
	if len(p.history) > p.maxHistory {
		p.history = p.history[len(p.history)-p.maxHistory:]
	}
	var snapshot []models.ProbeResult
	if p.store != nil {
		snapshot = make([]models.ProbeResult, len(p.history))
		copy(snapshot, p.history)
	}
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Replace(snapshot); err != nil {
			p.logger.Warn("persist probe history failed", "error", err)
		}
	}
	if p.onResult != nil {
		p.onResult(result)
	}
}

// probeAddress appends the DNS port when target has none.
func probeAddress(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		target = "1.1.1.1"
	}
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	return net.JoinHostPort(strings.Trim(target, "[]"), "53")
}

func tcpProbe(address string) ProbeFunc {
	return func(ctx context.Context) (time.Duration, error) {
		var dialer net.Dialer
		started := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return 0, err
		}
		rtt := time.Since(started)
		_ = conn.Close()
		return rtt, nil
	}
}

func dnsProbe(address, name string) ProbeFunc {
	if name == "" {
		name = "example.com"
	}
	client := &dns.Client{Net: "udp"}
	return func(ctx context.Context) (time.Duration, error) {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), dns.TypeA)

		resp, rtt, err := client.ExchangeContext(ctx, msg, address)
		if err != nil {
			return 0, err
		}
		if resp.Rcode != dns.RcodeSuccess {
			return 0, fmt.Errorf("dns %s: %s", name, dns.RcodeToString[resp.Rcode])
		}
		return rtt, nil
	}
}
