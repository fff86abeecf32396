package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/libp2p/go-netroute"
)

// ErrNoGateway is returned when the default route has no next hop.
var ErrNoGateway = errors.New("no default gateway")

// routeProbe is only used as a lookup key for the routing table; nothing is sent to it.
var routeProbe = net.IPv4(1, 1, 1, 1)

// Route describes the default IPv4 route.
type Route struct {
	Interface string
	Gateway   net.IP
	Source    net.IP
}

// RouteFunc looks up the default route.
type RouteFunc func() (Route, error)

// Resolver finds the default gateway without blocking its caller.
type Resolver struct {
	timeout  time.Duration
	logger   *slog.Logger
	route    RouteFunc
	onResult func(ok bool)
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithRouteFunc replaces the routing table lookup.
func WithRouteFunc(fn RouteFunc) Option {
	return func(r *Resolver) { r.route = fn }
}

// WithResultHook is called once per Lookup with its outcome.
func WithResultHook(fn func(ok bool)) Option {
	return func(r *Resolver) { r.onResult = fn }
}

// NewResolver builds a resolver backed by the system routing table.
func NewResolver(timeout time.Duration, logger *slog.Logger, opts ...Option) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		timeout: timeout,
		logger:  logger.With("component", "gateway"),
		route:   SystemRoute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRoute returns the current default route.
func (r *Resolver) DefaultRoute() (Route, error) {
	return r.route()
}

// Lookup resolves the gateway on its own goroutine. The returned channel
// always receives exactly one value: the dotted address, or "" when the
// lookup fails, panics or outlives the context or the resolver timeout.
func (r *Resolver) Lookup(ctx context.Context) <-chan string {
	out := make(chan string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		res := make(chan string, 1)
		go func() {
			res <- r.resolve()
		}()

		var addr string
		select {
		case addr = <-res:
		case <-ctx.Done():
			r.logger.Debug("gateway lookup abandoned", "error", ctx.Err())
		}
		if r.onResult != nil {
			r.onResult(addr != "")
		}
		out <- addr
	}()
	return out
}

// Address is the synchronous form of Lookup.
func (r *Resolver) Address(ctx context.Context) string {
	return <-r.Lookup(ctx)
}

func (r *Resolver) resolve() (addr string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("gateway lookup panicked", "panic", fmt.Sprint(p))
			addr = ""
		}
	}()

	route, err := r.route()
	if err != nil {
		r.logger.Debug("gateway lookup failed", "error", err)
		return ""
	}
	if route.Gateway == nil || route.Gateway.IsUnspecified() {
		return ""
	}
	return route.Gateway.String()
}

// SystemRoute asks the kernel routing table through go-netroute and falls
// back to /proc/net/route when that is unavailable.
func SystemRoute() (Route, error) {
	route, err := netrouteRoute()
	if err == nil && route.Gateway != nil {
		return route, nil
	}
	procRoute, procErr := ReadProcRoute(procRoutePath)
	if procErr == nil {
		return procRoute, nil
	}
	if err != nil {
		return Route{}, fmt.Errorf("netroute: %w; proc: %v", err, procErr)
	}
	return route, nil
}

func netrouteRoute() (Route, error) {
	router, err := netroute.New()
	if err != nil {
		return Route{}, fmt.Errorf("open routing table: %w", err)
	}
	iface, gw, src, err := router.Route(routeProbe)
	if err != nil {
		return Route{}, fmt.Errorf("route lookup: %w", err)
	}
	route := Route{Gateway: gw, Source: src}
	if iface != nil {
		route.Interface = iface.Name
	}
	return route, nil
}
