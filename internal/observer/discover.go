package observer

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/wlynxg/anet"

	"netinfo/internal/gateway"
	"netinfo/internal/models"
)

// Discoverer builds snapshots from the interface table and routing table.
type Discoverer struct {
	interfaces   func() ([]net.Interface, error)
	addrs        func(*net.Interface) ([]net.Addr, error)
	route        gateway.RouteFunc
	sysfsRoot    string
	wirelessPath string
	now          func() time.Time
}

// NewDiscoverer reads interfaces through anet, which also works where
// net.Interfaces is restricted (Android 11+). route may be nil.
func NewDiscoverer(route gateway.RouteFunc) *Discoverer {
	return &Discoverer{
		interfaces:   anet.Interfaces,
		addrs:        anet.InterfaceAddrsByInterface,
		route:        route,
		sysfsRoot:    defaultSysfsRoot,
		wirelessPath: defaultWirelessPath,
		now:          time.Now,
	}
}

// Snapshot implements Source.
func (d *Discoverer) Snapshot() (models.Snapshot, error) {
	ifaces, err := d.interfaces()
	if err != nil {
		return models.UnknownSnapshot(), fmt.Errorf("enumerate interfaces: %w", err)
	}
	strengths := readWirelessStrength(d.wirelessPath)

	states := make([]models.InterfaceState, 0, len(ifaces))
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		state := models.InterfaceState{
			Name: iface.Name,
			Type: classify(iface.Name, d.sysfsRoot),
			Up:   true,
			Details: models.Details{
				Interface: iface.Name,
			},
		}
		if addrs, err := d.addrs(iface); err == nil {
			state.Details.IPAddress, state.Details.Subnet = pickAddress(addrs)
		}
		if state.Type == models.ConnectionWifi {
			if pct, ok := strengths[iface.Name]; ok {
				state.Details.Strength = &pct
			}
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })

	snap := models.Snapshot{
		Type:                models.ConnectionNone,
		IsInternetReachable: models.ReachabilityUnreachable,
		Interfaces:          states,
		ObservedAt:          d.now().UTC(),
	}

	primary, gw := d.primary(states)
	if primary < 0 {
		return snap, nil
	}
	details := states[primary].Details
	if details.Strength != nil {
		v := *details.Strength
		details.Strength = &v
	}
	details.Gateway = gw
	snap.Type = states[primary].Type
	snap.IsConnected = true
	snap.IsInternetReachable = models.ReachabilityUnknown
	snap.Details = &details
	return snap, nil
}

// primary returns the index of the interface carrying the default route,
// falling back to the best ranked interface with an address.
func (d *Discoverer) primary(states []models.InterfaceState) (int, string) {
	if d.route != nil {
		if route, err := d.route(); err == nil && route.Interface != "" {
			for i, s := range states {
				if s.Name == route.Interface && s.Details.IPAddress != "" {
					gw := ""
					if route.Gateway != nil && !route.Gateway.IsUnspecified() {
						gw = route.Gateway.String()
					}
					return i, gw
				}
			}
		}
	}
	best := -1
	for i, s := range states {
		if s.Details.IPAddress == "" {
			continue
		}
		if best < 0 || typeRank(s.Type) < typeRank(states[best].Type) {
			best = i
		}
	}
	return best, ""
}

// pickAddress prefers a routable IPv4 address and falls back to a global IPv6 one.
func pickAddress(addrs []net.Addr) (ip, subnet string) {
	var v6 string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			mask := ipNet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			return v4.String(), net.IP(mask).String()
		}
		if v6 == "" && ipNet.IP.IsGlobalUnicast() {
			v6 = ipNet.IP.String()
		}
	}
	return v6, ""
}
