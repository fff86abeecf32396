// Package state holds the last observed connectivity snapshot.
//
// Reads and writes are a single atomic pointer load or store, so queries
// never wait on the observer or the network.
package state

import (
	"strings"
	"sync/atomic"

	"netinfo/internal/models"
)

// Cache stores the most recent observed snapshot and an optional
// reachability override supplied by an out-of-band probe.
type Cache struct {
	observed atomic.Pointer[models.Snapshot]
	override atomic.Int32
}

// NewCache returns a cache that reports the unknown snapshot until updated.
func NewCache() *Cache {
	return &Cache{}
}

// Current returns the effective snapshot. It never blocks.
func (c *Cache) Current() models.Snapshot {
	snap := c.observed.Load()
	if snap == nil {
		return models.UnknownSnapshot()
	}
	return c.apply(snap.Clone())
}

// Observed reports whether any snapshot has been stored yet.
func (c *Cache) Observed() bool {
	return c.observed.Load() != nil
}

// Update replaces the observed snapshot and returns the effective one.
func (c *Cache) Update(snap models.Snapshot) models.Snapshot {
	stored := snap.Clone()
	c.observed.Store(&stored)
	return c.apply(snap.Clone())
}

// SetReachabilityOverride forces the reachability field while connected.
func (c *Cache) SetReachabilityOverride(reachable bool) {
	c.override.Store(int32(models.ReachabilityOf(reachable)))
}

// ClearReachabilityOverride drops any override.
func (c *Cache) ClearReachabilityOverride() {
	c.override.Store(int32(models.ReachabilityUnknown))
}

// ReachabilityOverride returns the override currently in force.
func (c *Cache) ReachabilityOverride() models.Reachability {
	return models.Reachability(c.override.Load())
}

func (c *Cache) apply(snap models.Snapshot) models.Snapshot {
	override := c.ReachabilityOverride()
	if override != models.ReachabilityUnknown && snap.IsConnected {
		snap.IsInternetReachable = override
	}
	return snap
}

// CurrentFor answers a query restricted to one interface. The filter matches
// an interface name ("wlan0") or a connection type ("wifi"); an empty filter
// is the same as Current.
func (c *Cache) CurrentFor(filter string) models.Snapshot {
	filter = strings.TrimSpace(filter)
	current := c.Current()
	if filter == "" || !c.Observed() {
		return current
	}

	wanted, isType := models.ParseConnectionType(filter)
	matches := func(iface models.InterfaceState) bool {
		if isType {
			return iface.Type == wanted
		}
		return strings.EqualFold(iface.Name, filter)
	}

	if current.Details != nil {
		for _, iface := range current.Interfaces {
			if iface.Name == current.Details.Interface && matches(iface) {
				return current
			}
		}
	}

	for _, iface := range current.Interfaces {
		if !matches(iface) {
			continue
		}
		details := iface.Details
		return models.Snapshot{
			Type:                iface.Type,
			IsConnected:         iface.Up && details.IPAddress != "",
			IsInternetReachable: models.ReachabilityUnknown,
			Details:             &details,
			ObservedAt:          current.ObservedAt,
		}
	}

	return models.Snapshot{
		Type:                wanted,
		IsConnected:         false,
		IsInternetReachable: models.ReachabilityUnreachable,
		ObservedAt:          current.ObservedAt,
	}
}
