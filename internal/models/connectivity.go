package models

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// ConnectionType names the kind of link the device is using.
type ConnectionType string

const (
	ConnectionNone     ConnectionType = "none"
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionEthernet ConnectionType = "ethernet"
	ConnectionOther    ConnectionType = "other"
	ConnectionUnknown  ConnectionType = "unknown"
)

// ParseConnectionType maps a user supplied name onto a ConnectionType.
func ParseConnectionType(raw string) (ConnectionType, bool) {
	switch ConnectionType(strings.ToLower(strings.TrimSpace(raw))) {
	case ConnectionNone:
		return ConnectionNone, true
	case ConnectionWifi:
		return ConnectionWifi, true
	case ConnectionCellular:
		return ConnectionCellular, true
	case ConnectionEthernet:
		return ConnectionEthernet, true
	case ConnectionOther:
		return ConnectionOther, true
	case ConnectionUnknown:
		return ConnectionUnknown, true
	}
	return ConnectionUnknown, false
}

// Reachability is a tri-state answer to "can the public internet be reached".
type Reachability int8

const (
	ReachabilityUnknown Reachability = iota
	ReachabilityReachable
	ReachabilityUnreachable
)

// ReachabilityOf converts a probe outcome into a known reachability.
func ReachabilityOf(ok bool) Reachability {
	if ok {
		return ReachabilityReachable
	}
	return ReachabilityUnreachable
}

func (r Reachability) String() string {
	switch r {
	case ReachabilityReachable:
		return "reachable"
	case ReachabilityUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes unknown as null.
func (r Reachability) MarshalJSON() ([]byte, error) {
	switch r {
	case ReachabilityReachable:
		return []byte("true"), nil
	case ReachabilityUnreachable:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false and null.
func (r *Reachability) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*r = ReachabilityReachable
	case "false":
		*r = ReachabilityUnreachable
	case "null":
		*r = ReachabilityUnknown
	default:
		return fmt.Errorf("invalid reachability %q", data)
	}
	return nil
}

// Details carries interface-specific information for a snapshot.
type Details struct {
	Interface string `json:"interface"`
	IPAddress string `json:"ipAddress,omitempty"`
	Subnet    string `json:"subnet,omitempty"`
	Strength  *int   `json:"strength,omitempty"`
	Gateway   string `json:"gateway,omitempty"`
}

// Equal reports whether both details describe the same values.
func (d *Details) Equal(other *Details) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Interface != other.Interface || d.IPAddress != other.IPAddress ||
		d.Subnet != other.Subnet || d.Gateway != other.Gateway {
		return false
	}
	if d.Strength == nil || other.Strength == nil {
		return d.Strength == other.Strength
	}
	return *d.Strength == *other.Strength
}

// InterfaceState is one interface as seen by the observer.
type InterfaceState struct {
	Name    string         `json:"name"`
	Type    ConnectionType `json:"type"`
	Up      bool           `json:"up"`
	Details Details        `json:"details"`
}

// Snapshot is an immutable point-in-time connectivity record.
type Snapshot struct {
	Type                ConnectionType   `json:"type"`
	IsConnected         bool             `json:"isConnected"`
	IsInternetReachable Reachability     `json:"isInternetReachable"`
	Details             *Details         `json:"details"`
	Interfaces          []InterfaceState `json:"interfaces,omitempty"`
	ObservedAt          time.Time        `json:"observedAt"`
}

// UnknownSnapshot is the state reported before anything has been observed.
func UnknownSnapshot() Snapshot {
	return Snapshot{
		Type:                ConnectionUnknown,
		IsInternetReachable: ReachabilityUnknown,
	}
}

// Equal compares two snapshots by value, ignoring ObservedAt.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.Type != other.Type || s.IsConnected != other.IsConnected ||
		s.IsInternetReachable != other.IsInternetReachable {
		return false
	}
	if !s.Details.Equal(other.Details) {
		return false
	}
	if len(s.Interfaces) != len(other.Interfaces) {
		return false
	}
	for i := range s.Interfaces {
		a, b := s.Interfaces[i], other.Interfaces[i]
		if a.Name != b.Name || a.Type != b.Type || a.Up != b.Up || !a.Details.Equal(&b.Details) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers may retain it safely.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Details != nil {
		d := s.Details.clone()
		out.Details = &d
	}
	if s.Interfaces != nil {
		out.Interfaces = make([]InterfaceState, len(s.Interfaces))
		for i, iface := range s.Interfaces {
			iface.Details = iface.Details.clone()
			out.Interfaces[i] = iface
		}
	}
	return out
}

func (d Details) clone() Details {
	if d.Strength != nil {
		v := *d.Strength
		d.Strength = &v
	}
	return d
}

// ProbeResult captures the outcome of a reachability probe.
type ProbeResult struct {
	Target    string    `json:"target"`
	Method    string    `json:"method"`
	OK        bool      `json:"ok"`
	LatencyMs int64     `json:"latencyMs"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}
