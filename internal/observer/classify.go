package observer

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"netinfo/internal/models"
)

const (
	defaultSysfsRoot    = "/sys/class/net"
	defaultWirelessPath = "/proc/net/wireless"

	// maxLinkQuality is the scale most drivers report in /proc/net/wireless.
	maxLinkQuality = 70
)

var (
	cellularPrefixes = []string{"rmnet", "ccmni", "wwan", "ww", "pdp", "v4-rmnet"}
	wifiPrefixes     = []string{"wlan", "wl", "wifi", "ath", "swlan"}
	ethernetPrefixes = []string{"eth", "en", "em"}
)

// classify guesses the connection type of an interface from sysfs and its name.
func classify(name, sysfsRoot string) models.ConnectionType {
	if sysfsRoot != "" {
		for _, marker := range []string{"wireless", "phy80211"} {
			if _, err := os.Stat(filepath.Join(sysfsRoot, name, marker)); err == nil {
				return models.ConnectionWifi
			}
		}
	}
	lower := strings.ToLower(name)
	switch {
	case hasAnyPrefix(lower, cellularPrefixes):
		return models.ConnectionCellular
	case hasAnyPrefix(lower, wifiPrefixes):
		return models.ConnectionWifi
	case hasAnyPrefix(lower, ethernetPrefixes):
		return models.ConnectionEthernet
	default:
		return models.ConnectionOther
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// typeRank orders candidates for the primary interface when the routing
// table gives no answer.
func typeRank(t models.ConnectionType) int {
	switch t {
	case models.ConnectionEthernet:
		return 0
	case models.ConnectionWifi:
		return 1
	case models.ConnectionCellular:
		return 2
	default:
		return 3
	}
}

// readWirelessStrength returns signal strength in percent per interface.
func readWirelessStrength(path string) map[string]int {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	return parseWireless(f)
}

func parseWireless(r io.Reader) map[string]int {
	out := make(map[string]int)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		fields := strings.Fields(line[colon+1:])
		// status, link quality, level, noise, ...
		if name == "" || len(fields) < 2 {
			continue
		}
		quality, err := strconv.ParseFloat(strings.TrimSuffix(fields[1], "."), 64)
		if err != nil {
			continue
		}
		pct := int(quality * 100 / maxLinkQuality)
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		out[name] = pct
	}
	return out
}
