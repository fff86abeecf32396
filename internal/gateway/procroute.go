package gateway

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

const procRoutePath = "/proc/net/route"

const (
	rtfUp      = 0x1
	rtfGateway = 0x2
)

// ReadProcRoute returns the lowest-metric default route from a
// /proc/net/route formatted file.
func ReadProcRoute(path string) (Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return Route{}, fmt.Errorf("open route table: %w", err)
	}
	defer f.Close()
	return parseProcRoute(f)
}

func parseProcRoute(r io.Reader) (Route, error) {
	scanner := bufio.NewScanner(r)
	best := Route{}
	bestMetric := -1
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 {
			continue
		}
		dest, err1 := strconv.ParseUint(fields[1], 16, 32)
		gw, err2 := strconv.ParseUint(fields[2], 16, 32)
		flags, err3 := strconv.ParseUint(fields[3], 16, 32)
		metric, err4 := strconv.Atoi(fields[6])
		mask, err5 := strconv.ParseUint(fields[7], 16, 32)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		if dest != 0 || mask != 0 || flags&rtfUp == 0 || flags&rtfGateway == 0 {
			continue
		}
		if bestMetric >= 0 && metric >= bestMetric {
			continue
		}
		bestMetric = metric
		best = Route{
			Interface: fields[0],
			Gateway:   net.ParseIP(FormatIPv4LE(uint32(gw))),
		}
	}
	if err := scanner.Err(); err != nil {
		return Route{}, fmt.Errorf("read route table: %w", err)
	}
	if bestMetric < 0 {
		return Route{}, ErrNoGateway
	}
	return best, nil
}

// FormatIPv4LE renders an IPv4 address stored as a little-endian integer,
// the layout used by /proc/net/route and DHCP lease structures.
func FormatIPv4LE(v uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d",
		v&0xFF,
		(v>>8)&0xFF,
		(v>>16)&0xFF,
		(v>>24)&0xFF,
	)
}
