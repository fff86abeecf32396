//go:build !linux

package observer

import (
	"errors"
	"log/slog"
)

var errNetlinkUnsupported = errors.New("netlink is only available on linux")

func netlinkAvailable() error {
	return errNetlinkUnsupported
}

// newNetlinkObserver is unreachable off linux because netlinkAvailable
// always fails; it degrades to polling regardless.
func newNetlinkObserver(opts Options, logger *slog.Logger) Observer {
	return newPollObserver(opts.Source, opts.PollInterval, opts.OnChange, logger)
}
