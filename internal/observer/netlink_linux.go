//go:build linux

package observer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"netinfo/internal/models"
)

const netlinkGroups = unix.RTMGRP_LINK |
	unix.RTMGRP_IPV4_IFADDR |
	unix.RTMGRP_IPV6_IFADDR |
	unix.RTMGRP_IPV4_ROUTE

// NetlinkObserver reacts to rtnetlink link, address and route notifications.
type NetlinkObserver struct {
	source       Source
	debounce     time.Duration
	pollInterval time.Duration
	onChange     func(models.Snapshot)
	logger       *slog.Logger
	loop         loop
}

func newNetlinkObserver(opts Options, logger *slog.Logger) Observer {
	return &NetlinkObserver{
		source:       opts.Source,
		debounce:     opts.Debounce,
		pollInterval: opts.PollInterval,
		onChange:     opts.OnChange,
		logger:       logger.With("variant", "netlink"),
	}
}

func netlinkAvailable() error {
	fd, err := openNetlink()
	if err != nil {
		return err
	}
	return unix.Close(fd)
}

func openNetlink() (int, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return -1, fmt.Errorf("netlink socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: netlinkGroups}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("netlink bind: %w", err)
	}
	tv := unix.NsecToTimeval(int64(time.Second))
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("netlink timeout: %w", err)
	}
	return fd, nil
}

// Kind implements Observer.
func (n *NetlinkObserver) Kind() string { return "netlink" }

// Register opens the netlink socket and starts the event loop.
func (n *NetlinkObserver) Register(ctx context.Context) error {
	if n.loop.running() {
		return nil
	}
	fd, err := openNetlink()
	if err != nil {
		return err
	}
	if !n.loop.start(ctx, func(ctx context.Context) { n.run(ctx, fd) }) {
		_ = unix.Close(fd)
		return nil
	}
	n.logger.Debug("registered", "debounce", n.debounce)
	return nil
}

// Unregister implements Observer.
func (n *NetlinkObserver) Unregister() error {
	n.loop.stop()
	return nil
}

// CurrentState implements Observer.
func (n *NetlinkObserver) CurrentState() (models.Snapshot, error) {
	return n.source.Snapshot()
}

func (n *NetlinkObserver) run(ctx context.Context, fd int) {
	events := make(chan struct{}, 1)
	readDone := make(chan error, 1)
	go func() {
		readDone <- readNetlink(ctx, fd, events)
	}()

	emit(n.source, n.onChange, n.logger)
	n.watch(ctx, events, readDone, func() { _ = unix.Close(fd) })
}

// watch debounces change events until ctx ends or the reader reports a
// failure, after which it polls. release runs once the reader has returned.
func (n *NetlinkObserver) watch(ctx context.Context, events <-chan struct{}, readDone <-chan error, release func()) {
	var timer *time.Timer
	var fire <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		fire = nil
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			<-readDone
			release()
			return

		case <-events:
			if n.debounce <= 0 {
				emit(n.source, n.onChange, n.logger)
				continue
			}
			stopTimer()
			timer = time.NewTimer(n.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			emit(n.source, n.onChange, n.logger)

		case err := <-readDone:
			stopTimer()
			release()
			if ctx.Err() != nil {
				return
			}
			n.logger.Warn("netlink read failed, falling back to polling", "error", err)
			pollUntilDone(ctx, n.pollInterval, func() {
				emit(n.source, n.onChange, n.logger)
			})
			return
		}
	}
}

// readNetlink blocks reading the socket until ctx ends or a hard error occurs.
func readNetlink(ctx context.Context, fd int, events chan<- struct{}) error {
	buf := make([]byte, 1<<16)
	notify := func() {
		select {
		case events <- struct{}{}:
		default:
		}
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.ENOBUFS):
				// Dropped notifications; the state may have moved.
				notify()
				continue
			}
			return fmt.Errorf("netlink recv: %w", err)
		}
		if relevantMessages(buf[:n]) {
			notify()
		}
	}
}

// relevantMessages reports whether a netlink datagram carries a link,
// address or route change.
func relevantMessages(b []byte) bool {
	for len(b) >= unix.SizeofNlMsghdr {
		length := binary.NativeEndian.Uint32(b[0:4])
		msgType := binary.NativeEndian.Uint16(b[4:6])
		if length < unix.SizeofNlMsghdr || int(length) > len(b) {
			return false
		}
		switch msgType {
		case unix.RTM_NEWLINK, unix.RTM_DELLINK,
			unix.RTM_NEWADDR, unix.RTM_DELADDR,
			unix.RTM_NEWROUTE, unix.RTM_DELROUTE:
			return true
		}
		next := int((length + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1))
		if next >= len(b) {
			return false
		}
		b = b[next:]
	}
	return false
}
