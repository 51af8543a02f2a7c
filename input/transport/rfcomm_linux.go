//go:build linux

package transport

import (
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/msjae/bioingest/errors"
)

type rfcommListener struct {
	fd      int
	channel uint8

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// ListenRFCOMM binds an RFCOMM socket on the local adapter. Channel 0 lets
// the kernel choose; the bound channel is reported by Addr.
func ListenRFCOMM(channel, backlog int) (Listener, error) {
	if channel < 0 || channel > 30 {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: rfcomm channel %d out of range 0-30", errors.ErrInvalidConfig, channel),
			"transport", "ListenRFCOMM", "validate channel")
	}
	if backlog < 1 {
		backlog = 1
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		if stderrors.Is(err, unix.EAFNOSUPPORT) || stderrors.Is(err, unix.EPROTONOSUPPORT) {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrUnsupported, err),
				"transport", "ListenRFCOMM", "create socket")
		}
		return nil, errors.WrapTransient(err, "transport", "ListenRFCOMM", "create socket")
	}

	// Addr left zero binds to any local adapter.
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: uint8(channel)}); err != nil {
		_ = unix.Close(fd)
		return nil, errors.WrapTransient(err, "transport", "ListenRFCOMM", fmt.Sprintf("bind channel %d", channel))
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, errors.WrapTransient(err, "transport", "ListenRFCOMM", "listen")
	}

	bound := uint8(channel)
	if sa, err := unix.Getsockname(fd); err == nil {
		if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
			bound = rc.Channel
		}
	}

	return &rfcommListener{fd: fd, channel: bound}, nil
}

func (l *rfcommListener) Accept() (Conn, error) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		if err != nil {
			if l.closed.Load() {
				return nil, errors.ErrListenerClosed
			}
			if stderrors.Is(err, unix.EINTR) || stderrors.Is(err, unix.ECONNABORTED) {
				continue
			}
			return nil, errors.WrapTransient(err, "transport", "Accept", "accept rfcomm connection")
		}

		peer := "unknown"
		if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
			peer = formatBDAddr(rc.Addr)
		}

		// Non-blocking descriptors are put on the runtime poller by os.NewFile,
		// so Close unblocks a pending Read.
		f := os.NewFile(uintptr(nfd), "rfcomm:"+peer)
		return &rfcommConn{File: f, peer: peer}, nil
	}
}

// Close shuts the socket down first; on Linux that wakes a blocked accept.
func (l *rfcommListener) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		_ = unix.Shutdown(l.fd, unix.SHUT_RDWR)
		l.closeErr = unix.Close(l.fd)
	})
	return l.closeErr
}

func (l *rfcommListener) Addr() string {
	return fmt.Sprintf("rfcomm channel %d", l.channel)
}

type rfcommConn struct {
	*os.File
	peer string
}

func (c *rfcommConn) RemoteAddr() string {
	return c.peer
}

// formatBDAddr renders a device address, stored little-endian, in the usual
// colon-separated most-significant-first form.
func formatBDAddr(addr [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}
