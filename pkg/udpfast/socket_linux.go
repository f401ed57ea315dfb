//go:build linux

package udpfast

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mdavidsaver/pscdrv/pkg/pscconfig"
)

// tuneSocket applies the socket options udpdrv.cpp's constructor sets:
// SO_PRIORITY (best-effort, matching the original's "fprintf and continue"
// on failure), SO_RXQ_OVFL (required for drop accounting), and an optional
// SO_RCVBUF.
func (c *Capture) tuneSocket() error {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}

	var setErr error
	ctlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, 6); err != nil {
			c.log.Warn().Err(err).Msg("unable to set SO_PRIORITY")
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RXQ_OVFL, 1); err != nil {
			c.log.Warn().Err(err).Msg("unable to set SO_RXQ_OVFL")
		}
		if n := pscconfig.UDPSetSockBuf(); n > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, n); err != nil {
				setErr = fmt.Errorf("set SO_RCVBUF=%d: %w", n, err)
			}
		}
	})
	if ctlErr != nil {
		return ctlErr
	}
	return setErr
}

// currentRcvBuf reads back the kernel's actual SO_RCVBUF, used to size the
// recvmmsg batch when the caller hasn't requested a specific buffer size.
func (c *Capture) currentRcvBuf() int {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return c.maxPacketSize
	}
	var n int
	raw.Control(func(fd uintptr) {
		if v, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF); err == nil {
			n = v
		}
	})
	if n <= 0 {
		n = c.maxPacketSize
	}
	return n
}
