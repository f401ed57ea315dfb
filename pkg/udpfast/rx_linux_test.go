//go:build linux

package udpfast

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rxqOvflCmsg builds a single SO_RXQ_OVFL ancillary message carrying drops
// as the kernel itself would lay it out in a recvmsg control buffer, using
// unix.Cmsghdr directly so the field widths match the build's own target
// rather than a hand-picked layout.
func rxqOvflCmsg(drops uint32) []byte {
	buf := make([]byte, unix.CmsgSpace(4))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&buf[0]))
	*h = unix.Cmsghdr{}
	h.Len = uint64(unix.CmsgLen(4))
	h.Level = unix.SOL_SOCKET
	h.Type = unix.SO_RXQ_OVFL
	binary.LittleEndian.PutUint32(buf[unix.CmsgLen(0):], drops)
	return buf
}

func TestApplyDropDeltaAccumulatesKernelOverflowCounter(t *testing.T) {
	c := &Capture{}

	prev := c.applyDropDelta(rxqOvflCmsg(3), 0)
	if prev != 3 {
		t.Fatalf("prevDrops after first cmsg = %d, want 3", prev)
	}
	if got := c.ndrops.Load(); got != 3 {
		t.Fatalf("ndrops after first cmsg = %d, want 3", got)
	}

	// Kernel counter only grows; a second datagram reporting the same
	// value must not double-count.
	prev = c.applyDropDelta(rxqOvflCmsg(3), prev)
	if got := c.ndrops.Load(); got != 3 {
		t.Fatalf("ndrops after unchanged cmsg = %d, want 3", got)
	}

	prev = c.applyDropDelta(rxqOvflCmsg(9), prev)
	if prev != 9 {
		t.Fatalf("prevDrops after third cmsg = %d, want 9", prev)
	}
	if got := c.ndrops.Load(); got != 9 {
		t.Fatalf("ndrops after third cmsg = %d, want 9 (delta 3->9 added to existing 3)", got)
	}
}

func TestApplyDropDeltaIgnoresUnrelatedOrEmptyControl(t *testing.T) {
	c := &Capture{}

	if got := c.applyDropDelta(nil, 5); got != 5 {
		t.Fatalf("applyDropDelta(nil, 5) = %d, want 5 unchanged", got)
	}
	if got := c.ndrops.Load(); got != 0 {
		t.Fatalf("ndrops after empty control = %d, want 0", got)
	}

	// A cmsg of the right size but wrong level/type must be skipped, not
	// misread as an overflow counter.
	other := make([]byte, unix.CmsgSpace(4))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&other[0]))
	*h = unix.Cmsghdr{}
	h.Len = uint64(unix.CmsgLen(4))
	h.Level = unix.SOL_IP
	h.Type = 0
	binary.LittleEndian.PutUint32(other[unix.CmsgLen(0):], 42)

	if got := c.applyDropDelta(other, 5); got != 5 {
		t.Fatalf("applyDropDelta on unrelated cmsg = %d, want 5 unchanged", got)
	}
	if got := c.ndrops.Load(); got != 0 {
		t.Fatalf("ndrops after unrelated cmsg = %d, want 0", got)
	}
}
