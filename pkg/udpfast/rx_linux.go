//go:build linux

package udpfast

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// message holds the per-descriptor scratch state for one recvmmsg slot:
// an 8-byte frame header buffer, a vpool-owned body buffer, and the iovec
// pair (header, body) plus ancillary-data space for SO_RXQ_OVFL.
type message struct {
	hdrbuf [8]byte
	body   []byte
	iov    [2]unix.Iovec
	cbuf   []byte
}

// rxLoop is the RX worker: it pulls vpool buffers, issues batched receives,
// validates each datagram, and appends accepted packets to pending.
//
// Unlike udpdrv.cpp, the capture socket is connected (net.DialUDP) rather
// than merely bound, so the kernel itself drops datagrams not from the
// configured peer — there is no per-packet source-address comparison to
// perform in user space.
func (c *Capture) rxLoop() {
	c.log.Debug().Msg("rx worker starting")
	defer c.log.Debug().Msg("rx worker stopped")

	cmsgSpace := unix.CmsgSpace(4)
	msgs := make([]message, 0, c.batchSize)
	headers := make([]unix.Mmsghdr, 0, c.batchSize)
	rejects := make([]message, 0, c.batchSize)

	var prevDrops uint32
	notifyCache := false

	for {
		select {
		case <-c.stopped:
			return
		default:
		}

		c.rxMu.Lock()
		if len(c.vpool) == 0 {
			c.noom.Add(1)
			c.rxMu.Unlock()
			c.pendingReady.notify()
			if !c.vpoolStall.wait(c.stopped) {
				return
			}
			continue
		}

		n := c.batchSize
		if n > len(c.vpool) {
			n = len(c.vpool)
		}
		msgs = msgs[:0]
		headers = headers[:0]
		for i := 0; i < n; i++ {
			buf := c.vpool[len(c.vpool)-1]
			c.vpool = c.vpool[:len(c.vpool)-1]

			msgs = append(msgs, message{body: buf, cbuf: make([]byte, cmsgSpace)})
			mi := &msgs[i] // stable: msgs never regrows past its preallocated cap
			mi.iov[0] = unix.Iovec{Base: &mi.hdrbuf[0]}
			mi.iov[0].Len = uint64(len(mi.hdrbuf))
			mi.iov[1] = unix.Iovec{Base: &buf[0]}
			mi.iov[1].Len = uint64(len(buf))

			var h unix.Mmsghdr
			h.Hdr.Iov = &mi.iov[0]
			h.Hdr.Iovlen = 2
			h.Hdr.Control = &mi.cbuf[0]
			h.Hdr.Controllen = uint64(len(mi.cbuf))
			headers = append(headers, h)
		}
		c.rxMu.Unlock()

		if notifyCache {
			c.pendingReady.notify()
			notifyCache = false
		}

		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		nrx, err := c.recvBatch(headers)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.ntimeout.Add(1)
				c.conn.Write([]byte("SUBSCRIBE"))
			} else {
				select {
				case <-c.stopped:
					c.returnUnused(msgs)
					return
				default:
				}
				c.log.Error().Err(err).Msg("recvmmsg error")
			}
			c.returnUnused(msgs)
			continue
		}

		rxtime := time.Now()
		c.rxcnt.Add(uint64(nrx))

		var totalrx uint64
		rejects = rejects[:0]
		for i := 0; i < nrx; i++ {
			length := int(headers[i].Len)
			msg := &msgs[i]

			prevDrops = c.applyDropDelta(msg.cbuf, prevDrops)

			// A rejected descriptor's vpool buffer must still come back —
			// unlike the unfilled tail at msgs[nrx:], the kernel already
			// handed this one a buffer, so only rejects (not returnUnused's
			// range) can reclaim it.
			if length < 8 {
				c.nignore.Add(1)
				rejects = append(rejects, *msg)
				continue
			}
			if msg.hdrbuf[0] != 'P' || msg.hdrbuf[1] != 'S' {
				c.nignore.Add(1)
				rejects = append(rejects, *msg)
				continue
			}
			msgid := binary.BigEndian.Uint16(msg.hdrbuf[2:4])
			blen := binary.BigEndian.Uint32(msg.hdrbuf[4:8])
			bodyLen := length - 8
			if int(blen) < bodyLen {
				c.nignore.Add(1)
				rejects = append(rejects, *msg)
				continue
			}

			totalrx += uint64(length) + 16 + 20 + 8 // assumed eth+ipv4+udp headers

			notifyCache = notifyCache || len(c.pendingAppend(pkt{
				msgid:   msgid,
				bodylen: blen,
				rxtime:  rxtime,
				body:    msg.body[:bodyLen],
			})) == 1
		}
		c.netrx.Add(totalrx)

		c.returnUnused(rejects)
		c.returnUnused(msgs[nrx:])
	}
}

// applyDropDelta parses ctl for an SO_RXQ_OVFL ancillary message carrying
// the kernel's cumulative receive-queue-overflow counter, adds the increase
// since prevDrops to ndrops, and returns the counter to pass as prevDrops
// on the next call. A datagram with no such cmsg, or a ctl buffer that
// fails to parse, leaves prevDrops (and ndrops) unchanged.
func (c *Capture) applyDropDelta(ctl []byte, prevDrops uint32) uint32 {
	if len(ctl) == 0 {
		return prevDrops
	}
	scms, err := unix.ParseSocketControlMessage(ctl)
	if err != nil {
		return prevDrops
	}
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SO_RXQ_OVFL || len(scm.Data) < 4 {
			continue
		}
		drops := binary.LittleEndian.Uint32(scm.Data)
		if drops != prevDrops {
			c.ndrops.Add(uint64(drops - prevDrops))
			prevDrops = drops
		}
	}
	return prevDrops
}

// pendingAppend appends p to pending under rxLock and returns the queue so
// the caller can tell whether this append transitioned it from empty.
func (c *Capture) pendingAppend(p pkt) []pkt {
	c.rxMu.Lock()
	c.pending = append(c.pending, p)
	q := c.pending
	c.rxMu.Unlock()
	return q
}

// returnUnused puts vpool buffers back for descriptors that never received
// a packet this round (a short batch, or an error with zero packets), and
// for descriptors whose datagram was rejected.
func (c *Capture) returnUnused(msgs []message) {
	if len(msgs) == 0 {
		return
	}
	c.rxMu.Lock()
	for _, m := range msgs {
		c.vpool = append(c.vpool, m.body)
	}
	c.rxMu.Unlock()
}

// recvBatch issues one batched, non-blocking recvmmsg call, letting the
// runtime poller park the calling goroutine until the socket is readable
// or the read deadline set by the caller expires.
func (c *Capture) recvBatch(hs []unix.Mmsghdr) (int, error) {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var n int
	var rerr error
	cerr := raw.Read(func(fd uintptr) bool {
		n, rerr = unix.Recvmmsg(int(fd), hs, 0, nil)
		return rerr != unix.EAGAIN
	})
	if cerr != nil {
		return 0, cerr
	}
	return n, rerr
}
