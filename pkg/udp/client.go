// Package udp implements the PSC/UDP engine: peer-filtered datagram
// receive and a bounded send queue backed by a reusable buffer free-list.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdavidsaver/pscdrv/pkg/block"
	"github.com/mdavidsaver/pscdrv/pkg/engine"
	"github.com/mdavidsaver/pscdrv/pkg/frame"
	"github.com/mdavidsaver/pscdrv/pkg/pscio"
	"github.com/mdavidsaver/pscdrv/pkg/reactor"
)

// rxTimeout is re-armed every iteration of the receive loop, the Go
// equivalent of the EV_TIMEOUT|EV_PERSIST event pscudp.cpp arms.
const rxTimeout = 5 * time.Second

// maxTXQueue bounds both the outbound packet queue and the free-list of
// reusable TX buffers.
const maxTXQueue = 64

// ErrNotConnected is returned by QueueSend when the engine hasn't been
// started yet.
var ErrNotConnected = errors.New("udp: not connected")

// ErrAlreadyQueued is returned by QueueSend when the Block already has an
// outstanding send.
var ErrAlreadyQueued = errors.New("udp: block already queued")

// ErrTXQueueFull is returned by QueueSend when the bounded outbound queue
// (and its backing free-list) is exhausted.
var ErrTXQueueFull = errors.New("udp: tx queue full")

type outPacket struct {
	blk *block.Block
	buf []byte
}

// Client is a PSC/UDP engine. Unlike tcp.Client there is no connection
// state machine: a UDP socket is "always connected" once bound, exactly as
// pscudp.cpp documents.
type Client struct {
	*engine.Base

	log   zerolog.Logger
	react *reactor.Reactor

	conn      *net.UDPConn
	peer      *net.UDPAddr
	localPort uint16
	stopped   chan struct{}
	rxScratch []byte

	txMu    sync.Mutex
	txQueue []outPacket
	txFree  [][]byte
}

// New constructs a Client that sends to host:hostPort and binds locally to
// ifacePort (0 selects an ephemeral port).
func New(name, host string, hostPort, ifacePort uint16) (*Client, error) {
	peer, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, hostPort))
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s:%d: %w", host, hostPort, err)
	}
	c := &Client{
		peer:      peer,
		rxScratch: make([]byte, 2048),
	}
	c.Base = engine.NewBase(c, name, host, hostPort, 0)
	c.log = pscio.For(name)
	c.localPort = ifacePort
	return c, nil
}

func (c *Client) Connect() error {
	laddr := &net.UDPAddr{Port: int(c.localPort)}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		c.SetMessage(fmt.Sprintf("Socket Error: %v", err))
		return fmt.Errorf("udp: %s: listen: %w", c.Name(), err)
	}

	c.conn = conn
	c.stopped = make(chan struct{})
	c.react = reactor.Acquire()
	c.SetConnected(true)
	c.BumpConnCount()
	c.SetMessage("Connected")
	c.Status.RequestScan()

	c.react.Go(c.recvLoop)
	c.DrainOnConnect()
	return nil
}

func (c *Client) recvLoop() {
	for {
		select {
		case <-c.stopped:
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(rxTimeout))
		n, addr, err := c.conn.ReadFromUDP(c.rxScratch)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.BumpConnCount()
				c.SetMessage("Rx timeout")
				c.Status.RequestScan()
				continue
			}
			select {
			case <-c.stopped:
				return
			default:
			}
			c.log.Error().Err(err).Msg("recv error")
			c.SetMessage(fmt.Sprintf("Socket Error: %v", err))
			c.BumpConnCount()
			continue
		}

		if !sameUDPAddr(addr, c.peer) {
			c.BumpUnknownCount()
			continue
		}
		c.handlePacket(c.rxScratch[:n])
	}
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func (c *Client) handlePacket(pkt []byte) {
	if len(pkt) < frame.HeaderSize {
		c.BumpUnknownCount()
		c.SetMessage("small packet")
		return
	}
	h, err := frame.ReadHeader(pkt)
	if err != nil {
		c.BumpUnknownCount()
		c.SetMessage("Corrupt packet!")
		return
	}
	body := pkt[frame.HeaderSize:]
	if int(h.BodyLen) > len(body) {
		// Truncated relative to the declared length: grow the scratch
		// buffer so a future, larger packet of this shape isn't dropped,
		// and discard this one, exactly as pscudp.cpp::recvdata does.
		want := int(h.BodyLen) + frame.HeaderSize
		if want > len(c.rxScratch) {
			grown := make([]byte, want)
			c.rxScratch = grown
		}
		c.BumpUnknownCount()
		c.SetMessage("truncated body")
		return
	}
	body = body[:h.BodyLen]

	blk, ok := c.LookupRecv(h.MsgID)
	if !ok {
		c.BumpUnknownCount()
		return
	}
	blk.Data.Assign(body)
	blk.Stamp(time.Now())
	blk.RequestScan()
	blk.Listeners.Invoke(blk)
}

// QueueSend frames payload under code and appends it to the bounded
// outbound queue; call FlushSend to actually write it to the socket.
func (c *Client) QueueSend(code uint16, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	blk := c.GetSend(code)
	if already := blk.MarkQueued(); already {
		return ErrAlreadyQueued
	}

	c.txMu.Lock()
	if len(c.txQueue) >= maxTXQueue {
		c.txMu.Unlock()
		blk.ClearQueued()
		return ErrTXQueueFull
	}
	buf := c.allocTXBuffer(frame.HeaderSize + len(payload))
	frame.PutHeader(buf, frame.Header{MsgID: code, BodyLen: uint32(len(payload))})
	copy(buf[frame.HeaderSize:], payload)
	c.txQueue = append(c.txQueue, outPacket{blk: blk, buf: buf})
	c.txMu.Unlock()

	blk.Touch()
	return nil
}

func (c *Client) allocTXBuffer(n int) []byte {
	if l := len(c.txFree); l > 0 {
		buf := c.txFree[l-1]
		c.txFree = c.txFree[:l-1]
		if cap(buf) >= n {
			return buf[:n]
		}
	}
	return make([]byte, n)
}

func (c *Client) releaseTXBuffer(buf []byte) {
	if len(c.txFree) >= maxTXQueue {
		return
	}
	c.txFree = append(c.txFree, buf[:0])
}

// FlushSend writes every queued packet with WriteToUDP, leaving any packet
// that hits a transient error (EAGAIN-equivalent) queued for the next call.
func (c *Client) FlushSend() error {
	if !c.IsConnected() {
		return nil
	}
	c.txMu.Lock()
	queued := c.txQueue
	c.txQueue = nil
	c.txMu.Unlock()

	remaining := queued[:0]
	var freed [][]byte
	var firstErr error
	for _, p := range queued {
		n, err := c.conn.WriteToUDP(p.buf, c.peer)
		switch {
		case err != nil:
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				remaining = append(remaining, p)
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			p.blk.ClearQueued()
			freed = append(freed, p.buf)
		case n < len(p.buf):
			if firstErr == nil {
				firstErr = fmt.Errorf("udp: short write: %d of %d bytes", n, len(p.buf))
			}
			p.blk.ClearQueued()
			freed = append(freed, p.buf)
		default:
			p.blk.ClearQueued()
			freed = append(freed, p.buf)
		}
	}

	c.txMu.Lock()
	c.txQueue = append(remaining, c.txQueue...)
	for _, buf := range freed {
		c.releaseTXBuffer(buf)
	}
	c.txMu.Unlock()
	if firstErr != nil {
		c.SetMessage(fmt.Sprintf("Socket Error: %v", firstErr))
		c.Status.RequestScan()
	}
	return firstErr
}

// ForceReConnect is a no-op: a UDP socket has no connection to drop. It
// exists only to satisfy engine.Engine.
func (c *Client) ForceReConnect() error {
	return nil
}

// Stop closes the socket and releases the shared reactor. Idempotent.
func (c *Client) Stop() {
	if c.stopped == nil {
		return
	}
	select {
	case <-c.stopped:
		return
	default:
	}
	close(c.stopped)
	if c.conn != nil {
		c.conn.Close()
	}
	c.SetConnected(false)
	if c.react != nil {
		reactor.Release()
	}
}

func (c *Client) Report(level int) string {
	base := c.Base.Report()
	if level <= 0 {
		return base
	}
	c.txMu.Lock()
	nq, nf := len(c.txQueue), len(c.txFree)
	c.txMu.Unlock()
	return fmt.Sprintf("%s txqueue=%d txfree=%d", base, nq, nf)
}
