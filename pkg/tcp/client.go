// Package tcp implements the PSC/TCP engine: a reconnecting TCP client
// speaking the PSC frame protocol, with a send queue and asymmetric
// inactivity timeouts.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdavidsaver/pscdrv/pkg/block"
	"github.com/mdavidsaver/pscdrv/pkg/dbuffer"
	"github.com/mdavidsaver/pscdrv/pkg/engine"
	"github.com/mdavidsaver/pscdrv/pkg/frame"
	"github.com/mdavidsaver/pscdrv/pkg/pscconfig"
	"github.com/mdavidsaver/pscdrv/pkg/pscio"
	"github.com/mdavidsaver/pscdrv/pkg/reactor"
)

// reconnectDelay is the fixed backoff between a failed/dropped connection
// and the next dial attempt.
const reconnectDelay = 5 * time.Second

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateReconnectBackoff
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateConnecting:
		return "Connecting"
	case stateConnected:
		return "Connected"
	case stateReconnectBackoff:
		return "ReconnectBackoff"
	default:
		return "Unknown"
	}
}

// ErrAlreadyQueued is returned by QueueSend when the target Block already
// has an outstanding, unflushed send.
var ErrAlreadyQueued = errors.New("tcp: block already queued")

// ErrSendBufferFull is returned by QueueSend when appending the frame would
// exceed pscconfig.MaxSendBuffer.
var ErrSendBufferFull = errors.New("tcp: send buffer full")

// ErrNotConnected is returned by ForceReConnect when the engine isn't
// currently connected.
var ErrNotConnected = errors.New("tcp: not connected")

// Client is a reconnecting PSC/TCP engine. It embeds *engine.Base for the
// send/receive Block maps and connection bookkeeping; Client.mu guards only
// the fields declared here (connection handle, decoder phase, send queue),
// kept deliberately separate from Base's own internal lock.
type Client struct {
	*engine.Base

	log   zerolog.Logger
	react *reactor.Reactor

	dialer net.Dialer

	mu             sync.Mutex
	state          connState
	conn           net.Conn
	reconnectTimer *time.Timer
	stopped        bool

	haveHead  bool
	hdr       frame.Header
	bodyBlock *block.Block
	expect    int
	inbuf     *dbuffer.Buffer

	sendBuf *dbuffer.Buffer
}

// New constructs a Client for the named peer. timeoutMask bit 0 controls
// whether the inactivity timeout applies to reads as well as writes,
// matching PSC::PSC's mask argument.
func New(name, host string, port uint16, timeoutMask uint) *Client {
	c := &Client{
		expect:  frame.HeaderSize,
		inbuf:   dbuffer.New(),
		sendBuf: dbuffer.New(),
	}
	c.Base = engine.NewBase(c, name, host, port, timeoutMask)
	c.log = pscio.For(name)
	return c
}

// Connect begins (or resumes, after Stop) connecting to the configured
// peer. It returns immediately; the dial runs on the shared reactor.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return fmt.Errorf("tcp: %s: Connect called outside Idle state (%s)", c.Name(), c.state)
	}
	c.state = stateConnecting
	c.stopped = false
	c.resetDecoderLocked()
	c.mu.Unlock()

	c.react = reactor.Acquire()
	c.SetMessage("Connecting...")
	c.react.Go(c.dial)
	return nil
}

func (c *Client) resetDecoderLocked() {
	c.haveHead = false
	c.expect = frame.HeaderSize
	c.bodyBlock = nil
	c.inbuf.Clear()
}

func (c *Client) dial() {
	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	ctx, cancel := context.WithTimeout(context.Background(), reconnectDelay*2)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.log.Error().Err(err).Str("addr", addr).Msg("dial failed")
		c.SetMessage("Failed to initiate connection.")
		c.armReconnect()
		return
	}
	c.onConnected(conn)
}

func (c *Client) onConnected(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = stateConnected
	c.resetDecoderLocked()
	c.mu.Unlock()

	c.SetConnected(true)
	c.BumpConnCount()
	c.SetMessage("Connected")
	c.Status.RequestScan()

	c.react.Go(c.readLoop)
	c.DrainOnConnect()
}

func (c *Client) applyReadDeadline(conn net.Conn) {
	if c.Mask&1 != 0 {
		conn.SetReadDeadline(time.Now().Add(pscconfig.InactivityTime()))
	} else {
		conn.SetReadDeadline(time.Time{})
	}
}

func (c *Client) applyWriteDeadline(conn net.Conn) {
	conn.SetWriteDeadline(time.Now().Add(pscconfig.InactivityTime()))
}

func (c *Client) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		c.mu.Lock()
		conn := c.conn
		stopped := c.stopped
		c.mu.Unlock()
		if stopped || conn == nil {
			return
		}

		c.applyReadDeadline(conn)
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.mu.Lock()
			c.inbuf.Append(chunk)
			c.mu.Unlock()
			c.decode()
		}
		if err != nil {
			c.handleIOError(err)
			return
		}
	}
}

func (c *Client) handleIOError(err error) {
	c.mu.Lock()
	wasConnected := c.state == stateConnected
	c.mu.Unlock()

	var msg string
	switch {
	case errors.Is(err, io.EOF):
		msg = "Connection closed by PSC"
	case isTimeout(err):
		if wasConnected {
			msg = "RX Data Timeout"
		} else {
			msg = "Timeout while connecting"
		}
	default:
		msg = fmt.Sprintf("Socket Error: %v", err)
	}
	c.log.Error().Err(err).Msg(msg)
	c.SetMessage(msg)
	c.startReconnect()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// decode drains inbuf through the header/body state machine, dispatching
// every frame that has fully arrived.
func (c *Client) decode() {
	for {
		c.mu.Lock()
		if c.inbuf.Size() < c.expect {
			c.mu.Unlock()
			return
		}

		if !c.haveHead {
			var raw [frame.HeaderSize]byte
			c.inbuf.CopyOut(raw[:], 0, frame.HeaderSize)
			h, err := frame.ReadHeader(raw[:])
			if err != nil {
				c.mu.Unlock()
				c.log.Error().Err(err).Msg("Framing error!")
				c.SetMessage("Framing error!")
				c.startReconnect()
				return
			}
			discard := dbuffer.New()
			discard.Consume(c.inbuf, frame.HeaderSize)

			c.hdr = h
			c.haveHead = true
			c.expect = int(h.BodyLen)
			if blk, ok := c.LookupRecv(h.MsgID); ok {
				c.bodyBlock = blk
			} else {
				c.bodyBlock = nil
				c.BumpUnknownCount()
			}
			c.mu.Unlock()
			continue
		}

		bodyLen := c.expect
		blk := c.bodyBlock
		body := dbuffer.New()
		body.Consume(c.inbuf, bodyLen)
		if blk != nil {
			blk.Data.Swap(body)
		}
		c.resetDecoderLocked()
		c.mu.Unlock()

		if blk != nil {
			blk.Stamp(time.Now())
			blk.RequestScan()
			blk.Listeners.Invoke(blk)
		}
	}
}

// QueueSend frames payload under code and appends it to the outgoing
// queue. It does not write to the socket; call FlushSend to do that. Unlike
// FlushSend, QueueSend does not require a live connection — psc.cpp's
// queueSend stages into the send buffer regardless of connection state, and
// only flushSend refuses to write while disconnected.
func (c *Client) QueueSend(code uint16, payload []byte) error {
	blk := c.GetSend(code)
	if already := blk.MarkQueued(); already {
		return ErrAlreadyQueued
	}

	hdr := frame.Header{MsgID: code, BodyLen: uint32(len(payload))}
	var raw [frame.HeaderSize]byte
	frame.PutHeader(raw[:], hdr)

	c.mu.Lock()
	if c.sendBuf.Size()+frame.HeaderSize+len(payload) > pscconfig.MaxSendBuffer() {
		c.mu.Unlock()
		blk.ClearQueued()
		return ErrSendBufferFull
	}
	c.sendBuf.Append(append([]byte(nil), raw[:]...))
	if len(payload) > 0 {
		c.sendBuf.Append(append([]byte(nil), payload...))
	}
	c.mu.Unlock()

	blk.Touch()
	return nil
}

// FlushSend writes the queued frames to the socket in a single Write, then
// clears the Queued flag on every send Block. It is a no-op when not
// connected, matching PSC::flushSend's early return.
func (c *Client) FlushSend() error {
	c.mu.Lock()
	if c.state != stateConnected || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	if c.sendBuf.Size() == 0 {
		c.mu.Unlock()
		return nil
	}
	data := c.sendBuf.Bytes()
	conn := c.conn
	c.sendBuf = dbuffer.New()
	c.mu.Unlock()

	c.applyWriteDeadline(conn)
	n, err := conn.Write(data)
	if err == nil && n < len(data) {
		err = fmt.Errorf("tcp: short write: %d of %d bytes", n, len(data))
	}
	if err != nil {
		c.handleIOError(err)
		return err
	}

	c.ForEachSend(func(blk *block.Block) { blk.ClearQueued() })
	return nil
}

// ForceReConnect tears down the current connection and immediately begins
// reconnecting. It is a no-op when not connected.
func (c *Client) ForceReConnect() error {
	c.mu.Lock()
	connected := c.state == stateConnected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	c.startReconnect()
	return nil
}

func (c *Client) startReconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	alreadyBackingOff := c.state == stateReconnectBackoff
	c.state = stateReconnectBackoff
	c.mu.Unlock()

	c.SetConnected(false)
	if alreadyBackingOff {
		return
	}
	c.armReconnect()
}

func (c *Client) armReconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.state = stateReconnectBackoff
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(reconnectDelay, c.reconnect)
	c.mu.Unlock()
}

func (c *Client) reconnect() {
	c.mu.Lock()
	stopped := c.stopped
	c.state = stateConnecting
	c.resetDecoderLocked()
	c.mu.Unlock()
	if stopped {
		return
	}
	c.react.Go(c.dial)
}

// Stop tears down the connection (if any), cancels any pending reconnect
// timer, and releases the shared reactor. It is idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	wasActive := c.state != stateIdle
	c.state = stateIdle
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.SetConnected(false)
	if wasActive && c.react != nil {
		reactor.Release()
	}
}

// Report renders the engine's base state plus TCP-specific decoder state.
func (c *Client) Report(level int) string {
	c.mu.Lock()
	state := c.state.String()
	expect := c.expect
	haveHead := c.haveHead
	c.mu.Unlock()

	base := c.Base.Report()
	if level <= 0 {
		return base
	}
	return fmt.Sprintf("%s state=%s expect=%d have_head=%v", base, state, expect, haveHead)
}
