// Package udpfast implements the high-rate UDP capture pipeline: a batched
// receive worker feeding a free-list-backed pending queue, and a cache
// worker that updates Blocks, journals packets to disk, and maintains a
// bounded short-term snapshot ring for external readers.
package udpfast

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mdavidsaver/pscdrv/pkg/engine"
	"github.com/mdavidsaver/pscdrv/pkg/pscconfig"
	"github.com/mdavidsaver/pscdrv/pkg/pscio"
)

// iovMax bounds the recvmmsg batch size, and iovMax/2 bounds the number of
// packets written per journal Write call; the Go equivalent of the
// platform's IOV_MAX.
const iovMax = 1024

// pkt is one validated, received datagram awaiting cache-worker processing.
// body is always a vpool buffer, returned to vpool once consumed.
type pkt struct {
	msgid   uint16
	bodylen uint32
	rxtime  time.Time
	body    []byte
}

// signal is a single-slot wakeup, the Go equivalent of an epicsEvent used
// purely for set/wait handoff between the RX and CACHE workers.
type signal chan struct{}

func newSignal() signal { return make(signal, 1) }

func (s signal) notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}

func (s signal) wait(stop <-chan struct{}) bool {
	select {
	case <-s:
		return true
	case <-stop:
		return false
	}
}

// Capture is a PSC/UDP-Fast engine: a dedicated high-rate receiver with its
// own RX/CACHE worker pair, independent of the shared reactor.
type Capture struct {
	*engine.Base

	log zerolog.Logger

	conn *net.UDPConn
	peer *net.UDPAddr
	self *net.UDPAddr

	maxPacketSize int
	batchSize     int

	stopped  chan struct{}
	group    *errgroup.Group
	stopOnce sync.Once

	rxMu       sync.Mutex
	vpool      [][]byte
	pending    []pkt
	vpoolStall signal

	pendingReady signal

	shortMu    sync.Mutex
	shortBuf   []pkt
	shortLimit int

	fileMu   sync.Mutex
	filedir  string
	filebase string
	record   bool
	reopen   bool
	lastfile string
	lasterror string
	journal   *journalFile
	filetotal uint64

	rxcnt      atomic.Uint64
	ntimeout   atomic.Uint64
	ndrops     atomic.Uint64
	nignore    atomic.Uint64
	noom       atomic.Uint64
	netrx      atomic.Uint64
	storewrote atomic.Uint64
	lastsize   atomic.Uint64
	ukncount   atomic.Uint64
}

// New resolves the peer and records ifacePort (0 = ephemeral) as the local
// port; it opens no socket and starts no worker. Connect does both.
func New(name, host string, hostPort, ifacePort uint16) (*Capture, error) {
	peer, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, hostPort))
	if err != nil {
		return nil, fmt.Errorf("udpfast: resolve %s:%d: %w", host, hostPort, err)
	}
	c := &Capture{
		peer:          peer,
		maxPacketSize: max(8, pscconfig.UDPMaxPacketSize()),
		vpoolStall:    newSignal(),
		pendingReady:  newSignal(),
		reopen:        true,
	}
	c.Base = engine.NewBase(c, name, host, hostPort, 0)
	c.log = pscio.For(name)
	c.self = &net.UDPAddr{Port: int(ifacePort)}
	return c, nil
}

// SetJournal configures the on-disk journal destination. dir/base follow
// udpdrv.cpp's filedir/filebase: files rotate as
// {dir}/{base}{YYYYMMDD-HHMMSS}.dat. Passing an empty base disables
// recording (mirrors the original's "record && !filebase.empty()" gate).
func (c *Capture) SetJournal(dir, base string) {
	c.fileMu.Lock()
	c.filedir = dir
	c.filebase = base
	c.fileMu.Unlock()
}

// SetRecording toggles whether received packets are journaled to disk.
func (c *Capture) SetRecording(on bool) {
	c.fileMu.Lock()
	c.record = on
	if on {
		c.reopen = true
	}
	c.fileMu.Unlock()
}

// SetShortLimit sets the capacity of the short-term snapshot ring.
func (c *Capture) SetShortLimit(n int) {
	c.shortMu.Lock()
	c.shortLimit = n
	c.shortMu.Unlock()
}

// Connect binds the capture socket, sizes the vpool free-list, and starts
// the RX and CACHE worker goroutines.
func (c *Capture) Connect() error {
	// Dialed (not merely bound) so the kernel filters datagrams from any
	// source other than the configured peer, rather than this package
	// re-implementing recvfrom's source-address comparison in user space.
	conn, err := net.DialUDP("udp", c.self, c.peer)
	if err != nil {
		c.SetMessage(fmt.Sprintf("Socket Error: %v", err))
		return fmt.Errorf("udpfast: %s: listen: %w", c.Name(), err)
	}
	c.conn = conn
	if err := c.tuneSocket(); err != nil {
		conn.Close()
		return fmt.Errorf("udpfast: %s: %w", c.Name(), err)
	}

	rcvbuf := pscconfig.UDPSetSockBuf()
	if rcvbuf <= 0 {
		rcvbuf = c.currentRcvBuf()
	}
	c.batchSize = min(iovMax, max(1, rcvbuf/c.maxPacketSize))

	vpoolTotal := int(math.Ceil(2 * pscconfig.UDPMaxPacketRate() * pscconfig.UDPBufferPeriod().Seconds()))
	if vpoolTotal < 1 {
		vpoolTotal = 1
	}
	c.rxMu.Lock()
	c.vpool = make([][]byte, vpoolTotal)
	for i := range c.vpool {
		c.vpool[i] = make([]byte, c.maxPacketSize)
	}
	c.pending = make([]pkt, 0, vpoolTotal)
	c.rxMu.Unlock()

	c.stopped = make(chan struct{})
	c.SetConnected(true)
	c.BumpConnCount()
	c.SetMessage("Connected")
	c.Status.RequestScan()

	var g errgroup.Group
	c.group = &g
	g.Go(func() error { c.rxLoop(); return nil })
	g.Go(func() error { c.cacheLoop(); return nil })
	c.DrainOnConnect()
	return nil
}

// ForceReConnect is a no-op: udpdrv.cpp's UDPFast never reconnects, only
// connects once and stops. Kept to satisfy engine.Engine.
func (c *Capture) ForceReConnect() error { return nil }

// QueueSend and FlushSend are intentionally no-ops: UDPFast is a dedicated
// receiver, exactly as udpdrv.h declares its send hooks empty.
func (c *Capture) QueueSend(uint16, []byte) error { return errNoSend }
func (c *Capture) FlushSend() error               { return nil }

var errNoSend = errors.New("udpfast: capture engine does not send")

// Stop halts both workers: it flips the running flag, wakes the RX worker
// by expiring the capture socket's read deadline, signals both workers'
// wait conditions, and joins them.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		if c.stopped == nil {
			return
		}
		close(c.stopped)
		c.SetConnected(false)
		if c.conn != nil {
			// recvmmsg waits in the runtime poller until the read deadline;
			// moving the deadline to now returns it at once. A datagram
			// from another socket cannot do this: the capture socket is
			// connected to the peer, so the kernel drops anything else.
			c.conn.SetReadDeadline(time.Now())
		}
		c.vpoolStall.notify()
		c.pendingReady.notify()
		if c.group != nil {
			c.group.Wait()
		}
		if c.conn != nil {
			c.conn.Close()
		}
		c.closeJournal()
	})
}

// Counters returns the capture-specific atomic counters, mirroring
// udpdrv.cpp's size_t fields exposed via report().
func (c *Capture) Counters() (rxcnt, ntimeout, ndrops, nignore, noom, netrx, storewrote uint64) {
	return c.rxcnt.Load(), c.ntimeout.Load(), c.ndrops.Load(), c.nignore.Load(),
		c.noom.Load(), c.netrx.Load(), c.storewrote.Load()
}

func (c *Capture) Report(level int) string {
	base := c.Base.Report()
	if level <= 0 {
		return base
	}
	c.rxMu.Lock()
	vpoolCnt, pendingCnt := len(c.vpool), len(c.pending)
	c.rxMu.Unlock()
	c.shortMu.Lock()
	shortLen, shortLimit := len(c.shortBuf), c.shortLimit
	c.shortMu.Unlock()
	rxcnt, ntimeout, ndrops, nignore, noom, netrx, storewrote := c.Counters()
	return fmt.Sprintf(
		"%s vpool#=%d pending#=%d short=%d/%d rxcnt=%d ntimeout=%d ndrops=%d nignore=%d noom=%d netrx=%d storewrote=%d",
		base, vpoolCnt, pendingCnt, shortLen, shortLimit,
		rxcnt, ntimeout, ndrops, nignore, noom, netrx, storewrote)
}
