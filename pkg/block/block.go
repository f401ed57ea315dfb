// Package block implements the Block cache/dispatch fabric: named,
// frame-ID-keyed byte regions with subscriber fan-out and coalescing scan
// requests, shared by the TCP, UDP, and UDP fast-capture engines.
package block

import (
	"sync"
	"time"

	"github.com/mdavidsaver/pscdrv/pkg/dbuffer"
)

// scanBusyMask covers the three EPICS-style scan priorities (low, medium,
// high) a single RequestScan call fans out across.
const (
	PriorityLow    = 0
	PriorityMedium = 1
	PriorityHigh   = 2

	scanBusyMask = 1<<PriorityLow | 1<<PriorityMedium | 1<<PriorityHigh
)

// ScanFunc is invoked when a Block's data changes and downstream record
// processing should run. The core is usable standalone with a nil ScanFunc.
type ScanFunc func(b *Block)

// Owner is the minimal view of an engine a Block needs back a reference to,
// kept narrow to avoid an import cycle with pkg/engine.
type Owner interface {
	Name() string
}

// Block holds one engine's view of a single frame ID: the latest payload,
// its send/receive bookkeeping, and the subscribers to notify on update.
type Block struct {
	Owner Owner
	Code  uint16
	Data  *dbuffer.Buffer

	Listeners *Subscribers

	// ScanFn is called (outside any lock) when RequestScan actually fires.
	ScanFn ScanFunc

	mu sync.Mutex

	Queued bool
	Count  uint32
	RxTime time.Time

	scanBusy   uint32
	scanQueued bool
	scanCount  uint32
	scanOflow  uint32
}

// New returns a Block ready for use, with an empty Data buffer and an empty
// subscriber list.
func New(owner Owner, code uint16) *Block {
	return &Block{
		Owner:     owner,
		Code:      code,
		Data:      dbuffer.New(),
		Listeners: NewSubscribers(),
	}
}

// RequestScan fires ScanFn immediately if no scan is currently in flight for
// this Block, marking all three priority bits busy and bumping ScanCount.
// If a scan is already busy, the request is coalesced: ScanQueued is set and
// ScanOverflowCount bumps, and the fan-out is replayed once the in-flight
// scan completes via CompleteScan.
func (b *Block) RequestScan() {
	b.mu.Lock()
	if b.scanBusy == 0 {
		b.scanBusy = scanBusyMask
		b.scanCount++
		fn := b.ScanFn
		b.mu.Unlock()
		if fn != nil {
			fn(b)
		}
		return
	}
	b.scanQueued = true
	b.scanOflow++
	b.mu.Unlock()
}

// CompleteScan clears the given priority's busy bit. Once all three clear
// and a request was coalesced while busy, it re-fires RequestScan.
func (b *Block) CompleteScan(priority uint) {
	bit := uint32(1) << priority
	b.mu.Lock()
	b.scanBusy &^= bit
	requeue := b.scanBusy == 0 && b.scanQueued
	if requeue {
		b.scanQueued = false
	}
	b.mu.Unlock()
	if requeue {
		b.RequestScan()
	}
}

// ScanCount returns the number of times RequestScan actually fired ScanFn.
func (b *Block) ScanCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanCount
}

// ScanOverflowCount returns the number of RequestScan calls that were
// coalesced into an in-flight scan rather than firing immediately.
func (b *Block) ScanOverflowCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanOflow
}

// Stamp records a successful receive: bumps Count and sets RxTime to now.
func (b *Block) Stamp(now time.Time) {
	b.mu.Lock()
	b.Count++
	b.RxTime = now
	b.mu.Unlock()
}

// Touch bumps Count without touching RxTime, for send Blocks where "count"
// means messages queued rather than messages received.
func (b *Block) Touch() {
	b.mu.Lock()
	b.Count++
	b.mu.Unlock()
}

// MarkQueued and ClearQueued implement the send-block exclusivity contract:
// a Block may have at most one outstanding queued send at a time.
func (b *Block) MarkQueued() (already bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	already = b.Queued
	b.Queued = true
	return already
}

func (b *Block) ClearQueued() {
	b.mu.Lock()
	b.Queued = false
	b.mu.Unlock()
}
