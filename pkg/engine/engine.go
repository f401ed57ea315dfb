// Package engine provides the common base shared by the TCP, UDP, and UDP
// fast-capture engines: the send/receive Block maps, connection bookkeeping,
// the on-connect callback list, and the process-wide engine registry.
package engine

import (
	"fmt"
	"sync"

	"github.com/mdavidsaver/pscdrv/pkg/block"
)

// Engine is the behavior every concrete transport (tcp.Client, udp.Client,
// udpfast.Capture) exposes to the registry and to cmd/pscctl, which
// constructs them.
type Engine interface {
	Name() string
	Connect() error
	Stop()
	ForceReConnect() error
	IsConnected() bool
	QueueSend(code uint16, payload []byte) error
	FlushSend() error
	Report(level int) string
	GetSend(code uint16) *block.Block
	GetRecv(code uint16) *block.Block
}

// Base is the common state every Engine embeds: block maps, connection
// counters, the last status message, and the engine-level status scan.
type Base struct {
	NameV string
	Host  string
	Port  uint16
	Mask  uint

	mu         sync.Mutex
	sendBlocks map[uint16]*block.Block
	recvBlocks map[uint16]*block.Block

	connected    bool
	message      string
	unknownCount uint32
	connCount    uint32

	procOnConnect []func()

	// Status mirrors PSCBase::scan: an engine-wide scan token driven by
	// connection-state transitions rather than any one Block's payload.
	Status *block.Block
}

// NewBase constructs a Base. owner is typically the concrete engine type
// embedding this Base, so that Blocks it creates can report the owning
// engine's name back through block.Owner.
func NewBase(owner block.Owner, name, host string, port uint16, mask uint) *Base {
	b := &Base{
		NameV:      name,
		Host:       host,
		Port:       port,
		Mask:       mask,
		sendBlocks: map[uint16]*block.Block{},
		recvBlocks: map[uint16]*block.Block{},
	}
	b.Status = block.New(owner, 0)
	return b
}

func (b *Base) Name() string { return b.NameV }

// GetSend returns the send Block for code, creating it on first use.
func (b *Base) GetSend(code uint16) *block.Block {
	return b.getBlock(b.sendBlocks, code)
}

// GetRecv returns the receive Block for code, creating it on first use.
func (b *Base) GetRecv(code uint16) *block.Block {
	return b.getBlock(b.recvBlocks, code)
}

func (b *Base) getBlock(m map[uint16]*block.Block, code uint16) *block.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	if blk, ok := m[code]; ok {
		return blk
	}
	blk := block.New(b, code)
	m[code] = blk
	return blk
}

// LookupRecv returns the receive Block for code only if it already exists,
// without creating one — used by decoders that must distinguish "unknown
// message ID" from "not yet received".
func (b *Base) LookupRecv(code uint16) (*block.Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blk, ok := b.recvBlocks[code]
	return blk, ok
}

// ForEachSend calls fn once per currently-registered send Block, outside
// the map's own lock, so fn may itself touch the Block's fields (e.g. to
// clear Queued after a flush) without risking a deadlock against GetSend.
func (b *Base) ForEachSend(fn func(*block.Block)) {
	b.mu.Lock()
	blocks := make([]*block.Block, 0, len(b.sendBlocks))
	for _, blk := range b.sendBlocks {
		blocks = append(blocks, blk)
	}
	b.mu.Unlock()
	for _, blk := range blocks {
		fn(blk)
	}
}

func (b *Base) SetConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

func (b *Base) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Base) SetMessage(msg string) {
	b.mu.Lock()
	b.message = msg
	b.mu.Unlock()
}

func (b *Base) LastMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.message
}

func (b *Base) BumpUnknownCount() {
	b.mu.Lock()
	b.unknownCount++
	b.mu.Unlock()
}

func (b *Base) BumpConnCount() {
	b.mu.Lock()
	b.connCount++
	b.mu.Unlock()
}

func (b *Base) Counters() (unknown, conn uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unknownCount, b.connCount
}

// AddOnConnect registers fn to run every time the engine completes a
// successful connect, mirroring PSCBase's procOnConnect list.
func (b *Base) AddOnConnect(fn func()) {
	b.mu.Lock()
	b.procOnConnect = append(b.procOnConnect, fn)
	b.mu.Unlock()
}

// DrainOnConnect runs every registered on-connect callback, outside the
// lock, in registration order. Called on every successful transition to
// Connected, not only the first (see DESIGN.md's Open Question resolution).
func (b *Base) DrainOnConnect() {
	b.mu.Lock()
	fns := make([]func(), len(b.procOnConnect))
	copy(fns, b.procOnConnect)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Report renders the common base fields; concrete engines append their own
// transport-specific state after calling this.
func (b *Base) Report() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("%s %s:%d connected=%v unknown=%d conn=%d msg=%q",
		b.NameV, b.Host, b.Port, b.connected, b.unknownCount, b.connCount, b.message)
}
