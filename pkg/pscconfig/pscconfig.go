// Package pscconfig holds the driver's global tunables and the on-disk
// YAML configuration that seeds them and the engines cmd/pscctl creates.
// Tunables are read far more often than they change (at most once at
// startup), so each is held in an atomic rather than behind a shared mutex.
package pscconfig

import (
	"math"
	"sync/atomic"
	"time"
)

var (
	debug            atomic.Int64
	inactivityTime   atomic.Int64 // nanoseconds
	maxSendBuffer    atomic.Int64
	udpMaxPacketSize atomic.Int64
	udpMaxPacketRate atomic.Uint64 // float64 bits
	udpBufferPeriod  atomic.Int64  // nanoseconds
	udpMaxLenMB      atomic.Uint64 // float64 bits
	udpSetSockBuf    atomic.Int64
	udpDSyncSizeMB   atomic.Uint64 // float64 bits
)

func init() {
	ResetDefaults()
}

// ResetDefaults restores every tunable to its documented default. Exposed
// mainly so tests can run in isolation regardless of load order.
func ResetDefaults() {
	debug.Store(0)
	inactivityTime.Store(int64(5 * time.Second))
	maxSendBuffer.Store(1024 * 1024)
	udpMaxPacketSize.Store(1024)
	udpMaxPacketRate.Store(math.Float64bits(280000))
	udpBufferPeriod.Store(int64(time.Second))
	udpMaxLenMB.Store(math.Float64bits(2000))
	udpSetSockBuf.Store(0)
	udpDSyncSizeMB.Store(math.Float64bits(0))
}

func Debug() int          { return int(debug.Load()) }
func SetDebug(v int)      { debug.Store(int64(v)) }

func InactivityTime() time.Duration     { return time.Duration(inactivityTime.Load()) }
func SetInactivityTime(d time.Duration) { inactivityTime.Store(int64(d)) }

func MaxSendBuffer() int     { return int(maxSendBuffer.Load()) }
func SetMaxSendBuffer(n int) { maxSendBuffer.Store(int64(n)) }

func UDPMaxPacketSize() int     { return int(udpMaxPacketSize.Load()) }
func SetUDPMaxPacketSize(n int) { udpMaxPacketSize.Store(int64(n)) }

func UDPMaxPacketRate() float64 { return math.Float64frombits(udpMaxPacketRate.Load()) }
func SetUDPMaxPacketRate(v float64) { udpMaxPacketRate.Store(math.Float64bits(v)) }

func UDPBufferPeriod() time.Duration     { return time.Duration(udpBufferPeriod.Load()) }
func SetUDPBufferPeriod(d time.Duration) { udpBufferPeriod.Store(int64(d)) }

func UDPMaxLenMB() float64     { return math.Float64frombits(udpMaxLenMB.Load()) }
func SetUDPMaxLenMB(v float64) { udpMaxLenMB.Store(math.Float64bits(v)) }

func UDPSetSockBuf() int     { return int(udpSetSockBuf.Load()) }
func SetUDPSetSockBuf(n int) { udpSetSockBuf.Store(int64(n)) }

func UDPDSyncSizeMB() float64     { return math.Float64frombits(udpDSyncSizeMB.Load()) }
func SetUDPDSyncSizeMB(v float64) { udpDSyncSizeMB.Store(math.Float64bits(v)) }
