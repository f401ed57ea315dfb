package udpfast

import (
	"time"
)

// cacheLoop is the CACHE worker: it drains pending in one swap, updates
// Blocks, journals to disk when recording, refills the short-term
// snapshot ring, and returns consumed buffers to vpool.
func (c *Capture) cacheLoop() {
	c.log.Debug().Msg("cache worker starting")
	defer c.log.Debug().Msg("cache worker stopped")

	var inprog []pkt
	for {
		if len(inprog) > 0 {
			c.returnToPool(inprog)
			inprog = nil
		}

		select {
		case <-c.stopped:
			return
		default:
		}

		if !c.pendingReady.wait(c.stopped) {
			return
		}
		now := time.Now()

		c.rxMu.Lock()
		inprog = c.pending
		c.pending = nil
		c.rxMu.Unlock()

		if len(inprog) == 0 {
			continue
		}

		c.fileMu.Lock()
		record := c.record
		c.fileMu.Unlock()
		if !record {
			c.closeJournal()
		}

		for i := range inprog {
			p := &inprog[i]
			blk, ok := c.LookupRecv(p.msgid)
			if !ok {
				c.ukncount.Add(1)
				continue
			}
			blk.Data.Assign(p.body)
			blk.Stamp(p.rxtime)
			blk.RequestScan()
			blk.Listeners.Invoke(blk)
		}

		if record {
			if err := c.writeJournal(inprog, now); err != nil {
				c.log.Error().Err(err).Msg("journal write failed")
				c.fileMu.Lock()
				c.lasterror = err.Error()
				c.fileMu.Unlock()
			}
		}

		c.appendShort(inprog)
	}
}

// returnToPool swaps consumed packet buffers back into vpool, waking the
// RX worker if vpool transitioned from empty to non-empty.
func (c *Capture) returnToPool(inprog []pkt) {
	c.rxMu.Lock()
	wasEmpty := len(c.vpool) == 0
	for _, p := range inprog {
		if p.body != nil {
			c.vpool = append(c.vpool, p.body[:cap(p.body)])
		}
	}
	unstall := wasEmpty && len(c.vpool) > 0
	c.rxMu.Unlock()
	if unstall {
		c.vpoolStall.notify()
	}
}
