package udpfast

import "encoding/binary"

// appendShort moves as many packets from inprog as fit into the short-term
// snapshot ring, up to shortLimit, and requests a scan once the ring fills
// — external readers observe that via the Status Block.
//
// Ownership of each moved packet's body transfers to shortBuf: inprog[i]
// is zeroed so returnToPool's subsequent pass over the same inprog slice
// skips it, the same swap-and-empty-the-source approach udpdrv.cpp takes
// with std::swap_ranges before its own de-assign loop. Without this, a
// vpool buffer would be reachable from both shortBuf and vpool at once,
// and RX could overwrite a packet a reader is still looking at.
func (c *Capture) appendShort(inprog []pkt) {
	c.shortMu.Lock()
	defer c.shortMu.Unlock()
	if c.shortLimit == 0 {
		return
	}
	room := c.shortLimit - len(c.shortBuf)
	if room <= 0 {
		return
	}
	n := len(inprog)
	if n > room {
		n = room
	}
	for i := 0; i < n; i++ {
		c.shortBuf = append(c.shortBuf, inprog[i])
		inprog[i].body = nil
	}
	if len(c.shortBuf) >= c.shortLimit {
		c.Status.RequestScan()
	}
}

// ClearShort atomically drains the short-term snapshot ring and returns its
// buffers to vpool, waking the RX worker if vpool had been empty.
func (c *Capture) ClearShort() int {
	c.shortMu.Lock()
	drained := c.shortBuf
	c.shortBuf = nil
	c.shortMu.Unlock()

	c.rxMu.Lock()
	wasEmpty := len(c.vpool) == 0
	for _, p := range drained {
		if p.body != nil {
			c.vpool = append(c.vpool, p.body[:cap(p.body)])
		}
	}
	unstall := wasEmpty && len(c.vpool) > 0
	c.rxMu.Unlock()
	if unstall {
		c.vpoolStall.notify()
	}
	return len(drained)
}

// ShortLen reports how many packets currently sit in the snapshot ring.
func (c *Capture) ShortLen() int {
	c.shortMu.Lock()
	defer c.shortMu.Unlock()
	return len(c.shortBuf)
}

// ReadShortU32BE extracts a big-endian u32 field at byte offset off from
// every short-buffer packet matching msgid and returns the values in ring
// order; packets too short for the field are skipped.
func (c *Capture) ReadShortU32BE(msgid uint16, off int) []uint32 {
	c.shortMu.Lock()
	defer c.shortMu.Unlock()
	var out []uint32
	for _, p := range c.shortBuf {
		if p.msgid != msgid || off+4 > len(p.body) {
			continue
		}
		out = append(out, binary.BigEndian.Uint32(p.body[off:off+4]))
	}
	return out
}

// ReadShortI24BE extracts a packed big-endian signed 24-bit field at byte
// offset off from every short-buffer packet matching msgid.
func (c *Capture) ReadShortI24BE(msgid uint16, off int) []int32 {
	c.shortMu.Lock()
	defer c.shortMu.Unlock()
	var out []int32
	for _, p := range c.shortBuf {
		if p.msgid != msgid || off+3 > len(p.body) {
			continue
		}
		v := uint32(p.body[off])<<16 | uint32(p.body[off+1])<<8 | uint32(p.body[off+2])
		if v&0x800000 != 0 {
			v |= 0xff000000 // sign-extend
		}
		out = append(out, int32(v))
	}
	return out
}
