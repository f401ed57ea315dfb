// Package dbuffer implements a discontiguous byte buffer: a container that
// is either a single owned contiguous vector or a chain of segments donated
// from elsewhere (typically raw chunks read off a socket). Append, Consume
// and CopyOutTo move segments without copying bytes; Resize and Bytes
// flatten a chain into one slice by copying.
//
// A Buffer is not safe for concurrent use; callers that share one across
// goroutines (as block.Block does) must hold their own lock.
package dbuffer

import "fmt"

// Buffer holds the latest payload of a Block, or an in-flight accumulation
// of bytes read from a connection. Exactly one backing form is active at a
// time: an owned contiguous slice, or a chain of segments.
type Buffer struct {
	contiguous bool
	owned      []byte
	segs       [][]byte
}

// New returns an empty, contiguous Buffer.
func New() *Buffer {
	return &Buffer{contiguous: true}
}

// Size returns the total number of bytes held, the sum of all stride
// lengths.
func (b *Buffer) Size() int {
	if b.contiguous {
		return len(b.owned)
	}
	total := 0
	for _, s := range b.segs {
		total += len(s)
	}
	return total
}

// NumStrides returns the number of contiguous runs backing the buffer: 1 for
// a non-empty owned vector, 0 when empty, or the segment count for a chain.
func (b *Buffer) NumStrides() int {
	if b.contiguous {
		if len(b.owned) == 0 {
			return 0
		}
		return 1
	}
	return len(b.segs)
}

// Clear releases all backings and becomes empty.
func (b *Buffer) Clear() {
	b.owned = nil
	b.segs = nil
	b.contiguous = true
}

// Resize changes the logical size to n. If backed by a chain, the chain is
// flattened into a single owned vector first (copying at most once); if
// already owned, it resizes in place. Growing pads with zero bytes.
func (b *Buffer) Resize(n int) {
	if n < 0 {
		n = 0
	}
	if !b.contiguous {
		flat := make([]byte, n)
		b.copyOutUnchecked(flat, 0, min(n, b.Size()))
		b.segs = nil
		b.owned = flat
		b.contiguous = true
		return
	}
	switch {
	case n <= len(b.owned):
		b.owned = b.owned[:n]
	default:
		grown := make([]byte, n)
		copy(grown, b.owned)
		b.owned = grown
	}
}

// Assign discards any existing backing and becomes an owned copy of buf.
func (b *Buffer) Assign(buf []byte) {
	b.segs = nil
	b.owned = append([]byte(nil), buf...)
	b.contiguous = true
}

// Append donates seg to the buffer's segment chain without copying. Used to
// accumulate raw reads off a socket without reconciling them into one slice.
func (b *Buffer) Append(seg []byte) {
	if len(seg) == 0 {
		return
	}
	b.appendSegments([][]byte{seg})
}

func (b *Buffer) appendSegments(segs [][]byte) {
	if len(segs) == 0 {
		return
	}
	if b.contiguous {
		if len(b.owned) > 0 {
			b.segs = append([][]byte{b.owned}, segs...)
		} else {
			b.segs = append(b.segs, segs...)
		}
		b.owned = nil
		b.contiguous = false
		return
	}
	b.segs = append(b.segs, segs...)
}

// Consume moves up to n bytes from source into b, taking ownership of the
// removed segments by re-slicing rather than copying. It returns the number
// of bytes actually moved (min(n, source.Size())).
func (b *Buffer) Consume(source *Buffer, n int) int {
	if n <= 0 {
		return 0
	}
	avail := source.Size()
	k := n
	if k > avail {
		k = avail
	}
	if k <= 0 {
		return 0
	}

	remaining := k
	var taken [][]byte

	if source.contiguous {
		if remaining >= len(source.owned) {
			taken = append(taken, source.owned)
			source.owned = nil
		} else {
			taken = append(taken, source.owned[:remaining:remaining])
			source.owned = source.owned[remaining:]
		}
	} else {
		i := 0
		for i < len(source.segs) && remaining > 0 {
			seg := source.segs[i]
			if remaining >= len(seg) {
				taken = append(taken, seg)
				remaining -= len(seg)
				i++
			} else {
				taken = append(taken, seg[:remaining:remaining])
				source.segs[i] = seg[remaining:]
				remaining = 0
			}
		}
		source.segs = source.segs[i:]
		if len(source.segs) == 0 {
			source.segs = nil
			source.contiguous = true
		}
	}

	b.appendSegments(taken)
	return k
}

// CopyIn writes src at offset, returning false (and leaving the buffer
// unchanged) unless the whole range [offset, offset+len(src)) already fits
// within Size().
func (b *Buffer) CopyIn(offset int, src []byte) bool {
	if offset < 0 || offset+len(src) > b.Size() {
		return false
	}
	if len(src) == 0 {
		return true
	}
	written := 0
	pos := 0
	walk(b.segmentsMut(), func(seg []byte) bool {
		segLen := len(seg)
		end := pos + segLen
		if end <= offset {
			pos = end
			return true
		}
		start := 0
		if offset > pos {
			start = offset - pos
		}
		avail := segLen - start
		need := len(src) - written
		n := avail
		if n > need {
			n = need
		}
		copy(seg[start:start+n], src[written:written+n])
		written += n
		pos = end
		return written < len(src)
	})
	return true
}

// CopyOut reads length bytes at offset into dst, returning false if the
// range exceeds Size(). dst must have at least length bytes of capacity.
func (b *Buffer) CopyOut(dst []byte, offset, length int) bool {
	if offset < 0 || length < 0 || offset+length > b.Size() {
		return false
	}
	b.copyOutUnchecked(dst, offset, length)
	return true
}

func (b *Buffer) copyOutUnchecked(dst []byte, offset, length int) {
	if length <= 0 {
		return
	}
	written := 0
	pos := 0
	for _, seg := range b.segmentsView() {
		segLen := len(seg)
		end := pos + segLen
		if end <= offset {
			pos = end
			continue
		}
		start := 0
		if offset > pos {
			start = offset - pos
		}
		avail := segLen - start
		need := length - written
		n := avail
		if n > need {
			n = need
		}
		copy(dst[written:written+n], seg[start:start+n])
		written += n
		pos = end
		if written >= length {
			return
		}
	}
}

// CopyOutShape performs a strided gather: it extracts up to ecount elements
// of esize bytes each, stepping iskip bytes between source elements and
// dskip bytes between destination elements, and returns the number of
// elements k actually extracted (the largest k<=ecount for which the source
// range fits within Size()). dst must have room for k*(esize+dskip) bytes
// (minus the trailing dskip).
func (b *Buffer) CopyOutShape(dst []byte, offset, esize, iskip, dskip, ecount int) int {
	if esize <= 0 || ecount <= 0 {
		return 0
	}
	size := b.Size()
	k := 0
	for k < ecount {
		need := offset + esize*(k+1) + iskip*k
		if need > size {
			break
		}
		k++
	}
	istride := esize + iskip
	dstride := esize + dskip
	for i := 0; i < k; i++ {
		srcOff := offset + i*istride
		dstOff := i * dstride
		b.copyOutUnchecked(dst[dstOff:dstOff+esize], srcOff, esize)
	}
	return k
}

// CopyOutTo appends all of b's segments (or its owned vector as a single
// segment) onto sink without copying bytes.
func (b *Buffer) CopyOutTo(sink *Buffer) {
	segs := b.segmentsView()
	if len(segs) == 0 {
		return
	}
	cp := make([][]byte, len(segs))
	copy(cp, segs)
	sink.appendSegments(cp)
}

// Swap exchanges the backing of b and other.
func (b *Buffer) Swap(other *Buffer) {
	*b, *other = *other, *b
}

// Bytes flattens the buffer into a single contiguous slice, copying only if
// the buffer is not already contiguous. Callers must not assume the
// returned slice's backing storage is unique to them when the buffer was
// already contiguous.
func (b *Buffer) Bytes() []byte {
	if b.contiguous {
		return b.owned
	}
	flat := make([]byte, b.Size())
	b.copyOutUnchecked(flat, 0, len(flat))
	return flat
}

func (b *Buffer) segmentsView() [][]byte {
	if b.contiguous {
		if len(b.owned) == 0 {
			return nil
		}
		return [][]byte{b.owned}
	}
	return b.segs
}

func (b *Buffer) segmentsMut() [][]byte {
	if b.contiguous {
		if len(b.owned) == 0 {
			return nil
		}
		return [][]byte{b.owned}
	}
	return b.segs
}

func walk(segs [][]byte, fn func(seg []byte) bool) {
	for _, seg := range segs {
		if !fn(seg) {
			return
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// String implements fmt.Stringer for debugging/logging; it never panics on
// an empty or oddly-shaped buffer.
func (b *Buffer) String() string {
	return fmt.Sprintf("dbuffer.Buffer{size=%d strides=%d}", b.Size(), b.NumStrides())
}
