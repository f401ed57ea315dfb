package dbuffer

import (
	"bytes"
	"testing"
)

func TestBufferAssignAndCopyOut(t *testing.T) {
	b := New()
	b.Assign([]byte("hello world"))

	if got := b.Size(); got != 11 {
		t.Fatalf("Size = %d, want 11", got)
	}
	if got := b.NumStrides(); got != 1 {
		t.Errorf("NumStrides = %d, want 1", got)
	}

	dst := make([]byte, 5)
	if !b.CopyOut(dst, 6, 5) {
		t.Fatalf("CopyOut: want ok")
	}
	if !bytes.Equal(dst, []byte("world")) {
		t.Errorf("CopyOut = %q, want %q", dst, "world")
	}

	if b.CopyOut(dst, 7, 5) {
		t.Error("CopyOut out of range should fail")
	}
}

func TestBufferClearAndResize(t *testing.T) {
	b := New()
	b.Assign([]byte("abc"))
	b.Clear()
	if got := b.Size(); got != 0 {
		t.Fatalf("Size after Clear = %d, want 0", got)
	}

	b.Resize(4)
	if got := b.Size(); got != 4 {
		t.Fatalf("Size after Resize = %d, want 4", got)
	}
	dst := make([]byte, 4)
	b.CopyOut(dst, 0, 4)
	if !bytes.Equal(dst, []byte{0, 0, 0, 0}) {
		t.Errorf("Resize should zero-pad, got %v", dst)
	}

	b.CopyIn(1, []byte{0xaa, 0xbb})
	b.Resize(2)
	dst = make([]byte, 2)
	b.CopyOut(dst, 0, 2)
	if !bytes.Equal(dst, []byte{0, 0xaa}) {
		t.Errorf("Resize(shrink) = %v, want truncated prefix", dst)
	}
}

func TestBufferConsumeFromOwnedSource(t *testing.T) {
	src := New()
	src.Assign([]byte("0123456789"))

	dst := New()
	n := dst.Consume(src, 4)
	if n != 4 {
		t.Fatalf("Consume returned %d, want 4", n)
	}
	if got := dst.Size(); got != 4 {
		t.Errorf("dst.Size() = %d, want 4", got)
	}
	if got := src.Size(); got != 6 {
		t.Errorf("src.Size() = %d, want 6", got)
	}

	out := make([]byte, 4)
	dst.CopyOut(out, 0, 4)
	if !bytes.Equal(out, []byte("0123")) {
		t.Errorf("dst = %q, want %q", out, "0123")
	}

	out = make([]byte, 6)
	src.CopyOut(out, 0, 6)
	if !bytes.Equal(out, []byte("456789")) {
		t.Errorf("src remainder = %q, want %q", out, "456789")
	}
}

func TestBufferConsumeMoreThanAvailable(t *testing.T) {
	src := New()
	src.Assign([]byte("xy"))
	dst := New()

	n := dst.Consume(src, 100)
	if n != 2 {
		t.Fatalf("Consume returned %d, want 2", n)
	}
	if got := src.Size(); got != 0 {
		t.Errorf("src.Size() after full drain = %d, want 0", got)
	}
}

func TestBufferConsumeAcrossSegments(t *testing.T) {
	src := New()
	src.Append([]byte("AAA"))
	src.Append([]byte("BBB"))
	src.Append([]byte("CCC"))
	if got := src.NumStrides(); got != 3 {
		t.Fatalf("src.NumStrides() = %d, want 3", got)
	}

	dst := New()
	// Consume 5 bytes: all of "AAA" plus 2 bytes of "BBB", split mid-segment.
	n := dst.Consume(src, 5)
	if n != 5 {
		t.Fatalf("Consume returned %d, want 5", n)
	}
	out := make([]byte, 5)
	dst.CopyOut(out, 0, 5)
	if !bytes.Equal(out, []byte("AAABB")) {
		t.Errorf("dst = %q, want %q", out, "AAABB")
	}

	out = make([]byte, 4)
	src.CopyOut(out, 0, 4)
	if !bytes.Equal(out, []byte("BCCC")) {
		t.Errorf("src remainder = %q, want %q", out, "BCCC")
	}
}

func TestBufferCopyOutShape(t *testing.T) {
	b := New()
	// 5 elements of 2 bytes, separated by a 1-byte gap: EE.EE.EE.EE.EE
	b.Assign([]byte{1, 2, 0, 3, 4, 0, 5, 6, 0, 7, 8, 0, 9, 10})

	dst := make([]byte, 5*2)
	k := b.CopyOutShape(dst, 0, 2, 1, 0, 5)
	if k != 5 {
		t.Fatalf("CopyOutShape returned k=%d, want 5", k)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if !bytes.Equal(dst, want) {
		t.Errorf("gathered = %v, want %v", dst, want)
	}
}

func TestBufferCopyOutShapeTruncatesAtBoundary(t *testing.T) {
	b := New()
	// Only enough room for 2 full elements of 3 bytes with a 1-byte gap.
	b.Assign([]byte{1, 2, 3, 0, 4, 5, 6, 0, 7}) // 3rd element would need 2 more bytes than available
	dst := make([]byte, 4*3)
	k := b.CopyOutShape(dst, 0, 3, 1, 0, 4)
	if k != 2 {
		t.Fatalf("CopyOutShape returned k=%d, want 2", k)
	}
}

func TestBufferCopyOutShapeWithDestinationGap(t *testing.T) {
	b := New()
	b.Assign([]byte{1, 2, 3, 4}) // two 2-byte elements, no input gap
	dst := make([]byte, 2*3)     // each destination slot is 3 bytes wide (1 byte padding)
	k := b.CopyOutShape(dst, 0, 2, 0, 1, 2)
	if k != 2 {
		t.Fatalf("k = %d, want 2", k)
	}
	want := []byte{1, 2, 0, 3, 4, 0}
	if !bytes.Equal(dst, want) {
		t.Errorf("gathered = %v, want %v", dst, want)
	}
}

func TestBufferCopyOutToForwardsWithoutFlattening(t *testing.T) {
	b := New()
	b.Append([]byte("AA"))
	b.Append([]byte("BB"))

	sink := New()
	b.CopyOutTo(sink)

	if got := sink.NumStrides(); got != 2 {
		t.Errorf("sink.NumStrides() = %d, want 2 (no flattening)", got)
	}
	if got := sink.Size(); got != 4 {
		t.Errorf("sink.Size() = %d, want 4", got)
	}
}

func TestBufferSwap(t *testing.T) {
	a := New()
	a.Assign([]byte("aaa"))
	c := New()
	c.Assign([]byte("cccccc"))

	a.Swap(c)

	if got := a.Size(); got != 6 {
		t.Errorf("a.Size() after Swap = %d, want 6", got)
	}
	if got := c.Size(); got != 3 {
		t.Errorf("c.Size() after Swap = %d, want 3", got)
	}
}

func TestBufferBytesFlattensSegments(t *testing.T) {
	b := New()
	b.Append([]byte("foo"))
	b.Append([]byte("bar"))

	if got := string(b.Bytes()); got != "foobar" {
		t.Errorf("Bytes() = %q, want %q", got, "foobar")
	}
}
