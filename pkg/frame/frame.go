// Package frame implements the PSC wire header codec: two magic bytes, a
// big-endian message ID, and a big-endian body length, with no checksum and
// no version byte.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed length of a PSC frame header in bytes.
const HeaderSize = 8

var magic = [2]byte{'P', 'S'}

// ErrBadMagic is returned by ReadHeader when the leading two bytes are not
// 'P','S'.
var ErrBadMagic = errors.New("frame: bad magic")

// Header is a decoded PSC frame header.
type Header struct {
	MsgID   uint16
	BodyLen uint32
}

// PutHeader encodes h into buf, which must be at least HeaderSize bytes.
func PutHeader(buf []byte, h Header) {
	buf[0], buf[1] = magic[0], magic[1]
	binary.BigEndian.PutUint16(buf[2:4], h.MsgID)
	binary.BigEndian.PutUint32(buf[4:8], h.BodyLen)
}

// AppendHeader appends an encoded header to buf and returns the result.
func AppendHeader(buf []byte, h Header) []byte {
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], h)
	return append(buf, hdr[:]...)
}

// ReadHeader decodes a header from the first HeaderSize bytes of buf. buf
// must be at least HeaderSize bytes; callers hold back further bytes (the
// body) until BodyLen of them have arrived.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("frame: short header: %d bytes", len(buf))
	}
	if buf[0] != magic[0] || buf[1] != magic[1] {
		return Header{}, ErrBadMagic
	}
	return Header{
		MsgID:   binary.BigEndian.Uint16(buf[2:4]),
		BodyLen: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}
