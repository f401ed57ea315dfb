//go:build linux

package udpfast

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes file data (but not necessarily metadata) to disk,
// matching udpdrv.cpp's periodic fdatasync() call.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
