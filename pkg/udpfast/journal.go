package udpfast

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mdavidsaver/pscdrv/pkg/pscconfig"
)

// journalFile wraps the open on-disk capture file.
type journalFile struct {
	f *os.File
}

func (j *journalFile) close() error {
	if j == nil || j.f == nil {
		return nil
	}
	return j.f.Close()
}

// closeJournal closes any open journal file, if one is open.
func (c *Capture) closeJournal() {
	c.fileMu.Lock()
	j := c.journal
	c.journal = nil
	c.fileMu.Unlock()
	if j != nil {
		j.close()
	}
}

// writeJournal rotates the journal file if needed and appends every packet
// in inprog as a 16-byte header ('P','S',msgid,bodylen,sec,nsec) followed
// by its body, batching writes up to iovMax/2 packets at a time.
func (c *Capture) writeJournal(inprog []pkt, now time.Time) error {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	if c.journal != nil && c.filetotal >= uint64(pscconfig.UDPMaxLenMB()*(1<<20)) {
		c.reopen = true
	}

	if c.record && c.reopen && c.filebase != "" {
		c.reopen = false
		c.filetotal = 0

		name := c.filebase + now.Format("20060102-150405") + ".dat"
		path := name
		if c.filedir != "" {
			path = filepath.Join(c.filedir, name)
		}

		if c.journal != nil {
			c.journal.close()
			c.journal = nil
		}

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			c.record = false
			return fmt.Errorf("udpfast: open %s: %w", path, err)
		}
		c.journal = &journalFile{f: f}
		c.lastfile = path
	}

	if c.journal == nil {
		return nil
	}

	const batch = iovMax / 2
	var written uint64
	buf := make([]byte, 0, 4096)
	for i := 0; i < len(inprog); i += batch {
		end := i + batch
		if end > len(inprog) {
			end = len(inprog)
		}
		buf = buf[:0]
		for _, p := range inprog[i:end] {
			var hdr [16]byte
			hdr[0], hdr[1] = 'P', 'S'
			binary.BigEndian.PutUint16(hdr[2:4], p.msgid)
			binary.BigEndian.PutUint32(hdr[4:8], p.bodylen)
			binary.BigEndian.PutUint32(hdr[8:12], uint32(p.rxtime.Unix()))
			binary.BigEndian.PutUint32(hdr[12:16], uint32(p.rxtime.Nanosecond()))
			buf = append(buf, hdr[:]...)
			buf = append(buf, p.body...)
		}
		n, err := c.journal.f.Write(buf)
		if err != nil || n != len(buf) {
			c.journal.close()
			c.journal = nil
			c.record = false
			if err == nil {
				err = fmt.Errorf("udpfast: short journal write %d of %d bytes", n, len(buf))
			}
			return err
		}
		written += uint64(len(buf))
	}

	c.filetotal += written
	c.storewrote.Add(written)
	c.lastsize.Store(c.filetotal)

	if dsync := pscconfig.UDPDSyncSizeMB(); dsync > 0 && c.filetotal/(1<<20) >= uint64(dsync) {
		c.filetotal = 0
		if err := fdatasync(c.journal.f); err != nil {
			c.log.Error().Err(err).Msg("fdatasync failed")
		}
	}
	return nil
}
