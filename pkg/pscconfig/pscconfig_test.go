package pscconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResetDefaults(t *testing.T) {
	SetDebug(9)
	SetMaxSendBuffer(1)
	ResetDefaults()

	if Debug() != 0 {
		t.Errorf("Debug() = %d, want 0", Debug())
	}
	if got := MaxSendBuffer(); got != 1024*1024 {
		t.Errorf("MaxSendBuffer() = %d, want 1MiB", got)
	}
	if got := InactivityTime(); got != 5*time.Second {
		t.Errorf("InactivityTime() = %v, want 5s", got)
	}
	if got := UDPMaxPacketRate(); got != 280000 {
		t.Errorf("UDPMaxPacketRate() = %v, want 280000", got)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	ResetDefaults()
	f, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Peers) != 0 {
		t.Errorf("Peers = %v, want empty", f.Peers)
	}
	if got := MaxSendBuffer(); got != 1024*1024 {
		t.Errorf("MaxSendBuffer() = %d, want default", got)
	}
}

func TestLoadAppliesTunablesAndPeers(t *testing.T) {
	ResetDefaults()
	dir := t.TempDir()
	path := filepath.Join(dir, "psc.yaml")
	doc := `
tunables:
  debug: 2
  max_send_buffer: 4096
peers:
  - name: gen1
    kind: tcp
    host: 10.0.0.1
    port: 4000
  - name: cap1
    kind: udpfast
    host: 10.0.0.2
    port: 5000
    iface_port: 5001
    record: true
    journal_dir: /data/psc
    journal_base: gen1-
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Peers) != 2 {
		t.Fatalf("Peers = %d, want 2", len(f.Peers))
	}
	if f.Peers[1].Kind != KindUDPFast || !f.Peers[1].Record {
		t.Errorf("Peers[1] = %+v", f.Peers[1])
	}
	if Debug() != 2 {
		t.Errorf("Debug() = %d, want 2", Debug())
	}
	if got := MaxSendBuffer(); got != 4096 {
		t.Errorf("MaxSendBuffer() = %d, want 4096", got)
	}
}
