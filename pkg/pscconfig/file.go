package pscconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PeerKind selects which engine a Peer entry becomes.
type PeerKind string

const (
	KindTCP      PeerKind = "tcp"
	KindUDP      PeerKind = "udp"
	KindUDPFast  PeerKind = "udpfast"
)

// Peer describes one remote target to connect to. The declarative list a
// File carries is what cmd/pscctl walks, passing each entry to buildEngine
// (tcp.New, udp.New or udpfast.New by Kind).
type Peer struct {
	Name       string   `yaml:"name"`
	Kind       PeerKind `yaml:"kind"`
	Host       string   `yaml:"host"`
	Port       uint16   `yaml:"port"`
	IfacePort  uint16   `yaml:"iface_port,omitempty"`
	TimeoutMask uint    `yaml:"timeout_mask,omitempty"`

	// UDPFast-only journal settings.
	JournalDir  string `yaml:"journal_dir,omitempty"`
	JournalBase string `yaml:"journal_base,omitempty"`
	Record      bool   `yaml:"record,omitempty"`
}

// Tunables mirrors the package-level atomics so a YAML file can override
// any subset of them; fields the file omits leave the documented default in
// place, while a field set to zero applies zero.
type Tunables struct {
	Debug             *int     `yaml:"debug,omitempty"`
	InactivityTimeSec *float64 `yaml:"inactivity_time_sec,omitempty"`
	MaxSendBuffer     *int     `yaml:"max_send_buffer,omitempty"`
	UDPMaxPacketSize  *int     `yaml:"udp_max_packet_size,omitempty"`
	UDPMaxPacketRate  *float64 `yaml:"udp_max_packet_rate,omitempty"`
	UDPBufferPeriodSec *float64 `yaml:"udp_buffer_period_sec,omitempty"`
	UDPMaxLenMB       *float64 `yaml:"udp_max_len_mb,omitempty"`
	UDPSetSockBuf     *int     `yaml:"udp_set_sock_buf,omitempty"`
	UDPDSyncSizeMB    *float64 `yaml:"udp_dsync_size_mb,omitempty"`
}

// File is the root of the YAML configuration document cmd/pscctl loads.
type File struct {
	Tunables Tunables `yaml:"tunables"`
	Peers    []Peer   `yaml:"peers"`
}

// Load reads path and applies any tunables it sets; a missing file is not
// an error — the defaults already installed by ResetDefaults stand, and an
// empty peer list is returned.
func Load(path string) (*File, error) {
	f := &File{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("pscconfig: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("pscconfig: parse %s: %w", path, err)
	}

	f.Tunables.apply()
	return f, nil
}

func (t Tunables) apply() {
	if t.Debug != nil {
		SetDebug(*t.Debug)
	}
	if t.InactivityTimeSec != nil {
		SetInactivityTime(time.Duration(*t.InactivityTimeSec * float64(time.Second)))
	}
	if t.MaxSendBuffer != nil {
		SetMaxSendBuffer(*t.MaxSendBuffer)
	}
	if t.UDPMaxPacketSize != nil {
		SetUDPMaxPacketSize(*t.UDPMaxPacketSize)
	}
	if t.UDPMaxPacketRate != nil {
		SetUDPMaxPacketRate(*t.UDPMaxPacketRate)
	}
	if t.UDPBufferPeriodSec != nil {
		SetUDPBufferPeriod(time.Duration(*t.UDPBufferPeriodSec * float64(time.Second)))
	}
	if t.UDPMaxLenMB != nil {
		SetUDPMaxLenMB(*t.UDPMaxLenMB)
	}
	if t.UDPSetSockBuf != nil {
		SetUDPSetSockBuf(*t.UDPSetSockBuf)
	}
	if t.UDPDSyncSizeMB != nil {
		SetUDPDSyncSizeMB(*t.UDPDSyncSizeMB)
	}
}
