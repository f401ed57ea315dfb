package cmd

import (
	"fmt"

	"github.com/mdavidsaver/pscdrv/pkg/engine"
	"github.com/mdavidsaver/pscdrv/pkg/pscconfig"
	"github.com/mdavidsaver/pscdrv/pkg/tcp"
	"github.com/mdavidsaver/pscdrv/pkg/udp"
	"github.com/mdavidsaver/pscdrv/pkg/udpfast"
)

// loadAndRegister reads path and registers one engine per peer it names,
// mirroring the spec's createPSC/createPSCUDP/createPSCUDPFast dispatch.
// It does not connect anything; call engine.StartAll for that.
func loadAndRegister(path string) (*pscconfig.File, error) {
	file, err := pscconfig.Load(path)
	if err != nil {
		return nil, err
	}
	for _, p := range file.Peers {
		e, err := buildEngine(p)
		if err != nil {
			return nil, fmt.Errorf("pscctl: peer %q: %w", p.Name, err)
		}
		engine.Register(p.Name, e)
	}
	return file, nil
}

func buildEngine(p pscconfig.Peer) (engine.Engine, error) {
	switch p.Kind {
	case pscconfig.KindTCP:
		return tcp.New(p.Name, p.Host, p.Port, p.TimeoutMask), nil
	case pscconfig.KindUDP:
		return udp.New(p.Name, p.Host, p.Port, p.IfacePort)
	case pscconfig.KindUDPFast:
		c, err := udpfast.New(p.Name, p.Host, p.Port, p.IfacePort)
		if err != nil {
			return nil, err
		}
		if p.JournalBase != "" {
			c.SetJournal(p.JournalDir, p.JournalBase)
			c.SetRecording(p.Record)
		}
		c.SetShortLimit(1024)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown peer kind %q", p.Kind)
	}
}
