package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"
	"golang.org/x/text/encoding"
)

// pcapReplay feeds the server side of captured game sessions through the
// same framing as a live connection.
type pcapReplay struct {
	// port selects streams sent from this TCP port; 0 takes every stream.
	port int
	// pace sleeps between packets to reproduce the captured timing.
	pace    bool
	enc     encoding.Encoding
	deliver func(raw string)
}

func (p *pcapReplay) Run(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var source *gopacket.PacketSource
	if ng, err := pcapgo.NewNgReader(f, pcapgo.NgReaderOptions{}); err == nil {
		source = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		r, err := pcapgo.NewReader(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		source = gopacket.NewPacketSource(r, r.LinkType())
	}

	pool := tcpassembly.NewStreamPool(&pcapStreamFactory{replay: p})
	assembler := tcpassembly.NewAssembler(pool)

	var prevTS time.Time
	for {
		select {
		case <-ctx.Done():
			assembler.FlushAll()
			return ctx.Err()
		default:
		}
		pkt, err := source.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		ts := pkt.Metadata().CaptureInfo.Timestamp
		if p.pace && !prevTS.IsZero() {
			if d := ts.Sub(prevTS); d > 0 {
				time.Sleep(d)
			}
		}
		prevTS = ts

		net := pkt.NetworkLayer()
		if net == nil {
			continue
		}
		if tcp, ok := pkt.TransportLayer().(*layers.TCP); ok {
			assembler.AssembleWithTimestamp(net.NetworkFlow(), tcp, ts)
		}
	}
	assembler.FlushAll()
	return nil
}

type pcapStreamFactory struct {
	replay *pcapReplay
}

func (f *pcapStreamFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	if f.replay.port != 0 && transport.Src() != layers.NewTCPPortEndpoint(layers.TCPPort(f.replay.port)) {
		return discardStream{}
	}
	return &pcapStream{replay: f.replay}
}

type discardStream struct{}

func (discardStream) Reassembled([]tcpassembly.Reassembly) {}
func (discardStream) ReassemblyComplete()                  {}

type pcapStream struct {
	replay  *pcapReplay
	filter  telnetFilter
	partial []byte
}

func (s *pcapStream) emit(b []byte) {
	s.replay.deliver(decodeLine(s.replay.enc, trimCR(b)))
}

func (s *pcapStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if len(r.Bytes) == 0 {
			continue
		}
		data, _, prompts := s.filter.Filter(r.Bytes)
		s.partial = splitLines(s.partial, data, prompts, s.emit)
	}
}

func (s *pcapStream) ReassemblyComplete() {
	if len(s.partial) > 0 {
		s.emit(s.partial)
		s.partial = nil
	}
}
