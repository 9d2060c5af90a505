package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type capturedSegment struct {
	srcPort, dstPort uint16
	seq              uint32
	syn              bool
	payload          []byte
}

// writeCapture writes segments between 10.0.0.1 (the game) and 10.0.0.2
// as an Ethernet pcap file.
func writeCapture(t *testing.T, segs []capturedSegment) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	game, player := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, s := range segs {
		src, dst := player, game
		if s.srcPort == 4000 {
			src, dst = game, player
		}
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(s.srcPort),
			DstPort: layers.TCPPort(s.dstPort),
			Seq:     s.seq,
			SYN:     s.syn,
			ACK:     !s.syn,
			PSH:     len(s.payload) > 0,
			Window:  65535,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatal(err)
		}
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(s.payload)); err != nil {
			t.Fatal(err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: ts.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func sampleCapture(t *testing.T) string {
	return writeCapture(t, []capturedSegment{
		{srcPort: 50000, dstPort: 4000, seq: 100, syn: true},
		{srcPort: 4000, dstPort: 50000, seq: 1000, syn: true},
		{srcPort: 4000, dstPort: 50000, seq: 1001, payload: []byte("Hello\r\nNa")},
		{srcPort: 4000, dstPort: 50000, seq: 1010, payload: []byte{'m', 'e', ':', ' ', telnetIAC, telnetGA}},
		{srcPort: 50000, dstPort: 4000, seq: 101, payload: []byte("bob\r\n")},
		{srcPort: 4000, dstPort: 50000, seq: 1016, payload: []byte("caf\xe9 opens\r\nbye")},
	})
}

func replayLines(t *testing.T, port int, path string) []string {
	t.Helper()
	var got []string
	r := &pcapReplay{port: port, enc: wireEncoding(encodingLatin1), deliver: func(raw string) {
		got = append(got, raw)
	}}
	if err := r.Run(context.Background(), path); err != nil {
		t.Fatalf("run: %v", err)
	}
	return got
}

func TestPcapReplayServerStream(t *testing.T) {
	got := replayLines(t, 4000, sampleCapture(t))
	want := []string{"Hello", "Name: ", "café opens", "bye"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestPcapReplayAllStreams(t *testing.T) {
	got := replayLines(t, 0, sampleCapture(t))
	sort.Strings(got)
	want := []string{"Hello", "Name: ", "bob", "bye", "café opens"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestPcapReplayThroughTriggers(t *testing.T) {
	tc := newTestClient(t)
	tr := &recordTransport{}
	tc.session.SetTransport(tr)
	tc.session.Send(context.Background(), `#trigger '^caf. opens' 'buy coffee'`)

	r := &pcapReplay{port: 4000, enc: wireEncoding(encodingLatin1)}
	if err := replayCapture(tc.client, r, sampleCapture(t)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if diff := cmp.Diff([]string{"buy coffee"}, tr.lines()); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
	if !tc.hasLine("café opens") {
		t.Fatalf("replayed line not shown: %q", tc.primary())
	}
}

func TestPcapReplayMissingFile(t *testing.T) {
	r := &pcapReplay{enc: wireEncoding(encodingLatin1), deliver: func(string) {}}
	if err := r.Run(context.Background(), filepath.Join(t.TempDir(), "none.pcap")); err == nil {
		t.Fatalf("expected an error for a missing capture")
	}
}
