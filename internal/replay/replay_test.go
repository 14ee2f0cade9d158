package replay

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/v6rx/internal/config"
	"firestige.xyz/v6rx/internal/core/decoder"
	"firestige.xyz/v6rx/internal/core/header"
)

const (
	local  = "2001:db8::1"
	remote = "2001:db8::99"
	far    = "2001:db8:100::5"
)

var (
	nodeMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	peerMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x99}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func ipv6Layer(src, dst string, hop uint8, nh layers.IPProtocol) *layers.IPv6 {
	return &layers.IPv6{
		Version:    6,
		HopLimit:   hop,
		NextHeader: nh,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
}

func udpDatagram(t *testing.T, src, dst string, hop uint8, payload []byte) []byte {
	ip := ipv6Layer(src, dst, hop, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 4000, DstPort: 5000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, udp, gopacket.Payload(payload))
}

func fragment(t *testing.T, id uint32, off int, more bool, data []byte) []byte {
	fh := make([]byte, header.IPv6FragmentExtHdrLength)
	header.IPv6FragmentExtHdr(fh).Encode(&header.IPv6FragmentFields{
		NextHeader:     header.UDPProtocolNumber,
		FragmentOffset: off,
		M:              more,
		Identification: id,
	})
	ip := ipv6Layer(remote, local, 64, layers.IPProtocolIPv6Fragment)
	return serialize(t, ip, gopacket.Payload(append(fh, data...)))
}

func ethernet(t *testing.T, typ layers.EthernetType, payload []byte) []byte {
	eth := &layers.Ethernet{SrcMAC: peerMAC, DstMAC: nodeMAC, EthernetType: typ}
	return serialize(t, eth, gopacket.Payload(payload))
}

type frameAt struct {
	at   time.Duration
	data []byte
}

func writeCapture(t *testing.T, frames []frameAt) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, fr := range frames {
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     base.Add(fr.at),
			CaptureLength: len(fr.data),
			Length:        len(fr.data),
		}, fr.data))
	}
	return path
}

func readCapture(t *testing.T, path string) []gopacket.Packet {
	t.Helper()
	src, err := OpenSource(path)
	require.NoError(t, err)
	defer src.Close()
	link, err := src.LinkType()
	require.NoError(t, err)
	require.Equal(t, decoder.LinkRaw, link)

	var pkts []gopacket.Packet
	for {
		data, _, err := src.ReadPacket()
		if err != nil {
			break
		}
		pkts = append(pkts, gopacket.NewPacket(data, layers.LayerTypeIPv6, gopacket.Default))
	}
	return pkts
}

func testConfig(t *testing.T) *config.GlobalConfig {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Interfaces = []config.InterfaceConfig{{
		Name:       "eth0",
		Index:      1,
		Forwarding: true,
		Addresses:  []string{local + "/64"},
	}}
	cfg.Routes = []config.RouteConfig{{Prefix: "2001:db8:100::/40", Interface: "eth0", Via: "2001:db8::fffe"}}
	require.NoError(t, cfg.ValidateAndApplyDefaults())
	return cfg
}

func TestReplay(t *testing.T) {
	data := make([]byte, 48)
	for i := range data {
		data[i] = byte(i)
	}
	ms := time.Millisecond
	in := writeCapture(t, []frameAt{
		{0, ethernet(t, layers.EthernetTypeIPv6, udpDatagram(t, remote, local, 64, []byte("hello")))},
		{1 * ms, ethernet(t, layers.EthernetTypeIPv6, serialize(t, ipv6Layer(remote, local, 64, layers.IPProtocol(200)), gopacket.Payload(make([]byte, 8))))},
		{2 * ms, ethernet(t, layers.EthernetTypeIPv6, fragment(t, 7, 24, false, data[24:]))},
		{3 * ms, ethernet(t, layers.EthernetTypeIPv6, fragment(t, 7, 0, true, data[:24]))},
		{4 * ms, ethernet(t, layers.EthernetTypeIPv6, udpDatagram(t, remote, far, 64, []byte("onward")))},
		{5 * ms, ethernet(t, layers.EthernetTypeIPv6, udpDatagram(t, remote, far, 1, []byte("expiring")))},
		{6 * ms, ethernet(t, layers.EthernetTypeARP, make([]byte, 28))},
		{7 * ms, ethernet(t, layers.EthernetTypeIPv6, fragment(t, 9, 0, true, data[:24]))},
		{2 * time.Minute, ethernet(t, layers.EthernetTypeIPv6, udpDatagram(t, remote, local, 64, []byte("late")))},
	})

	dir := t.TempDir()
	opts := Options{
		Input:      in,
		OutICMP:    filepath.Join(dir, "icmp.pcap"),
		OutForward: filepath.Join(dir, "forward.pcap"),
		OutDeliver: filepath.Join(dir, "deliver.pcap"),
	}
	r, err := New(testConfig(t), opts, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Frames: 9, Skipped: 1, ICMP: 3, Forwarded: 1, Delivered: 3}, stats)

	var icmps []string
	for _, p := range readCapture(t, opts.OutICMP) {
		ip, ok := p.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		require.True(t, ok)
		assert.Equal(t, local, ip.SrcIP.String())
		assert.Equal(t, remote, ip.DstIP.String())
		msg, ok := p.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
		require.True(t, ok)
		icmps = append(icmps, msg.TypeCode.String())
	}
	sort.Strings(icmps)
	want := []string{
		layers.CreateICMPv6TypeCode(layers.ICMPv6TypeParameterProblem, 1).String(),
		layers.CreateICMPv6TypeCode(layers.ICMPv6TypeTimeExceeded, 0).String(),
		layers.CreateICMPv6TypeCode(layers.ICMPv6TypeTimeExceeded, 1).String(),
	}
	sort.Strings(want)
	assert.Equal(t, want, icmps)

	fwd := readCapture(t, opts.OutForward)
	require.Len(t, fwd, 1)
	ip := fwd[0].Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	assert.Equal(t, uint8(63), ip.HopLimit)
	assert.Equal(t, far, ip.DstIP.String())

	var payloads []string
	for _, p := range readCapture(t, opts.OutDeliver) {
		ip := p.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		if int(ip.Length) == len(data) {
			payloads = append(payloads, "reassembled")
			assert.Equal(t, data, ip.Payload)
			continue
		}
		udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
		require.True(t, ok)
		payloads = append(payloads, string(udp.Payload))
	}
	assert.ElementsMatch(t, []string{"hello", "reassembled", "late"}, payloads)
}

func TestReplayUnknownInterface(t *testing.T) {
	_, err := New(testConfig(t), Options{Interface: "eth9"}, nil)
	assert.Error(t, err)
}

func TestReplayBadClock(t *testing.T) {
	_, err := New(testConfig(t), Options{Clock: "sundial"}, nil)
	assert.Error(t, err)
}

func TestReplayMissingInput(t *testing.T) {
	r, err := New(testConfig(t), Options{Input: filepath.Join(t.TempDir(), "none.pcap")}, nil)
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	assert.Error(t, err)
}

func TestSinkCountsWithoutFile(t *testing.T) {
	s, err := NewSink("", nil)
	require.NoError(t, err)
	require.NoError(t, s.Write([]byte{0x60}))
	assert.Equal(t, uint64(1), s.Count())
	assert.NoError(t, s.Close())
}
