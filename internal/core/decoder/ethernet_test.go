package decoder

import (
	"errors"
	"testing"

	"firestige.xyz/v6rx/internal/core"
)

var (
	unicastMAC = []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	srcMAC     = []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
)

func frame(dst []byte, rest ...byte) []byte {
	b := append([]byte(nil), dst...)
	b = append(b, srcMAC...)
	return append(b, rest...)
}

func TestDecodeEthernetBasic(t *testing.T) {
	data := frame(unicastMAC, 0x86, 0xDD, 0x60, 0x00)

	eth, payload, err := decodeEthernet(data)
	if err != nil {
		t.Fatalf("decodeEthernet failed: %v", err)
	}
	if eth.DstMAC != [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55} {
		t.Errorf("unexpected DstMAC %v", eth.DstMAC)
	}
	if eth.SrcMAC != [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF} {
		t.Errorf("unexpected SrcMAC %v", eth.SrcMAC)
	}
	if eth.EtherType != etherTypeIPv6 {
		t.Errorf("expected EtherType 0x86dd, got 0x%04x", eth.EtherType)
	}
	if len(payload) != 2 {
		t.Errorf("expected payload length 2, got %d", len(payload))
	}
}

func TestDecodeEthernetWithVLAN(t *testing.T) {
	data := frame(unicastMAC,
		0x81, 0x00, // 802.1Q
		0x00, 0x0A, // VLAN 10
		0x86, 0xDD,
		0x60, 0x00)

	eth, payload, err := decodeEthernet(data)
	if err != nil {
		t.Fatalf("decodeEthernet failed: %v", err)
	}
	if eth.EtherType != etherTypeIPv6 {
		t.Errorf("expected inner EtherType 0x86dd, got 0x%04x", eth.EtherType)
	}
	if len(eth.VLANs) != 1 || eth.VLANs[0] != 10 {
		t.Fatalf("expected VLAN [10], got %v", eth.VLANs)
	}
	if len(payload) != 2 {
		t.Errorf("expected payload length 2, got %d", len(payload))
	}
}

func TestDecodeEthernetWithQinQ(t *testing.T) {
	data := frame(unicastMAC,
		0x88, 0xA8, 0x00, 0x14, // outer VLAN 20
		0x81, 0x00, 0x00, 0x0A, // inner VLAN 10
		0x86, 0xDD,
		0x60, 0x00)

	eth, _, err := decodeEthernet(data)
	if err != nil {
		t.Fatalf("decodeEthernet failed: %v", err)
	}
	if len(eth.VLANs) != 2 || eth.VLANs[0] != 20 || eth.VLANs[1] != 10 {
		t.Fatalf("expected VLANs [20 10], got %v", eth.VLANs)
	}
}

func TestDecodeEthernetTooManyTags(t *testing.T) {
	data := frame(unicastMAC,
		0x88, 0xA8, 0x00, 0x14,
		0x81, 0x00, 0x00, 0x0A,
		0x81, 0x00, 0x00, 0x0B,
		0x86, 0xDD)

	if _, _, err := decodeEthernet(data); !errors.Is(err, core.ErrUnsupportedProto) {
		t.Errorf("expected ErrUnsupportedProto, got %v", err)
	}
}

func TestDecodeEthernetTooShort(t *testing.T) {
	for _, data := range [][]byte{
		{0x00, 0x11, 0x22},
		frame(unicastMAC, 0x81, 0x00, 0x00),
	} {
		if _, _, err := decodeEthernet(data); !errors.Is(err, core.ErrPacketTooShort) {
			t.Errorf("expected ErrPacketTooShort for %d bytes, got %v", len(data), err)
		}
	}
}

func TestDecode(t *testing.T) {
	ip := []byte{0x60, 0, 0, 0}

	tests := []struct {
		name       string
		data       []byte
		link       LinkType
		err        error
		notUnicast bool
		payload    int
	}{
		{name: "unicast", data: frame(unicastMAC, append([]byte{0x86, 0xDD}, ip...)...), link: LinkEthernet, payload: 4},
		{name: "multicast", data: frame([]byte{0x33, 0x33, 0, 0, 0, 1}, append([]byte{0x86, 0xDD}, ip...)...), link: LinkEthernet, notUnicast: true, payload: 4},
		{name: "broadcast", data: frame([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, append([]byte{0x86, 0xDD}, ip...)...), link: LinkEthernet, notUnicast: true, payload: 4},
		{name: "ipv4 ethertype", data: frame(unicastMAC, 0x08, 0x00, 0x45, 0x00), link: LinkEthernet, err: core.ErrNotIPv6},
		{name: "raw", data: ip, link: LinkRaw, payload: 4},
		{name: "raw ipv4", data: []byte{0x45, 0}, link: LinkRaw, err: core.ErrNotIPv6},
		{name: "unknown link", data: ip, link: LinkType(9), err: core.ErrUnsupportedProto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.data, tt.link)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if f.NotUnicast != tt.notUnicast {
				t.Errorf("NotUnicast = %v, want %v", f.NotUnicast, tt.notUnicast)
			}
			if len(f.Payload) != tt.payload {
				t.Errorf("payload length %d, want %d", len(f.Payload), tt.payload)
			}
		})
	}
}

func BenchmarkDecode(b *testing.B) {
	data := frame(unicastMAC, 0x86, 0xDD, 0x60, 0x00)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(data, LinkEthernet); err != nil {
			b.Fatal(err)
		}
	}
}
