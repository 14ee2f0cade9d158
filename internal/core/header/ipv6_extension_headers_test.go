package header

import (
	"errors"
	"io"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsIterator(t *testing.T) {
	tests := []struct {
		name    string
		hdr     []byte
		want    []IPv6ExtHdrOption
		wantErr bool
	}{
		{
			name: "padding only",
			hdr:  []byte{59, 0, 0, 1, 2, 0, 0, 0},
		},
		{
			name: "router alert then pad1",
			hdr:  []byte{59, 0, 5, 2, 0, 0, 0, 0},
			want: []IPv6ExtHdrOption{
				{Identifier: IPv6RouterAlertHopByHopOptionIdentifier, Offset: 2, Data: []byte{0, 0}},
			},
		},
		{
			name: "two unknown options",
			hdr:  []byte{59, 0, 0x3e, 1, 9, 0x7f, 0, 0},
			want: []IPv6ExtHdrOption{
				{Identifier: 0x3e, Offset: 2, Data: []byte{9}},
				{Identifier: 0x7f, Offset: 5, Data: []byte{}},
			},
		},
		{
			name:    "option data overruns header",
			hdr:     []byte{59, 0, 0x3e, 5, 1, 2, 3, 4},
			wantErr: true,
		},
		{
			name:    "missing length byte",
			hdr:     []byte{59, 0, 0, 0, 0, 0, 0, 0x3e},
			wantErr: true,
		},
		{
			name:    "padN overrun",
			hdr:     []byte{59, 0, 1, 6, 0, 0, 0, 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := IPv6OptionsExtHdr(tt.hdr).Iter()
			var got []IPv6ExtHdrOption
			for {
				opt, done, err := it.Next()
				if err != nil {
					if !tt.wantErr {
						t.Fatalf("unexpected error: %v", err)
					}
					if !errors.Is(err, io.ErrUnexpectedEOF) {
						t.Fatalf("got err = %v, want wrapped io.ErrUnexpectedEOF", err)
					}
					break
				}
				if done {
					if tt.wantErr {
						t.Fatal("expected an error before the iterator finished")
					}
					break
				}
				got = append(got, opt)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnknownAction(t *testing.T) {
	tests := []struct {
		id   IPv6ExtHdrOptionIdentifier
		want IPv6OptionUnknownAction
	}{
		{0x1e, IPv6OptionUnknownActionSkip},
		{0x5e, IPv6OptionUnknownActionDiscard},
		{0x9e, IPv6OptionUnknownActionDiscardSendICMP},
		{0xde, IPv6OptionUnknownActionDiscardSendICMPNoMulticastDest},
		{IPv6JumboPayloadHopByHopOptionIdentifier, IPv6OptionUnknownActionDiscardSendICMPNoMulticastDest},
		{IPv6RouterAlertHopByHopOptionIdentifier, IPv6OptionUnknownActionSkip},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.id.UnknownAction(), "id %#x", uint8(tt.id))
	}
}

func TestFragmentExtHdr(t *testing.T) {
	b := IPv6FragmentExtHdr(make([]byte, IPv6FragmentExtHdrLength))
	b.Encode(&IPv6FragmentFields{
		NextHeader:     UDPProtocolNumber,
		FragmentOffset: 1232,
		M:              true,
		Identification: 0xdeadbeef,
	})

	assert.Equal(t, []byte{17, 0, 0x04, 0xd1, 0xde, 0xad, 0xbe, 0xef}, []byte(b))
	assert.Equal(t, uint8(UDPProtocolNumber), b.NextHeader())
	assert.Equal(t, 1232, b.FragmentOffset())
	assert.True(t, b.More())
	assert.Equal(t, uint32(0xdeadbeef), b.ID())
	assert.False(t, b.IsAtomic())

	// Reserved bits must not leak into the offset.
	b[3] |= 0x06
	assert.Equal(t, 1232, b.FragmentOffset())
	assert.True(t, b.More())

	b.Encode(&IPv6FragmentFields{NextHeader: 6, Identification: 1})
	assert.True(t, b.IsAtomic())
}

func TestRoutingExtHdrType0(t *testing.T) {
	a := netip.MustParseAddr("2001:db8::a")
	bAddr := netip.MustParseAddr("2001:db8::b")

	rh := IPv6RoutingExtHdr(make([]byte, 8+2*IPv6AddressSize))
	rh[0] = 59
	rh[1] = 4
	rh[3] = 2
	rh.SetType0Address(0, a)
	rh.SetType0Address(1, bAddr)

	require.Equal(t, 40, IPv6ExtHdrLength(rh.Length()))
	assert.Equal(t, 2, rh.Type0AddressCount())
	assert.Equal(t, uint8(0), rh.RoutingType())
	assert.Equal(t, uint8(2), rh.SegmentsLeft())
	assert.Equal(t, a, rh.Type0Address(0))
	assert.Equal(t, bAddr, rh.Type0Address(1))

	rh.SetSegmentsLeft(1)
	assert.Equal(t, uint8(1), rh.SegmentsLeft())
}

func TestIPv6Encode(t *testing.T) {
	src := netip.MustParseAddr("fe80::1")
	dst := netip.MustParseAddr("ff02::1")
	h := IPv6(make([]byte, IPv6MinimumSize))
	h.Encode(&IPv6Fields{
		TrafficClass:  0xb8,
		FlowLabel:     0x12345,
		PayloadLength: 1000,
		NextHeader:    uint8(IPv6HopByHopOptionsExtHdrIdentifier),
		HopLimit:      1,
		SrcAddr:       src,
		DstAddr:       dst,
	})

	assert.Equal(t, IPv6Version, h.Version())
	assert.Equal(t, []byte{0x6b, 0x81, 0x23, 0x45}, []byte(h[:4]))
	assert.Equal(t, uint16(1000), h.PayloadLength())
	assert.Equal(t, uint8(0), h.NextHeader())
	assert.Equal(t, uint8(1), h.HopLimit())
	assert.Equal(t, src, h.SourceAddress())
	assert.Equal(t, dst, h.DestinationAddress())

	assert.True(t, IsRoutableSource(netip.MustParseAddr("2001:db8::1")))
	assert.False(t, IsRoutableSource(netip.IPv6Unspecified()))
	assert.False(t, IsRoutableSource(netip.IPv6Loopback()))
	assert.False(t, IsRoutableSource(dst))
}
