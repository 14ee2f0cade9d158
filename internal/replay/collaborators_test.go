package replay

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv6"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
	v6 "firestige.xyz/v6rx/internal/core/ipv6"
	"firestige.xyz/v6rx/internal/log"
)

var errWrite = errors.New("disk full")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errWrite }

type failingICMP struct{ calls int }

func (f *failingICMP) SendError(*v6.Packet, ipv6.ICMPType, header.ICMPv6Code, uint32, uint8, bool) error {
	f.calls++
	return errWrite
}

func debugLogger(t *testing.T) (log.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := log.NewWithWriter(&log.LoggerConfig{Level: "debug", Pattern: "%msg %field\n"}, &buf)
	require.NoError(t, err)
	return l, &buf
}

func testDatagram(hop uint8) []byte {
	b := make([]byte, header.IPv6MinimumSize)
	header.IPv6(b).Encode(&header.IPv6Fields{
		NextHeader: uint8(header.IPv6NoNextHeaderIdentifier),
		HopLimit:   hop,
		SrcAddr:    netip.MustParseAddr(remote),
		DstAddr:    netip.MustParseAddr(far),
	})
	return b
}

func TestForwarderLogsUnsentTimeExceeded(t *testing.T) {
	logger, buf := debugLogger(t)
	sender := &failingICMP{}
	sink, err := NewSink("", nil)
	require.NoError(t, err)
	f := &forwarder{sink: sink, icmp: sender, log: logger}

	d := testDatagram(1)
	err = f.Forward(&v6.ForwardRequest{Owner: v6.NewPacket(d), Datagram: d})
	assert.True(t, errors.Is(err, core.ErrHopLimit))
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, uint64(0), sink.Count())
	assert.Contains(t, buf.String(), "icmp error not sent")
	assert.Contains(t, buf.String(), "disk full")
}

func TestForwarderDecrementsHopLimit(t *testing.T) {
	sink, err := NewSink("", nil)
	require.NoError(t, err)
	f := &forwarder{sink: sink, log: log.Discard()}

	d := testDatagram(64)
	require.NoError(t, f.Forward(&v6.ForwardRequest{Owner: v6.NewPacket(d), Datagram: d}))
	assert.Equal(t, uint8(63), header.IPv6(d).HopLimit())
	assert.Equal(t, uint64(1), sink.Count())
}

func TestDeliveryLogsSinkError(t *testing.T) {
	logger, buf := debugLogger(t)
	sink := &Sink{now: time.Now, w: pcapgo.NewWriter(failingWriter{})}
	d := &delivery{sink: sink, log: logger}

	assert.False(t, d.Deliver(v6.NewPacket(testDatagram(64))))
	assert.Equal(t, uint64(1), sink.Count())
	assert.Contains(t, buf.String(), "delivered datagram not recorded")
	assert.Contains(t, buf.String(), "disk full")
}
