package replay

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/v6rx/internal/icmp"
)

const snapLen = 262144

// Sink writes IPv6 datagrams to a raw-IP pcap file. A sink without a file
// only counts. It is safe for concurrent use.
type Sink struct {
	mu    sync.Mutex
	file  *os.File
	w     *pcapgo.Writer
	now   func() time.Time
	count uint64
}

// NewSink creates a sink writing to path, or a counting sink when path is
// empty. now stamps written packets.
func NewSink(path string, now func() time.Time) (*Sink, error) {
	if now == nil {
		now = time.Now
	}
	s := &Sink{now: now}
	if path == "" {
		return s, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header to %s: %w", path, err)
	}
	s.file, s.w = f, w
	return s, nil
}

// Write records one datagram.
func (s *Sink) Write(datagram []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.w == nil {
		return nil
	}
	return s.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     s.now(),
		CaptureLength: len(datagram),
		Length:        len(datagram),
	}, datagram)
}

// WriteICMP implements icmp.Writer by prepending an IPv6 header to the
// message.
func (s *Sink) WriteICMP(m *icmp.Message) error {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   uint8(m.HopLimit),
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      net.IP(m.Src.AsSlice()),
		DstIP:      net.IP(m.Dst.AsSlice()),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ip, gopacket.Payload(m.Body)); err != nil {
		return fmt.Errorf("serialize icmp datagram: %w", err)
	}
	return s.Write(buf.Bytes())
}

// Count returns the number of datagrams written.
func (s *Sink) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.w = nil, nil
	return err
}
