package replay

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/decoder"
)

// pcapngMagic is the block type of a pcapng Section Header Block.
const pcapngMagic = 0x0A0D0D0A

// linkTypeIPv6 is LINKTYPE_IPV6 from the tcpdump link-layer registry.
const linkTypeIPv6 = layers.LinkType(229)

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Source reads frames from a pcap or pcapng capture file.
type Source struct {
	path   string
	file   *os.File
	reader packetReader
	link   layers.LinkType
}

// OpenSource opens the capture at path and reads its file header.
func OpenSource(path string) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("capture path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	s := &Source{path: path, file: f}
	if err := s.init(bufio.NewReader(f)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture %s: %w", path, err)
	}
	return s, nil
}

func (s *Source) init(br *bufio.Reader) error {
	magic, err := br.Peek(4)
	if err != nil {
		return err
	}
	if binary.BigEndian.Uint32(magic) == pcapngMagic {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return err
		}
		s.reader, s.link = r, r.LinkType()
		return nil
	}
	r, err := pcapgo.NewReader(br)
	if err != nil {
		return err
	}
	s.reader, s.link = r, r.LinkType()
	return nil
}

// ReadPacket returns the next frame. It returns io.EOF at the end of the
// capture.
func (s *Source) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.reader == nil {
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("source %s: %w", s.path, core.ErrStopped)
	}
	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("failed to read packet: %w", err)
	}
	return data, ci, nil
}

// LinkType returns the decoder framing for the capture's link type.
func (s *Source) LinkType() (decoder.LinkType, error) {
	switch s.link {
	case layers.LinkTypeEthernet:
		return decoder.LinkEthernet, nil
	case layers.LinkTypeRaw, linkTypeIPv6:
		return decoder.LinkRaw, nil
	default:
		return 0, fmt.Errorf("capture link type %s: %w", s.link, core.ErrUnsupportedProto)
	}
}

// Close closes the capture file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.reader = nil, nil
	return err
}
