package reassembly

import (
	"bytes"
	"container/list"
	"net/netip"

	"firestige.xyz/v6rx/internal/core/header"
)

// recordOverhead is charged against the quota for every live record on top
// of the bytes it holds.
const recordOverhead = header.IPv6MinimumSize + header.IPv6FragmentExtHdrLength

// Key identifies one fragmented datagram.
type Key struct {
	Src netip.Addr
	Dst netip.Addr
	ID  uint32
}

// shim is one fragment's payload owned by a record.
type shim struct {
	offset int
	length int
	data   []byte
}

func (s *shim) end() int { return s.offset + s.length }

// record accumulates the fragments of one datagram. contig and gaps hold
// indices into shims; contig is in offset order and covers [0, marker),
// gaps is kept sorted by offset.
type record struct {
	key Key
	hdr [header.IPv6MinimumSize]byte

	// Set from the offset-zero fragment.
	haveFirst  bool
	nextHeader uint8
	nhOffset   int
	unfrag     []byte
	fragHdr    [header.IPv6FragmentExtHdrLength]byte

	shims      []shim
	contig     []int
	gaps       []int
	marker     int
	dataLength int
	jumbo      bool

	timer int
	size  int
	elem  *list.Element
}

func newRecord(key Key, hdr header.IPv6, timeout int) *record {
	r := &record{
		key:        key,
		dataLength: -1,
		timer:      timeout,
		size:       recordOverhead,
	}
	copy(r.hdr[:], hdr)
	return r
}

// placement is the outcome of checking a fragment against a record.
type placement int

const (
	placeNew placement = iota
	placeDuplicate
	placeConflict
)

// place checks [off, off+n) against the held shims, the known data length
// and the final flag. Only an exact byte-identical repeat is a duplicate.
func (r *record) place(off int, data []byte, final bool) placement {
	end := off + len(data)
	if r.dataLength >= 0 {
		if end > r.dataLength {
			return placeConflict
		}
		if final && end != r.dataLength {
			return placeConflict
		}
	}
	for i := range r.shims {
		s := &r.shims[i]
		if end <= s.offset || off >= s.end() {
			if final && s.end() > end {
				return placeConflict
			}
			continue
		}
		if s.offset == off && s.length == len(data) && bytes.Equal(s.data, data) {
			return placeDuplicate
		}
		return placeConflict
	}
	return placeNew
}

// insert appends a shim and splices contiguous gaps. It returns the number
// of bytes now charged to the record.
func (r *record) insert(off int, data []byte, final bool) int {
	idx := len(r.shims)
	r.shims = append(r.shims, shim{offset: off, length: len(data), data: data})
	if final {
		r.dataLength = off + len(data)
	}

	if off != r.marker {
		pos := len(r.gaps)
		for i, g := range r.gaps {
			if r.shims[g].offset > off {
				pos = i
				break
			}
		}
		r.gaps = append(r.gaps, 0)
		copy(r.gaps[pos+1:], r.gaps[pos:])
		r.gaps[pos] = idx
		r.size += len(data)
		return len(data)
	}

	r.contig = append(r.contig, idx)
	r.marker += len(data)
	n := 0
	for n < len(r.gaps) && r.shims[r.gaps[n]].offset == r.marker {
		r.contig = append(r.contig, r.gaps[n])
		r.marker += r.shims[r.gaps[n]].length
		n++
	}
	r.gaps = r.gaps[n:]
	r.size += len(data)
	return len(data)
}

func (r *record) complete() bool {
	return r.dataLength >= 0 && r.marker == r.dataLength
}

// setFirst stores what the offset-zero fragment carries ahead of its data.
// It returns the change in bytes charged to the record.
func (r *record) setFirst(f *Fragment) int {
	prev := 0
	if r.haveFirst {
		prev = len(r.unfrag)
	}
	r.haveFirst = true
	r.nextHeader = f.NextHeader
	r.nhOffset = f.NextHeaderOffset
	r.unfrag = append([]byte(nil), f.Unfragmentable...)
	copy(r.hdr[:], f.Header)
	header.IPv6FragmentExtHdr(r.fragHdr[:]).Encode(&header.IPv6FragmentFields{
		NextHeader:     f.NextHeader,
		FragmentOffset: 0,
		M:              f.More,
		Identification: f.Key.ID,
	})
	delta := len(r.unfrag) - prev
	r.size += delta
	return delta
}

// firstShim returns the shim at offset zero, if held.
func (r *record) firstShim() *shim {
	if len(r.contig) == 0 {
		return nil
	}
	return &r.shims[r.contig[0]]
}
