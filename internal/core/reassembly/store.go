// Package reassembly implements IPv6 fragment reassembly.
package reassembly

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
	"firestige.xyz/v6rx/internal/metrics"
)

const (
	// DefaultQuota bounds the bytes held across all records.
	DefaultQuota = 256 * 1024
	// DefaultTimeoutTicks is the number of sweeps a record survives (RFC 8200: 60s).
	DefaultTimeoutTicks = 60
)

// Config contains configuration for the reassembly store.
type Config struct {
	Quota             int           // Byte ceiling across all records (default 256KiB)
	TimeoutTicks      int           // Sweeps before a record expires (default 60)
	MaxFragsPerSource int           // Per-source fragment rate limit per window (0 = disabled)
	RateLimitWindow   time.Duration // Rate limit window (default 10s)

	Now func() time.Time // Clock for the rate limiter (default time.Now)
}

// Fragment is one received fragment, already located by the dispatcher.
type Fragment struct {
	Key Key

	// Header is the base header as received.
	Header header.IPv6
	// Unfragmentable holds the extension headers between the base header
	// and the Fragment header.
	Unfragmentable []byte
	// NextHeaderOffset is the offset, from the start of the base header, of
	// the next-header field that named the Fragment header.
	NextHeaderOffset int
	// FragmentHeaderOffset is the offset of the Fragment header from the
	// start of the base header.
	FragmentHeaderOffset int

	NextHeader uint8 // from the Fragment header
	Offset     int   // in bytes
	More       bool
	Payload    []byte
}

// Expired is a record removed by the timeout sweep. Packet is a
// representative datagram (base header, unfragmentable part, Fragment
// header and first fragment data) when the offset-zero fragment had
// arrived, nil otherwise.
type Expired struct {
	Key    Key
	Packet []byte
}

// Store holds in-progress reassembly records. The mutex guards the map, the
// age list, the size counter and every record's shim lists; payload copies
// and datagram assembly happen outside it.
type Store struct {
	mu      sync.Mutex
	records map[Key]*record
	order   list.List // *record, oldest first
	size    int

	config  Config
	limiter *FragmentRateLimiter
}

// NewStore creates a reassembly store.
func NewStore(cfg Config) *Store {
	if cfg.Quota <= 0 {
		cfg.Quota = DefaultQuota
	}
	if cfg.TimeoutTicks <= 0 {
		cfg.TimeoutTicks = DefaultTimeoutTicks
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		records: make(map[Key]*record),
		config:  cfg,
		limiter: NewFragmentRateLimiter(FragmentRateLimiterConfig{
			MaxFragsPerSource: cfg.MaxFragsPerSource,
			RateLimitWindow:   cfg.RateLimitWindow,
		}),
	}
}

// Process adds a fragment to the store.
// Returns:
//   - atomic fragment with no live record: (nil, true, nil); the caller keeps
//     parsing the packet in place
//   - fragment held, datagram incomplete: (nil, false, nil)
//   - datagram complete: (datagram, true, nil), a fresh buffer starting at
//     the base header
//   - error: (nil, false, err); ErrFragmentTooLarge and ErrFragmentLength
//     also delete the record, other errors are silent drops. Fragments
//     without data are dropped.
func (s *Store) Process(f *Fragment) ([]byte, bool, error) {
	final := !f.More
	if f.Offset == 0 && final && !s.Contains(f.Key) {
		return nil, true, nil
	}

	// An empty fragment adds nothing to the datagram but would still cost a
	// shim in the record.
	if len(f.Payload) == 0 {
		return nil, false, core.Drop(core.DropFragmentInvalid)
	}
	jumbo := jumboDataOffset(f.Header, f.Unfragmentable) >= 0
	if !jumbo && len(f.Unfragmentable)+f.Offset+len(f.Payload) > header.IPv6MaximumPayloadSize {
		s.Remove(f.Key)
		return nil, false, fmt.Errorf("%w: offset %d length %d", core.ErrFragmentTooLarge, f.Offset, len(f.Payload))
	}
	if !final && len(f.Payload)%header.IPv6ExtHdrLenBytesPerUnit != 0 {
		s.Remove(f.Key)
		return nil, false, fmt.Errorf("%w: %d bytes", core.ErrFragmentLength, len(f.Payload))
	}

	if !s.limiter.Allow(f.Key.Src, s.config.Now()) {
		return nil, false, core.Drop(core.DropFragmentRate)
	}

	data := append([]byte(nil), f.Payload...)

	s.mu.Lock()
	r, ok := s.records[f.Key]
	if !ok {
		r = newRecord(f.Key, f.Header, s.config.TimeoutTicks)
		r.elem = s.order.PushBack(r)
		s.records[f.Key] = r
		s.size += r.size
	}

	switch r.place(f.Offset, data, final) {
	case placeDuplicate:
		s.mu.Unlock()
		return nil, false, nil
	case placeConflict:
		s.removeLocked(r)
		s.publishLocked()
		s.mu.Unlock()
		return nil, false, core.Drop(core.DropFragmentOverlap)
	}

	if f.Offset == 0 {
		s.size += r.setFirst(f)
		r.jumbo = jumbo
	}
	s.size += r.insert(f.Offset, data, final)

	evicted := false
	for s.size > s.config.Quota && s.order.Len() > 0 {
		victim := s.pruneLocked()
		metrics.ReassemblyEvictionsTotal.Inc()
		if victim == r {
			evicted = true
		}
	}
	if evicted {
		s.publishLocked()
		s.mu.Unlock()
		return nil, false, core.Drop(core.DropReassemblyQuota)
	}

	if !r.complete() {
		s.publishLocked()
		s.mu.Unlock()
		return nil, false, nil
	}
	s.removeLocked(r)
	s.publishLocked()
	s.mu.Unlock()

	datagram, err := r.assemble()
	if err != nil {
		return nil, false, err
	}
	metrics.ReassembledTotal.Inc()
	return datagram, true, nil
}

// Contains reports whether a record exists for key.
func (s *Store) Contains(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok
}

// Remove deletes the record for key, if any.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[key]; ok {
		s.removeLocked(r)
		s.publishLocked()
	}
}

// Size returns the bytes currently charged against the quota.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Rejected returns the number of fragments refused by the rate limiter.
func (s *Store) Rejected() int64 {
	return s.limiter.Rejected()
}

// Tick runs one timeout sweep. Records whose timer reaches zero are removed
// and returned.
func (s *Store) Tick() []Expired {
	var dead []*record
	s.mu.Lock()
	for e := s.order.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(*record)
		r.timer--
		if r.timer <= 0 {
			s.removeLocked(r)
			dead = append(dead, r)
		}
		e = next
	}
	if len(dead) > 0 {
		s.publishLocked()
	}
	s.mu.Unlock()

	if len(dead) == 0 {
		return nil
	}
	metrics.ReassemblyTimeoutsTotal.Add(float64(len(dead)))
	expired := make([]Expired, 0, len(dead))
	for _, r := range dead {
		expired = append(expired, Expired{Key: r.key, Packet: r.representative()})
	}
	return expired
}

func (s *Store) removeLocked(r *record) {
	delete(s.records, r.key)
	s.order.Remove(r.elem)
	s.size -= r.size
}

// pruneLocked evicts one record: the oldest when the oldest and newest
// share a source, the newest otherwise.
func (s *Store) pruneLocked() *record {
	oldest := s.order.Front().Value.(*record)
	newest := s.order.Back().Value.(*record)
	victim := newest
	if oldest.key.Src == newest.key.Src {
		victim = oldest
	}
	s.removeLocked(victim)
	return victim
}

func (s *Store) publishLocked() {
	metrics.ReassemblyRecords.Set(float64(len(s.records)))
	metrics.ReassemblyBytes.Set(float64(s.size))
}

// assemble builds the reconstructed datagram. The record is detached, so no
// lock is needed.
func (r *record) assemble() ([]byte, error) {
	payload := len(r.unfrag) + r.dataLength
	buf := make([]byte, header.IPv6MinimumSize+payload)
	copy(buf, r.hdr[:])
	n := header.IPv6MinimumSize
	n += copy(buf[n:], r.unfrag)
	for _, i := range r.contig {
		n += copy(buf[n:], r.shims[i].data)
	}

	ip := header.IPv6(buf)
	switch {
	case payload <= header.IPv6MaximumPayloadSize:
		ip.SetPayloadLength(uint16(payload))
	case r.jumbo:
		ip.SetPayloadLength(0)
		off := jumboDataOffset(ip, r.unfrag)
		binary.BigEndian.PutUint32(buf[header.IPv6MinimumSize+off:], uint32(payload))
	default:
		return nil, core.Drop(core.DropReassemblySize)
	}
	buf[r.nhOffset] = r.nextHeader
	return buf, nil
}

// representative rebuilds the offset-zero fragment for a Time Exceeded
// error. Returns nil when that fragment never arrived.
func (r *record) representative() []byte {
	first := r.firstShim()
	if !r.haveFirst || first == nil {
		return nil
	}
	payload := len(r.unfrag) + len(r.fragHdr) + first.length
	buf := make([]byte, header.IPv6MinimumSize+payload)
	copy(buf, r.hdr[:])
	n := header.IPv6MinimumSize
	n += copy(buf[n:], r.unfrag)
	n += copy(buf[n:], r.fragHdr[:])
	copy(buf[n:], first.data)
	if payload <= header.IPv6MaximumPayloadSize {
		header.IPv6(buf).SetPayloadLength(uint16(payload))
	}
	return buf
}

// jumboDataOffset returns the offset, within unfrag, of the Jumbo Payload
// option data when the unfragmentable part opens with a Hop-by-Hop header
// carrying one, or -1.
func jumboDataOffset(hdr header.IPv6, unfrag []byte) int {
	if len(hdr) < header.IPv6MinimumSize || hdr.NextHeader() != uint8(header.IPv6HopByHopOptionsExtHdrIdentifier) {
		return -1
	}
	if len(unfrag) < header.IPv6ExtHdrMinimumSize {
		return -1
	}
	hbhLen := header.IPv6ExtHdrLength(unfrag[header.IPv6ExtHdrLengthOffset])
	if hbhLen > len(unfrag) {
		return -1
	}
	it := header.IPv6OptionsExtHdr(unfrag[:hbhLen]).Iter()
	found := -1
	for {
		opt, done, err := it.Next()
		if done || err != nil {
			return found
		}
		if opt.Identifier == header.IPv6JumboPayloadHopByHopOptionIdentifier && len(opt.Data) == header.IPv6JumboPayloadOptionDataSize {
			found = opt.Offset + 2
		}
	}
}
