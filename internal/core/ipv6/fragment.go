package ipv6

import (
	"errors"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
	"firestige.xyz/v6rx/internal/core/reassembly"
)

// handleFragment feeds a fragment to the reassembly store. field is the
// offset of the next header byte that named the Fragment header.
func (e *Engine) handleFragment(p *Packet, field int) (step, error) {
	off := p.Offset()
	// RFC 2675: jumbograms cannot be fragmented.
	if p.Has(FlagJumbo) {
		return step{}, paramProblem(header.ICMPv6ErroneousHeader, off, core.DropFragmentInvalid)
	}
	b, err := p.Cursor.Ensure(header.IPv6FragmentExtHdrLength)
	if err != nil {
		return step{}, truncated()
	}
	fh := header.IPv6FragmentExtHdr(b)
	key := reassembly.Key{Src: p.Source(), Dst: p.Destination(), ID: fh.ID()}

	if err := p.Cursor.Advance(header.IPv6FragmentExtHdrLength); err != nil {
		return step{}, truncated()
	}
	if fh.IsAtomic() && !e.store.Contains(key) {
		return step{next: fh.NextHeader(), field: off}, nil
	}

	unfrag := make([]byte, off-header.IPv6MinimumSize)
	p.Cursor.CopyAt(p.base+header.IPv6MinimumSize, unfrag)
	payload, err := p.Cursor.Ensure(p.Cursor.Len())
	if err != nil {
		return step{}, truncated()
	}

	datagram, done, err := e.store.Process(&reassembly.Fragment{
		Key:                  key,
		Header:               p.Header(),
		Unfragmentable:       unfrag,
		NextHeaderOffset:     field,
		FragmentHeaderOffset: off,
		NextHeader:           fh.NextHeader(),
		Offset:               fh.FragmentOffset(),
		More:                 fh.More(),
		Payload:              payload,
	})
	switch {
	case errors.Is(err, core.ErrFragmentTooLarge):
		return step{}, paramProblem(header.ICMPv6ErroneousHeader, off+header.IPv6FragmentExtHdrFragmentOffsetOffset, core.DropFragmentInvalid)
	case errors.Is(err, core.ErrFragmentLength):
		return step{}, paramProblem(header.ICMPv6ErroneousHeader, header.IPv6PayloadLenOffset, core.DropFragmentInvalid)
	case err != nil:
		return step{}, err
	case !done:
		return step{done: true}, nil
	case datagram == nil:
		// Atomic fragment whose record vanished meanwhile.
		return step{next: fh.NextHeader(), field: off}, nil
	}
	return step{done: true}, e.resubmit(p, datagram)
}

// resubmit feeds a reassembled datagram back through Receive, deferring
// through the scheduler when the policy asks for it.
func (e *Engine) resubmit(p *Packet, datagram []byte) error {
	np := NewPacket(datagram)
	np.Flags = FlagReassembled | p.Flags&FlagNotUnicast
	np.SecurityAssociations = p.SecurityAssociations
	np.depth = p.depth + 1
	iface := p.Interface

	if e.deferPolicy(p) {
		if err := e.scheduler.Schedule(func() { e.Receive(iface, np) }); err != nil {
			return core.Drop(core.DropDeferQueueFull)
		}
		return nil
	}
	e.Receive(iface, np)
	return nil
}
