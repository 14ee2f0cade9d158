// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by the receive path and its collaborators.
var (
	// Buffer errors
	ErrShortBuffer = errors.New("v6rx: not enough bytes in buffer")
	ErrBadAdvance  = errors.New("v6rx: cursor advance out of range")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("v6rx: packet too short")
	ErrUnsupportedProto = errors.New("v6rx: unsupported protocol")
	ErrNotIPv6          = errors.New("v6rx: not an IPv6 packet")

	// ErrSilentDrop marks a packet that is discarded without notifying the
	// sender. Wrap it with a DropReason to keep the reason visible.
	ErrSilentDrop = errors.New("v6rx: packet dropped")

	// IP reassembly errors
	ErrFragmentTooLarge = errors.New("v6rx: fragment extends past maximum payload size")
	ErrFragmentLength   = errors.New("v6rx: non-final fragment length is not a multiple of 8")

	// Collaborator errors
	ErrNoRoute   = errors.New("v6rx: no route to destination")
	ErrQueueFull = errors.New("v6rx: deferred work queue full")
	ErrStopped   = errors.New("v6rx: component stopped")
	ErrHopLimit  = errors.New("v6rx: hop limit exceeded")

	// Configuration errors
	ErrConfigInvalid = errors.New("v6rx: invalid configuration")
)

// Drop wraps ErrSilentDrop with a reason so callers can both test for a silent
// drop with errors.Is and recover the reason with errors.As.
func Drop(reason DropReason) error {
	return &DropError{Reason: reason}
}

// DropError is a silent drop with its reason attached.
type DropError struct {
	Reason DropReason
}

func (e *DropError) Error() string {
	return ErrSilentDrop.Error() + ": " + string(e.Reason)
}

// Unwrap makes errors.Is(err, ErrSilentDrop) hold.
func (e *DropError) Unwrap() error {
	return ErrSilentDrop
}
