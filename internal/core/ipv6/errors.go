package ipv6

import (
	"fmt"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
)

// ParamProblem is a parse failure reported to the sender with an ICMPv6
// Parameter Problem. Pointer is measured from the start of the base header.
type ParamProblem struct {
	Code    header.ICMPv6Code
	Pointer uint32
	// AllowMulticast sends the error even when the destination was
	// multicast.
	AllowMulticast bool
	Reason         core.DropReason
}

func (e *ParamProblem) Error() string {
	return fmt.Sprintf("v6rx: parameter problem code %d at byte %d (%s)", e.Code, e.Pointer, e.Reason)
}

// DestUnreachable is a datagram that cannot be delivered or forwarded and is
// reported with an ICMPv6 Destination Unreachable.
type DestUnreachable struct {
	Code   header.ICMPv6Code
	Reason core.DropReason
}

func (e *DestUnreachable) Error() string {
	return fmt.Sprintf("v6rx: destination unreachable code %d (%s)", e.Code, e.Reason)
}

func paramProblem(code header.ICMPv6Code, pointer int, reason core.DropReason) *ParamProblem {
	return &ParamProblem{Code: code, Pointer: uint32(pointer), Reason: reason}
}

// truncated is the error for an extension header running past the payload.
func truncated() *ParamProblem {
	return paramProblem(header.ICMPv6ErroneousHeader, header.IPv6PayloadLenOffset, core.DropTruncated)
}
