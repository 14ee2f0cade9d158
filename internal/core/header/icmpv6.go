package header

import "golang.org/x/net/ipv6"

// ICMPv6Code is an ICMPv6 code value. Type values come from
// golang.org/x/net/ipv6.
type ICMPv6Code uint8

// Destination Unreachable codes, RFC 4443 section 3.1.
const (
	ICMPv6NetworkUnreachable    ICMPv6Code = 0
	ICMPv6Prohibited            ICMPv6Code = 1
	ICMPv6BeyondScope           ICMPv6Code = 2
	ICMPv6AddressUnreachable    ICMPv6Code = 3
	ICMPv6PortUnreachable       ICMPv6Code = 4
	ICMPv6SourceAddressFailed   ICMPv6Code = 5
	ICMPv6RejectRouteToDestCode ICMPv6Code = 6
)

// Time Exceeded codes, RFC 4443 section 3.3.
const (
	ICMPv6HopLimitExceeded  ICMPv6Code = 0
	ICMPv6ReassemblyTimeout ICMPv6Code = 1
)

// Parameter Problem codes, RFC 4443 section 3.4.
const (
	ICMPv6ErroneousHeader ICMPv6Code = 0
	ICMPv6UnknownHeader   ICMPv6Code = 1
	ICMPv6UnknownOption   ICMPv6Code = 2
)

// IsICMPv6Error reports whether typ is an ICMPv6 error message type. Error
// messages have the high-order bit of the type clear.
func IsICMPv6Error(typ ipv6.ICMPType) bool {
	return typ < 128
}

// ICMPv6TypeOffset is the offset of the Type field in an ICMPv6 message.
const ICMPv6TypeOffset = 0
