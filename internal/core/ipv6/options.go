package ipv6

import (
	"encoding/binary"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
)

// OptionResult holds the recognized options of one options header. Slices
// are views into the packet.
type OptionResult struct {
	JumboLength   uint32
	RouterAlert   []byte
	HomeAddress   []byte
	BindingUpdate []byte

	// jumboPointer is the offset of a Jumbo option seen with a non-zero
	// base payload length, 0 otherwise.
	jumboPointer int
}

// optionContext is what option validation needs to know about the datagram.
type optionContext struct {
	kind           HeaderKind
	offset         int // of the options header from the base header
	basePayloadLen uint16
	dstMulticast   bool
}

// parseOptions walks the options of hdr. A recognized option that is out of
// place is handled as unrecognized. When an option type repeats, the last
// one wins.
func parseOptions(hdr header.IPv6OptionsExtHdr, ctx optionContext) (OptionResult, error) {
	var res OptionResult
	it := hdr.Iter()
	for {
		opt, done, err := it.Next()
		if err != nil {
			return OptionResult{}, paramProblem(header.ICMPv6ErroneousHeader, ctx.offset+header.IPv6ExtHdrLengthOffset, core.DropParamProblem)
		}
		if done {
			return res, nil
		}
		ptr := ctx.offset + opt.Offset

		switch {
		case opt.Identifier == header.IPv6JumboPayloadHopByHopOptionIdentifier && ctx.kind == KindHopByHop:
			if len(opt.Data) != header.IPv6JumboPayloadOptionDataSize {
				return OptionResult{}, paramProblem(header.ICMPv6ErroneousHeader, ptr+1, core.DropParamProblem)
			}
			v := binary.BigEndian.Uint32(opt.Data)
			if v <= header.IPv6MaximumPayloadSize {
				return OptionResult{}, paramProblem(header.ICMPv6ErroneousHeader, ptr+2, core.DropParamProblem)
			}
			// RFC 2675: the option must sit at 4n+2 inside its header.
			if opt.Offset%4 != 2 {
				return OptionResult{}, paramProblem(header.ICMPv6ErroneousHeader, ptr, core.DropParamProblem)
			}
			res.JumboLength = v
			// A fragment of a jumbogram carries the option in its
			// unfragmentable part next to its own payload length. Whether
			// a Fragment header follows is settled by the dispatcher.
			res.jumboPointer = 0
			if ctx.basePayloadLen != 0 {
				res.jumboPointer = ptr
			}

		case opt.Identifier == header.IPv6RouterAlertHopByHopOptionIdentifier && ctx.kind == KindHopByHop:
			if len(opt.Data) != header.IPv6RouterAlertOptionDataSize {
				return OptionResult{}, paramProblem(header.ICMPv6ErroneousHeader, ptr+1, core.DropParamProblem)
			}
			res.RouterAlert = opt.Data

		case opt.Identifier == header.IPv6HomeAddressDestinationOptionIdentifier && ctx.kind == KindDestinationOptions:
			if len(opt.Data) != header.IPv6HomeAddressOptionDataSize {
				return OptionResult{}, paramProblem(header.ICMPv6ErroneousHeader, ptr+1, core.DropParamProblem)
			}
			res.HomeAddress = opt.Data

		case opt.Identifier == header.IPv6BindingUpdateDestinationOptionIdentifier && ctx.kind == KindDestinationOptions:
			if len(opt.Data) < header.IPv6BindingUpdateOptionMinDataSize {
				return OptionResult{}, paramProblem(header.ICMPv6ErroneousHeader, ptr+1, core.DropParamProblem)
			}
			res.BindingUpdate = opt.Data

		default:
			if err := unknownOption(opt.Identifier, ptr, ctx.dstMulticast); err != nil {
				return OptionResult{}, err
			}
		}
	}
}

// unknownOption applies the action encoded in the high bits of id.
func unknownOption(id header.IPv6ExtHdrOptionIdentifier, ptr int, dstMulticast bool) error {
	switch id.UnknownAction() {
	case header.IPv6OptionUnknownActionSkip:
		return nil
	case header.IPv6OptionUnknownActionDiscard:
		return core.Drop(core.DropUnknownOption)
	case header.IPv6OptionUnknownActionDiscardSendICMP:
		pp := paramProblem(header.ICMPv6UnknownOption, ptr, core.DropUnknownOption)
		pp.AllowMulticast = true
		return pp
	default:
		if dstMulticast {
			return core.Drop(core.DropUnknownOption)
		}
		return paramProblem(header.ICMPv6UnknownOption, ptr, core.DropUnknownOption)
	}
}
