package replay

import (
	"fmt"

	"golang.org/x/net/bpf"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/decoder"
)

// frameFilter is a classic BPF program that admits IPv6 frames only. It is
// the same program a live socket would attach, run here in the userspace VM
// so non-IPv6 traffic never reaches the decoder.
type frameFilter struct {
	vm *bpf.VM
}

// ethernetIPv6 accepts 0x86DD behind at most two 802.1Q/802.1ad tags.
var ethernetIPv6 = []bpf.Instruction{
	bpf.LoadAbsolute{Off: 12, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86DD, SkipTrue: 8},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x8100, SkipTrue: 1},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x88A8, SkipFalse: 7},
	bpf.LoadAbsolute{Off: 16, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86DD, SkipTrue: 4},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x8100, SkipTrue: 1},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x88A8, SkipFalse: 3},
	bpf.LoadAbsolute{Off: 20, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86DD, SkipFalse: 1},
	bpf.RetConstant{Val: snapLen},
	bpf.RetConstant{Val: 0},
}

// rawIPv6 accepts a version nibble of 6.
var rawIPv6 = []bpf.Instruction{
	bpf.LoadAbsolute{Off: 0, Size: 1},
	bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: 0xF0},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x60, SkipFalse: 1},
	bpf.RetConstant{Val: snapLen},
	bpf.RetConstant{Val: 0},
}

func newFrameFilter(link decoder.LinkType) (*frameFilter, error) {
	var prog []bpf.Instruction
	switch link {
	case decoder.LinkEthernet:
		prog = ethernetIPv6
	case decoder.LinkRaw:
		prog = rawIPv6
	default:
		return nil, fmt.Errorf("no filter for link %s: %w", link, core.ErrUnsupportedProto)
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to load BPF program: %w", err)
	}
	return &frameFilter{vm: vm}, nil
}

// accept reports whether the program keeps the frame. Loads past the end of
// a short frame make the VM return zero.
func (f *frameFilter) accept(frame []byte) bool {
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}
