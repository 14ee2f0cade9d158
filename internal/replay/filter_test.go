package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/v6rx/internal/core/decoder"
)

func ethFrame(types ...uint16) []byte {
	frame := make([]byte, 12, 64)
	for i, t := range types {
		frame = append(frame, byte(t>>8), byte(t))
		if i < len(types)-1 {
			frame = append(frame, 0x00, 0x64) // TCI
		}
	}
	frame = append(frame, 0x60, 0, 0, 0)
	return frame
}

func TestFrameFilterEthernet(t *testing.T) {
	f, err := newFrameFilter(decoder.LinkEthernet)
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{"ipv6", ethFrame(0x86DD), true},
		{"arp", ethFrame(0x0806), false},
		{"ipv4", ethFrame(0x0800), false},
		{"vlan ipv6", ethFrame(0x8100, 0x86DD), true},
		{"vlan ipv4", ethFrame(0x8100, 0x0800), false},
		{"qinq ipv6", ethFrame(0x88A8, 0x8100, 0x86DD), true},
		{"double 802.1q ipv6", ethFrame(0x8100, 0x8100, 0x86DD), true},
		{"three tags", ethFrame(0x8100, 0x8100, 0x8100, 0x86DD), false},
		{"truncated", make([]byte, 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.accept(tt.frame))
		})
	}
}

func TestFrameFilterRaw(t *testing.T) {
	f, err := newFrameFilter(decoder.LinkRaw)
	require.NoError(t, err)

	assert.True(t, f.accept([]byte{0x60, 0, 0, 0}))
	assert.True(t, f.accept([]byte{0x6F, 0xF0, 0, 0}))
	assert.False(t, f.accept([]byte{0x45, 0, 0, 0}))
	assert.False(t, f.accept(nil))
}

func TestFrameFilterUnknownLink(t *testing.T) {
	_, err := newFrameFilter(decoder.LinkType(99))
	assert.Error(t, err)
}
