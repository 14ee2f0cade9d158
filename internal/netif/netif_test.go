package netif

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/v6rx/internal/config"
	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/ipv6"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	table, err := New([]config.InterfaceConfig{
		{Name: "eth0", Index: 1, Forwarding: true, LinkReserve: 14, Addresses: []string{"fe80::1", "2001:db8:1::1/64"}},
		{Name: "eth1", Index: 2, Addresses: []string{"2001:db8:2::1/64"}, Groups: []string{"ff02::fb"}},
	}, []config.RouteConfig{
		{Prefix: "2001:db8:100::/40", Interface: "eth1", Via: "2001:db8:2::fffe"},
		{Prefix: "::/0", Interface: "eth0", Via: "2001:db8:1::fffe"},
	})
	require.NoError(t, err)
	return table
}

func TestResolve(t *testing.T) {
	table := newTestTable(t)

	tests := []struct {
		dst  string
		want ipv6.Resolution
	}{
		{"2001:db8:1::1", ipv6.Local},
		{"fe80::1", ipv6.Local},
		{"ff02::1", ipv6.Local},
		{"ff02::fb", ipv6.Local},
		{"2001:db8:1::55", ipv6.Forwardable},
		{"2001:db8:100::1", ipv6.Forwardable},
		{"2620:0:1::1", ipv6.Forwardable},
	}
	for _, tt := range tests {
		t.Run(tt.dst, func(t *testing.T) {
			res, ent := table.Resolve(netip.MustParseAddr(tt.dst))
			assert.Equal(t, tt.want, res)
			if res == ipv6.Local {
				require.NotNil(t, ent)
				assert.Equal(t, netip.MustParseAddr(tt.dst), ent.Address())
				ent.Release()
			} else {
				assert.Nil(t, ent)
			}
		})
	}
	assert.Equal(t, int64(0), table.Refs())
}

func TestResolveWithoutDefaultRoute(t *testing.T) {
	table, err := New([]config.InterfaceConfig{{Name: "eth0", Addresses: []string{"2001:db8::1/64"}}}, nil)
	require.NoError(t, err)

	res, _ := table.Resolve(netip.MustParseAddr("2001:db9::1"))
	assert.Equal(t, ipv6.NotForwardable, res)
	_, err = table.Route(netip.MustParseAddr("2001:db9::1"))
	assert.True(t, errors.Is(err, core.ErrNoRoute))
}

func TestEntityReleaseOnce(t *testing.T) {
	table := newTestTable(t)
	_, ent := table.Resolve(netip.MustParseAddr("2001:db8:1::1"))
	assert.Equal(t, int64(1), table.Refs())
	ent.Release()
	ent.Release()
	assert.Equal(t, int64(0), table.Refs())
}

func TestRouteLongestPrefix(t *testing.T) {
	table := newTestTable(t)

	r, err := table.Route(netip.MustParseAddr("2001:db8:100::9"))
	require.NoError(t, err)
	assert.Equal(t, "eth1", r.Interface.Name())
	assert.Equal(t, netip.MustParseAddr("2001:db8:2::fffe"), r.NextHop)

	r, err = table.Route(netip.MustParseAddr("2001:db8:1::9"))
	require.NoError(t, err)
	assert.Equal(t, "eth0", r.Interface.Name())
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::9"), r.NextHop, "connected route is on-link")
	assert.Equal(t, 14, r.LinkReserve)

	r, err = table.Route(netip.MustParseAddr("2620::1"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::fffe"), r.NextHop)
}

func TestSourceFor(t *testing.T) {
	table := newTestTable(t)
	eth0, ok := table.Interface("eth0")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::1"), table.SourceFor(eth0))
	assert.Equal(t, netip.MustParseAddr("fe80::1"), table.SourceFor(nil))
	assert.Len(t, table.Interfaces(), 2)
	assert.Len(t, eth0.Prefixes(), 2)
}

func TestNewRejectsUnknownInterface(t *testing.T) {
	_, err := New(nil, []config.RouteConfig{{Prefix: "::/0", Interface: "eth9"}})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}
