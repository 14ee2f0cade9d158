// Package netif provides static interfaces, local addresses and routes for
// the receive engine.
package netif

import (
	"fmt"
	"net/netip"
	"sort"
	"sync/atomic"

	"firestige.xyz/v6rx/internal/config"
	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/ipv6"
)

var allNodes = netip.MustParseAddr("ff02::1")

// Interface is a configured network interface.
type Interface struct {
	name        string
	index       int
	forwarding  bool
	linkReserve int
	prefixes    []netip.Prefix
}

func (i *Interface) Name() string     { return i.name }
func (i *Interface) Index() int       { return i.index }
func (i *Interface) Forwarding() bool { return i.forwarding }
func (i *Interface) LinkReserve() int { return i.linkReserve }
func (i *Interface) String() string   { return i.name }

// Prefixes returns the configured addresses with their prefix lengths.
func (i *Interface) Prefixes() []netip.Prefix {
	return append([]netip.Prefix(nil), i.prefixes...)
}

// localAddr is an address owned by this node. refs counts outstanding
// entities handed to the engine.
type localAddr struct {
	addr  netip.Addr
	iface *Interface
	refs  atomic.Int64
}

// entity is one reference to a localAddr.
type entity struct {
	local    *localAddr
	released atomic.Bool
}

func (e *entity) Address() netip.Addr { return e.local.addr }

func (e *entity) Release() {
	if e.released.CompareAndSwap(false, true) {
		e.local.refs.Add(-1)
	}
}

type route struct {
	prefix netip.Prefix
	iface  *Interface
	via    netip.Addr
}

// Table is the address table and route resolver built from configuration.
// It is read-only after construction.
type Table struct {
	ifaces map[string]*Interface
	order  []*Interface
	local  map[netip.Addr]*localAddr
	routes []route // longest prefix first
}

var (
	_ ipv6.AddressTable  = (*Table)(nil)
	_ ipv6.RouteResolver = (*Table)(nil)
)

// New builds a table from validated configuration.
func New(ifaces []config.InterfaceConfig, routes []config.RouteConfig) (*Table, error) {
	t := &Table{
		ifaces: make(map[string]*Interface, len(ifaces)),
		local:  make(map[netip.Addr]*localAddr),
	}
	for _, ic := range ifaces {
		iface := &Interface{
			name:        ic.Name,
			index:       ic.Index,
			forwarding:  ic.Forwarding,
			linkReserve: ic.LinkReserve,
		}
		for _, a := range ic.Addresses {
			p, err := config.ParseAddress(a)
			if err != nil {
				return nil, fmt.Errorf("%w: interface %s address %q: %v", core.ErrConfigInvalid, ic.Name, a, err)
			}
			iface.prefixes = append(iface.prefixes, p)
			t.local[p.Addr()] = &localAddr{addr: p.Addr(), iface: iface}
		}
		for _, g := range ic.Groups {
			addr, err := netip.ParseAddr(g)
			if err != nil {
				return nil, fmt.Errorf("%w: interface %s group %q: %v", core.ErrConfigInvalid, ic.Name, g, err)
			}
			t.local[addr] = &localAddr{addr: addr, iface: iface}
		}
		t.ifaces[ic.Name] = iface
		t.order = append(t.order, iface)
	}
	if _, ok := t.local[allNodes]; !ok {
		t.local[allNodes] = &localAddr{addr: allNodes}
	}

	for _, rc := range routes {
		p, err := netip.ParsePrefix(rc.Prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: route %q: %v", core.ErrConfigInvalid, rc.Prefix, err)
		}
		iface, ok := t.ifaces[rc.Interface]
		if !ok {
			return nil, fmt.Errorf("%w: route %s: unknown interface %q", core.ErrConfigInvalid, rc.Prefix, rc.Interface)
		}
		r := route{prefix: p.Masked(), iface: iface}
		if rc.Via != "" {
			if r.via, err = netip.ParseAddr(rc.Via); err != nil {
				return nil, fmt.Errorf("%w: route %s via %q: %v", core.ErrConfigInvalid, rc.Prefix, rc.Via, err)
			}
		}
		t.routes = append(t.routes, r)
	}
	// Connected routes for every interface prefix.
	for _, iface := range t.order {
		for _, p := range iface.prefixes {
			if p.Bits() < 128 {
				t.routes = append(t.routes, route{prefix: p.Masked(), iface: iface})
			}
		}
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		return t.routes[i].prefix.Bits() > t.routes[j].prefix.Bits()
	})
	return t, nil
}

// Interface returns the interface called name.
func (t *Table) Interface(name string) (*Interface, bool) {
	iface, ok := t.ifaces[name]
	return iface, ok
}

// Interfaces returns the interfaces in configuration order.
func (t *Table) Interfaces() []*Interface {
	return append([]*Interface(nil), t.order...)
}

// Resolve implements ipv6.AddressTable. Local addresses and joined groups
// resolve to a referenced entity; addresses covered by a route are
// forwardable.
func (t *Table) Resolve(dst netip.Addr) (ipv6.Resolution, ipv6.Entity) {
	if la, ok := t.local[dst]; ok {
		la.refs.Add(1)
		return ipv6.Local, &entity{local: la}
	}
	if _, ok := t.lookup(dst); ok {
		return ipv6.Forwardable, nil
	}
	return ipv6.NotForwardable, nil
}

// Route implements ipv6.RouteResolver with a longest prefix match.
func (t *Table) Route(dst netip.Addr) (*ipv6.Route, error) {
	r, ok := t.lookup(dst)
	if !ok {
		return nil, fmt.Errorf("%s: %w", dst, core.ErrNoRoute)
	}
	next := r.via
	if !next.IsValid() {
		next = dst
	}
	return &ipv6.Route{
		Interface:   r.iface,
		NextHop:     next,
		LinkReserve: r.iface.linkReserve,
	}, nil
}

func (t *Table) lookup(dst netip.Addr) (route, bool) {
	for _, r := range t.routes {
		if r.prefix.Contains(dst) {
			return r, true
		}
	}
	return route{}, false
}

// SourceFor picks the source address for a message leaving iface: its first
// global address, then any address it has, then any local unicast address.
func (t *Table) SourceFor(iface ipv6.Interface) netip.Addr {
	if iface != nil {
		if own, ok := t.ifaces[iface.Name()]; ok {
			for _, p := range own.prefixes {
				if p.Addr().IsGlobalUnicast() {
					return p.Addr()
				}
			}
			if len(own.prefixes) > 0 {
				return own.prefixes[0].Addr()
			}
		}
	}
	for _, i := range t.order {
		if len(i.prefixes) > 0 {
			return i.prefixes[0].Addr()
		}
	}
	return netip.IPv6Unspecified()
}

// Refs returns the number of entity references not yet released.
func (t *Table) Refs() int64 {
	var n int64
	for _, la := range t.local {
		n += la.refs.Load()
	}
	return n
}
