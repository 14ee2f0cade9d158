package ipv6

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/net/ipv6"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
	"firestige.xyz/v6rx/internal/core/reassembly"
	"firestige.xyz/v6rx/internal/log"
	"firestige.xyz/v6rx/internal/metrics"
)

const (
	// DefaultMaxForwardBuffer bounds one forwarding allocation.
	DefaultMaxForwardBuffer = 128 * 1024
	// DefaultTickInterval drives the reassembly timeout sweep.
	DefaultTickInterval = time.Second
)

// Config contains configuration for the receive engine.
type Config struct {
	Reassembly       reassembly.Config
	MaxForwardBuffer int           // Largest forwarding allocation in bytes (default 128KiB)
	TickInterval     time.Duration // Reassembly sweep period for Run (default 1s)
}

// Collaborators are the services the engine calls out to. Only Addresses is
// required. Forwarding is disabled without Routes and Forwarder.
type Collaborators struct {
	Addresses   AddressTable
	Routes      RouteResolver
	Forwarder   Forwarder
	ICMP        ICMPSender
	Security    SecurityPolicy
	Scheduler   Scheduler
	DeferPolicy DeferPolicy
	Mobility    Mobility
	Logger      log.Logger
}

// Engine is the IPv6 receive path. Receive may be called concurrently.
type Engine struct {
	config      Config
	addrs       AddressTable
	routes      RouteResolver
	forwarder   Forwarder
	icmp        ICMPSender
	security    SecurityPolicy
	scheduler   Scheduler
	deferPolicy DeferPolicy
	mobility    Mobility
	log         log.Logger

	transports map[uint8]Transport
	store      *reassembly.Store
}

// New creates an engine.
func New(cfg Config, c Collaborators) (*Engine, error) {
	if c.Addresses == nil {
		return nil, fmt.Errorf("%w: address table is required", core.ErrConfigInvalid)
	}
	if cfg.MaxForwardBuffer <= 0 {
		cfg.MaxForwardBuffer = DefaultMaxForwardBuffer
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if c.Security == nil {
		c.Security = allowAll{}
	}
	if c.Scheduler == nil {
		c.Scheduler = goScheduler{}
	}
	if c.DeferPolicy == nil {
		c.DeferPolicy = DeferReassembled
	}
	if c.Logger == nil {
		c.Logger = log.GetLogger()
	}
	return &Engine{
		config:      cfg,
		addrs:       c.Addresses,
		routes:      c.Routes,
		forwarder:   c.Forwarder,
		icmp:        c.ICMP,
		security:    c.Security,
		scheduler:   c.Scheduler,
		deferPolicy: c.DeferPolicy,
		mobility:    c.Mobility,
		log:         c.Logger,
		transports:  make(map[uint8]Transport),
		store:       reassembly.NewStore(cfg.Reassembly),
	}, nil
}

// RegisterTransport routes protocol proto to t. Transports must be
// registered before the engine receives traffic.
func (e *Engine) RegisterTransport(proto uint8, t Transport) {
	e.transports[proto] = t
}

// Store returns the reassembly store.
func (e *Engine) Store() *reassembly.Store { return e.store }

// Receive processes one frame starting at its IPv6 base header. It returns
// the number of references still held on the frame's buffer: 1 when a
// transport kept it, 0 when the engine is done with it.
func (e *Engine) Receive(iface Interface, pkt *Packet) int {
	pkt.Interface = iface
	metrics.PacketsReceivedTotal.WithLabelValues(ifaceName(iface)).Inc()

	refs, err := e.receive(pkt)
	if err != nil {
		e.fail(pkt, err)
	}
	if pkt.Has(FlagHoldsEntityRef) {
		pkt.Flags &^= FlagHoldsEntityRef
		pkt.Entity.Release()
	}
	return refs
}

// ReassemblyTimeoutTick runs one reassembly timeout sweep and reports
// expired datagrams whose first fragment had arrived.
func (e *Engine) ReassemblyTimeoutTick() {
	for _, x := range e.store.Tick() {
		if x.Packet == nil {
			continue
		}
		p := NewPacket(x.Packet)
		e.sendError(p, ipv6.ICMPTypeTimeExceeded, header.ICMPv6ReassemblyTimeout, 0, uint8(header.IPv6FragmentExtHdrIdentifier), false)
	}
}

// Run drives ReassemblyTimeoutTick until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	e.log.WithField("interval", e.config.TickInterval).Info("reassembly sweep started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("reassembly sweep stopped")
			return nil
		case <-ticker.C:
			e.ReassemblyTimeoutTick()
		}
	}
}

// fail reports err to the sender when it carries an ICMP error and accounts
// for the drop.
func (e *Engine) fail(p *Packet, err error) {
	var (
		pp     *ParamProblem
		du     *DestUnreachable
		drop   *core.DropError
		reason = core.DropOther
	)
	switch {
	case errors.As(err, &pp):
		reason = pp.Reason
		e.sendError(p, ipv6.ICMPTypeParameterProblem, pp.Code, pp.Pointer, p.next, pp.AllowMulticast)
	case errors.As(err, &du):
		reason = du.Reason
		e.sendError(p, ipv6.ICMPTypeDestinationUnreachable, du.Code, 0, p.next, false)
	case errors.As(err, &drop):
		reason = drop.Reason
	}
	metrics.PacketsDroppedTotal.WithLabelValues(string(reason)).Inc()

	if e.log.IsDebugEnabled() {
		e.log.WithFields(map[string]interface{}{
			"reason": reason,
			"src":    p.Source(),
			"dst":    p.Destination(),
			"iface":  ifaceName(p.Interface),
		}).WithError(err).Debug("datagram dropped")
	}
}

func (e *Engine) sendError(p *Packet, typ ipv6.ICMPType, code header.ICMPv6Code, pointer uint32, nextHeader uint8, allowMulticast bool) {
	if e.icmp == nil {
		return
	}
	if err := e.icmp.SendError(p, typ, code, pointer, nextHeader, allowMulticast); err != nil {
		e.log.WithError(err).WithField("type", typ).Debug("icmp error not sent")
	}
}

func ifaceName(iface Interface) string {
	if iface == nil {
		return "unknown"
	}
	return iface.Name()
}

func protocolLabel(proto uint8) string {
	return strconv.Itoa(int(proto))
}

// goScheduler runs deferred work on its own goroutine.
type goScheduler struct{}

func (goScheduler) Schedule(fn func()) error {
	go fn()
	return nil
}
