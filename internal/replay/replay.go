// Package replay feeds captured frames through the receive engine and
// records what the engine emits.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/v6rx/internal/config"
	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/decoder"
	v6 "firestige.xyz/v6rx/internal/core/ipv6"
	"firestige.xyz/v6rx/internal/core/reassembly"
	"firestige.xyz/v6rx/internal/icmp"
	"firestige.xyz/v6rx/internal/log"
	"firestige.xyz/v6rx/internal/metrics"
	"firestige.xyz/v6rx/internal/netif"
	"firestige.xyz/v6rx/internal/scheduler"
)

// Clock selects what drives the reassembly timeout sweep.
const (
	// ClockCapture sweeps as capture timestamps advance.
	ClockCapture = "capture"
	// ClockWall sweeps on a wall-clock ticker.
	ClockWall = "wall"
)

// Options are per-run settings.
type Options struct {
	Input      string
	Interface  string // receiving interface, first configured when empty
	OutICMP    string
	OutForward string
	OutDeliver string
	Clock      string
}

// Stats summarizes a run.
type Stats struct {
	Frames    uint64
	Skipped   uint64
	ICMP      uint64
	Forwarded uint64
	Delivered uint64
	Pending   int // datagrams left in reassembly
}

// Replayer wires the engine to a capture file and output sinks.
type Replayer struct {
	cfg  *config.GlobalConfig
	opts Options
	log  log.Logger

	table   *netif.Table
	iface   *netif.Interface
	engine  *v6.Engine
	sched   *scheduler.Scheduler
	metrics *metrics.Server

	icmpOut    *Sink
	forwardOut *Sink
	deliverOut *Sink

	// captureTime is the timestamp of the frame being replayed, in
	// nanoseconds since the epoch.
	captureTime atomic.Int64
	nextSweep   time.Time
	frames      uint64
	skipped     uint64
}

// New builds a replayer from validated configuration.
func New(cfg *config.GlobalConfig, opts Options, logger log.Logger) (*Replayer, error) {
	if logger == nil {
		logger = log.GetLogger()
	}
	if opts.Clock == "" {
		opts.Clock = ClockCapture
	}
	if opts.Clock != ClockCapture && opts.Clock != ClockWall {
		return nil, fmt.Errorf("%w: clock %q (must be %s or %s)", core.ErrConfigInvalid, opts.Clock, ClockCapture, ClockWall)
	}

	table, err := netif.New(cfg.Interfaces, cfg.Routes)
	if err != nil {
		return nil, err
	}
	ifaces := table.Interfaces()
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("%w: at least one interface is required", core.ErrConfigInvalid)
	}
	iface := ifaces[0]
	if opts.Interface != "" {
		var ok bool
		if iface, ok = table.Interface(opts.Interface); !ok {
			return nil, fmt.Errorf("%w: unknown interface %q", core.ErrConfigInvalid, opts.Interface)
		}
	}

	r := &Replayer{cfg: cfg, opts: opts, log: logger, table: table, iface: iface}
	if err := r.openSinks(); err != nil {
		return nil, err
	}

	var sender v6.ICMPSender
	if cfg.ICMP.Enabled {
		sender = icmp.NewSender(icmp.Config{
			Rate:     cfg.ICMP.Rate,
			Burst:    cfg.ICMP.Burst,
			HopLimit: cfg.ICMP.HopLimit,
		}, r.icmpOut, table, logger)
	}

	r.sched = scheduler.New(scheduler.Config{
		Workers:   cfg.Engine.Defer.Workers,
		QueueSize: cfg.Engine.Defer.QueueSize,
	}, logger)

	r.engine, err = v6.New(v6.Config{
		Reassembly: reassembly.Config{
			Quota:             cfg.Engine.Reassembly.Quota,
			TimeoutTicks:      cfg.Engine.Reassembly.TimeoutTicks,
			MaxFragsPerSource: cfg.Engine.Reassembly.MaxFragsPerSource,
			RateLimitWindow:   cfg.Engine.Reassembly.RateLimitDuration(),
			Now:               r.now,
		},
		MaxForwardBuffer: cfg.Engine.MaxForwardBuffer,
		TickInterval:     cfg.Engine.TickDuration(),
	}, v6.Collaborators{
		Addresses: table,
		Routes:    table,
		Forwarder: &forwarder{sink: r.forwardOut, icmp: sender, log: logger},
		ICMP:      sender,
		Scheduler: r.sched,
		Mobility:  &bindingLog{log: logger},
		Logger:    logger,
	})
	if err != nil {
		r.closeSinks()
		return nil, err
	}
	deliver := &delivery{sink: r.deliverOut, log: logger}
	for _, proto := range cfg.Engine.Transports {
		r.engine.RegisterTransport(uint8(proto), deliver)
	}

	if cfg.Metrics.Enabled {
		r.metrics = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, logger)
	}
	return r, nil
}

func (r *Replayer) openSinks() error {
	var err error
	if r.icmpOut, err = NewSink(r.opts.OutICMP, r.now); err != nil {
		return err
	}
	if r.forwardOut, err = NewSink(r.opts.OutForward, r.now); err != nil {
		r.closeSinks()
		return err
	}
	if r.deliverOut, err = NewSink(r.opts.OutDeliver, r.now); err != nil {
		r.closeSinks()
		return err
	}
	return nil
}

func (r *Replayer) closeSinks() error {
	var errs []error
	for _, s := range []*Sink{r.icmpOut, r.forwardOut, r.deliverOut} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}

// now is the replay clock: the current capture timestamp, or the wall clock
// before the first frame.
func (r *Replayer) now() time.Time {
	if ns := r.captureTime.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Now()
}

// Engine returns the engine being driven.
func (r *Replayer) Engine() *v6.Engine { return r.engine }

// Run replays the whole input and closes the output files. Deferred work is
// drained before Run returns.
func (r *Replayer) Run(ctx context.Context) (Stats, error) {
	src, err := OpenSource(r.opts.Input)
	if err != nil {
		r.closeSinks()
		return Stats{}, err
	}
	defer src.Close()
	link, err := src.LinkType()
	if err != nil {
		r.closeSinks()
		return Stats{}, err
	}
	filter, err := newFrameFilter(link)
	if err != nil {
		r.closeSinks()
		return Stats{}, err
	}

	r.sched.Start(context.WithoutCancel(ctx))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if r.metrics != nil {
		if err := r.metrics.Start(gctx); err != nil {
			r.sched.Stop()
			r.closeSinks()
			return Stats{}, err
		}
		g.Go(func() error {
			<-gctx.Done()
			return r.metrics.Stop(context.WithoutCancel(ctx))
		})
	}
	if r.opts.Clock == ClockWall {
		g.Go(func() error { return r.engine.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return r.read(gctx, src, link, filter)
	})

	r.log.WithFields(map[string]interface{}{
		"input":     r.opts.Input,
		"interface": r.iface.Name(),
		"clock":     r.opts.Clock,
	}).Info("replay started")

	err = g.Wait()
	r.sched.Stop()
	if cerr := r.closeSinks(); err == nil {
		err = cerr
	}

	stats := Stats{
		Frames:    r.frames,
		Skipped:   r.skipped,
		ICMP:      r.icmpOut.Count(),
		Forwarded: r.forwardOut.Count(),
		Delivered: r.deliverOut.Count(),
		Pending:   r.engine.Store().Len(),
	}
	r.log.WithFields(map[string]interface{}{
		"frames":    stats.Frames,
		"skipped":   stats.Skipped,
		"icmp":      stats.ICMP,
		"forwarded": stats.Forwarded,
		"delivered": stats.Delivered,
		"pending":   stats.Pending,
	}).Info("replay finished")
	return stats, err
}

func (r *Replayer) read(ctx context.Context, src *Source, link decoder.LinkType, filter *frameFilter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		r.frames++
		r.advance(ci.Timestamp)
		if !filter.accept(data) {
			r.skipped++
			continue
		}

		f, err := decoder.Decode(data, link)
		if err != nil {
			r.skipped++
			if r.log.IsTraceEnabled() {
				r.log.WithError(err).WithField("frame", r.frames).Trace("frame skipped")
			}
			continue
		}
		pkt := v6.NewPacket(f.Payload)
		if f.NotUnicast {
			pkt.Flags |= v6.FlagNotUnicast
		}
		start := time.Now()
		r.engine.Receive(r.iface, pkt)
		metrics.ReplayLatencySeconds.Observe(time.Since(start).Seconds())
	}
}

// advance moves the capture clock to ts and runs the timeout sweeps that
// became due. Once every record has had time to expire further sweeps are
// skipped.
func (r *Replayer) advance(ts time.Time) {
	if ts.IsZero() {
		return
	}
	r.captureTime.Store(ts.UnixNano())
	if r.opts.Clock != ClockCapture {
		return
	}
	tick := r.cfg.Engine.TickDuration()
	if r.nextSweep.IsZero() {
		r.nextSweep = ts.Add(tick)
		return
	}
	for n := 0; !ts.Before(r.nextSweep); n++ {
		if n > r.cfg.Engine.Reassembly.TimeoutTicks {
			r.nextSweep = ts.Add(tick)
			return
		}
		r.engine.ReassemblyTimeoutTick()
		r.nextSweep = r.nextSweep.Add(tick)
	}
}
