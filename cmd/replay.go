package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/v6rx/internal/config"
	"firestige.xyz/v6rx/internal/log"
	"firestige.xyz/v6rx/internal/replay"
)

var replayOpts replay.Options

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run a capture file through the receive engine",
	Long: `
Read frames from a pcap or pcapng file and feed every IPv6 datagram to the
receive engine as if it arrived on the given interface. ICMPv6 errors,
forwarded datagrams and locally delivered datagrams can each be written to
a raw-IP pcap file.

Examples:
  v6rx replay --in trace.pcap                                  # count only
  v6rx replay -c v6rx.yaml --in trace.pcap --out-icmp icmp.pcap
  v6rx replay --in trace.pcapng --iface eth1 --clock wall
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			exitWithError("failed to load config", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runReplay(ctx, cfg, replayOpts, log.GetLogger(), cmd.OutOrStdout()); err != nil {
			exitWithError("replay failed", err)
		}
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayOpts.Input, "in", "i", "", "capture file to replay (pcap or pcapng)")
	f.StringVar(&replayOpts.Interface, "iface", "", "receiving interface name (first configured when empty)")
	f.StringVar(&replayOpts.OutICMP, "out-icmp", "", "write generated ICMPv6 errors to this pcap file")
	f.StringVar(&replayOpts.OutForward, "out-forward", "", "write forwarded datagrams to this pcap file")
	f.StringVar(&replayOpts.OutDeliver, "out-deliver", "", "write delivered datagrams to this pcap file")
	f.StringVar(&replayOpts.Clock, "clock", replay.ClockCapture, "reassembly clock: capture or wall")
	replayCmd.MarkFlagRequired("in")
}

func runReplay(ctx context.Context, cfg *config.GlobalConfig, opts replay.Options, logger log.Logger, w io.Writer) error {
	r, err := replay.New(cfg, opts, logger)
	if err != nil {
		return err
	}
	stats, err := r.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "frames:    %d\n", stats.Frames)
	fmt.Fprintf(w, "skipped:   %d\n", stats.Skipped)
	fmt.Fprintf(w, "icmp:      %d\n", stats.ICMP)
	fmt.Fprintf(w, "forwarded: %d\n", stats.Forwarded)
	fmt.Fprintf(w, "delivered: %d\n", stats.Delivered)
	fmt.Fprintf(w, "pending:   %d\n", stats.Pending)
	return nil
}
