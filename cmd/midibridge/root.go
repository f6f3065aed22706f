package main

import (
	"context"
	"fmt"
	"time"

	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/sdk/bridge"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/spf13/cobra"
)

type flags struct {
	name         string
	service      string
	port         int
	remoteHost   string
	remotePort   int
	inName       string
	outName      string
	queueSize    int
	syncInterval time.Duration
	logLevel     string
	logFile      string
	statusAddr   string
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "midibridge",
		Short: "Relay MIDI between an AppleMIDI session and local virtual ports",
		Long: `midibridge opens a virtual MIDI input and output on this host and an
AppleMIDI (RTP-MIDI) session on UDP, invites the remote peer and relays
every message between the two until interrupted.

Examples:
  midibridge --remote-host 192.168.1.100
  midibridge --port 5008 --in-name "ESP32 in" --out-name "ESP32 out"
  midibridge --status-addr 127.0.0.1:8080 --log-level debug`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runContext()
			defer stop()
			return run(ctx, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.name, "name", bridge.DefaultName, "local session name sent in invitations")
	fs.StringVar(&f.service, "service", bridge.DefaultName, "service name reported in bindings")
	fs.IntVar(&f.port, "port", bridge.DefaultPort, "local UDP control port (data port is port+1)")
	fs.StringVar(&f.remoteHost, "remote-host", bridge.DefaultRemoteHost, "remote peer address")
	fs.IntVar(&f.remotePort, "remote-port", bridge.DefaultRemotePort, "remote peer control port")
	fs.StringVar(&f.inName, "in-name", bridge.DefaultInName, "name of the virtual input port")
	fs.StringVar(&f.outName, "out-name", bridge.DefaultOutName, "name of the virtual output port")
	fs.IntVar(&f.queueSize, "queue-size", bridge.DefaultQueueSize, "inbound channel buffer size")
	fs.DurationVar(&f.syncInterval, "sync-interval", bridge.DefaultSyncInterval, "clock synchronization period while connected")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFile, "log-file", "", "write logs to this file instead of stderr")
	fs.StringVar(&f.statusAddr, "status-addr", "", "enable the status API on this address")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "midibridge %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func (f *flags) options(log contracts.Logger) ([]contracts.Option, error) {
	level, err := contracts.ParseLogLevel(f.logLevel)
	if err != nil {
		return nil, err
	}

	opts := []contracts.Option{
		contracts.WithLogger(log),
		contracts.WithLogLevel(level),
		contracts.WithSession(contracts.SessionConfig{
			Name:         f.name,
			ServiceName:  f.service,
			Port:         f.port,
			SyncInterval: f.syncInterval,
		}),
		contracts.WithRemote(f.remoteHost, f.remotePort),
		contracts.WithVirtualPorts(contracts.VirtualPortConfig{
			ClientName: f.name,
			InName:     f.inName,
			OutName:    f.outName,
		}),
		contracts.WithQueueSize(f.queueSize),
		contracts.WithStatusAddr(f.statusAddr),
	}
	if f.logFile != "" {
		opts = append(opts, contracts.WithLogFile(f.logFile))
	}
	return opts, nil
}

func run(ctx context.Context, f *flags) error {
	log := logger.NewZapLogger()
	if s, ok := log.(interface{ Sync() error }); ok {
		defer s.Sync()
	}

	opts, err := f.options(log)
	if err != nil {
		return err
	}

	b, err := bridge.NewBridge(opts...)
	if err != nil {
		return err
	}

	if err := b.Run(ctx); err != nil {
		log.Error("Bridge failed", log.Field().Error("error", err))
		return err
	}
	return nil
}
