// Package bridge assembles the virtual MIDI ports, the AppleMIDI session and
// the relay into a running bridge.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/leandrodaf/midibridge/internal/applemidi"
	"github.com/leandrodaf/midibridge/internal/relay"
	"github.com/leandrodaf/midibridge/internal/status"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Bridge relays MIDI between a network session and a local virtual port pair.
type Bridge struct {
	options contracts.BridgeOptions
	logger  contracts.Logger

	newPorts   func(*contracts.BridgeOptions) (contracts.VirtualPorts, error)
	newSession func(context.Context, applemidi.Config) (contracts.NetworkEndpoint, error)

	mu      sync.Mutex
	ports   contracts.VirtualPorts
	network contracts.NetworkEndpoint
	relay   *relay.Relay
}

// NewBridge creates a bridge with the specified options.
// It applies default options and validates them; nothing is opened until Run.
func NewBridge(opts ...contracts.Option) (*Bridge, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		options:    options,
		logger:     options.Logger,
		newPorts:   NewVirtualPorts,
		newSession: listenSession,
	}, nil
}

func listenSession(ctx context.Context, cfg applemidi.Config) (contracts.NetworkEndpoint, error) {
	return applemidi.Listen(ctx, cfg)
}

// Options returns the effective options after defaults were applied.
func (b *Bridge) Options() contracts.BridgeOptions {
	return b.options
}

// Run opens the virtual ports and the network session, starts relaying,
// invites the configured remote peer and blocks until ctx is cancelled.
// Setup failures are returned immediately; a failed invitation is logged
// and the bridge keeps running.
func (b *Bridge) Run(ctx context.Context) (err error) {
	ports, err := b.newPorts(&b.options)
	if err != nil {
		return fmt.Errorf("creating virtual ports: %w", err)
	}

	network, err := b.newSession(ctx, applemidi.Config{
		Name:         b.options.Session.Name,
		ServiceName:  b.options.Session.ServiceName,
		Port:         b.options.Session.Port,
		SyncInterval: b.options.Session.SyncInterval,
		QueueSize:    b.options.QueueSize,
		Logger:       b.logger,
	})
	if err != nil {
		return multierr.Append(fmt.Errorf("opening network session: %w", err), ports.Close())
	}

	r := relay.New(network, ports, b.logger)

	b.mu.Lock()
	b.ports, b.network, b.relay = ports, network, r
	b.mu.Unlock()

	defer func() {
		err = multierr.Combine(err, network.Close(), ports.Close())
		b.logger.Info("Bridge stopped")
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(gctx)
	})

	if remote := b.options.Remote; remote != nil {
		g.Go(func() error {
			if err := network.Connect(gctx, remote.Host, remote.Port); err != nil {
				b.logger.Error("Failed to invite remote peer",
					b.logger.Field().String("host", remote.Host),
					b.logger.Field().Int("port", remote.Port),
					b.logger.Field().Error("error", err))
			}
			return nil
		})
	}

	if addr := b.options.StatusAddr; addr != "" {
		srv := status.New(b, r, b.logger)
		g.Go(func() error {
			return srv.Serve(gctx, addr)
		})
	}

	b.logger.Info("Bridge running",
		b.logger.Field().String("session", b.options.Session.Name),
		b.logger.Field().String("in", b.options.VirtualPorts.InName),
		b.logger.Field().String("out", b.options.VirtualPorts.OutName))

	return g.Wait()
}

// Bindings lists the network endpoint followed by the virtual ports. It is
// empty until Run has opened them.
func (b *Bridge) Bindings() []contracts.Binding {
	b.mu.Lock()
	defer b.mu.Unlock()

	var bindings []contracts.Binding
	if b.network != nil {
		bindings = append(bindings, b.network.Binding())
	}
	if b.ports != nil {
		bindings = append(bindings, b.ports.Bindings()...)
	}
	return bindings
}

// Stats returns the relay counters, or an idle snapshot before Run.
func (b *Bridge) Stats() relay.Stats {
	b.mu.Lock()
	r := b.relay
	b.mu.Unlock()

	if r == nil {
		return relay.Stats{State: relay.Idle.String()}
	}
	return r.Stats()
}
