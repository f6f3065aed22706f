// Package relay forwards MIDI messages between a network session and a pair
// of virtual MIDI ports.
package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
)

// ErrAlreadyRelaying is returned by Start when the forwarding rules are already registered.
var ErrAlreadyRelaying = errors.New("relay already started")

// State is the relay lifecycle state. The only transition is Idle -> Relaying.
type State int32

const (
	Idle State = iota
	Relaying
)

func (s State) String() string {
	if s == Relaying {
		return "relaying"
	}
	return "idle"
}

// Direction names one of the two forwarding rules.
type Direction string

const (
	NetworkToVirtual Direction = "network->virtual"
	VirtualToNetwork Direction = "virtual->network"
)

// DirectionStats counts messages handled by one forwarding rule.
type DirectionStats struct {
	Forwarded uint64 `json:"forwarded"`
	Failed    uint64 `json:"failed"`
}

// Stats is a snapshot of the relay counters.
type Stats struct {
	State            string         `json:"state"`
	NetworkToVirtual DirectionStats `json:"network_to_virtual"`
	VirtualToNetwork DirectionStats `json:"virtual_to_network"`
}

type counters struct {
	forwarded atomic.Uint64
	failed    atomic.Uint64
}

func (c *counters) snapshot() DirectionStats {
	return DirectionStats{Forwarded: c.forwarded.Load(), Failed: c.failed.Load()}
}

// Relay is a pure pass-through between a network endpoint and virtual ports.
// Messages are neither filtered, transformed nor buffered; a failed send is
// counted and logged, and the next message is processed.
type Relay struct {
	network contracts.NetworkEndpoint
	ports   contracts.VirtualPorts
	logger  contracts.Logger

	state atomic.Int32
	n2v   counters
	v2n   counters
	wg    sync.WaitGroup
}

// New creates an idle relay between network and ports.
func New(network contracts.NetworkEndpoint, ports contracts.VirtualPorts, logger contracts.Logger) *Relay {
	return &Relay{
		network: network,
		ports:   ports,
		logger:  logger,
	}
}

// Start registers both forwarding rules. Each rule runs in its own goroutine
// until ctx is cancelled or its source channel is closed.
func (r *Relay) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(Idle), int32(Relaying)) {
		return ErrAlreadyRelaying
	}

	r.wg.Add(2)
	go r.forward(ctx, NetworkToVirtual, r.network.Messages(), r.toVirtual, &r.n2v)
	go r.forward(ctx, VirtualToNetwork, r.ports.Messages(), r.toNetwork, &r.v2n)

	r.logger.Info("Relay started")
	return nil
}

// Run starts the relay and blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.wg.Wait()
	r.logger.Info("Relay stopped")
	return nil
}

// Wait blocks until both forwarding goroutines have returned.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// State returns the current relay state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// Stats returns a snapshot of the forwarding counters.
func (r *Relay) Stats() Stats {
	return Stats{
		State:            r.State().String(),
		NetworkToVirtual: r.n2v.snapshot(),
		VirtualToNetwork: r.v2n.snapshot(),
	}
}

func (r *Relay) forward(ctx context.Context, dir Direction, src <-chan contracts.Message, send func(contracts.Message) error, c *counters) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-src:
			if !ok {
				r.logger.Warn("Message source closed", r.logger.Field().String("direction", string(dir)))
				return
			}
			if err := send(msg); err != nil {
				c.failed.Add(1)
				r.logger.Warn("Failed to forward MIDI message",
					r.logger.Field().String("direction", string(dir)),
					r.logger.Field().Hex("data", msg.Data),
					r.logger.Field().Error("error", err))
				continue
			}
			c.forwarded.Add(1)
			if !r.logger.Enabled(contracts.DebugLevel) {
				continue
			}
			r.logger.Debug("MIDI message forwarded",
				r.logger.Field().String("direction", string(dir)),
				r.logger.Field().Duration("delta", msg.Delta),
				r.logger.Field().Hex("data", msg.Data),
				r.logger.Field().String("message", midi.Message(msg.Data).String()))
		}
	}
}

// toVirtual drops the delta: the virtual output timestamps locally.
func (r *Relay) toVirtual(msg contracts.Message) error {
	return errors.Wrap(r.ports.Send(msg.Data), "virtual output")
}

func (r *Relay) toNetwork(msg contracts.Message) error {
	return errors.Wrap(r.network.Send(msg), "network session")
}
