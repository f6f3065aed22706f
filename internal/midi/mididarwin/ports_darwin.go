//go:build darwin
// +build darwin

package mididarwin

import (
	"errors"
	"fmt"
	"time"

	"github.com/leandrodaf/midibridge/internal/midi/portpair"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/youpy/go-coremidi"
)

// Error definitions for virtual port setup.
var (
	ErrCreateClient      = errors.New("error creating CoreMIDI client")
	ErrCreateSource      = errors.New("error creating virtual source")
	ErrCreateDestination = errors.New("error creating virtual destination")
)

// NewVirtualPorts publishes a CoreMIDI virtual destination (the bridge's
// input) and a virtual source (the bridge's output). CoreMIDI removes both
// when the owning client process exits.
func NewVirtualPorts(options *contracts.BridgeOptions) (contracts.VirtualPorts, error) {
	cfg := options.VirtualPorts
	log := options.Logger

	client, err := coremidi.NewClient(cfg.ClientName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}

	source, err := coremidi.NewSource(client, cfg.OutName)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrCreateSource, cfg.OutName, err)
	}

	start := time.Now()
	pair := portpair.New(portpair.Config{
		InName:    cfg.InName,
		OutName:   cfg.OutName,
		QueueSize: options.QueueSize,
		Logger:    log,
	}, func(data []byte) error {
		packet := coremidi.NewPacket(data, 0)
		return packet.Received(&source)
	}, nil)

	_, err = coremidi.NewDestination(client, cfg.InName, deliverTo(pair, start))
	if err != nil {
		pair.Close()
		return nil, fmt.Errorf("%w %q: %v", ErrCreateDestination, cfg.InName, err)
	}

	log.Info("Virtual MIDI ports created",
		log.Field().String("client", cfg.ClientName),
		log.Field().String("in", cfg.InName),
		log.Field().String("out", cfg.OutName))
	return pair, nil
}

// deliverTo adapts the destination read callback to the pair. Packet
// timestamps are in host clock ticks, so arrival time is measured locally.
func deliverTo(pair *portpair.Pair, start time.Time) func(coremidi.Packet) {
	return func(packet coremidi.Packet) {
		pair.Deliver(packet.Data, time.Since(start))
	}
}
