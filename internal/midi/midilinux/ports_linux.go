//go:build linux && cgo
// +build linux,cgo

package midilinux

import (
	"errors"
	"fmt"
	"time"

	"github.com/leandrodaf/midibridge/internal/midi/portpair"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Error definitions for virtual port setup.
var (
	ErrDriverUnavailable = errors.New("rtmidi driver unavailable")
	ErrCreateInputPort   = errors.New("error creating virtual input port")
	ErrCreateOutputPort  = errors.New("error creating virtual output port")
	ErrListen            = errors.New("error listening on virtual input port")
)

// NewVirtualPorts registers a virtual input and a virtual output with ALSA
// through rtmidi.
func NewVirtualPorts(options *contracts.BridgeOptions) (contracts.VirtualPorts, error) {
	cfg := options.VirtualPorts
	log := options.Logger

	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	}

	in, err := drv.OpenVirtualIn(cfg.InName)
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("%w %q: %v", ErrCreateInputPort, cfg.InName, err)
	}

	out, err := drv.OpenVirtualOut(cfg.OutName)
	if err != nil {
		in.Close()
		drv.Close()
		return nil, fmt.Errorf("%w %q: %v", ErrCreateOutputPort, cfg.OutName, err)
	}

	var stop func()
	pair := portpair.New(portpair.Config{
		InName:    cfg.InName,
		OutName:   cfg.OutName,
		QueueSize: options.QueueSize,
		Logger:    log,
	}, out.Send, func() error {
		if stop != nil {
			stop()
		}
		in.Close()
		out.Close()
		return drv.Close()
	})

	stop, err = in.Listen(func(msg []byte, milliseconds int32) {
		pair.Deliver(msg, time.Duration(milliseconds)*time.Millisecond)
	}, drivers.ListenConfig{
		TimeCode:    true,
		ActiveSense: true,
		SysEx:       true,
		OnErr: func(err error) {
			log.Warn("Virtual input error", log.Field().Error("error", err))
		},
	})
	if err != nil {
		pair.Close()
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}

	log.Info("Virtual MIDI ports created",
		log.Field().String("in", cfg.InName),
		log.Field().String("out", cfg.OutName))
	return pair, nil
}
