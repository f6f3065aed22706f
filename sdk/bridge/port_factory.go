package bridge

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/leandrodaf/midibridge/internal/midi/mididarwin"
	"github.com/leandrodaf/midibridge/internal/midi/midilinux"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// ErrUnsupportedOS is returned when the operating system has no virtual MIDI port support.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// portInitializers maps OS names to corresponding virtual port initializers.
var portInitializers = map[string]func(*contracts.BridgeOptions) (contracts.VirtualPorts, error){
	"darwin": mididarwin.NewVirtualPorts, // CoreMIDI virtual source and destination.
	"linux":  midilinux.NewVirtualPorts,  // ALSA sequencer ports through rtmidi.
}

// NewVirtualPorts creates the virtual port pair for the current operating system.
// It returns ErrUnsupportedOS on platforms without a virtual port API.
func NewVirtualPorts(opts *contracts.BridgeOptions) (contracts.VirtualPorts, error) {
	return newVirtualPortsFor(runtime.GOOS, opts)
}

func newVirtualPortsFor(goos string, opts *contracts.BridgeOptions) (contracts.VirtualPorts, error) {
	if initializer, exists := portInitializers[goos]; exists {
		return initializer(opts)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
}
