//go:build !darwin
// +build !darwin

package mididarwin

import (
	"fmt"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// NewVirtualPorts reports that CoreMIDI is unavailable on this platform.
func NewVirtualPorts(options *contracts.BridgeOptions) (contracts.VirtualPorts, error) {
	options.Logger.Warn("NewVirtualPorts called on a non-macOS system")
	return nil, fmt.Errorf("CoreMIDI virtual ports are not available on this platform")
}
