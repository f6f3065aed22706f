//go:build !linux || !cgo
// +build !linux !cgo

package midilinux

import (
	"fmt"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// NewVirtualPorts reports that ALSA virtual ports are unavailable in this build.
func NewVirtualPorts(options *contracts.BridgeOptions) (contracts.VirtualPorts, error) {
	options.Logger.Warn("NewVirtualPorts called on a build without ALSA support")
	return nil, fmt.Errorf("virtual MIDI ports require linux with cgo enabled")
}
