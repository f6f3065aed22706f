package contracts

// BindingKind identifies which side of the bridge an endpoint belongs to.
type BindingKind string

const (
	NetworkBinding    BindingKind = "network"     // AppleMIDI session.
	VirtualInBinding  BindingKind = "virtual-in"  // Virtual MIDI input port.
	VirtualOutBinding BindingKind = "virtual-out" // Virtual MIDI output port.
)

// Binding contains information about one endpoint of the bridge.
type Binding struct {
	Kind      BindingKind `json:"kind"`              // Side of the bridge.
	Name      string      `json:"name"`              // Port or session name.
	Service   string      `json:"service,omitempty"` // Service name, network endpoint only.
	Address   string      `json:"address,omitempty"` // Local address, network endpoint only.
	Peer      string      `json:"peer,omitempty"`    // Remote peer, network endpoint only.
	Connected bool        `json:"connected"`         // Whether the endpoint can currently deliver messages.
}
