package contracts

import "time"

// SessionConfig holds configuration for the AppleMIDI session.
type SessionConfig struct {
	Name         string        // Session name sent in invitations.
	ServiceName  string        // Service name reported in the endpoint binding.
	Port         int           // Local control port; the data port is Port+1.
	SyncInterval time.Duration // Period between clock synchronization exchanges while connected.
}

// RemoteConfig identifies the peer the bridge invites at startup.
type RemoteConfig struct {
	Host string // Host name or IP address of the peer.
	Port int    // Control port of the peer.
}

// VirtualPortConfig holds configuration for the local virtual MIDI ports.
type VirtualPortConfig struct {
	ClientName string // Name of the MIDI client owning the ports.
	InName     string // Name of the virtual input port.
	OutName    string // Name of the virtual output port.
}

// BridgeOptions defines the configuration options for the bridge.
type BridgeOptions struct {
	Logger       Logger             // Logger for logging events and errors.
	LogLevel     LogLevel           // Level of logging to use.
	LogFilePath  string             // File path for logging if file logging is enabled.
	Session      *SessionConfig     // Configuration of the network session.
	Remote       *RemoteConfig      // Peer to connect to; nil disables the outbound invitation.
	VirtualPorts *VirtualPortConfig // Configuration of the virtual port pair.
	QueueSize    int                // Buffer size of the inbound message channels.
	StatusAddr   string             // Listen address of the status API; empty disables it.
}

// Option is a function that modifies BridgeOptions.
type Option func(*BridgeOptions)

// WithLogger sets the logger for the bridge.
func WithLogger(l Logger) Option {
	return func(opts *BridgeOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the bridge.
func WithLogLevel(level LogLevel) Option {
	return func(opts *BridgeOptions) {
		opts.LogLevel = level
	}
}

// WithLogFile directs logs to the given file.
func WithLogFile(path string) Option {
	return func(opts *BridgeOptions) {
		opts.LogFilePath = path
	}
}

// WithSession sets the network session configuration.
func WithSession(config SessionConfig) Option {
	return func(opts *BridgeOptions) {
		opts.Session = &config
	}
}

// WithRemote sets the peer invited at startup.
func WithRemote(host string, port int) Option {
	return func(opts *BridgeOptions) {
		opts.Remote = &RemoteConfig{Host: host, Port: port}
	}
}

// WithVirtualPorts sets the virtual port configuration.
func WithVirtualPorts(config VirtualPortConfig) Option {
	return func(opts *BridgeOptions) {
		opts.VirtualPorts = &config
	}
}

// WithQueueSize sets the buffer size of the inbound message channels.
func WithQueueSize(size int) Option {
	return func(opts *BridgeOptions) {
		opts.QueueSize = size
	}
}

// WithStatusAddr enables the status API on addr.
func WithStatusAddr(addr string) Option {
	return func(opts *BridgeOptions) {
		opts.StatusAddr = addr
	}
}

// WithSyncInterval sets the period of clock synchronization exchanges.
func WithSyncInterval(interval time.Duration) Option {
	return func(opts *BridgeOptions) {
		if opts.Session == nil {
			opts.Session = &SessionConfig{}
		}
		opts.Session.SyncInterval = interval
	}
}
