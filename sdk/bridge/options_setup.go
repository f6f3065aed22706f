package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Defaults used when an option is not provided.
const (
	DefaultName         = "midibridge"
	DefaultPort         = 5004
	DefaultRemoteHost   = "192.168.1.100"
	DefaultRemotePort   = 5004
	DefaultInName       = "midibridge in"
	DefaultOutName      = "midibridge out"
	DefaultQueueSize    = 256
	DefaultSyncInterval = 10 * time.Second
)

// ErrInvalidOptions wraps every validation failure of the bridge options.
var ErrInvalidOptions = errors.New("invalid bridge options")

// applyDefaultOptions sets default values for BridgeOptions if not explicitly
// provided and validates the result.
func applyDefaultOptions(opts ...contracts.Option) (contracts.BridgeOptions, error) {
	options := &contracts.BridgeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogLevel == 0 {
		options.LogLevel = contracts.InfoLevel
	}

	if options.Session == nil {
		options.Session = &contracts.SessionConfig{}
	}
	if options.Session.Port == 0 {
		options.Session.Port = DefaultPort
	}
	if options.Session.Name == "" {
		options.Session.Name = DefaultName
	}
	if options.Session.ServiceName == "" {
		options.Session.ServiceName = options.Session.Name
	}
	if options.Session.SyncInterval == 0 {
		options.Session.SyncInterval = DefaultSyncInterval
	}

	if options.VirtualPorts == nil {
		options.VirtualPorts = &contracts.VirtualPortConfig{}
	}
	if options.VirtualPorts.ClientName == "" {
		options.VirtualPorts.ClientName = options.Session.Name
	}
	if options.VirtualPorts.InName == "" {
		options.VirtualPorts.InName = DefaultInName
	}
	if options.VirtualPorts.OutName == "" {
		options.VirtualPorts.OutName = DefaultOutName
	}

	if options.QueueSize == 0 {
		options.QueueSize = DefaultQueueSize
	}

	if err := validate(options); err != nil {
		return contracts.BridgeOptions{}, err
	}

	options.Logger.SetLevel(options.LogLevel)
	if options.LogFilePath != "" {
		if err := options.Logger.SetDestination(contracts.FileLog, options.LogFilePath); err != nil {
			return contracts.BridgeOptions{}, fmt.Errorf("%w: log file: %v", ErrInvalidOptions, err)
		}
	}
	return *options, nil
}

func validate(o *contracts.BridgeOptions) error {
	if o.LogLevel < contracts.DebugLevel || o.LogLevel > contracts.FatalLevel {
		return fmt.Errorf("%w: log level %d", ErrInvalidOptions, o.LogLevel)
	}
	if o.Session.Port <= 0 || o.Session.Port > 65534 {
		return fmt.Errorf("%w: session port %d (data port is port+1)", ErrInvalidOptions, o.Session.Port)
	}
	if o.Session.SyncInterval < 0 {
		return fmt.Errorf("%w: sync interval %s", ErrInvalidOptions, o.Session.SyncInterval)
	}
	if o.Remote != nil {
		if o.Remote.Host == "" {
			return fmt.Errorf("%w: remote host is empty", ErrInvalidOptions)
		}
		if o.Remote.Port <= 0 || o.Remote.Port > 65534 {
			return fmt.Errorf("%w: remote port %d", ErrInvalidOptions, o.Remote.Port)
		}
	}
	if o.VirtualPorts.InName == o.VirtualPorts.OutName {
		return fmt.Errorf("%w: virtual input and output share the name %q", ErrInvalidOptions, o.VirtualPorts.InName)
	}
	if o.QueueSize < 0 {
		return fmt.Errorf("%w: queue size %d", ErrInvalidOptions, o.QueueSize)
	}
	return nil
}
