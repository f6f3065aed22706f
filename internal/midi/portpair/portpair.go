// Package portpair holds the driver-independent half of a virtual MIDI port
// pair: delta computation and buffering for the input, closed-state
// handling for the output.
package portpair

import (
	"sync"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// SendFunc writes one raw MIDI command to the virtual output.
type SendFunc func(data []byte) error

// Config describes the pair.
type Config struct {
	InName    string
	OutName   string
	QueueSize int
	Logger    contracts.Logger
}

// Pair implements contracts.VirtualPorts on top of driver callbacks.
type Pair struct {
	cfg     Config
	logger  contracts.Logger
	send    SendFunc
	closeFn func() error

	mu      sync.Mutex
	msgs    chan contracts.Message
	closed  bool
	started bool
	last    time.Duration
}

// New creates a pair. send is called for every outbound message and closeFn
// once on Close.
func New(cfg Config, send SendFunc, closeFn func() error) *Pair {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Pair{
		cfg:     cfg,
		logger:  cfg.Logger,
		send:    send,
		closeFn: closeFn,
		msgs:    make(chan contracts.Message, cfg.QueueSize),
	}
}

// Deliver is called by the driver for each message written to the virtual
// input. at is the driver timestamp; only differences between calls matter.
// The first message has a zero delta.
func (p *Pair) Deliver(data []byte, at time.Duration) {
	if len(data) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	var delta time.Duration
	if p.started && at > p.last {
		delta = at - p.last
	}
	p.started = true
	p.last = at

	msg := contracts.Message{Delta: delta, Data: append([]byte(nil), data...)}
	select {
	case p.msgs <- msg:
	default:
		p.logger.Warn("Virtual input buffer full; dropping MIDI message", p.logger.Field().Hex("data", data))
	}
}

// Messages returns the virtual input stream. It is closed by Close.
func (p *Pair) Messages() <-chan contracts.Message {
	return p.msgs
}

// Send hands data to the virtual output.
func (p *Pair) Send(data []byte) error {
	if len(data) == 0 {
		return contracts.ErrEmptyMessage
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return contracts.ErrClosed
	}
	return p.send(data)
}

// Bindings describes both ports. They are connected until Close.
func (p *Pair) Bindings() []contracts.Binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	return []contracts.Binding{
		{Kind: contracts.VirtualInBinding, Name: p.cfg.InName, Connected: !p.closed},
		{Kind: contracts.VirtualOutBinding, Name: p.cfg.OutName, Connected: !p.closed},
	}
}

// Close releases the driver ports and closes the message channel.
func (p *Pair) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.msgs)
	p.mu.Unlock()

	p.logger.Info("Closing virtual MIDI ports",
		p.logger.Field().String("in", p.cfg.InName),
		p.logger.Field().String("out", p.cfg.OutName))
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}
