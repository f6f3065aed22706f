// Package applemidi implements the session layer of AppleMIDI (RTP-MIDI over
// UDP): the invitation handshake, the CK keepalive exchange and the
// command section of RTP-MIDI packets. The recovery journal is not supported.
package applemidi

import (
	"context"
	"encoding"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrAlreadyConnected is returned by Connect while a session is established.
var ErrAlreadyConnected = errors.New("session already connected")

const (
	defaultSyncInterval = 10 * time.Second
	defaultQueueSize    = 256
	maxDatagram         = 65535

	receiveBuffer = 256 << 10
	dscpExpedited = 0xB8 // DSCP EF (46) in the upper six bits of the TOS byte
)

// Config configures a Session.
type Config struct {
	Name         string        // Session name sent in invitations.
	ServiceName  string        // Reported in the binding; not advertised.
	Port         int           // Control port, data port is Port+1. Zero picks a free pair.
	SyncInterval time.Duration // Period of CK exchanges while connected.
	QueueSize    int           // Buffer of the inbound message channel.
	Logger       contracts.Logger
}

type peer struct {
	control *net.UDPAddr
	data    *net.UDPAddr
	ssrc    uint32
	name    string
	lastSeq uint16 // last RTP sequence number received
	unacked bool   // lastSeq not yet reported with RS
}

// Session is a single-peer AppleMIDI session. It implements
// contracts.NetworkEndpoint.
type Session struct {
	cfg    Config
	logger contracts.Logger
	ssrc   uint32
	start  time.Time

	control *net.UDPConn
	data    *net.UDPConn
	msgs    chan contracts.Message

	mu    sync.Mutex
	state contracts.SessionState
	token uint32
	peer  peer
	out   packetizer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen opens the control and data ports and starts serving them.
func Listen(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		return nil, errors.New("applemidi: logger is required")
	}
	if cfg.Port < 0 || cfg.Port > 65534 {
		return nil, errors.Errorf("applemidi: invalid port %d", cfg.Port)
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	control, data, err := listenPair(ctx, cfg.Port)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		logger:  cfg.Logger,
		ssrc:    rand.Uint32(),
		start:   time.Now(),
		control: control,
		data:    data,
		msgs:    make(chan contracts.Message, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	s.out.ssrc = s.ssrc

	s.wg.Add(3)
	go s.serve(control, false)
	go s.serve(data, true)
	go s.syncLoop()

	s.logger.Info("AppleMIDI session listening",
		s.logger.Field().String("name", cfg.Name),
		s.logger.Field().Int("controlPort", s.ControlPort()),
		s.logger.Field().Uint32("ssrc", s.ssrc))
	return s, nil
}

func listenPair(ctx context.Context, port int) (*net.UDPConn, *net.UDPConn, error) {
	lc := net.ListenConfig{Control: tuneSocket}
	open := func(p int) (*net.UDPConn, error) {
		pc, err := lc.ListenPacket(ctx, "udp", ":"+strconv.Itoa(p))
		if err != nil {
			return nil, err
		}
		return pc.(*net.UDPConn), nil
	}

	attempts := 1
	if port == 0 {
		attempts = 16
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		control, err := open(port)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening control port")
		}
		data, err := open(control.LocalAddr().(*net.UDPAddr).Port + 1)
		if err == nil {
			return control, data, nil
		}
		_ = control.Close()
		lastErr = err
	}
	return nil, nil, errors.Wrap(lastErr, "opening data port")
}

// Connect resolves host and sends an invitation to its control port. It
// returns once the invitation is sent; the handshake completes in the
// background and is observable through State. There is no timeout and no
// retry.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return errors.Wrapf(err, "resolving %s", host)
	}
	if len(ips) == 0 {
		return errors.Errorf("no address for %s", host)
	}
	ip := ips[0]
	for _, candidate := range ips {
		if candidate.IP.To4() != nil {
			ip = candidate
			break
		}
	}
	addr := &net.UDPAddr{IP: ip.IP, Port: port, Zone: ip.Zone}

	s.mu.Lock()
	switch s.state {
	case contracts.SessionClosed:
		s.mu.Unlock()
		return contracts.ErrClosed
	case contracts.SessionConnected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.token = rand.Uint32()
	s.state = contracts.SessionInviting
	s.peer = peer{control: addr}
	token := s.token
	s.mu.Unlock()

	s.logger.Info("Inviting AppleMIDI peer", s.logger.Field().String("peer", addr.String()))
	err = s.send(s.control, addr, Invitation{
		Command: CmdInvitation,
		Version: protocolVersion,
		Token:   token,
		SSRC:    s.ssrc,
		Name:    s.cfg.Name,
	})
	if err != nil {
		s.mu.Lock()
		if s.state == contracts.SessionInviting {
			s.state = contracts.SessionIdle
			s.peer = peer{}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Messages returns the inbound MIDI stream. It is closed by Close.
func (s *Session) Messages() <-chan contracts.Message {
	return s.msgs
}

// Send transmits msg to the connected peer as a single RTP-MIDI packet.
func (s *Session) Send(msg contracts.Message) error {
	if len(msg.Data) == 0 {
		return contracts.ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case contracts.SessionConnected:
	case contracts.SessionClosed:
		return contracts.ErrClosed
	default:
		return contracts.ErrNotConnected
	}

	buf, err := s.out.packet(uint32(s.now()), []contracts.Message{msg})
	if err != nil {
		return err
	}
	_, err = s.data.WriteToUDP(buf, s.peer.data)
	return errors.Wrap(err, "writing RTP-MIDI packet")
}

// State returns the current session state.
func (s *Session) State() contracts.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Binding describes the session endpoint.
func (s *Session) Binding() contracts.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := contracts.Binding{
		Kind:      contracts.NetworkBinding,
		Name:      s.cfg.Name,
		Service:   s.cfg.ServiceName,
		Address:   s.control.LocalAddr().String(),
		Connected: s.state == contracts.SessionConnected,
	}
	if s.peer.control != nil {
		b.Peer = s.peer.control.String()
		if s.peer.name != "" {
			b.Peer = s.peer.name + "@" + b.Peer
		}
	}
	return b
}

// ControlPort returns the bound control port.
func (s *Session) ControlPort() int {
	return s.control.LocalAddr().(*net.UDPAddr).Port
}

// Close ends the session with BY if a peer is connected, then closes both
// ports and the message channel.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		connected := s.state == contracts.SessionConnected
		peerControl, token := s.peer.control, s.token
		s.state = contracts.SessionClosed
		s.mu.Unlock()

		if connected && peerControl != nil {
			s.reply(s.control, peerControl, Invitation{
				Command: CmdBye,
				Version: protocolVersion,
				Token:   token,
				SSRC:    s.ssrc,
			})
		}

		close(s.done)
		err = multierr.Combine(s.control.Close(), s.data.Close())
		s.wg.Wait()
		close(s.msgs)
		s.logger.Info("AppleMIDI session closed")
	})
	return err
}

// now returns the session clock in 10 kHz ticks.
func (s *Session) now() uint64 {
	return uint64(time.Since(s.start) / tickDuration)
}

func (s *Session) serve(conn *net.UDPConn, isData bool) {
	defer s.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Failed to read from session port", s.logger.Field().Error("error", err))
			continue
		}

		pkt := buf[:n]
		switch {
		case IsControl(pkt):
			s.handleControl(conn, isData, addr, pkt)
		case isData:
			s.handleMIDI(addr, pkt)
		default:
			s.logger.Debug("Ignoring non-control packet on control port", s.logger.Field().String("from", addr.String()))
		}
	}
}

func (s *Session) handleControl(conn *net.UDPConn, isData bool, addr *net.UDPAddr, pkt []byte) {
	switch cmd := CommandOf(pkt); cmd {
	case CmdInvitation, CmdAccept, CmdReject, CmdBye:
		inv, err := ParseInvitation(pkt)
		if err != nil {
			s.logger.Warn("Dropping malformed control packet", s.logger.Field().Error("error", err))
			return
		}
		switch cmd {
		case CmdInvitation:
			s.onInvitation(conn, isData, addr, inv)
		case CmdAccept:
			s.onAccept(isData, addr, inv)
		case CmdReject:
			s.onReject(addr, inv)
		case CmdBye:
			s.onBye(addr)
		}
	case CmdSync:
		ck, err := ParseSync(pkt)
		if err != nil {
			s.logger.Warn("Dropping malformed sync packet", s.logger.Field().Error("error", err))
			return
		}
		s.onSync(conn, addr, ck)
	case CmdFeedback:
		fb, err := ParseFeedback(pkt)
		if err != nil {
			s.logger.Warn("Dropping malformed feedback packet", s.logger.Field().Error("error", err))
			return
		}
		s.logger.Debug("Receiver feedback", s.logger.Field().Int("sequence", int(fb.Sequence)))
	default:
		s.logger.Debug("Ignoring unknown control command", s.logger.Field().String("command", cmd))
	}
}

// onInvitation accepts invitations from the current peer or from anyone
// while idle. The session is connected once the data port is invited.
func (s *Session) onInvitation(conn *net.UDPConn, isData bool, addr *net.UDPAddr, inv Invitation) {
	answer := Invitation{Version: protocolVersion, Token: inv.Token, SSRC: s.ssrc, Name: s.cfg.Name}

	s.mu.Lock()
	if s.state == contracts.SessionClosed {
		s.mu.Unlock()
		return
	}
	if s.state != contracts.SessionIdle && s.peer.control != nil && !sameHost(s.peer.control, addr) {
		s.mu.Unlock()
		answer.Command = CmdReject
		s.reply(conn, addr, answer)
		s.logger.Warn("Rejected invitation from second peer",
			s.logger.Field().String("peer", addr.String()),
			s.logger.Field().String("name", inv.Name))
		return
	}

	if !isData {
		// A control-port IN starts a new handshake, even from the current
		// peer; MIDI resumes once its data port is invited again.
		s.peer = peer{control: addr, ssrc: inv.SSRC, name: inv.Name}
		s.token = inv.Token
		s.state = contracts.SessionInviting
	} else {
		if s.peer.control == nil {
			s.peer.control = &net.UDPAddr{IP: addr.IP, Port: addr.Port - 1, Zone: addr.Zone}
		}
		s.peer.data = addr
		s.peer.ssrc = inv.SSRC
		s.peer.name = inv.Name
		s.token = inv.Token
		s.state = contracts.SessionConnected
	}
	s.mu.Unlock()

	answer.Command = CmdAccept
	s.reply(conn, addr, answer)
	if isData {
		s.logger.Info("AppleMIDI session accepted",
			s.logger.Field().String("peer", addr.String()),
			s.logger.Field().String("name", inv.Name))
	}
}

func (s *Session) onAccept(isData bool, addr *net.UDPAddr, inv Invitation) {
	s.mu.Lock()
	if s.state != contracts.SessionInviting || inv.Token != s.token {
		s.mu.Unlock()
		s.logger.Debug("Ignoring unexpected invitation answer", s.logger.Field().String("from", addr.String()))
		return
	}

	if !isData {
		s.peer.control = addr
		s.peer.data = &net.UDPAddr{IP: addr.IP, Port: addr.Port + 1, Zone: addr.Zone}
		s.peer.ssrc = inv.SSRC
		s.peer.name = inv.Name
		dataAddr, token := s.peer.data, s.token
		s.mu.Unlock()

		s.reply(s.data, dataAddr, Invitation{
			Command: CmdInvitation,
			Version: protocolVersion,
			Token:   token,
			SSRC:    s.ssrc,
			Name:    s.cfg.Name,
		})
		return
	}

	s.peer.data = addr
	s.state = contracts.SessionConnected
	s.mu.Unlock()

	s.logger.Info("AppleMIDI session connected",
		s.logger.Field().String("peer", addr.String()),
		s.logger.Field().String("name", inv.Name))
	s.startSync()
}

func (s *Session) onReject(addr *net.UDPAddr, inv Invitation) {
	s.mu.Lock()
	if s.state != contracts.SessionInviting || inv.Token != s.token {
		s.mu.Unlock()
		return
	}
	s.state = contracts.SessionIdle
	s.peer = peer{}
	s.mu.Unlock()

	s.logger.Error("AppleMIDI invitation rejected",
		s.logger.Field().String("peer", addr.String()),
		s.logger.Field().String("name", inv.Name),
		s.logger.Field().Error("error", contracts.ErrSessionRejected))
}

func (s *Session) onBye(addr *net.UDPAddr) {
	s.mu.Lock()
	if s.state == contracts.SessionClosed || !sameHost(s.peer.control, addr) {
		s.mu.Unlock()
		return
	}
	s.state = contracts.SessionIdle
	s.peer = peer{}
	s.mu.Unlock()

	s.logger.Info("AppleMIDI peer ended the session", s.logger.Field().String("peer", addr.String()))
}

// onSync answers the three-way CK exchange. Offsets are measured for logging only.
func (s *Session) onSync(conn *net.UDPConn, addr *net.UDPAddr, ck Sync) {
	now := s.now()
	switch ck.Count {
	case 0:
		s.reply(conn, addr, Sync{SSRC: s.ssrc, Count: 1, Timestamps: [3]uint64{ck.Timestamps[0], now, 0}})
	case 1:
		s.reply(conn, addr, Sync{SSRC: s.ssrc, Count: 2, Timestamps: [3]uint64{ck.Timestamps[0], ck.Timestamps[1], now}})
		s.logger.Debug("Clock synchronization",
			s.logger.Field().Duration("roundTrip", TicksToDuration(uint32(now-ck.Timestamps[0]))))
	case 2:
		s.logger.Debug("Clock synchronization answered",
			s.logger.Field().Duration("roundTrip", TicksToDuration(uint32(ck.Timestamps[2]-ck.Timestamps[0]))))
	}
}

// startSync sends CK0 to the connected peer, and RS with the last received
// sequence number when MIDI arrived since the previous exchange.
func (s *Session) startSync() {
	s.mu.Lock()
	if s.state != contracts.SessionConnected || s.peer.data == nil {
		s.mu.Unlock()
		return
	}
	dst, control := s.peer.data, s.peer.control
	seq, feedback := s.peer.lastSeq, s.peer.unacked
	s.peer.unacked = false
	s.mu.Unlock()

	s.reply(s.data, dst, Sync{SSRC: s.ssrc, Count: 0, Timestamps: [3]uint64{s.now(), 0, 0}})
	if feedback && control != nil {
		s.reply(s.control, control, Feedback{SSRC: s.ssrc, Sequence: seq})
	}
}

func (s *Session) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.startSync()
		}
	}
}

func (s *Session) handleMIDI(addr *net.UDPAddr, pkt []byte) {
	s.mu.Lock()
	fromPeer := s.state == contracts.SessionConnected && sameHost(s.peer.data, addr)
	s.mu.Unlock()
	if !fromPeer {
		s.logger.Debug("Dropping MIDI from unknown sender", s.logger.Field().String("from", addr.String()))
		return
	}

	hdr, msgs, err := parseRTP(pkt)
	if hdr.PayloadType == PayloadType {
		s.mu.Lock()
		s.peer.lastSeq, s.peer.unacked = hdr.SequenceNumber, true
		s.mu.Unlock()
	}
	if err != nil {
		s.logger.Warn("Malformed RTP-MIDI packet; dropping the rest of it",
			s.logger.Field().String("from", addr.String()),
			s.logger.Field().Int("decoded", len(msgs)),
			s.logger.Field().Error("error", err))
	}
	for _, msg := range msgs {
		select {
		case s.msgs <- msg:
		default:
			s.logger.Warn("Session message buffer full; dropping MIDI message", s.logger.Field().Hex("data", msg.Data))
		}
	}
}

func (s *Session) send(conn *net.UDPConn, addr *net.UDPAddr, p encoding.BinaryMarshaler) error {
	buf, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = conn.WriteToUDP(buf, addr)
	return errors.Wrapf(err, "sending to %s", addr)
}

// reply sends p and logs a failure instead of returning it.
func (s *Session) reply(conn *net.UDPConn, addr *net.UDPAddr, p encoding.BinaryMarshaler) {
	if err := s.send(conn, addr, p); err != nil {
		s.logger.Warn("Failed to send control packet", s.logger.Field().Error("error", err))
	}
}

func sameHost(a, b *net.UDPAddr) bool {
	return a != nil && b != nil && a.IP.Equal(b.IP)
}
