package applemidi

import (
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// PayloadType is the dynamic RTP payload type used by AppleMIDI peers.
const PayloadType = 0x61

// Command section header flags. The J (journal) and P (phantom status)
// flags are accepted on receive and never set on send.
const (
	flagLongHeader = 0x80 // B: length is 12 bits
	flagDeltaFirst = 0x20 // Z: the first command is preceded by a delta time
)

const maxShortLength = 0x0F

// EncodePayload builds the RTP-MIDI command section for msgs. The first
// message carries a delta time only when it is non-zero.
func EncodePayload(msgs []contracts.Message) ([]byte, error) {
	var list []byte
	for i, msg := range msgs {
		if len(msg.Data) == 0 {
			return nil, contracts.ErrEmptyMessage
		}
		if i > 0 || msg.Delta > 0 {
			list = appendDelta(list, DurationToTicks(msg.Delta))
		}
		list = append(list, msg.Data...)
	}
	if len(list) > 0x0FFF {
		return nil, errors.Errorf("MIDI list of %d bytes exceeds command section limit", len(list))
	}

	var header []byte
	var flags byte
	if len(msgs) > 0 && msgs[0].Delta > 0 {
		flags |= flagDeltaFirst
	}
	if len(list) > maxShortLength {
		header = []byte{flags | flagLongHeader | byte(len(list)>>8), byte(len(list))}
	} else {
		header = []byte{flags | byte(len(list))}
	}
	return append(header, list...), nil
}

// DecodePayload parses the command section of an RTP-MIDI payload. The
// recovery journal, if present, is ignored. On a malformed command the
// messages decoded before it are returned together with the error.
func DecodePayload(b []byte) ([]contracts.Message, error) {
	if len(b) == 0 {
		return nil, errors.Wrap(contracts.ErrMalformedPacket, "empty payload")
	}
	flags := b[0]
	length := int(flags & 0x0F)
	b = b[1:]
	if flags&flagLongHeader != 0 {
		if len(b) == 0 {
			return nil, errors.Wrap(contracts.ErrMalformedPacket, "truncated long header")
		}
		length = length<<8 | int(b[0])
		b = b[1:]
	}
	if length > len(b) {
		return nil, errors.Wrapf(contracts.ErrMalformedPacket, "command section claims %d bytes, have %d", length, len(b))
	}
	list := b[:length]

	var (
		msgs    []contracts.Message
		running byte
		first   = true
	)
	for len(list) > 0 {
		var delta uint32
		if !first || flags&flagDeltaFirst != 0 {
			var n int
			var err error
			delta, n, err = readDelta(list)
			if err != nil {
				return msgs, err
			}
			list = list[n:]
			if len(list) == 0 {
				return msgs, errors.Wrap(contracts.ErrMalformedPacket, "delta time without command")
			}
		}
		first = false

		data, n, err := readCommand(list, &running)
		if err != nil {
			return msgs, err
		}
		list = list[n:]
		msgs = append(msgs, contracts.Message{Delta: TicksToDuration(delta), Data: data})
	}
	return msgs, nil
}

// readCommand returns one complete command with its status byte restored,
// the number of bytes consumed and updates the running status.
func readCommand(b []byte, running *byte) ([]byte, int, error) {
	status := b[0]
	body := b
	if status < 0x80 {
		if *running == 0 {
			return nil, 0, errors.Wrap(contracts.ErrMalformedPacket, "data byte without running status")
		}
		status = *running
		body = append([]byte{status}, b...)
	}

	// F0 opens a SysEx segment; a leading F7 continues one split across
	// commands or packets.
	if status == 0xF0 || status == 0xF7 {
		end := sysExEnd(body)
		if end < 0 {
			return nil, 0, errors.Wrap(contracts.ErrMalformedPacket, "unterminated SysEx")
		}
		*running = 0
		return append([]byte(nil), body[:end]...), end, nil
	}

	size := commandLength(status)
	if len(body) < size {
		return nil, 0, errors.Wrapf(contracts.ErrMalformedPacket, "command %02X needs %d bytes, have %d", status, size, len(body))
	}
	for _, d := range body[1:size] {
		if d >= 0x80 {
			return nil, 0, errors.Wrapf(contracts.ErrMalformedPacket, "status byte %02X inside command %02X", d, status)
		}
	}
	switch {
	case status < 0xF0:
		*running = status
	case status < 0xF8:
		*running = 0
	}

	consumed := size
	if b[0] < 0x80 {
		consumed--
	}
	return append([]byte(nil), body[:size]...), consumed, nil
}

// sysExEnd returns the length of the SysEx segment starting at b[0]
// (F0 for the first segment, F7 for the following ones), including its
// terminator: F7 ends the message, F0 marks a segment that continues later
// and F4 cancels it.
func sysExEnd(b []byte) int {
	for i := 1; i < len(b); i++ {
		switch b[i] {
		case 0xF7, 0xF0, 0xF4:
			return i + 1
		}
	}
	return -1
}

func commandLength(status byte) int {
	switch {
	case status < 0xC0, status >= 0xE0 && status < 0xF0:
		return 3
	case status < 0xE0:
		return 2
	}
	switch status {
	case 0xF1, 0xF3:
		return 2
	case 0xF2:
		return 3
	}
	return 1
}

func appendDelta(b []byte, ticks uint32) []byte {
	ticks &= 0x0FFFFFFF
	switch {
	case ticks >= 1<<21:
		b = append(b, byte(ticks>>21)|0x80)
		fallthrough
	case ticks >= 1<<14:
		b = append(b, byte(ticks>>14)|0x80)
		fallthrough
	case ticks >= 1<<7:
		b = append(b, byte(ticks>>7)|0x80)
	}
	return append(b, byte(ticks)&0x7F)
}

func readDelta(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < 4 && i < len(b); i++ {
		v = v<<7 | uint32(b[i]&0x7F)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, errors.Wrap(contracts.ErrMalformedPacket, "invalid delta time")
}

// tickDuration is the resolution of the AppleMIDI session clock (10 kHz).
const tickDuration = 100 * time.Microsecond

// TicksToDuration converts session clock ticks to a duration.
func TicksToDuration(ticks uint32) time.Duration {
	return time.Duration(ticks) * tickDuration
}

// DurationToTicks converts a duration to session clock ticks, truncating.
// Negative durations map to zero.
func DurationToTicks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / tickDuration)
}

// packetizer assigns RTP sequence numbers and timestamps for one sender.
type packetizer struct {
	ssrc uint32
	seq  uint16
}

func (p *packetizer) packet(timestamp uint32, msgs []contracts.Message) ([]byte, error) {
	payload, err := EncodePayload(msgs)
	if err != nil {
		return nil, err
	}
	p.seq++
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    PayloadType,
			SequenceNumber: p.seq,
			Timestamp:      timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	return buf, errors.Wrap(err, "marshalling RTP packet")
}

// parseRTP decodes an RTP-MIDI datagram.
func parseRTP(b []byte) (rtp.Header, []contracts.Message, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		return rtp.Header{}, nil, errors.Wrapf(contracts.ErrMalformedPacket, "rtp: %v", err)
	}
	if pkt.PayloadType != PayloadType {
		return pkt.Header, nil, errors.Wrapf(contracts.ErrMalformedPacket, "unexpected payload type %d", pkt.PayloadType)
	}
	msgs, err := DecodePayload(pkt.Payload)
	return pkt.Header, msgs, err
}
