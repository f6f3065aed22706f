package applemidi

import (
	"bytes"
	"encoding/binary"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/pkg/errors"
)

const (
	signature       = 0xFFFF
	protocolVersion = 2
)

// Control commands exchanged on both session ports.
const (
	CmdInvitation = "IN"
	CmdAccept     = "OK"
	CmdReject     = "NO"
	CmdBye        = "BY"
	CmdSync       = "CK"
	CmdFeedback   = "RS"
)

// IsControl reports whether b carries the control packet signature.
// RTP packets never start with 0xFFFF because their version bits are 10.
func IsControl(b []byte) bool {
	return len(b) >= 4 && binary.BigEndian.Uint16(b) == signature
}

// CommandOf returns the two-letter command of a control packet.
func CommandOf(b []byte) string {
	if !IsControl(b) {
		return ""
	}
	return string(b[2:4])
}

// Invitation is the body shared by IN, OK, NO and BY.
type Invitation struct {
	Command string
	Version uint32
	Token   uint32
	SSRC    uint32
	Name    string // Not sent with BY.
}

// MarshalBinary encodes the packet, signature included.
func (p Invitation) MarshalBinary() ([]byte, error) {
	if len(p.Command) != 2 {
		return nil, errors.Errorf("invalid command %q", p.Command)
	}
	var buf bytes.Buffer
	writeHeader(&buf, p.Command)
	_ = binary.Write(&buf, binary.BigEndian, [3]uint32{p.Version, p.Token, p.SSRC})
	if p.Command != CmdBye && p.Name != "" {
		buf.WriteString(p.Name)
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// ParseInvitation decodes an IN, OK, NO or BY packet.
func ParseInvitation(b []byte) (Invitation, error) {
	if !IsControl(b) || len(b) < 16 {
		return Invitation{}, errors.Wrapf(contracts.ErrMalformedPacket, "invitation of %d bytes", len(b))
	}
	p := Invitation{
		Command: string(b[2:4]),
		Version: binary.BigEndian.Uint32(b[4:]),
		Token:   binary.BigEndian.Uint32(b[8:]),
		SSRC:    binary.BigEndian.Uint32(b[12:]),
	}
	if name := b[16:]; len(name) > 0 {
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		p.Name = string(name)
	}
	return p, nil
}

// Sync is the CK clock synchronization packet. Count selects which of the
// three timestamps the sender filled in.
type Sync struct {
	SSRC       uint32
	Count      uint8
	Timestamps [3]uint64
}

func (s Sync) MarshalBinary() ([]byte, error) {
	if s.Count > 2 {
		return nil, errors.Errorf("invalid sync count %d", s.Count)
	}
	var buf bytes.Buffer
	writeHeader(&buf, CmdSync)
	_ = binary.Write(&buf, binary.BigEndian, s.SSRC)
	buf.Write([]byte{s.Count, 0, 0, 0})
	_ = binary.Write(&buf, binary.BigEndian, s.Timestamps)
	return buf.Bytes(), nil
}

// ParseSync decodes a CK packet.
func ParseSync(b []byte) (Sync, error) {
	if CommandOf(b) != CmdSync || len(b) < 36 {
		return Sync{}, errors.Wrapf(contracts.ErrMalformedPacket, "sync of %d bytes", len(b))
	}
	s := Sync{
		SSRC:  binary.BigEndian.Uint32(b[4:]),
		Count: b[8],
	}
	if s.Count > 2 {
		return Sync{}, errors.Wrapf(contracts.ErrMalformedPacket, "sync count %d", s.Count)
	}
	for i := range s.Timestamps {
		s.Timestamps[i] = binary.BigEndian.Uint64(b[12+8*i:])
	}
	return s, nil
}

// Feedback is the RS receiver feedback packet.
type Feedback struct {
	SSRC     uint32
	Sequence uint16
}

func (f Feedback) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, CmdFeedback)
	_ = binary.Write(&buf, binary.BigEndian, [2]uint32{f.SSRC, uint32(f.Sequence) << 16})
	return buf.Bytes(), nil
}

// ParseFeedback decodes an RS packet.
func ParseFeedback(b []byte) (Feedback, error) {
	if CommandOf(b) != CmdFeedback || len(b) < 12 {
		return Feedback{}, errors.Wrapf(contracts.ErrMalformedPacket, "feedback of %d bytes", len(b))
	}
	return Feedback{
		SSRC:     binary.BigEndian.Uint32(b[4:]),
		Sequence: uint16(binary.BigEndian.Uint32(b[8:]) >> 16),
	}, nil
}

func writeHeader(buf *bytes.Buffer, cmd string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(signature))
	buf.WriteString(cmd)
}
