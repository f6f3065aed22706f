package applemidi

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name string
		msgs []contracts.Message
		want []byte
	}{
		{
			name: "single note on without delta",
			msgs: []contracts.Message{{Data: []byte{0x90, 0x40, 0x7F}}},
			want: []byte{0x03, 0x90, 0x40, 0x7F},
		},
		{
			name: "note off with delta of 120 ticks",
			msgs: []contracts.Message{{Delta: 12 * time.Millisecond, Data: []byte{0x80, 0x40, 0x00}}},
			want: []byte{0x24, 0x78, 0x80, 0x40, 0x00},
		},
		{
			name: "two byte delta",
			msgs: []contracts.Message{{Delta: 20 * time.Millisecond, Data: []byte{0xC0, 0x05}}},
			want: []byte{0x24, 0x81, 0x48, 0xC0, 0x05},
		},
		{
			name: "long header",
			msgs: []contracts.Message{{Data: []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0xF7}}},
			want: append([]byte{0x80, 0x10}, 0xF0, 0x7E, 0x7F, 0x09, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0xF7),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodePayload(tt.msgs)
			if err != nil {
				t.Fatalf("EncodePayload() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodePayload() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEncodePayloadRejectsEmptyMessage(t *testing.T) {
	if _, err := EncodePayload([]contracts.Message{{}}); !errors.Is(err, contracts.ErrEmptyMessage) {
		t.Errorf("EncodePayload() error = %v, want ErrEmptyMessage", err)
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []contracts.Message
	}{
		{
			name:    "single command",
			payload: []byte{0x03, 0x90, 0x40, 0x7F},
			want:    []contracts.Message{{Data: []byte{0x90, 0x40, 0x7F}}},
		},
		{
			name:    "running status with deltas",
			payload: []byte{0x06, 0x90, 0x3C, 0x64, 0x0A, 0x3E, 0x64},
			want: []contracts.Message{
				{Data: []byte{0x90, 0x3C, 0x64}},
				{Delta: time.Millisecond, Data: []byte{0x90, 0x3E, 0x64}},
			},
		},
		{
			name:    "first delta with Z flag",
			payload: []byte{0x24, 0x78, 0x80, 0x40, 0x00},
			want:    []contracts.Message{{Delta: 12 * time.Millisecond, Data: []byte{0x80, 0x40, 0x00}}},
		},
		{
			name:    "realtime keeps running status",
			payload: []byte{0x08, 0xB0, 0x07, 0x64, 0x00, 0xF8, 0x00, 0x07, 0x65},
			want: []contracts.Message{
				{Data: []byte{0xB0, 0x07, 0x64}},
				{Data: []byte{0xF8}},
				{Data: []byte{0xB0, 0x07, 0x65}},
			},
		},
		{
			name:    "sysex",
			payload: []byte{0x06, 0xF0, 0x7E, 0x7F, 0x06, 0x01, 0xF7},
			want:    []contracts.Message{{Data: []byte{0xF0, 0x7E, 0x7F, 0x06, 0x01, 0xF7}}},
		},
		{
			name:    "first sysex segment",
			payload: []byte{0x04, 0xF0, 0x7E, 0x01, 0xF0},
			want:    []contracts.Message{{Data: []byte{0xF0, 0x7E, 0x01, 0xF0}}},
		},
		{
			name:    "middle sysex segment",
			payload: []byte{0x04, 0xF7, 0x01, 0x02, 0xF0},
			want:    []contracts.Message{{Data: []byte{0xF7, 0x01, 0x02, 0xF0}}},
		},
		{
			name:    "last sysex segment",
			payload: []byte{0x04, 0xF7, 0x01, 0x02, 0xF7},
			want:    []contracts.Message{{Data: []byte{0xF7, 0x01, 0x02, 0xF7}}},
		},
		{
			name:    "cancelled sysex segment",
			payload: []byte{0x03, 0xF7, 0x05, 0xF4},
			want:    []contracts.Message{{Data: []byte{0xF7, 0x05, 0xF4}}},
		},
		{
			name:    "sysex segment between channel messages",
			payload: []byte{0x0B, 0x90, 0x40, 0x7F, 0x00, 0xF7, 0x01, 0xF7, 0x00, 0x80, 0x40, 0x00},
			want: []contracts.Message{
				{Data: []byte{0x90, 0x40, 0x7F}},
				{Data: []byte{0xF7, 0x01, 0xF7}},
				{Data: []byte{0x80, 0x40, 0x00}},
			},
		},
		{
			name:    "journal bytes after list are ignored",
			payload: []byte{0x42, 0xC0, 0x05, 0x99, 0x99},
			want:    []contracts.Message{{Data: []byte{0xC0, 0x05}}},
		},
		{
			name:    "empty command section",
			payload: []byte{0x00},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload(tt.payload)
			if err != nil {
				t.Fatalf("DecodePayload() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("DecodePayload() returned %d messages, want %d: %v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Delta != tt.want[i].Delta || !bytes.Equal(got[i].Data, tt.want[i].Data) {
					t.Errorf("message %d = (%v, % X), want (%v, % X)", i, got[i].Delta, got[i].Data, tt.want[i].Delta, tt.want[i].Data)
				}
			}
		})
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"length beyond payload", []byte{0x05, 0x90, 0x40}},
		{"truncated long header", []byte{0x80}},
		{"truncated command", []byte{0x02, 0x90, 0x40}},
		{"data without running status", []byte{0x02, 0x40, 0x7F}},
		{"unterminated sysex", []byte{0x03, 0xF0, 0x01, 0x02}},
		{"unterminated sysex continuation", []byte{0x03, 0xF7, 0x01, 0x02}},
		{"status inside command", []byte{0x03, 0x90, 0x90, 0x40}},
		{"delta without command", []byte{0x21, 0x78}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePayload(tt.payload); !errors.Is(err, contracts.ErrMalformedPacket) {
				t.Errorf("DecodePayload() error = %v, want ErrMalformedPacket", err)
			}
		})
	}
}

func TestDecodePayloadKeepsCommandsBeforeError(t *testing.T) {
	payload := []byte{0x06, 0x90, 0x40, 0x7F, 0x00, 0x80, 0x40}

	got, err := DecodePayload(payload)
	if !errors.Is(err, contracts.ErrMalformedPacket) {
		t.Fatalf("DecodePayload() error = %v, want ErrMalformedPacket", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0].Data, []byte{0x90, 0x40, 0x7F}) {
		t.Errorf("DecodePayload() = %v, want the note on decoded before the error", got)
	}
}

func TestDeltaEncoding(t *testing.T) {
	for _, ticks := range []uint32{0, 1, 127, 128, 16383, 16384, 1 << 21, 0x0FFFFFFF} {
		buf := appendDelta(nil, ticks)
		got, n, err := readDelta(buf)
		if err != nil || n != len(buf) || got != ticks {
			t.Errorf("ticks %d: encoded % X, decoded %d (n=%d, err=%v)", ticks, buf, got, n, err)
		}
	}
}

func TestDurationTicks(t *testing.T) {
	if got := DurationToTicks(120 * time.Millisecond); got != 1200 {
		t.Errorf("DurationToTicks(120ms) = %d, want 1200", got)
	}
	if got := DurationToTicks(-time.Second); got != 0 {
		t.Errorf("DurationToTicks(-1s) = %d, want 0", got)
	}
	if got := TicksToDuration(1200); got != 120*time.Millisecond {
		t.Errorf("TicksToDuration(1200) = %v, want 120ms", got)
	}
}

func TestPacketizer(t *testing.T) {
	p := packetizer{ssrc: 42}
	msg := contracts.Message{Delta: 5 * time.Millisecond, Data: []byte{0x90, 0x40, 0x7F}}

	first, err := p.packet(1000, []contracts.Message{msg})
	if err != nil {
		t.Fatalf("packet() error = %v", err)
	}
	second, err := p.packet(1001, []contracts.Message{msg})
	if err != nil {
		t.Fatalf("packet() error = %v", err)
	}

	h1, msgs, err := parseRTP(first)
	if err != nil {
		t.Fatalf("parseRTP() error = %v", err)
	}
	h2, _, err := parseRTP(second)
	if err != nil {
		t.Fatalf("parseRTP() error = %v", err)
	}
	if h1.SSRC != 42 || h1.PayloadType != PayloadType || h1.Timestamp != 1000 {
		t.Errorf("header = %+v", h1)
	}
	if h2.SequenceNumber != h1.SequenceNumber+1 {
		t.Errorf("sequence numbers %d, %d are not consecutive", h1.SequenceNumber, h2.SequenceNumber)
	}
	if len(msgs) != 1 || msgs[0].Delta != msg.Delta || !bytes.Equal(msgs[0].Data, msg.Data) {
		t.Errorf("decoded %v, want %v", msgs, msg)
	}
}
