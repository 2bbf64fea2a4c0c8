package engineio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// PacketType is the Engine.IO v4 packet type, written as one ASCII digit.
type PacketType byte

const (
	PacketTypeOpen PacketType = iota
	PacketTypeClose
	PacketTypePing
	PacketTypePong
	PacketTypeMessage
	PacketTypeUpgrade
	PacketTypeNoop
)

var packetTypeNames = [...]string{"open", "close", "ping", "pong", "message", "upgrade", "noop"}

// ErrEmptyPacket is returned when decoding a zero-length frame.
var ErrEmptyPacket = errors.New("engineio: empty packet")

// Packet is one Engine.IO packet. Data is the frame after the type digit.
type Packet struct {
	Type PacketType
	Data []byte
}

// Message wraps a Socket.IO payload into a message packet.
func Message(data string) *Packet {
	return &Packet{Type: PacketTypeMessage, Data: []byte(data)}
}

// Encode returns the text frame of the packet.
func (p *Packet) Encode() []byte {
	return append([]byte{'0' + byte(p.Type)}, p.Data...)
}

// DecodePacket parses a text frame. The returned Data aliases frame.
func DecodePacket(frame []byte) (*Packet, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyPacket
	}
	typ := PacketType(frame[0] - '0')
	if !typ.valid() {
		return nil, fmt.Errorf("engineio: invalid packet type %q", frame[0])
	}
	p := &Packet{Type: typ}
	if len(frame) > 1 {
		p.Data = frame[1:]
	}
	return p, nil
}

// HandshakeData is the payload of the open packet.
type HandshakeData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// EncodeHandshake creates the open frame for a new session. Intervals are
// announced in milliseconds and no transport upgrades are offered.
func EncodeHandshake(sid string, cfg Config) ([]byte, error) {
	body, err := json.Marshal(HandshakeData{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: int(cfg.PingInterval.Milliseconds()),
		PingTimeout:  int(cfg.PingTimeout.Milliseconds()),
		MaxPayload:   cfg.MaxPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("engineio: encode handshake: %w", err)
	}
	return (&Packet{Type: PacketTypeOpen, Data: body}).Encode(), nil
}

func (pt PacketType) valid() bool {
	return int(pt) < len(packetTypeNames)
}

func (pt PacketType) String() string {
	if pt.valid() {
		return packetTypeNames[pt]
	}
	return "unknown(" + strconv.Itoa(int(pt)) + ")"
}
