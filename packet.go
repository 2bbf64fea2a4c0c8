package siox

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ramory-l/siox/codec"
)

// PacketType is the Socket.IO v4 packet type.
type PacketType int

const (
	PacketTypeConnect PacketType = iota
	PacketTypeDisconnect
	PacketTypeEvent
	PacketTypeAck
	PacketTypeConnectError
	PacketTypeBinaryEvent
	PacketTypeBinaryAck
)

var (
	ErrEmptyPacket       = errors.New("siox: empty packet")
	ErrBinaryUnsupported = errors.New("siox: binary packets are not supported")
)

// Packet is one Socket.IO packet. ID is set on events expecting an ack
// and on acks.
type Packet struct {
	Type      PacketType
	Namespace string
	Data      any
	ID        *int
}

// Encode renders the packet as <type>[<namespace>,][<id>][<data>], with
// Data serialized by c. The default namespace is omitted.
func (p *Packet) Encode(c codec.Codec) (string, error) {
	var b strings.Builder
	b.WriteByte(byte('0' + p.Type))
	if ns := p.Namespace; ns != "" && ns != "/" {
		b.WriteString(ns)
		b.WriteByte(',')
	}
	if p.ID != nil {
		b.WriteString(strconv.Itoa(*p.ID))
	}
	if p.Data == nil {
		return b.String(), nil
	}

	body, err := c.Marshal(p.Data)
	if err != nil {
		return "", fmt.Errorf("siox: encode %s packet: %w", p.Type, err)
	}
	b.Write(body)
	return b.String(), nil
}

// DecodePacket parses the string form of a packet, unmarshaling the payload
// with c. A packet without namespace belongs to "/".
func DecodePacket(data string, c codec.Codec) (*Packet, error) {
	if data == "" {
		return nil, ErrEmptyPacket
	}

	typ := PacketType(data[0] - '0')
	if data[0] < '0' || typ > PacketTypeBinaryAck {
		return nil, fmt.Errorf("siox: invalid packet type %q", data[0])
	}
	if typ == PacketTypeBinaryEvent || typ == PacketTypeBinaryAck {
		return nil, ErrBinaryUnsupported
	}
	packet := &Packet{Type: typ, Namespace: "/"}
	rest := data[1:]

	if strings.HasPrefix(rest, "/") {
		ns, tail, found := strings.Cut(rest, ",")
		packet.Namespace = ns
		if !found {
			return packet, nil
		}
		rest = tail
	}

	digits := len(rest) - len(strings.TrimLeft(rest, "0123456789"))
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return nil, fmt.Errorf("siox: invalid ack id: %w", err)
		}
		packet.ID = &id
		rest = rest[digits:]
	}

	if rest != "" {
		if err := c.Unmarshal([]byte(rest), &packet.Data); err != nil {
			return nil, fmt.Errorf("siox: decode %s packet: %w", typ, err)
		}
	}
	return packet, nil
}

// String returns the lower case name of the type.
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeConnect:
		return "connect"
	case PacketTypeDisconnect:
		return "disconnect"
	case PacketTypeEvent:
		return "event"
	case PacketTypeAck:
		return "ack"
	case PacketTypeConnectError:
		return "connect_error"
	case PacketTypeBinaryEvent:
		return "binary_event"
	case PacketTypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown"
	}
}
