package proto

import (
	"errors"
	"fmt"
)

// Packet ids.
const (
	HandshakeID      int32 = 0x00
	StatusRequestID  int32 = 0x00
	StatusResponseID int32 = 0x00
	PingID           int32 = 0x01
	PongID           int32 = 0x01
)

// NextState is the state a client asks for in its handshake.
type NextState int32

const (
	StateStatus NextState = 1
	StateLogin  NextState = 2
)

func (s NextState) String() string {
	switch s {
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrUnexpectedPacket = errors.New("proto: unexpected packet")
	ErrInvalidNextState = errors.New("proto: invalid next state")
)

// Handshake is the first packet a client sends.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       NextState
}

// ParseHandshake decodes a handshake packet. Next states other than
// status and login are rejected.
func ParseHandshake(p Packet) (Handshake, error) {
	if p.ID != HandshakeID {
		return Handshake{}, fmt.Errorf("%w: id %#x during handshake", ErrUnexpectedPacket, p.ID)
	}
	r := p.Reader()

	var h Handshake
	var err error
	if h.ProtocolVersion, err = ReadVarint(r); err != nil {
		return Handshake{}, fmt.Errorf("proto: handshake version: %w", err)
	}
	if h.ServerAddress, err = ReadString(r); err != nil {
		return Handshake{}, fmt.Errorf("proto: handshake address: %w", err)
	}
	if h.ServerPort, err = ReadUint16(r); err != nil {
		return Handshake{}, fmt.Errorf("proto: handshake port: %w", err)
	}
	next, err := ReadVarint(r)
	if err != nil {
		return Handshake{}, fmt.Errorf("proto: handshake next state: %w", err)
	}
	h.NextState = NextState(next)
	if h.NextState != StateStatus && h.NextState != StateLogin {
		return Handshake{}, fmt.Errorf("%w: %d", ErrInvalidNextState, next)
	}
	return h, nil
}

// Packet encodes h.
func (h Handshake) Packet() Packet {
	b := AppendVarint(nil, h.ProtocolVersion)
	b = AppendString(b, h.ServerAddress)
	b = AppendUint16(b, h.ServerPort)
	b = AppendVarint(b, int32(h.NextState))
	return Packet{ID: HandshakeID, Payload: b}
}
