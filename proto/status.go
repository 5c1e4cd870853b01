package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StatusResponse is the server list entry returned for a status request.
type StatusResponse struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description ChatMessage   `json:"description"`
}

// StatusVersion names the server software and protocol.
type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

// StatusPlayers reports player counts.
type StatusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []PlayerSample `json:"sample"`
}

// PlayerSample is one entry of the sampled player list.
type PlayerSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ChatMessage is a plain text chat component.
type ChatMessage struct {
	Text string `json:"text"`
}

// Packet encodes s as a status response.
func (s StatusResponse) Packet() (Packet, error) {
	if s.Players.Sample == nil {
		s.Players.Sample = []PlayerSample{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return Packet{}, fmt.Errorf("proto: encoding status: %w", err)
	}
	return Packet{ID: StatusResponseID, Payload: AppendString(nil, string(data))}, nil
}

// ParseStatusResponse decodes a status response packet.
func ParseStatusResponse(p Packet) (StatusResponse, error) {
	if p.ID != StatusResponseID {
		return StatusResponse{}, fmt.Errorf("%w: id %#x for status response", ErrUnexpectedPacket, p.ID)
	}
	text, err := ReadString(p.Reader())
	if err != nil {
		return StatusResponse{}, err
	}
	var s StatusResponse
	if err := json.NewDecoder(bytes.NewReader([]byte(text))).Decode(&s); err != nil {
		return StatusResponse{}, fmt.Errorf("proto: decoding status: %w", err)
	}
	return s, nil
}

// PingPacket encodes a ping carrying payload.
func PingPacket(payload int64) Packet {
	return Packet{ID: PingID, Payload: AppendInt64(nil, payload)}
}

// PongPacket encodes the reply to a ping.
func PongPacket(payload int64) Packet {
	return Packet{ID: PongID, Payload: AppendInt64(nil, payload)}
}

// ParsePing returns the payload of a ping or pong packet.
func ParsePing(p Packet) (int64, error) {
	if p.ID != PingID {
		return 0, fmt.Errorf("%w: id %#x for ping", ErrUnexpectedPacket, p.ID)
	}
	return ReadInt64(p.Reader())
}
