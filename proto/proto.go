// Package proto implements the length-prefixed, varint-framed packet
// format spoken by the status listener.
//
// A packet on the wire is:
//
//	varint length   (of id + payload)
//	varint id
//	payload
package proto

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// MaxVarintLen is the longest encoding of a 32-bit varint.
	MaxVarintLen = 5

	// MaxPacketLen bounds a packet's id plus payload.
	MaxPacketLen = 1 << 21

	// MaxStringLen bounds the byte length of a string field.
	MaxStringLen = 32767 * 4
)

var (
	ErrVarintTooLong = errors.New("proto: varint too long")
	ErrPacketTooLong = errors.New("proto: packet too long")
	ErrStringTooLong = errors.New("proto: string too long")
	ErrInvalidString = errors.New("proto: string is not valid UTF-8")
)

// ---------------------------------------------------------------------------
// Varints
// ---------------------------------------------------------------------------

// AppendVarint appends v as a little-endian base-128 varint. Negative
// values use their two's complement form and always take five bytes.
func AppendVarint(b []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		b = append(b, byte(u)|0x80)
		u >>= 7
	}
	return append(b, byte(u))
}

// ReadVarint reads one varint from r.
func ReadVarint(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < MaxVarintLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrVarintTooLong
}

// VarintLen returns the encoded size of v.
func VarintLen(v int32) int {
	n := 1
	for u := uint32(v); u >= 0x80; u >>= 7 {
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Packets
// ---------------------------------------------------------------------------

// Packet is one framed message.
type Packet struct {
	ID      int32
	Payload []byte
}

// Reader returns a reader over the packet's payload.
func (p Packet) Reader() *bytes.Reader {
	return bytes.NewReader(p.Payload)
}

// ReadPacket reads one framed packet from r.
func ReadPacket(r *bufio.Reader) (Packet, error) {
	length, err := ReadVarint(r)
	if err != nil {
		return Packet{}, err
	}
	if length < 1 || length > MaxPacketLen {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrPacketTooLong, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, fmt.Errorf("proto: reading packet body: %w", err)
	}

	br := bytes.NewReader(body)
	id, err := ReadVarint(br)
	if err != nil {
		return Packet{}, fmt.Errorf("proto: reading packet id: %w", err)
	}
	return Packet{ID: id, Payload: body[len(body)-br.Len():]}, nil
}

// AppendPacket appends the framed encoding of p to b.
func AppendPacket(b []byte, p Packet) []byte {
	b = AppendVarint(b, int32(VarintLen(p.ID)+len(p.Payload)))
	b = AppendVarint(b, p.ID)
	return append(b, p.Payload...)
}

// WritePacket writes p to w in a single call.
func WritePacket(w io.Writer, p Packet) error {
	if VarintLen(p.ID)+len(p.Payload) > MaxPacketLen {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLong, len(p.Payload))
	}
	_, err := w.Write(AppendPacket(nil, p))
	return err
}

// ---------------------------------------------------------------------------
// Field codecs
// ---------------------------------------------------------------------------

// AppendString appends s prefixed by its varint byte length.
func AppendString(b []byte, s string) []byte {
	b = AppendVarint(b, int32(len(s)))
	return append(b, s...)
}

// ReadString reads a varint-prefixed UTF-8 string.
func ReadString(r *bytes.Reader) (string, error) {
	n, err := ReadVarint(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > MaxStringLen || int(n) > r.Len() {
		return "", fmt.Errorf("%w: %d bytes", ErrStringTooLong, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidString
	}
	return string(buf), nil
}

// AppendUint16 appends v big-endian.
func AppendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

// ReadUint16 reads a big-endian uint16.
func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// AppendInt64 appends v big-endian.
func AppendInt64(b []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(v))
}

// ReadInt64 reads a big-endian int64.
func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}
