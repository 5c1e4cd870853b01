package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/chazu/movasm/config"
	"github.com/chazu/movasm/proto"
)

// startStatus serves a StatusServer on a loopback port and returns its
// address. The server is stopped when the test ends.
func startStatus(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewStatusServer(config.Default().Server).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v after cancel", err)
		}
	})
	return ln.Addr().String()
}

func dialStatus(t *testing.T, addr string, next proto.NextState) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	hs := proto.Handshake{ProtocolVersion: 340, ServerAddress: "localhost", ServerPort: 25565, NextState: next}
	if err := proto.WritePacket(conn, hs.Packet()); err != nil {
		t.Fatal(err)
	}
	return conn, bufio.NewReader(conn)
}

func TestStatusRequest(t *testing.T) {
	conn, r := dialStatus(t, startStatus(t), proto.StateStatus)

	if err := proto.WritePacket(conn, proto.Packet{ID: proto.StatusRequestID}); err != nil {
		t.Fatal(err)
	}
	p, err := proto.ReadPacket(r)
	if err != nil {
		t.Fatalf("reading status response: %v", err)
	}
	status, err := proto.ParseStatusResponse(p)
	if err != nil {
		t.Fatalf("ParseStatusResponse: %v", err)
	}
	if status.Version.Name != "ULE" || status.Version.Protocol != 340 {
		t.Errorf("version = %+v, want ULE/340", status.Version)
	}
	if status.Players.Max != 10 || status.Players.Online != 0 {
		t.Errorf("players = %+v, want max 10 online 0", status.Players)
	}
	if status.Description.Text != "&a&lHello!" {
		t.Errorf("description = %q", status.Description.Text)
	}
}

func TestStatusPing(t *testing.T) {
	conn, r := dialStatus(t, startStatus(t), proto.StateStatus)

	if err := proto.WritePacket(conn, proto.Packet{ID: proto.StatusRequestID}); err != nil {
		t.Fatal(err)
	}
	if err := proto.WritePacket(conn, proto.PingPacket(1234567890123)); err != nil {
		t.Fatal(err)
	}

	if _, err := proto.ReadPacket(r); err != nil {
		t.Fatalf("reading status response: %v", err)
	}
	p, err := proto.ReadPacket(r)
	if err != nil {
		t.Fatalf("reading pong: %v", err)
	}
	got, err := proto.ParsePing(p)
	if err != nil || got != 1234567890123 {
		t.Errorf("pong = %d, %v, want 1234567890123", got, err)
	}

	// The server closes the connection after the pong.
	if _, err := proto.ReadPacket(r); !errors.Is(err, io.EOF) {
		t.Errorf("read after pong = %v, want EOF", err)
	}
}

func TestStatusDropsLogin(t *testing.T) {
	_, r := dialStatus(t, startStatus(t), proto.StateLogin)
	if _, err := proto.ReadPacket(r); !errors.Is(err, io.EOF) {
		t.Errorf("read after login handshake = %v, want EOF", err)
	}
}

func TestStatusDropsBadHandshake(t *testing.T) {
	conn, err := net.Dial("tcp", startStatus(t))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := proto.WritePacket(conn, proto.Packet{ID: 7, Payload: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := proto.ReadPacket(bufio.NewReader(conn)); !errors.Is(err, io.EOF) {
		t.Errorf("read after bad handshake = %v, want EOF", err)
	}
}
