package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/movasm/config"
	"github.com/chazu/movasm/proto"
)

// statusIdleTimeout bounds how long a connection may sit between packets.
const statusIdleTimeout = 10 * time.Second

// StatusServer answers handshake, status and ping packets on a TCP
// listener. Login is not supported; such connections are dropped after
// the handshake.
type StatusServer struct {
	cfg config.Server
	log commonlog.Logger

	wg sync.WaitGroup
}

// NewStatusServer creates a StatusServer for the server section of cfg.
func NewStatusServer(cfg config.Server) *StatusServer {
	return &StatusServer{
		cfg: cfg,
		log: commonlog.GetLogger("movasm.status"),
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, one goroutine each, until ctx is done.
// It closes ln and waits for open connections before returning.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Infof("status listening on %s", ln.Addr())
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warningf("accept: %s", err.Error())
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection runs one client through handshake and status.
func (s *StatusServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r := bufio.NewReader(conn)
	next := func() (proto.Packet, error) {
		conn.SetReadDeadline(time.Now().Add(statusIdleTimeout))
		return proto.ReadPacket(r)
	}

	p, err := next()
	if err != nil {
		s.log.Debugf("%s: reading handshake: %s", conn.RemoteAddr(), err.Error())
		return
	}
	hs, err := proto.ParseHandshake(p)
	if err != nil {
		s.log.Warningf("%s: %s", conn.RemoteAddr(), err.Error())
		return
	}
	s.log.Debugf("%s: handshake version=%d address=%s:%d next=%s",
		conn.RemoteAddr(), hs.ProtocolVersion, hs.ServerAddress, hs.ServerPort, hs.NextState)
	if hs.NextState != proto.StateStatus {
		s.log.Infof("%s: %s is not supported, closing", conn.RemoteAddr(), hs.NextState)
		return
	}

	for {
		p, err := next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debugf("%s: %s", conn.RemoteAddr(), err.Error())
			}
			return
		}

		switch p.ID {
		case proto.StatusRequestID:
			resp, err := s.statusResponse().Packet()
			if err == nil {
				err = proto.WritePacket(conn, resp)
			}
			if err != nil {
				s.log.Warningf("%s: status response: %s", conn.RemoteAddr(), err.Error())
				return
			}

		case proto.PingID:
			payload, err := proto.ParsePing(p)
			if err != nil {
				s.log.Warningf("%s: %s", conn.RemoteAddr(), err.Error())
				return
			}
			if err := proto.WritePacket(conn, proto.PongPacket(payload)); err != nil {
				return
			}
			s.log.Infof("server was pinged from %s", conn.RemoteAddr())
			return

		default:
			s.log.Debugf("%s: ignoring packet %#x", conn.RemoteAddr(), p.ID)
		}
	}
}

func (s *StatusServer) statusResponse() proto.StatusResponse {
	return proto.StatusResponse{
		Version: proto.StatusVersion{
			Name:     s.cfg.Name,
			Protocol: int32(s.cfg.Protocol),
		},
		Players: proto.StatusPlayers{
			Max:    s.cfg.MaxPlayers,
			Online: 0,
		},
		Description: proto.ChatMessage{Text: s.cfg.MOTD},
	}
}
