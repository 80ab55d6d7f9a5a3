// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// RemoteRegistry is the seam through which the peer server tells the
// source manager about an interval-contributing Data packet, without
// the server holding any reference back into the manager itself.
type RemoteRegistry interface {
	// KnownSID reports whether sid is a configured remote source.
	KnownSID(sid string) bool
	// RecordRemoteArtifact persists the packet's raw bytes and parsed
	// row, then registers the resulting artifact path against ts for
	// sid so the interval scheduler treats it like any other source.
	// It returns the artifact path or an error if persistence failed.
	RecordRemoteArtifact(sid, ts string, raw []byte, body model.DataBody) (string, error)
}

// Server accepts concurrent peer connections and dispatches Data
// packets to a RemoteRegistry.
type Server struct {
	listener     net.Listener
	registry     RemoteRegistry
	log          *slog.Logger
	maxFrameSize int
	connTimeout  time.Duration

	nextID atomic.Uint64

	wg sync.WaitGroup
}

// NewServer binds addr and returns a Server ready to Serve. connTimeout
// bounds how long a single connection's read/write may block.
func NewServer(addr string, registry RemoteRegistry, log *slog.Logger, connTimeout time.Duration, maxFrameSize int) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: cannot listen on %s: %w", addr, err)
	}
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Server{
		listener:     ln,
		registry:     registry,
		log:          log,
		maxFrameSize: maxFrameSize,
		connTimeout:  connTimeout,
	}, nil
}

// Addr returns the server's bound local address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each accepted connection is handled on its own goroutine; a
// slow or malicious peer never blocks other connections. Serve returns
// once every in-flight connection worker has drained.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				s.log.Warn("peer: accept failed", slog.String("error", err.Error()))
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if s.connTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.connTimeout))
	}

	pkt, err := ReadPacket(conn, s.maxFrameSize)
	if err != nil {
		s.log.Warn("peer: malformed packet", slog.String("remote", conn.RemoteAddr().String()), slog.String("error", err.Error()))
		s.reply(conn, model.RespKO)
		return
	}

	if pkt.Header.Type == model.PacketCommand {
		s.log.Info("peer: received command packet", slog.String("sid", pkt.Header.SID))
		s.reply(conn, model.RespOK)
		return
	}

	if pkt.Header.Type != model.PacketData || pkt.Data == nil {
		s.log.Warn("peer: packet is not a well-formed Data packet", slog.String("sid", pkt.Header.SID))
		s.reply(conn, model.RespKO)
		return
	}

	s.log.Info("peer: received data packet", slog.String("sid", pkt.Header.SID), slog.String("ts", pkt.Header.TS))

	if !s.registry.KnownSID(pkt.Header.SID) {
		// Preserved legacy behaviour per spec: unknown sid still gets
		// OK. Tightening to KO is a configuration-gated choice left to
		// the caller, not hard-wired here.
		s.log.Warn("peer: unknown remote sid, packet will not feed any source", slog.String("sid", pkt.Header.SID))
		s.reply(conn, model.RespOK)
		return
	}

	raw, err := json.Marshal(pkt)
	if err != nil {
		s.log.Error("peer: cannot re-marshal packet for persistence", slog.String("error", err.Error()))
		s.reply(conn, model.RespKO)
		return
	}

	if _, err := s.registry.RecordRemoteArtifact(pkt.Header.SID, pkt.Header.TS, raw, *pkt.Data); err != nil {
		s.log.Error("peer: cannot persist packet", slog.String("sid", pkt.Header.SID), slog.String("error", err.Error()))
		s.reply(conn, model.RespKO)
		return
	}

	s.reply(conn, model.RespOK)
}

func (s *Server) reply(conn net.Conn, resp string) {
	pkt := model.Packet{
		Header: model.Header{
			ID:   s.nextID.Add(1),
			Type: model.PacketResponse,
			TS:   time.Now().UTC().Format(time.RFC3339Nano),
		},
		Response: &model.ResponseBody{Resp: resp},
	}
	if err := WritePacket(conn, pkt); err != nil {
		s.log.Error("peer: cannot write response", slog.String("error", err.Error()))
	}
}

// Close stops accepting new connections. Serve's ctx cancellation is
// the preferred shutdown path; Close is available for tests and for
// callers that don't hold a context.
func (s *Server) Close() error {
	return s.listener.Close()
}
