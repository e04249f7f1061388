// Package server binds the listeners and wires accepted connections
// into sessions.
package server

import (
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/devaloi/relay/internal/config"
	"github.com/devaloi/relay/internal/handler"
	"github.com/devaloi/relay/internal/hub"
	"github.com/devaloi/relay/internal/session"
	"github.com/devaloi/relay/internal/transport"
)

// Server accepts TCP connections for the line protocol and, when
// configured, serves the HTTP surface (health, room API, WebSocket
// transport) alongside.
type Server struct {
	cfg config.Config
	hub *hub.Hub

	ln      net.Listener
	httpSrv *http.Server
}

// New creates a server around an existing hub.
func New(cfg config.Config, h *hub.Hub) *Server {
	return &Server{cfg: cfg, hub: h}
}

// Start opens the listeners and begins accepting in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	log.Printf("relay listening on %s", ln.Addr())
	go s.acceptLoop()

	if s.cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", handler.Health())
		mux.HandleFunc("/api/rooms", handler.ListRooms(s.hub))
		mux.HandleFunc("/api/rooms/", handler.RoomRoster(s.hub))
		mux.HandleFunc("/ws", handler.ServeWS(s.hub, s.cfg))
		s.httpSrv = &http.Server{Addr: s.cfg.HTTPAddr, Handler: mux}
		go func() {
			log.Printf("http listening on %s", s.cfg.HTTPAddr)
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server: %v", err)
			}
		}()
	}
	return nil
}

// Addr returns the bound address of the line-protocol listener.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting and tears down the room dispatchers. Sessions
// in flight end on their own when their connections fail.
func (s *Server) Close() {
	if s.ln != nil {
		s.ln.Close()
	}
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
	s.hub.Stop()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			// Listener closed; any other accept error is terminal too.
			return
		}
		go s.serve(conn)
	}
}

// serve runs one connection's session. Session.Run confines panics, so
// a faulting connection never takes down the accept loop or its peers.
func (s *Server) serve(conn net.Conn) {
	sess := session.New(s.hub, transport.NewTCP(conn, s.cfg.MaxLineBytes, s.cfg.WriteTimeout), session.Options{
		DefaultRoom:  s.cfg.DefaultRoom,
		MaxFileBytes: s.cfg.MaxFileBytes,
		IdleTimeout:  s.cfg.IdleTimeout,
	})
	sess.Run()
}
