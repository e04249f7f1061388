package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/devaloi/relay/internal/config"
	"github.com/devaloi/relay/internal/hub"
	"github.com/devaloi/relay/internal/session"
	"github.com/devaloi/relay/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs a session over it. A WebSocket
// client speaks the same protocol as a TCP one, with each text frame
// carrying one line; the handler returns when the session ends.
func ServeWS(h *hub.Hub, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}

		sess := session.New(h, transport.NewWS(conn, cfg.MaxLineBytes, cfg.WriteTimeout), session.Options{
			DefaultRoom:  cfg.DefaultRoom,
			MaxFileBytes: cfg.MaxFileBytes,
			IdleTimeout:  cfg.IdleTimeout,
		})
		sess.Run()
	}
}
