// Package ws carries ticksync packets over websockets.
package ws

import (
	nethttp "net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests and hands each new link to OnConnect.
type Handler struct {
	cfg       Config
	upgrader  websocket.Upgrader
	onConnect func(*Conn)
}

// NewHandler constructs an upgrade handler.
func NewHandler(cfg Config, onConnect func(*Conn)) *Handler {
	cfg = cfg.withDefaults()
	return &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		onConnect: onConnect,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	if h.onConnect == nil {
		nethttp.Error(w, "not accepting connections", nethttp.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	h.onConnect(NewConn(conn, h.cfg))
}
