// Package netsim implements dfu.Transport over a websocket-connected hub,
// for running the single-process Bus topology of device/dfu/mesh across
// multiple processes or machines — e.g. a CI job fanning simulated nodes
// out across containers. The hub/client split and upgrade handling follow
// gorilla/websocket's own echo-server example; nothing else in the pack
// uses a network-simulated multi-node harness, so this package and
// device/dfu/mesh/mqttbridge are the two places gorilla/websocket and
// paho.mqtt.golang, respectively, get exercised.
package netsim

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub accepts websocket connections and rebroadcasts every frame it
// receives from one connection to every other connection, playing the
// role of the shared advertising medium in device/dfu/mesh.Bus.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewHub creates an empty Hub. logger defaults to slog.Default() if nil.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{log: logger.WithGroup("dfu-netsim"), clients: map[*websocket.Conn]chan []byte{}}
}

// ServeHTTP upgrades the connection and pumps frames in both directions
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	out := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = out
	h.mu.Unlock()

	go h.writePump(conn, out)
	h.readPump(conn)

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	close(out)
	conn.Close()
}

func (h *Hub) readPump(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.broadcast(conn, payload)
	}
}

func (h *Hub) writePump(conn *websocket.Conn, out <-chan []byte) {
	for payload := range out {
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(from *websocket.Conn, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, out := range h.clients {
		if conn == from {
			continue
		}
		select {
		case out <- payload:
		default:
			h.log.Warn("netsim client backpressure, dropping frame")
		}
	}
}
