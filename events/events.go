// Package events broadcasts published pathway batches to websocket
// observers. Player-facing pods consume the redis feed; this hub exists for
// operators and tools that want to watch entity movement live without a
// redis subscription.
package events

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const writeDeadline = 5 * time.Second

// connectionAndDone pairs a websocket connection with a channel the hub
// closes once the (un)registration has been processed, so the web handler
// can block until the hub actually tracks the connection.
type connectionAndDone struct {
	conn *websocket.Conn
	done chan struct{}
}

type Hub struct {
	connections  map[*websocket.Conn]struct{}
	broadcast    chan []byte
	register     chan connectionAndDone
	unregister   chan connectionAndDone
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func NewHub() *Hub {
	h := &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		broadcast:   make(chan []byte, 64),
		register:    make(chan connectionAndDone),
		unregister:  make(chan connectionAndDone),
		shutdown:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit serializes the event and queues it for broadcast. Never blocks: if
// the hub's queue is full the event is dropped, since the websocket stream
// is an observer convenience, not a delivery guarantee.
func (h *Hub) Emit(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "event must be json serializable")
	}
	select {
	case h.broadcast <- data:
	default:
	}
	return nil
}

func (h *Hub) RegisterConnection(conn *websocket.Conn) {
	done := make(chan struct{})
	select {
	case h.register <- connectionAndDone{conn: conn, done: done}:
		<-done
	case <-h.shutdown:
	}
}

func (h *Hub) UnregisterConnection(conn *websocket.Conn) {
	done := make(chan struct{})
	select {
	case h.unregister <- connectionAndDone{conn: conn, done: done}:
		<-done
	case <-h.shutdown:
	}
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.shutdown)
	})
}

func (h *Hub) run() {
	closeConnection := func(conn *websocket.Conn) {
		if _, ok := h.connections[conn]; !ok {
			return
		}
		delete(h.connections, conn)
		if err := conn.Close(); err != nil {
			log.Logger.Debug().Err(err).Msg("failed to close websocket connection")
		}
	}

	for {
		select {
		case data := <-h.broadcast:
			for conn := range h.connections {
				if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
					closeConnection(conn)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					closeConnection(conn)
				}
			}
		case reg := <-h.register:
			h.connections[reg.conn] = struct{}{}
			close(reg.done)
		case unreg := <-h.unregister:
			closeConnection(unreg.conn)
			close(unreg.done)
		case <-h.shutdown:
			for conn := range h.connections {
				closeConnection(conn)
			}
			return
		}
	}
}
