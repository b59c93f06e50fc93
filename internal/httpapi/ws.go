package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"radiod/internal/engine"
	"radiod/pkg/logx"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendQueue  = 16

	// How often the hub looks for a track change to push.
	npPollInterval = time.Second
)

var upgrader = websocket.Upgrader{
	// The feed is read-only public data; no origin restriction needed.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsHub pushes the now-playing record to websocket clients whenever the
// track changes. Clients that stop reading get dropped, same policy as the
// audio fan-out.
type wsHub struct {
	eng *engine.Engine
	log logx.Logger

	register   chan *wsClient
	unregister chan *wsClient
	clients    map[*wsClient]struct{}
	done       chan struct{}
}

func newWSHub(eng *engine.Engine, log logx.Logger) *wsHub {
	return &wsHub{
		eng:        eng,
		log:        log,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		clients:    map[*wsClient]struct{}{},
		done:       make(chan struct{}),
	}
}

func (h *wsHub) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(npPollInterval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			// New clients get the current state immediately.
			if msg := h.snapshot(); msg != nil {
				h.offer(c, msg)
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case <-ticker.C:
			np := h.eng.NowPlaying()
			if np == nil {
				continue
			}
			// Position ticks every second; only a track change is pushed.
			key := np.Title + "\x00" + np.Source
			if key == last {
				continue
			}
			last = key
			if msg := h.snapshot(); msg != nil {
				for c := range h.clients {
					h.offer(c, msg)
				}
			}
		}
	}
}

func (h *wsHub) snapshot() []byte {
	np := h.eng.NowPlaying()
	if np == nil {
		return nil
	}
	b, err := json.Marshal(np)
	if err != nil {
		return nil
	}
	return b
}

func (h *wsHub) offer(c *wsClient, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

func (h *wsHub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

func (h *wsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendQueue)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump(h)
}

// readPump discards inbound frames; the feed is one-way. It exists to
// notice closed connections and to service pings.
func (c *wsClient) readPump(h *wsHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
