/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/secretgift/sessions"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// SessionStateMessage carries the public view of a session. It is sent on
// connect and after every claim.
type SessionStateMessage struct {
	Type    string        `json:"type"` // "session_state"
	Session sessions.View `json:"session"`
}

func newStateMessage(view sessions.View) SessionStateMessage {
	return SessionStateMessage{Type: "session_state", Session: view}
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

type registration struct {
	client *Client
	view   sessions.View
}

// Hub fans session updates out to every subscriber of one session.
type Hub struct {
	id      string
	clients map[*Client]bool

	register chan registration
	unreg    chan *Client
	updates  chan sessions.View
	done     chan struct{}
	once     sync.Once
}

func newHub(id string) *Hub {
	return &Hub{
		id:       id,
		clients:  make(map[*Client]bool),
		register: make(chan registration),
		unreg:    make(chan *Client),
		updates:  make(chan sessions.View),
		done:     make(chan struct{}),
	}
}

func (h *Hub) run(cfg *Config) {
	defer h.disconnectAll()

	for {
		select {
		case <-h.done:
			return

		case reg := <-h.register:
			h.clients[reg.client] = true
			h.deliver(reg.client, newStateMessage(reg.view))

			logf(cfg, "LIVE: Subscriber joined %s (%d connected)", h.id, len(h.clients))

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case view := <-h.updates:
			msg := newStateMessage(view)
			for c := range h.clients {
				h.deliver(c, msg)
			}
		}
	}
}

// deliver drops clients that cannot keep up.
func (h *Hub) deliver(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) disconnectAll() {
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

func (h *Hub) stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) subscribe(c *Client, view sessions.View) bool {
	select {
	case h.register <- registration{client: c, view: view}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unsubscribe(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

func (h *Hub) publish(view sessions.View) {
	select {
	case h.updates <- view:
	case <-h.done:
	}
}

// HubManager holds one hub per session that has had a subscriber.
type HubManager struct {
	cfg  *Config
	mu   sync.Mutex
	hubs map[string]*Hub
}

func newHubManager(cfg *Config) *HubManager {
	return &HubManager{
		cfg:  cfg,
		hubs: make(map[string]*Hub),
	}
}

func (hm *HubManager) getHub(id string) *Hub {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hub, ok := hm.hubs[id]; ok {
		return hub
	}

	hub := newHub(id)
	hm.hubs[id] = hub
	go hub.run(hm.cfg)
	return hub
}

// publish pushes view to the session's subscribers, if it has any hub.
func (hm *HubManager) publish(view sessions.View) {
	hm.mu.Lock()
	hub, ok := hm.hubs[view.ID]
	hm.mu.Unlock()

	if ok {
		hub.publish(view)
	}
}

func (hm *HubManager) close(id string) {
	hm.mu.Lock()
	hub, ok := hm.hubs[id]
	delete(hm.hubs, id)
	hm.mu.Unlock()

	if ok {
		hub.stop()
	}
}

func (hm *HubManager) closeAll() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	for id, hub := range hm.hubs {
		hub.stop()
		delete(hm.hubs, id)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveLive(cfg *Config, store *sessions.Store, hubs *HubManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")

		// Take the hub before reading the session. A reap that lands after
		// this point closes the hub, so subscribe fails instead of leaking it.
		hub := hubs.getHub(id)

		view, err := store.Get(r.Context(), id)
		if err != nil {
			hubs.close(id)
			_, _ = writeError(cfg, w, http.StatusNotFound, "Not Found")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "LIVE: Upgrade failed for %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
		}

		if !hub.subscribe(client, view) {
			_ = conn.Close()
			return
		}

		go client.writePump(errs)
		client.readPump(hub)
	}
}

// readPump discards client frames; it only exists to notice disconnects
// and answer pings.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unsubscribe(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump(errs chan<- error) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					select {
					case errs <- err:
					default:
					}
				}
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
