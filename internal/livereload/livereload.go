// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package livereload implements the live-reload channel:
// a websocket a browser holds open while its edge runs in development
// mode, over which the edge announces new revisions, build progress and
// errors from the watcher/builder, and CSS hot patches. Grounded on
// juju/juju's use of gorilla/websocket for its API's streaming
// endpoints — no websocket usage exists anywhere in the teacher's own
// tree, which has no equivalent live-reload feature.
package livereload

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType names one of the four wire message shapes the channel
// carries.
type MessageType string

const (
	// MessageNewRevision tells the browser to reload: a full swap
	// occurred and no hot patch applies.
	MessageNewRevision MessageType = "new_revision"
	// MessageBuildProgress reports an in-progress incremental rebuild.
	MessageBuildProgress MessageType = "build_progress"
	// MessageBuildError reports a failed rebuild as a diagnostic; the
	// prior revision remains live.
	MessageBuildError MessageType = "build_error"
	// MessageHotPatch carries a single hot-patchable file's new content
	// (only watcher.CanHotPatch-eligible files, currently just CSS).
	MessageHotPatch MessageType = "hot_patch"
)

// Message is one line sent down a live-reload connection.
type Message struct {
	Type    MessageType `json:"type"`
	RevID   string      `json:"revid,omitempty"`
	Phase   string      `json:"phase,omitempty"`
	Message string      `json:"message,omitempty"`
	Path    string      `json:"path,omitempty"`
	Payload string      `json:"payload,omitempty"` // hot_patch file content
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Development-only channel served from the same edge process as the
	// content it's reloading; there is no cross-origin browser client to
	// defend against the way a public API would need to.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans a tenant's build events out to every browser connection
// currently subscribed to it.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{} // tenant -> connections
}

type subscriber struct {
	conn *websocket.Conn
	send chan Message
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[string]map[*subscriber]struct{})}
}

// ServeWS upgrades the request to a websocket and registers it for
// tenant's events until the connection closes.
// Reconnecting always forces a full reload rather than trying to
// resynchronize missed events, so a freshly (re)connected browser is
// told to reload only once it would observe a genuinely new revision:
// when currentRevID is non-empty, ServeWS itself sends MessageNewRevision
// carrying it as soon as the connection is registered.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenant, currentRevID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("live-reload upgrade failed", "tenant", tenant, "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Message, 8)}
	h.register(tenant, sub)
	defer h.unregister(tenant, sub)

	if currentRevID != "" {
		sub.send <- Message{Type: MessageNewRevision, RevID: currentRevID}
	}

	done := make(chan struct{})
	go sub.readLoop(done)

	for {
		select {
		case <-done:
			return
		case msg := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames (this channel is edge-to-browser
// only) purely to detect the connection closing, since gorilla/websocket
// requires an active reader for close frames to surface.
func (s *subscriber) readLoop(done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(tenant string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[tenant] == nil {
		h.subs[tenant] = make(map[*subscriber]struct{})
	}
	h.subs[tenant][sub] = struct{}{}
}

func (h *Hub) unregister(tenant string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[tenant], sub)
	_ = sub.conn.Close()
}

// broadcast fans msg out to every connection subscribed to tenant,
// dropping it for any subscriber whose send buffer is full rather than
// blocking the broadcaster on a slow browser.
func (h *Hub) broadcast(tenant string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[tenant] {
		select {
		case sub.send <- msg:
		default:
			h.logger.Debug("dropping live-reload message for slow subscriber", "tenant", tenant, "type", msg.Type)
		}
	}
}

// NewRevision announces a full revision swap.
func (h *Hub) NewRevision(tenant string, revid string) {
	h.broadcast(tenant, Message{Type: MessageNewRevision, RevID: revid})
}

// BuildProgress announces an in-progress rebuild phase.
func (h *Hub) BuildProgress(tenant, phase, message string) {
	h.broadcast(tenant, Message{Type: MessageBuildProgress, Phase: phase, Message: message})
}

// BuildError announces a failed rebuild diagnostic.
func (h *Hub) BuildError(tenant, message string) {
	h.broadcast(tenant, Message{Type: MessageBuildError, Message: message})
}

// HotPatch announces a hot-patchable file's replacement content. Callers
// must already have checked watcher.CanHotPatch for path before calling.
func (h *Hub) HotPatch(tenant, path, payload string) {
	h.broadcast(tenant, Message{Type: MessageHotPatch, Path: path, Payload: payload})
}

// marshalForTest exists only so tests can assert on wire shape without
// exporting Message's json tags as part of the package's behavioral
// surface.
func marshalForTest(m Message) ([]byte, error) { return json.Marshal(m) }
