package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

// activeHub is the hub "serve" started, if any: wireCore's package-change
// hooks reach it through publishEvent rather than importing it directly, so
// "query"/"dump" (which never start a hub) don't have to care it exists.
var activeHub *eventHub

// publishEvent streams a package-table change (install, remove or replace)
// to connected admin clients. Implicit-access grants are not published. A
// no-op when no hub is running.
func publishEvent(event string, pkg *pkgmodel.PackageSetting) {
	if activeHub == nil {
		return
	}
	activeHub.publish(event, map[string]any{
		"package": pkg.Name,
		"app_id":  int32(pkg.AppID),
	})
}

// eventHub is a pared-down version of the teacher's websocket Hub
// (internal/websocket), scoped to this daemon's single /events feed:
// broadcast-only, no per-connection subscriptions or tenants.
type eventHub struct {
	upgrader  websocket.Upgrader
	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	broadcast chan any
}

func newEventHub() *eventHub {
	return &eventHub{
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan any, 64),
	}
}

func (h *eventHub) run() {
	for msg := range h.broadcast {
		payload, err := json.Marshal(msg)
		if err != nil {
			log.Warn().Err(err).Msg("failed to marshal event")
			continue
		}
		h.mu.Lock()
		for conn := range h.clients {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

func (h *eventHub) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *eventHub) publish(event string, fields map[string]any) {
	payload := map[string]any{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Warn().Str("event", event).Msg("event hub buffer full, dropping event")
	}
}
