// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package statusapi exposes the proxy's interface, group and upstream
// state over HTTP, plus a websocket feed of state-change events, for
// observability only — it has no write endpoints and cannot alter
// proxy behavior.
package statusapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"grimm.is/igmpproxy/internal/logging"
)

// InterfaceStatus is the public view of one configured interface.
type InterfaceStatus struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Querier bool   `json:"querier"`
}

// GroupStatus is the public view of one group's membership on an interface.
type GroupStatus struct {
	Group      string   `json:"group"`
	FilterMode string   `json:"filter_mode"`
	Sources    []string `json:"sources"`
}

// UpstreamStatus is the public view of the upstream membership database.
type UpstreamStatus struct {
	Group      string   `json:"group"`
	FilterMode string   `json:"filter_mode"`
	Sources    []string `json:"sources"`
}

// Event is one state-change notification pushed to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Interface string    `json:"interface,omitempty"`
	Group     string    `json:"group,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshotter is implemented by the proxy core; the status API never
// touches proxy state directly, only through this read-only view.
type Snapshotter interface {
	Interfaces() []InterfaceStatus
	Groups(iface string) []GroupStatus
	Upstream() []UpstreamStatus
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves the read-only status API.
type Server struct {
	snap   Snapshotter
	logger *logging.Logger

	mu   sync.Mutex
	subs map[string]chan Event
}

// NewServer constructs a Server reading from snap.
func NewServer(snap Snapshotter) *Server {
	return &Server{
		snap:   snap,
		logger: logging.WithComponent("status-api"),
		subs:   make(map[string]chan Event),
	}
}

// RegisterRoutes attaches the status endpoints to router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/status/interfaces", s.handleInterfaces).Methods(http.MethodGet)
	router.HandleFunc("/status/groups", s.handleGroups).Methods(http.MethodGet)
	router.HandleFunc("/status/upstream", s.handleUpstream).Methods(http.MethodGet)
	router.HandleFunc("/status/events", s.handleEvents).Methods(http.MethodGet)
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.snap.Interfaces())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	iface := r.URL.Query().Get("iface")
	respondJSON(w, s.snap.Groups(iface))
}

func (s *Server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.snap.Upstream())
}

// handleEvents upgrades to a websocket connection and streams Event
// values until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	runID := uuid.NewString()
	ch := make(chan Event, 32)
	s.mu.Lock()
	s.subs[runID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, runID)
		s.mu.Unlock()
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// Publish delivers ev to every connected websocket subscriber,
// dropping it for any subscriber whose channel is full rather than
// blocking the proxy's event loop.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
