package realtime

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"haven/cmd/internal/telemetry"
	v1 "haven/contracts/realtime/v1"
)

type clientSet map[*Client]struct{}

// Hub tracks live connections per user and per conversation room and fans
// events out to them. State is process-local and lives only as long as the
// connections do.
//
// Delivery never blocks: a client whose queue is full or that is shutting
// down is skipped and the rest of the fan-out continues.
type Hub struct {
	log     *slog.Logger
	metrics *telemetry.Metrics

	mu     sync.RWMutex
	rooms  map[string]clientSet
	users  map[string]clientSet
	joined map[*Client]map[string]struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubMetrics records per-connection delivery outcomes.
func WithHubMetrics(m *telemetry.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:    log,
		rooms:  make(map[string]clientSet),
		users:  make(map[string]clientSet),
		joined: make(map[*Client]map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register makes c reachable through SendToUser.
func (h *Hub) Register(c *Client) {
	if c == nil || c.UserID == "" {
		return
	}

	h.mu.Lock()
	set := h.users[c.UserID]
	if set == nil {
		set = make(clientSet)
		h.users[c.UserID] = set
	}
	set[c] = struct{}{}
	if h.joined[c] == nil {
		h.joined[c] = make(map[string]struct{})
	}
	h.mu.Unlock()

	h.log.Debug("hub.client.register", "user_id", c.UserID, "session_id", c.SessionID)
}

// Unregister removes c from its user and from every room it joined, then
// signals it to stop. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	for room := range h.joined[c] {
		h.removeFromRoomLocked(room, c)
	}
	delete(h.joined, c)
	if set := h.users[c.UserID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.UserID)
		}
	}
	h.mu.Unlock()

	// Close after removal so no broadcaster still holds c.
	c.Close()

	h.log.Debug("hub.client.unregister", "user_id", c.UserID, "session_id", c.SessionID)
}

// JoinRoom adds c to room.
func (h *Hub) JoinRoom(room string, c *Client) {
	if c == nil || room == "" {
		return
	}

	h.mu.Lock()
	set := h.rooms[room]
	if set == nil {
		set = make(clientSet)
		h.rooms[room] = set
	}
	set[c] = struct{}{}
	if h.joined[c] == nil {
		h.joined[c] = make(map[string]struct{})
	}
	h.joined[c][room] = struct{}{}
	h.mu.Unlock()

	h.log.Info("room.member.join", "conversation_id", room, "user_id", c.UserID, "session_id", c.SessionID)
}

// LeaveRoom removes c from room.
func (h *Hub) LeaveRoom(room string, c *Client) {
	if c == nil || room == "" {
		return
	}

	h.mu.Lock()
	h.removeFromRoomLocked(room, c)
	if rooms := h.joined[c]; rooms != nil {
		delete(rooms, room)
	}
	h.mu.Unlock()

	h.log.Info("room.member.leave", "conversation_id", room, "user_id", c.UserID, "session_id", c.SessionID)
}

func (h *Hub) removeFromRoomLocked(room string, c *Client) {
	set := h.rooms[room]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.rooms, room)
	}
}

// BroadcastToRoom delivers ev to every client in room except exclude and
// returns the number of clients that accepted it.
func (h *Hub) BroadcastToRoom(room string, ev v1.Event, exclude *Client) int {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("hub.encode.fail", "type", ev.EventType(), "err", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.fanout(targets, b, room, ev.EventType())
}

// SendToUser delivers ev to all of userID's connections. Offline users are
// a no-op.
func (h *Hub) SendToUser(userID string, ev v1.Event) int {
	h.mu.RLock()
	set := h.users[userID]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("hub.encode.fail", "type", ev.EventType(), "err", err)
		return 0
	}
	return h.fanout(targets, b, "", ev.EventType())
}

func (h *Hub) fanout(targets []*Client, b []byte, room, typ string) int {
	sent, dropped := 0, 0
	for _, c := range targets {
		if c.offer(b) {
			sent++
			continue
		}
		dropped++
		h.log.Debug("hub.deliver.drop", "conversation_id", room, "session_id", c.SessionID, "type", typ)
	}
	h.metrics.Delivered(sent, dropped)
	return sent
}

// UsersInRoom returns the distinct users connected to room, sorted.
func (h *Hub) UsersInRoom(room string) []string {
	h.mu.RLock()
	seen := make(map[string]struct{}, len(h.rooms[room]))
	for c := range h.rooms[room] {
		seen[c.UserID] = struct{}{}
	}
	h.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// InRoom reports whether any of userID's connections is in room.
func (h *Hub) InRoom(room, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// IsOnline reports whether userID has any registered connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// RoomSize returns the number of connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
