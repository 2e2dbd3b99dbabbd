package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Disconnect reasons, also used as audit details and metric labels.
const (
	ReasonClosed   = "closed"
	ReasonError    = "read_error"
	ReasonWrite    = "write_error"
	ReasonSlow     = "slow_consumer"
	ReasonShutdown = "shutdown"
)

type frame struct {
	typ  int
	data []byte
}

type client struct {
	id     string
	room   string
	role   string
	remote string
	trace  string
	conn   *websocket.Conn
	send   chan frame

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

func newClient(conn *websocket.Conn, queue int) *client {
	return &client{conn: conn, send: make(chan frame, queue), done: make(chan struct{})}
}

// enqueue never blocks; false means the queue is full.
func (c *client) enqueue(f frame) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// close records the first reason and tears the connection down.
func (c *client) close(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
		if reason == ReasonSlow || reason == ReasonShutdown {
			code := websocket.ClosePolicyViolation
			if reason == ReasonShutdown {
				code = websocket.CloseGoingAway
			}
			msg := websocket.FormatCloseMessage(code, reason)
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		c.conn.Close()
	})
}

func (c *client) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// RoomInfo describes one room for the /rooms listing.
type RoomInfo struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// Hub tracks room membership and fans messages out to the other members.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[c.room] = members
		roomsOpen.Inc()
	}
	members[c] = struct{}{}
	connectionsOpen.Inc()
}

// leave removes c and reports whether it was a member.
func (h *Hub) leave(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	connectionsOpen.Dec()
	if len(members) == 0 {
		delete(h.rooms, c.room)
		roomsOpen.Dec()
	}
	return true
}

// broadcast queues f for every member of from's room except from.
// Members whose queue is full are disconnected after the lock is released.
func (h *Hub) broadcast(from *client, f frame) int {
	var slow []*client
	n := 0
	h.mu.RLock()
	for c := range h.rooms[from.room] {
		if c == from {
			continue
		}
		if c.enqueue(f) {
			n++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		c.close(ReasonSlow)
	}
	return n
}

// Rooms lists rooms sorted by name.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for name, members := range h.rooms {
		out = append(out, RoomInfo{Room: name, Members: len(members)})
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Members returns the member count of room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) closeAll(reason string) {
	h.mu.RLock()
	var all []*client
	for _, members := range h.rooms {
		for c := range members {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close(reason)
	}
}
