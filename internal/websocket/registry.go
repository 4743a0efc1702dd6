package websocket

import (
	"encoding/json"
	"sort"
	"sync"

	"realtime-chat/internal/models"
	"realtime-chat/pkg/logger"
)

// room is one room's member set. A room that has been emptied is retired:
// it is unlinked from the registry and any goroutine still holding it must
// look the room up again.
type room struct {
	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	retired bool
}

func newRoom() *room {
	return &room{conns: make(map[*Conn]struct{})}
}

// Registry tracks which connections are in which room. Each room has its
// own lock; there is no registry-wide lock, so traffic in one room never
// waits on another.
type Registry struct {
	rooms sync.Map // room id -> *room
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) load(roomID string) *room {
	if v, ok := r.rooms.Load(roomID); ok {
		return v.(*room)
	}
	return nil
}

// Join adds c to roomID, creating the room on first use. A connection is in
// at most one room, so joining a new room leaves the previous one.
func (r *Registry) Join(roomID string, c *Conn) {
	if prev := c.Room(); prev != "" && prev != roomID {
		r.Leave(prev, c)
	}

	for {
		rm := r.load(roomID)
		if rm == nil {
			v, _ := r.rooms.LoadOrStore(roomID, newRoom())
			rm = v.(*room)
		}

		rm.mu.Lock()
		if rm.retired {
			rm.mu.Unlock()
			continue
		}
		rm.conns[c] = struct{}{}
		rm.mu.Unlock()

		c.setRoom(roomID)
		return
	}
}

// Leave removes c from roomID and reports whether it was a member.
// Calling it again, or for an unknown room, is a no-op.
func (r *Registry) Leave(roomID string, c *Conn) bool {
	rm := r.load(roomID)
	if rm == nil {
		return false
	}

	removed := r.remove(roomID, rm, []*Conn{c})
	if len(removed) == 0 {
		return false
	}
	c.clearRoom(roomID)
	return true
}

// remove deletes conns from rm in one step, retires rm if that empties it,
// and returns the conns that were actually members.
func (r *Registry) remove(roomID string, rm *room, conns []*Conn) []*Conn {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	removed := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		if _, ok := rm.conns[c]; ok {
			delete(rm.conns, c)
			removed = append(removed, c)
		}
	}

	if len(rm.conns) == 0 && !rm.retired {
		rm.retired = true
		r.rooms.CompareAndDelete(roomID, rm)
	}
	return removed
}

func (r *Registry) snapshot(rm *room) []*Conn {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	conns := make([]*Conn, 0, len(rm.conns))
	for c := range rm.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast delivers ev to every member of roomID and returns how many
// accepted it. Delivery works off a snapshot taken under the read lock;
// members whose delivery failed are removed together afterwards and closed,
// so one bad connection never stops the others from receiving.
func (r *Registry) Broadcast(roomID string, ev models.Event) int {
	rm := r.load(roomID)
	if rm == nil {
		return 0
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Failed to encode %s event: %v", ev.Type(), err)
		return 0
	}

	var dead []*Conn
	delivered := 0
	for _, c := range r.snapshot(rm) {
		if err := c.Send(payload); err != nil {
			logger.Warn("Dropping connection %s (user %s) from room %s: %v", c.ID(), c.User().ID, roomID, err)
			dead = append(dead, c)
			continue
		}
		delivered++
	}

	if len(dead) > 0 {
		for _, c := range r.remove(roomID, rm, dead) {
			c.clearRoom(roomID)
			c.Close()
		}
	}
	return delivered
}

// Members returns the distinct users connected to roomID, sorted by
// username.
func (r *Registry) Members(roomID string) []models.OnlineUser {
	users := []models.OnlineUser{}
	rm := r.load(roomID)
	if rm == nil {
		return users
	}

	seen := make(map[string]bool)
	for _, c := range r.snapshot(rm) {
		u := c.User()
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		users = append(users, models.OnlineUser{UserID: u.ID, Username: u.Username})
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].UserID < users[j].UserID
	})
	return users
}

// Count returns the number of connections in roomID.
func (r *Registry) Count(roomID string) int {
	rm := r.load(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.conns)
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	n := 0
	r.rooms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
