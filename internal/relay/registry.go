package relay

import "sort"

// Registry maps device ids to their live connection and current room. It
// is owned by the relay event loop and is not safe for concurrent use.
type Registry struct {
	conns map[string]*Client
	rooms map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Client),
		rooms: make(map[string]string),
	}
}

// Bind points deviceID at c and returns the connection it replaced, if any.
func (r *Registry) Bind(deviceID string, c *Client) *Client {
	prev := r.conns[deviceID]
	r.conns[deviceID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Unbind removes deviceID only while it still points at c, so a stale
// socket closing after a reconnect leaves the new slot alone.
func (r *Registry) Unbind(deviceID string, c *Client) bool {
	if r.conns[deviceID] != c {
		return false
	}
	delete(r.conns, deviceID)
	delete(r.rooms, deviceID)
	return true
}

func (r *Registry) Conn(deviceID string) (*Client, bool) {
	c, ok := r.conns[deviceID]
	return c, ok
}

// SetRoom binds deviceID to roomID, returning the previous room.
func (r *Registry) SetRoom(deviceID, roomID string) string {
	prev := r.rooms[deviceID]
	if roomID == "" {
		delete(r.rooms, deviceID)
	} else {
		r.rooms[deviceID] = roomID
	}
	return prev
}

func (r *Registry) ClearRoom(deviceID string) string {
	return r.SetRoom(deviceID, "")
}

func (r *Registry) Room(deviceID string) string {
	return r.rooms[deviceID]
}

// Members returns the connected devices bound to roomID, sorted. An empty
// roomID selects connected devices that are in no room.
func (r *Registry) Members(roomID string) []string {
	out := make([]string, 0)
	for id := range r.conns {
		if r.rooms[id] == roomID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	return len(r.conns)
}
