package chat

import (
	"context"
	"sync"
)

// Sender delivers an outbound message to one connected client.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// Groups is the broadcast registry sessions join and leave.
type Groups interface {
	// Join registers s in group and returns a membership id for Leave.
	Join(group string, s Sender) int64
	// Leave removes a membership. Unknown ids are ignored.
	Leave(group string, id int64)
	// Broadcast delivers msg to every member of group.
	Broadcast(ctx context.Context, group string, msg OutboundMessage) error
}

// Hub manages the members of every group on this process.
// It maps a group key to the senders joined to it so a message can be
// pushed to every connected endpoint of a conversation.
type Hub struct {
	mu     sync.RWMutex                // Protects groups and nextID
	groups map[string]map[int64]Sender // group key -> membership id -> sender
	nextID int64                       // Last membership id handed out
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[int64]Sender)}
}

// Join registers s in group and returns a membership id which must be passed
// to Leave when the connection closes.
func (h *Hub) Join(group string, s Sender) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	// First member creates the group
	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[int64]Sender)
	}

	h.nextID++
	id := h.nextID
	h.groups[group][id] = s
	return id
}

// Leave removes a membership. Calling it twice is a no-op.
func (h *Hub) Leave(group string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.groups[group]; ok {
		delete(members, id)
		// Drop empty groups so the map does not grow with dead channels
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// Size returns the number of members in group.
func (h *Hub) Size(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Broadcast sends msg to every member of group. Delivery is best-effort: every
// member is tried, members whose send fails are removed, and the first error
// is returned. An empty group is not an error.
func (h *Hub) Broadcast(ctx context.Context, group string, msg OutboundMessage) error {
	type member struct {
		id int64
		s  Sender
	}

	// Snapshot under the read lock; sends happen without holding it
	h.mu.RLock()
	members := make([]member, 0, len(h.groups[group]))
	for id, s := range h.groups[group] {
		members = append(members, member{id, s})
	}
	h.mu.RUnlock()

	var firstErr error
	var failed []int64
	for _, m := range members {
		if err := m.s.Send(ctx, msg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, m.id)
		}
	}

	// Failed members are assumed gone
	for _, id := range failed {
		h.Leave(group, id)
	}
	return firstErr
}
