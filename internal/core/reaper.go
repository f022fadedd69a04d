package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bken/signaling/internal/protocol"
)

// expireRoom tears a room down once its lifetime has elapsed. Members in a
// grace window are dropped with it; they are not offered a rejoin.
func (r *Registry) expireRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.store.Room(roomID)
	if !ok || !r.stale(room, r.now()) {
		return
	}
	r.teardown(room)
}

func (r *Registry) stale(room *Room, now time.Time) bool {
	return !now.Before(room.CreatedAt.Add(r.opts.RoomLifetime))
}

func (r *Registry) teardown(room *Room) {
	room.expiry.Cancel()
	r.broadcast(room, protocol.EventRoomExpired, nil)

	for _, id := range room.Clients {
		r.store.Unbind(id)
		if sess, ok := r.sessions.lookup(id); ok && sess.RoomID == room.ID {
			sess.RoomID = ""
		}
	}
	for _, id := range append([]string(nil), room.disconnectOrder...) {
		entry, _ := room.clearDisconnected(id)
		entry.task.Cancel()
		r.store.Unbind(id)
		r.sessions.forget(id, entry.token, room)
	}
	room.Clients = nil
	r.store.DeleteRoom(room.ID)

	r.observe(KindExpired, room, "")
	r.log.Info("room expired", zap.String("room_id", room.ID), zap.String("category", room.Category))
}

// Sweep expires every room whose lifetime has elapsed and returns how many
// were removed. It backs up the per-room deadline timers.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for _, room := range r.store.Rooms() {
		if r.stale(room, now) {
			r.teardown(room)
			n++
		}
	}
	if n > 0 {
		r.log.Info("stale rooms cleaned up", zap.Int("count", n))
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is canceled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := r.sched.Clock().NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}
