package core

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bken/signaling/internal/protocol"
)

// MaxCategoryLength bounds the category label in bytes.
const MaxCategoryLength = 64

// CreateResult is returned by CreateRoom.
type CreateResult struct {
	RoomID   string
	Category string
}

// CreateRoom registers a new room hosted by clientID. A nil maxClients uses
// the default capacity.
func (r *Registry) CreateRoom(clientID, category string, maxClients *int) (CreateResult, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return CreateResult{}, newError(CodeInvalidInput, "invalid category")
	}
	if len(category) > MaxCategoryLength {
		return CreateResult{}, newError(CodeInvalidInput, "category must not exceed %d characters", MaxCategoryLength)
	}
	capacity := r.opts.DefaultCapacity
	if maxClients != nil {
		capacity = *maxClients
	}
	if capacity < r.opts.MinCapacity || capacity > r.opts.MaxCapacity {
		return CreateResult{}, newError(CodeInvalidInput, "maxClients must be between %d and %d", r.opts.MinCapacity, r.opts.MaxCapacity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, bound := r.store.RoomOf(clientID); bound {
		return CreateResult{}, newError(CodeAlreadyMember, "already in a room")
	}
	if r.store.RoomCount() >= r.opts.MaxRooms {
		return CreateResult{}, ErrCapacityExceeded
	}

	now := r.now()
	room := &Room{
		ID:           uuid.NewString(),
		Category:     category,
		HostID:       clientID,
		Clients:      []string{clientID},
		Disconnected: make(map[string]*graceEntry),
		MaxClients:   capacity,
		CreatedAt:    now,
	}
	r.store.PutRoom(room)
	r.store.Bind(clientID, room.ID)
	if sess, ok := r.sessions.lookup(clientID); ok {
		sess.RoomID = room.ID
	}

	roomID := room.ID
	room.expiry = r.sched.At(now.Add(r.opts.RoomLifetime), func() {
		r.expireRoom(roomID)
	})

	r.observe(KindCreated, room, clientID)
	r.log.Info("room created",
		zap.String("room_id", room.ID),
		zap.String("category", category),
		zap.String("client_id", clientID),
		zap.Int("max_clients", capacity))
	return CreateResult{RoomID: room.ID, Category: category}, nil
}

// JoinRoom adds clientID to roomID, broadcasts the new peer list, tells
// existing members about the arrival and replies room-joined to the joiner.
// Capacity counts members in their grace window as well as connected ones,
// so a slot held for a rejoin cannot be taken and len(Clients) never exceeds
// MaxClients after that member returns.
func (r *Registry) JoinRoom(clientID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.store.Room(roomID)
	if !ok {
		return ErrNotFound
	}
	if room.occupied() >= room.MaxClients {
		return ErrFull
	}
	if room.hasClient(clientID) {
		return ErrAlreadyMember
	}
	if _, bound := r.store.RoomOf(clientID); bound {
		return newError(CodeAlreadyMember, "already in a room")
	}

	room.addClient(clientID)
	r.store.Bind(clientID, roomID)
	if sess, ok := r.sessions.lookup(clientID); ok {
		sess.RoomID = roomID
	}

	ts := r.stamp()
	peers := peerList(room)
	r.broadcast(room, protocol.EventRoomPeersUpdated, protocol.PeersUpdated{Peers: peers, Timestamp: ts})
	r.broadcast(room, protocol.EventPeerJoined, protocol.PeerEvent{PeerID: clientID, Timestamp: ts}, clientID)
	r.send(clientID, protocol.EventRoomJoined, protocol.RoomJoined{
		RoomID:    roomID,
		Peers:     peers,
		IsHost:    room.HostID == clientID,
		Timestamp: ts,
	})

	r.observe(KindJoined, room, clientID)
	r.log.Info("client joined room", zap.String("room_id", roomID), zap.String("client_id", clientID), zap.Int("clients", len(room.Clients)))
	return nil
}

// RejoinRoom restores a member whose grace window is still open. The grace
// entry is matched by the caller's reconnection token, so a client that came
// back under a new transport identity takes over its old slot, host role
// included.
func (r *Registry) RejoinRoom(clientID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions.lookup(clientID)
	if !ok || sess.RoomID != roomID {
		return ErrInvalidRejoin
	}
	room, ok := r.store.Room(roomID)
	if !ok {
		return ErrInvalidRejoin
	}

	previousID := ""
	if oldID, entry, found := room.disconnectedByToken(sess.Token); found {
		entry.task.Cancel()
		room.clearDisconnected(oldID)
		if oldID != clientID {
			r.store.Unbind(oldID)
			previousID = oldID
			if room.HostID == oldID {
				room.HostID = clientID
			}
		}
		room.addClient(clientID)
	} else if !room.hasClient(clientID) {
		return ErrInvalidRejoin
	}
	r.store.Bind(clientID, roomID)

	ts := r.stamp()
	peers := peerList(room)
	r.broadcast(room, protocol.EventPeerRejoined, protocol.PeerRejoined{
		PeerID:     clientID,
		PreviousID: previousID,
		Peers:      peers,
		Timestamp:  ts,
	})
	r.send(clientID, protocol.EventRoomJoined, protocol.RoomJoined{
		RoomID:    roomID,
		Peers:     peers,
		IsHost:    room.HostID == clientID,
		Timestamp: ts,
	})

	r.observe(KindRejoined, room, clientID)
	r.log.Info("client rejoined room",
		zap.String("room_id", roomID),
		zap.String("client_id", clientID),
		zap.String("previous_id", previousID))
	return nil
}

// HandleDisconnect moves a departing member into its room's grace window. It
// is a no-op for clients that are not currently joined to a room, apart from
// scheduling their session's expiry. A departing host keeps the host role
// while its grace window is open; the role moves only when the window
// expires without a rejoin.
func (r *Registry) HandleDisconnect(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, bound := r.store.RoomOf(clientID)
	if !bound {
		if sess, ok := r.sessions.lookup(clientID); ok {
			r.expireSessionLater(sess)
		}
		return
	}
	room, ok := r.store.Room(roomID)
	if !ok {
		r.store.Unbind(clientID)
		return
	}
	if !room.removeClient(clientID) {
		return
	}

	token := ""
	if sess, ok := r.sessions.lookup(clientID); ok {
		token = sess.Token
	}
	entry := &graceEntry{token: token, since: r.now()}
	room.markDisconnected(clientID, entry)
	entry.task = r.sched.After(r.opts.GraceWindow, func() {
		r.expireGrace(roomID, clientID, entry)
	})

	r.broadcast(room, protocol.EventPeerDisconnected, protocol.PeerEvent{PeerID: clientID, Timestamp: r.stamp()})

	r.observe(KindDisconnected, room, clientID)
	r.log.Info("client temporarily disconnected", zap.String("room_id", roomID), zap.String("client_id", clientID))
}

// expireGrace permanently removes a member whose grace window elapsed.
func (r *Registry) expireGrace(roomID, clientID string, entry *graceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.store.Room(roomID)
	if !ok || room.Disconnected[clientID] != entry {
		return
	}
	room.clearDisconnected(clientID)
	r.store.Unbind(clientID)
	r.sessions.forget(clientID, entry.token, room)

	r.log.Info("grace window expired", zap.String("room_id", roomID), zap.String("client_id", clientID))
	r.observe(KindLeft, room, clientID)

	ts := r.stamp()
	r.broadcast(room, protocol.EventPeerLeft, protocol.PeerEvent{PeerID: clientID, Timestamp: ts})
	r.broadcast(room, protocol.EventRoomPeersUpdated, protocol.PeersUpdated{Peers: peerList(room), Timestamp: ts})

	if room.empty() {
		r.removeRoom(room)
		return
	}
	if room.HostID == clientID {
		r.reassignHost(room)
	}
}

// reassignHost picks the first remaining member, falling back to the
// longest-disconnected one when nobody is connected.
func (r *Registry) reassignHost(room *Room) {
	var next string
	switch {
	case len(room.Clients) > 0:
		next = room.Clients[0]
	case len(room.disconnectOrder) > 0:
		next = room.disconnectOrder[0]
	default:
		return
	}
	room.HostID = next
	r.broadcast(room, protocol.EventHostChanged, protocol.HostChanged{NewHostID: next, Timestamp: r.stamp()})
	r.observe(KindHostChanged, room, next)
	r.log.Info("host changed", zap.String("room_id", room.ID), zap.String("host_id", next))
}

// removeRoom deletes an empty room.
func (r *Registry) removeRoom(room *Room) {
	room.expiry.Cancel()
	r.store.DeleteRoom(room.ID)
	r.observe(KindRemoved, room, "")
	r.log.Info("room removed", zap.String("room_id", room.ID))
}

// ListRooms returns rooms in category that still have a free slot, oldest
// first. As in JoinRoom, slots reserved by members in their grace window are
// not free; CurrentCount reports connected members only.
func (r *Registry) ListRooms(category string) []protocol.RoomSummary {
	category = strings.TrimSpace(category)

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.RoomSummary, 0)
	for _, room := range r.store.Rooms() {
		if room.Category != category || room.occupied() >= room.MaxClients {
			continue
		}
		out = append(out, protocol.RoomSummary{
			ID:           room.ID,
			CurrentCount: len(room.Clients),
			MaxClients:   room.MaxClients,
			CreatedAt:    room.CreatedAt.UnixMilli(),
		})
	}
	return out
}
