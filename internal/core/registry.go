package core

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"bken/signaling/internal/protocol"
	"bken/signaling/internal/schedule"
)

// Sender delivers one outbound message to one client. Implementations must
// not block; a message to an unreachable client is dropped.
type Sender interface {
	Send(clientID string, msg protocol.Message)
}

// Room lifecycle kinds reported to observers.
const (
	KindCreated      = "created"
	KindJoined       = "joined"
	KindRejoined     = "rejoined"
	KindDisconnected = "disconnected"
	KindLeft         = "left"
	KindHostChanged  = "host_changed"
	KindExpired      = "expired"
	KindRemoved      = "removed"
)

// RoomEvent describes one room lifecycle transition.
type RoomEvent struct {
	Kind     string
	RoomID   string
	ClientID string
	Category string
	At       time.Time
}

// Observer is notified of room lifecycle transitions while the registry lock
// is held, so implementations must return quickly.
type Observer interface {
	ObserveRoom(ev RoomEvent)
}

// Options are the limits and durations the registry enforces.
type Options struct {
	MaxRooms        int
	RoomLifetime    time.Duration
	GraceWindow     time.Duration
	DefaultCapacity int
	MinCapacity     int
	MaxCapacity     int
}

// DefaultOptions mirrors the defaults in the config package.
func DefaultOptions() Options {
	return Options{
		MaxRooms:        1000,
		RoomLifetime:    time.Hour,
		GraceWindow:     time.Minute,
		DefaultCapacity: 2,
		MinCapacity:     2,
		MaxCapacity:     16,
	}
}

// Registry owns all room and session state. Every exported method runs to
// completion under one mutex, including the non-blocking sends it triggers,
// so each client observes events in the order state changed.
type Registry struct {
	mu        sync.Mutex
	store     Store
	sessions  *SessionRegistry
	sched     *schedule.Scheduler
	sender    Sender
	observers []Observer
	opts      Options
	log       *zap.Logger
	started   time.Time
}

// NewRegistry wires a registry around store. A nil logger disables logging.
func NewRegistry(store Store, sched *schedule.Scheduler, sender Sender, opts Options, logger *zap.Logger, observers ...Observer) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sched == nil {
		sched = schedule.New(nil)
	}
	return &Registry{
		store:     store,
		sessions:  NewSessionRegistry(store, sched),
		sched:     sched,
		sender:    sender,
		observers: observers,
		opts:      opts,
		log:       logger,
		started:   sched.Now(),
	}
}

// Options returns the configured limits.
func (r *Registry) Options() Options {
	return r.opts
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.sched.Now()
}

func (r *Registry) now() time.Time {
	return r.sched.Now()
}

func (r *Registry) stamp() int64 {
	return r.now().UnixMilli()
}

func (r *Registry) send(clientID, event string, payload any) {
	if r.sender == nil {
		return
	}
	r.sender.Send(clientID, protocol.MustNew(event, payload))
}

// broadcast sends to every current member of room except the ids in skip.
func (r *Registry) broadcast(room *Room, event string, payload any, skip ...string) {
	if r.sender == nil {
		return
	}
	msg := protocol.MustNew(event, payload)
	for _, id := range room.Clients {
		if slices.Contains(skip, id) {
			continue
		}
		r.sender.Send(id, msg)
	}
}

func (r *Registry) observe(kind string, room *Room, clientID string) {
	ev := RoomEvent{Kind: kind, RoomID: room.ID, ClientID: clientID, Category: room.Category, At: r.now()}
	for _, o := range r.observers {
		o.ObserveRoom(ev)
	}
}

func peerList(room *Room) []protocol.Peer {
	peers := make([]protocol.Peer, 0, len(room.Clients))
	for _, id := range room.Clients {
		_, gone := room.Disconnected[id]
		peers = append(peers, protocol.Peer{
			ID:           id,
			IsHost:       id == room.HostID,
			Disconnected: gone,
		})
	}
	return peers
}

// Stats is a point-in-time snapshot for health reporting and metrics.
type Stats struct {
	RoomCount    int
	ClientCount  int
	SessionCount int
	Uptime       time.Duration
}

// Stats reports current counts. ClientCount is the number of clients bound
// to a room.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		RoomCount:    r.store.RoomCount(),
		ClientCount:  r.store.BindingCount(),
		SessionCount: r.store.SessionCount(),
		Uptime:       r.now().Sub(r.started),
	}
}

// RoomView is a copy of one room's state, safe to use after the lock is released.
type RoomView struct {
	ID           string
	Category     string
	HostID       string
	Clients      []string
	Disconnected []string
	MaxClients   int
	CreatedAt    time.Time
}

func viewOf(room *Room) RoomView {
	return RoomView{
		ID:           room.ID,
		Category:     room.Category,
		HostID:       room.HostID,
		Clients:      append([]string(nil), room.Clients...),
		Disconnected: append([]string(nil), room.disconnectOrder...),
		MaxClients:   room.MaxClients,
		CreatedAt:    room.CreatedAt,
	}
}

// Room returns a snapshot of one room.
func (r *Registry) Room(roomID string) (RoomView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.store.Room(roomID)
	if !ok {
		return RoomView{}, false
	}
	return viewOf(room), true
}

// Rooms returns a snapshot of every room, oldest first.
func (r *Registry) Rooms() []RoomView {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := r.store.Rooms()
	out := make([]RoomView, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, viewOf(room))
	}
	return out
}

// RoomOf returns the room the client is bound to.
func (r *Registry) RoomOf(clientID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.RoomOf(clientID)
}
