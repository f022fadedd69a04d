package core

import (
	"slices"
	"strings"
	"time"

	"bken/signaling/internal/schedule"
)

// ClientSession is the durable identity of one logical client. ClientID
// changes on every reconnect; Token does not.
type ClientSession struct {
	ClientID string
	Token    string
	RoomID   string
	LastSeen time.Time

	expiry *pendingExpiry
}

// pendingExpiry marks a scheduled session removal. Timer callbacks compare
// pointers so a stale firing never acts on a newer schedule.
type pendingExpiry struct {
	task *schedule.Task
}

// graceEntry reserves a disconnected member's slot until its timer fires.
type graceEntry struct {
	token string
	since time.Time
	task  *schedule.Task
}

// Room is one registered room. Clients keeps insertion order so host
// reassignment is deterministic.
type Room struct {
	ID           string
	Category     string
	HostID       string
	Clients      []string
	Disconnected map[string]*graceEntry
	// disconnectOrder lists Disconnected keys oldest first.
	disconnectOrder []string
	MaxClients      int
	CreatedAt       time.Time

	expiry *schedule.Task
}

func (r *Room) hasClient(id string) bool {
	return slices.Contains(r.Clients, id)
}

func (r *Room) addClient(id string) {
	if !r.hasClient(id) {
		r.Clients = append(r.Clients, id)
	}
}

func (r *Room) removeClient(id string) bool {
	i := slices.Index(r.Clients, id)
	if i < 0 {
		return false
	}
	r.Clients = slices.Delete(r.Clients, i, i+1)
	return true
}

func (r *Room) markDisconnected(id string, e *graceEntry) {
	r.Disconnected[id] = e
	r.disconnectOrder = append(r.disconnectOrder, id)
}

func (r *Room) clearDisconnected(id string) (*graceEntry, bool) {
	e, ok := r.Disconnected[id]
	if !ok {
		return nil, false
	}
	delete(r.Disconnected, id)
	if i := slices.Index(r.disconnectOrder, id); i >= 0 {
		r.disconnectOrder = slices.Delete(r.disconnectOrder, i, i+1)
	}
	return e, true
}

// disconnectedByToken finds the grace entry holding token.
func (r *Room) disconnectedByToken(token string) (string, *graceEntry, bool) {
	if token == "" {
		return "", nil, false
	}
	for _, id := range r.disconnectOrder {
		if e := r.Disconnected[id]; e != nil && e.token == token {
			return id, e, true
		}
	}
	return "", nil, false
}

// occupied counts joined members plus slots held for members in a grace window.
func (r *Room) occupied() int {
	return len(r.Clients) + len(r.Disconnected)
}

func (r *Room) empty() bool {
	return len(r.Clients) == 0 && len(r.Disconnected) == 0
}

// Store owns the three registries shared by every registry operation. It is
// not safe for concurrent use; Registry serializes all access.
type Store interface {
	Room(id string) (*Room, bool)
	PutRoom(room *Room)
	DeleteRoom(id string)
	Rooms() []*Room
	RoomCount() int

	RoomOf(clientID string) (string, bool)
	Bind(clientID, roomID string)
	Unbind(clientID string)
	BindingCount() int

	Session(clientID string) (*ClientSession, bool)
	SessionByToken(token string) (*ClientSession, bool)
	PutSession(s *ClientSession)
	DeleteSession(clientID string)
	SessionCount() int
}

type memStore struct {
	rooms        map[string]*Room
	clientToRoom map[string]string
	sessions     map[string]*ClientSession
	tokens       map[string]string // token → clientID
}

// NewMemStore returns an empty in-process Store.
func NewMemStore() Store {
	return &memStore{
		rooms:        make(map[string]*Room),
		clientToRoom: make(map[string]string),
		sessions:     make(map[string]*ClientSession),
		tokens:       make(map[string]string),
	}
}

func (m *memStore) Room(id string) (*Room, bool) {
	r, ok := m.rooms[id]
	return r, ok
}

func (m *memStore) PutRoom(room *Room) {
	m.rooms[room.ID] = room
}

func (m *memStore) DeleteRoom(id string) {
	delete(m.rooms, id)
}

// Rooms returns every room, oldest first.
func (m *memStore) Rooms() []*Room {
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (m *memStore) RoomCount() int {
	return len(m.rooms)
}

func (m *memStore) RoomOf(clientID string) (string, bool) {
	id, ok := m.clientToRoom[clientID]
	return id, ok
}

func (m *memStore) Bind(clientID, roomID string) {
	m.clientToRoom[clientID] = roomID
}

func (m *memStore) Unbind(clientID string) {
	delete(m.clientToRoom, clientID)
}

func (m *memStore) BindingCount() int {
	return len(m.clientToRoom)
}

func (m *memStore) Session(clientID string) (*ClientSession, bool) {
	s, ok := m.sessions[clientID]
	return s, ok
}

func (m *memStore) SessionByToken(token string) (*ClientSession, bool) {
	id, ok := m.tokens[token]
	if !ok {
		return nil, false
	}
	return m.Session(id)
}

func (m *memStore) PutSession(s *ClientSession) {
	m.sessions[s.ClientID] = s
	m.tokens[s.Token] = s.ClientID
}

func (m *memStore) DeleteSession(clientID string) {
	s, ok := m.sessions[clientID]
	if !ok {
		return
	}
	delete(m.sessions, clientID)
	if m.tokens[s.Token] == clientID {
		delete(m.tokens, s.Token)
	}
}

func (m *memStore) SessionCount() int {
	return len(m.sessions)
}
