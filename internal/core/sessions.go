package core

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bken/signaling/internal/schedule"
)

// SessionRegistry tracks reconnection credentials. Callers hold the
// Registry lock.
type SessionRegistry struct {
	store Store
	sched *schedule.Scheduler
}

// NewSessionRegistry returns a session registry over store.
func NewSessionRegistry(store Store, sched *schedule.Scheduler) *SessionRegistry {
	return &SessionRegistry{store: store, sched: sched}
}

// ConnectResult tells the caller which events to send after a connect.
type ConnectResult struct {
	// Token is the reconnection credential for this logical client.
	Token string
	// Created is true when a fresh session was issued.
	Created bool
	// RoomID and Category are set when the restored session remembers a
	// room that still exists.
	RoomID   string
	Category string
	// PreviousID is the transport identity the session was re-keyed from.
	PreviousID string
}

// ReconnectionPossible reports whether the client can rejoin a room.
func (c ConnectResult) ReconnectionPossible() bool {
	return c.RoomID != ""
}

func (s *SessionRegistry) connect(clientID, presentedToken string) ConnectResult {
	now := s.sched.Now()

	if presentedToken != "" {
		if sess, ok := s.store.SessionByToken(presentedToken); ok {
			prev := sess.ClientID
			s.store.DeleteSession(prev)
			sess.ClientID = clientID
			sess.LastSeen = now
			if sess.expiry != nil {
				sess.expiry.task.Cancel()
				sess.expiry = nil
			}
			s.store.PutSession(sess)

			res := ConnectResult{Token: sess.Token, PreviousID: prev}
			if sess.RoomID != "" {
				if room, ok := s.store.Room(sess.RoomID); ok {
					res.RoomID = room.ID
					res.Category = room.Category
				}
			}
			return res
		}
	}

	if sess, ok := s.store.Session(clientID); ok {
		sess.LastSeen = now
		return ConnectResult{Token: sess.Token}
	}

	sess := &ClientSession{
		ClientID: clientID,
		Token:    uuid.NewString(),
		LastSeen: now,
	}
	s.store.PutSession(sess)
	return ConnectResult{Token: sess.Token, Created: true}
}

func (s *SessionRegistry) lookup(clientID string) (*ClientSession, bool) {
	return s.store.Session(clientID)
}

// forget drops the session owned by clientID after it left room for good. A
// session that has since been re-keyed to a newer connection only loses its
// room, and only while that room is still the one it remembers and the newer
// connection is not a live member of it.
func (s *SessionRegistry) forget(clientID, token string, room *Room) {
	if sess, ok := s.store.Session(clientID); ok {
		if sess.expiry != nil {
			sess.expiry.task.Cancel()
		}
		s.store.DeleteSession(clientID)
		return
	}
	sess, ok := s.store.SessionByToken(token)
	if !ok || sess.RoomID != room.ID || room.hasClient(sess.ClientID) {
		return
	}
	sess.RoomID = ""
}

// Connect registers a transport identity, restoring the session that owns
// presentedToken when there is one. An unknown token is treated as absent.
func (r *Registry) Connect(clientID, presentedToken string) ConnectResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.sessions.connect(clientID, presentedToken)
	switch {
	case res.Created:
		r.log.Debug("session created", zap.String("client_id", clientID))
	case res.PreviousID != "":
		r.log.Info("session restored",
			zap.String("client_id", clientID),
			zap.String("previous_id", res.PreviousID),
			zap.String("room_id", res.RoomID))
	}
	return res
}

// Lookup returns a copy of the session bound to clientID.
func (r *Registry) Lookup(clientID string) (ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions.lookup(clientID)
	if !ok {
		return ClientSession{}, false
	}
	out := *sess
	out.expiry = nil
	return out, true
}

// expireSessionLater schedules removal of a room-less session after the
// grace window so its token survives a short transport drop. Repeated calls
// keep the first schedule.
func (r *Registry) expireSessionLater(sess *ClientSession) {
	if sess.expiry != nil {
		return
	}
	mark := &pendingExpiry{}
	sess.expiry = mark
	mark.task = r.sched.After(r.opts.GraceWindow, func() {
		r.expireSession(sess, mark)
	})
}

func (r *Registry) expireSession(sess *ClientSession, mark *pendingExpiry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess.expiry != mark {
		return
	}
	sess.expiry = nil
	if cur, ok := r.store.Session(sess.ClientID); !ok || cur != sess {
		return
	}
	r.store.DeleteSession(sess.ClientID)
	r.log.Debug("session expired", zap.String("client_id", sess.ClientID))
}
