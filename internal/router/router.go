// Package router decodes inbound client events, applies them to the room
// registry and reports failures back to the originating client.
package router

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bken/signaling/internal/core"
	"bken/signaling/internal/protocol"
)

// Recorder receives per-event counters. The metrics package implements it.
type Recorder interface {
	Event(name string)
	Error(code string)
	SignalForwarded()
}

type nopRecorder struct{}

func (nopRecorder) Event(string) {}
func (nopRecorder) Error(string) {}
func (nopRecorder) SignalForwarded() {}

const internalErrorMessage = "internal error"

// Router is shared by every transport. It is safe for concurrent use.
type Router struct {
	reg    *core.Registry
	sender core.Sender
	rec    Recorder
	log    *zap.Logger
}

// New returns a router over reg. Replies go out through sender, which must be
// the same Sender the registry uses. rec may be nil.
func New(reg *core.Registry, sender core.Sender, rec Recorder, logger *zap.Logger) *Router {
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{reg: reg, sender: sender, rec: rec, log: logger}
}

// Connect registers a new transport connection and tells the client either
// that it may rejoin a room or which token to keep for reconnects.
func (r *Router) Connect(clientID, token string) {
	r.rec.Event(protocol.EventConnect)
	res := r.reg.Connect(clientID, token)
	if res.ReconnectionPossible() {
		r.reply(clientID, protocol.EventReconnectionPossible, protocol.ReconnectionPossible{
			RoomID:    res.RoomID,
			Category:  res.Category,
			Timestamp: r.stamp(),
		})
		return
	}
	r.reply(clientID, protocol.EventSessionCreated, protocol.SessionCreated{Token: res.Token})
}

// Disconnect is called once when the transport connection closes.
func (r *Router) Disconnect(clientID string) {
	r.rec.Event(protocol.EventDisconnect)
	r.reg.HandleDisconnect(clientID)
}

// Dispatch handles one inbound message. It never panics and never returns an
// error: failures become an error event to clientID.
func (r *Router) Dispatch(clientID string, msg protocol.Message) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("event handler panicked",
				zap.String("client_id", clientID),
				zap.String("event", msg.Event),
				zap.Any("panic", p),
				zap.Stack("stack"))
			r.rec.Error("internal")
			r.reply(clientID, protocol.EventError, protocol.Error{Message: internalErrorMessage})
		}
	}()

	r.rec.Event(msg.Event)
	if err := r.handle(clientID, msg); err != nil {
		r.fail(clientID, msg.Event, err)
	}
}

// Reject reports an inbound frame that could not be decoded into an envelope.
func (r *Router) Reject(clientID string, err error) {
	r.fail(clientID, "", invalid(err))
}

func (r *Router) handle(clientID string, msg protocol.Message) error {
	switch msg.Event {
	case protocol.EventCreateRoom:
		var in protocol.CreateRoom
		if err := msg.Decode(&in); err != nil {
			return invalid(err)
		}
		res, err := r.reg.CreateRoom(clientID, in.Category, in.MaxClients)
		if err != nil {
			return err
		}
		r.reply(clientID, protocol.EventRoomCreated, protocol.RoomCreated{RoomID: res.RoomID, Category: res.Category})
		return nil

	case protocol.EventJoinRoom:
		var in protocol.RoomRef
		if err := msg.Decode(&in); err != nil {
			return invalid(err)
		}
		if in.RoomID == "" {
			return &core.Error{Code: core.CodeInvalidInput, Message: "roomId is required"}
		}
		return r.reg.JoinRoom(clientID, in.RoomID)

	case protocol.EventRejoinRoom:
		var in protocol.RoomRef
		if err := msg.Decode(&in); err != nil {
			return invalid(err)
		}
		return r.reg.RejoinRoom(clientID, in.RoomID)

	case protocol.EventListRooms:
		var in protocol.ListRooms
		if err := msg.Decode(&in); err != nil {
			return invalid(err)
		}
		r.reply(clientID, protocol.EventRoomList, protocol.RoomList{Rooms: r.reg.ListRooms(in.Category)})
		return nil

	case protocol.EventSignal:
		var in protocol.SignalIn
		if err := msg.Decode(&in); err != nil {
			return invalid(err)
		}
		if err := r.reg.ForwardSignal(clientID, in.PeerID, in.Signal); err != nil {
			return err
		}
		r.rec.SignalForwarded()
		return nil

	case protocol.EventPing:
		r.reply(clientID, protocol.EventPong, protocol.Pong{Timestamp: r.stamp()})
		return nil

	default:
		return &core.Error{Code: core.CodeInvalidInput, Message: fmt.Sprintf("unknown event %q", msg.Event)}
	}
}

func invalid(err error) error {
	return &core.Error{Code: core.CodeInvalidInput, Message: "malformed payload: " + err.Error()}
}

func (r *Router) fail(clientID, event string, err error) {
	var cerr *core.Error
	if errors.As(err, &cerr) {
		r.rec.Error(string(cerr.Code))
		r.log.Debug("event rejected",
			zap.String("client_id", clientID),
			zap.String("event", event),
			zap.String("code", string(cerr.Code)),
			zap.String("reason", cerr.Message))
		r.reply(clientID, protocol.EventError, protocol.Error{Message: cerr.Message, Code: string(cerr.Code)})
		return
	}
	r.rec.Error("internal")
	r.log.Error("event handler failed", zap.String("client_id", clientID), zap.String("event", event), zap.Error(err))
	r.reply(clientID, protocol.EventError, protocol.Error{Message: internalErrorMessage})
}

func (r *Router) reply(clientID, event string, payload any) {
	msg, err := protocol.New(event, payload)
	if err != nil {
		r.log.Error("encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	r.sender.Send(clientID, msg)
}

func (r *Router) stamp() int64 {
	return r.reg.Now().UnixMilli()
}
