package core

import (
	"encoding/json"

	"go.uber.org/zap"

	"bken/signaling/internal/protocol"
)

// ForwardSignal delivers payload verbatim to toClientID, tagged with the
// sender. Both must be current members of the same room.
func (r *Registry) ForwardSignal(fromClientID, toClientID string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.store.RoomOf(fromClientID)
	if !ok {
		return ErrNotInRoom
	}
	room, ok := r.store.Room(roomID)
	if !ok || !room.hasClient(fromClientID) {
		return ErrNotInRoom
	}
	if toClientID == "" || !room.hasClient(toClientID) {
		return ErrInvalidPeer
	}

	r.send(toClientID, protocol.EventSignal, protocol.SignalOut{
		PeerID:    fromClientID,
		Signal:    payload,
		Timestamp: r.stamp(),
	})
	r.log.Debug("signal forwarded",
		zap.String("from", fromClientID),
		zap.String("to", toClientID),
		zap.String("room_id", roomID),
		zap.Int("bytes", len(payload)))
	return nil
}
