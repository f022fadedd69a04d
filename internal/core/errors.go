package core

import "fmt"

// Code classifies a caller-recoverable failure.
type Code string

const (
	CodeInvalidInput     Code = "invalid_input"
	CodeNotFound         Code = "not_found"
	CodeFull             Code = "full"
	CodeAlreadyMember    Code = "already_member"
	CodeNotInRoom        Code = "not_in_room"
	CodeInvalidPeer      Code = "invalid_peer"
	CodeInvalidRejoin    Code = "invalid_rejoin"
	CodeCapacityExceeded Code = "capacity_exceeded"
)

// Error is returned by every registry operation that the caller can recover
// from. Message is safe to show to the client.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same Code, so errors.Is(err, ErrFull) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidInput     = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "room not found"}
	ErrFull             = &Error{Code: CodeFull, Message: "room is full"}
	ErrAlreadyMember    = &Error{Code: CodeAlreadyMember, Message: "already in room"}
	ErrNotInRoom        = &Error{Code: CodeNotInRoom, Message: "client not in a room"}
	ErrInvalidPeer      = &Error{Code: CodeInvalidPeer, Message: "invalid peer"}
	ErrInvalidRejoin    = &Error{Code: CodeInvalidRejoin, Message: "invalid rejoin attempt"}
	ErrCapacityExceeded = &Error{Code: CodeCapacityExceeded, Message: "maximum number of rooms reached"}
)
