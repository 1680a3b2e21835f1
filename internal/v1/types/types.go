// Package types holds the core identifiers, roles, and interfaces shared by
// the transport, room, and signaling packages. Keeping them here breaks the
// dependency cycle between the session transport and the protocol cores.
package types

import (
	"context"
	"errors"
	"time"
)

// --- Core Domain Types ---

// WorkspaceID is an opaque isolation boundary; a namespace of rooms.
type WorkspaceID string

// RoomID identifies a room within a workspace.
type RoomID string

// ParticipantID identifies a participant within a room. Client-chosen.
type ParticipantID string

// Role defines how a participant relates to a room's data flow.
type Role string

const (
	// RoleProducer is the singular authoritative sender for a room.
	RoleProducer Role = "producer"
	// RoleConsumer subscribes to the fan-out stream.
	RoleConsumer Role = "consumer"
)

// ParseRole validates a wire-level role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleProducer, RoleConsumer:
		return Role(s), nil
	default:
		return "", errors.New("invalid role: " + s)
	}
}

// --- Error Kinds ---

var (
	// ErrProducerExists is returned when a producer joins a room whose
	// producer slot is already occupied.
	ErrProducerExists = errors.New("room already has a producer")
	// ErrRoomExists is returned when creating a room whose id is taken
	// within the workspace.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned on lookups of unknown rooms.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUnknownPeer is returned when a signaling target is not present in
	// the room. Non-fatal: signaling is best-effort.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrDuplicateParticipant is returned when a participant id is already
	// taken in the room.
	ErrDuplicateParticipant = errors.New("participant id already in room")
)

// --- Shared Interfaces ---

// Session is the handle a room keeps for one connected participant. The
// transport package owns the socket; the room only pushes outbound frames.
type Session interface {
	ID() ParticipantID
	Role() Role
	ConnectedAt() time.Time

	// Send enqueues a pre-encoded frame on the session's bounded outbound
	// queue. A full queue drops the oldest pending frame; Send never blocks.
	Send(data []byte)
	// SendMessage encodes v as JSON and enqueues it.
	SendMessage(v any)
	// Close tears the session down. Idempotent.
	Close()
}

// Room is what a session needs from the room it joined: admission, message
// routing, and disconnect cleanup.
type Room interface {
	WorkspaceID() WorkspaceID
	ID() RoomID

	// Admit atomically places the session according to its role and emits
	// the join acknowledgment. Returns ErrProducerExists when the producer
	// slot is taken, ErrDuplicateParticipant on id reuse.
	Admit(ctx context.Context, s Session) error
	// Route dispatches one decoded inbound frame from s.
	Route(ctx context.Context, s Session, frame []byte)
	// Evict removes the session and runs the cleanup protocol.
	Evict(ctx context.Context, s Session)
}
