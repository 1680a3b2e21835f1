// Package robotics implements the control-traffic protocol surface: rooms
// holding an authoritative joint snapshot, a single producer slot, and the
// fan-out of joint updates to consumers.
package robotics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// Room coordinates one producer slot, a consumer set, and the authoritative
// joint snapshot for that room. Mutations are linearized by the room mutex;
// fan-out happens on snapshots taken under the read lock, and session queues
// never block.
type Room struct {
	workspaceID types.WorkspaceID
	roomID      types.RoomID
	createdAt   time.Time

	mu           sync.RWMutex
	producer     types.Session
	consumers    map[types.ParticipantID]types.Session
	joints       map[string]float64
	lastUpdateAt time.Time
}

// NewRoom creates an empty robotics room.
func NewRoom(workspaceID types.WorkspaceID, roomID types.RoomID) *Room {
	return &Room{
		workspaceID: workspaceID,
		roomID:      roomID,
		createdAt:   time.Now().UTC(),
		consumers:   make(map[types.ParticipantID]types.Session),
		joints:      make(map[string]float64),
	}
}

func (r *Room) WorkspaceID() types.WorkspaceID { return r.workspaceID }
func (r *Room) ID() types.RoomID               { return r.roomID }

// Admit atomically places the session according to its role. Producers take
// the single slot; consumers always fit. Newly admitted consumers receive the
// current snapshot (when non-empty) before the joined acknowledgment, so late
// joiners catch up without waiting for the next update.
func (r *Room) Admit(ctx context.Context, s types.Session) error {
	r.mu.Lock()

	if r.producer != nil && r.producer.ID() == s.ID() {
		r.mu.Unlock()
		return types.ErrDuplicateParticipant
	}
	if _, taken := r.consumers[s.ID()]; taken {
		r.mu.Unlock()
		return types.ErrDuplicateParticipant
	}

	switch s.Role() {
	case types.RoleProducer:
		if r.producer != nil {
			r.mu.Unlock()
			return types.ErrProducerExists
		}
		r.producer = s
	case types.RoleConsumer:
		r.consumers[s.ID()] = s
	}

	var snapshot map[string]float64
	if s.Role() == types.RoleConsumer && len(r.joints) > 0 {
		snapshot = copyJoints(r.joints)
	}
	total := r.participantCountLocked()
	r.mu.Unlock()

	if snapshot != nil {
		s.SendMessage(messages.StateSync{
			Type:      messages.TypeStateSync,
			Data:      snapshot,
			Timestamp: messages.Timestamp(),
		})
	}

	s.SendMessage(messages.Joined{
		Type:        messages.TypeJoined,
		RoomID:      r.roomID,
		WorkspaceID: r.workspaceID,
		Role:        s.Role(),
		Timestamp:   messages.Timestamp(),
	})

	metrics.RoomParticipants.WithLabelValues("robotics", string(r.roomID)).Set(float64(total))
	logging.Info(ctx, "Participant admitted to robotics room",
		zap.String("roomId", string(r.roomID)),
		zap.String("participantId", string(s.ID())),
		zap.String("role", string(s.Role())))
	return nil
}

// Evict removes the session from the room. The joint snapshot is kept: a
// producer may reconnect to the same room without consumers losing state.
func (r *Room) Evict(ctx context.Context, s types.Session) {
	r.mu.Lock()
	if r.producer != nil && r.producer == s {
		r.producer = nil
	} else {
		delete(r.consumers, s.ID())
	}
	total := r.participantCountLocked()
	r.mu.Unlock()

	if total > 0 {
		metrics.RoomParticipants.WithLabelValues("robotics", string(r.roomID)).Set(float64(total))
	} else {
		metrics.RoomParticipants.DeleteLabelValues("robotics", string(r.roomID))
	}

	logging.Info(ctx, "Participant left robotics room",
		zap.String("roomId", string(r.roomID)),
		zap.String("participantId", string(s.ID())))
}

// Close disconnects all sessions, used on room deletion and shutdown.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	sessions := r.sessionsLocked()
	r.producer = nil
	r.consumers = make(map[types.ParticipantID]types.Session)
	r.mu.Unlock()

	farewell, err := messages.Encode(messages.NewError(reason, "room_deleted"))
	for _, s := range sessions {
		if err == nil {
			s.Send(farewell)
		}
		s.Close()
	}

	metrics.RoomParticipants.DeleteLabelValues("robotics", string(r.roomID))
	logging.Info(context.Background(), "Closed robotics room",
		zap.String("roomId", string(r.roomID)), zap.String("reason", reason))
}

// ApplyJoints merges the updates into the snapshot (last-write-wins) and
// returns the subset whose stored value actually changed.
func (r *Room) ApplyJoints(updates []messages.Joint) []messages.Joint {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []messages.Joint
	for _, j := range updates {
		if current, ok := r.joints[j.Name]; !ok || current != j.Value {
			r.joints[j.Name] = j.Value
			changed = append(changed, j)
		}
	}
	if len(changed) > 0 {
		r.lastUpdateAt = time.Now().UTC()
	}
	return changed
}

// ApplySync merges a full state map. The payload is a merge, not a
// replacement: keys absent from the payload are left unchanged.
func (r *Room) ApplySync(state map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, value := range state {
		r.joints[name] = value
	}
	if len(state) > 0 {
		r.lastUpdateAt = time.Now().UTC()
	}
}

// Joints returns a copy of the authoritative snapshot.
func (r *Room) Joints() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyJoints(r.joints)
}

// --- fan-out helpers ---

// consumerSnapshot returns the consumer sessions, excluding one id.
func (r *Room) consumerSnapshot(exclude types.ParticipantID) []types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Session, 0, len(r.consumers))
	for id, s := range r.consumers {
		if id == exclude {
			continue
		}
		out = append(out, s)
	}
	return out
}

// participantSnapshot returns every session in the room, excluding one id.
func (r *Room) participantSnapshot(exclude types.ParticipantID) []types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Session, 0, len(r.consumers)+1)
	if r.producer != nil && r.producer.ID() != exclude {
		out = append(out, r.producer)
	}
	for id, s := range r.consumers {
		if id == exclude {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *Room) sessionsLocked() []types.Session {
	out := make([]types.Session, 0, len(r.consumers)+1)
	if r.producer != nil {
		out = append(out, r.producer)
	}
	for _, s := range r.consumers {
		out = append(out, s)
	}
	return out
}

func (r *Room) participantCountLocked() int {
	n := len(r.consumers)
	if r.producer != nil {
		n++
	}
	return n
}

func copyJoints(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// broadcast encodes msg once and enqueues it on every target session.
func broadcast(targets []types.Session, msg any) {
	data, err := messages.Encode(msg)
	if err != nil {
		logging.Error(context.Background(), "Failed to encode broadcast", zap.Error(err))
		return
	}
	for _, s := range targets {
		s.Send(data)
	}
}

// --- REST snapshots ---

// Participants summarizes room membership.
type Participants struct {
	Producer  *types.ParticipantID  `json:"producer"`
	Consumers []types.ParticipantID `json:"consumers"`
	Total     int                   `json:"total"`
}

// RoomInfo is the shallow room listing entry (no joint map).
type RoomInfo struct {
	ID              types.RoomID      `json:"id"`
	WorkspaceID     types.WorkspaceID `json:"workspace_id"`
	Participants    Participants      `json:"participants"`
	JointsCount     int               `json:"joints_count"`
	HasProducer     bool              `json:"has_producer"`
	ActiveConsumers int               `json:"active_consumers"`
}

// RoomState is the authoritative snapshot exposed over REST.
type RoomState struct {
	RoomID       types.RoomID       `json:"room_id"`
	WorkspaceID  types.WorkspaceID  `json:"workspace_id"`
	Joints       map[string]float64 `json:"joints"`
	Participants Participants       `json:"participants"`
	Timestamp    string             `json:"timestamp"`
}

func (r *Room) participantsLocked() Participants {
	p := Participants{Consumers: make([]types.ParticipantID, 0, len(r.consumers))}
	if r.producer != nil {
		id := r.producer.ID()
		p.Producer = &id
		p.Total++
	}
	for id := range r.consumers {
		p.Consumers = append(p.Consumers, id)
	}
	p.Total += len(r.consumers)
	return p
}

// Info returns the shallow room summary.
func (r *Room) Info() RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p := r.participantsLocked()
	return RoomInfo{
		ID:              r.roomID,
		WorkspaceID:     r.workspaceID,
		Participants:    p,
		JointsCount:     len(r.joints),
		HasProducer:     r.producer != nil,
		ActiveConsumers: len(r.consumers),
	}
}

// State returns the authoritative snapshot.
func (r *Room) State() RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RoomState{
		RoomID:       r.roomID,
		WorkspaceID:  r.workspaceID,
		Joints:       copyJoints(r.joints),
		Participants: r.participantsLocked(),
		Timestamp:    messages.Timestamp(),
	}
}

// ParticipantCount reports the current number of attached sessions.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participantCountLocked()
}
