// Package video implements the streaming protocol surface: rooms carrying the
// stream configuration, lifecycle broadcasts, and the participant presence
// events that video clients rely on to set up WebRTC peers.
package video

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// Room coordinates one producer slot and a consumer set around a shared
// stream configuration. Unlike robotics rooms, membership changes are
// announced to the other participants so they can start or tear down peer
// connections.
type Room struct {
	workspaceID types.WorkspaceID
	roomID      types.RoomID
	createdAt   time.Time

	mu             sync.RWMutex
	producer       types.Session
	consumers      map[types.ParticipantID]types.Session
	config         messages.VideoConfig
	recoveryConfig json.RawMessage
	streaming      bool
	frameCount     int64
	lastFrameAt    time.Time
}

// NewRoom creates a video room with the given initial config. A zero-valued
// patch leaves the defaults in place.
func NewRoom(workspaceID types.WorkspaceID, roomID types.RoomID, patch messages.VideoConfigPatch, recovery json.RawMessage) *Room {
	cfg := messages.DefaultVideoConfig()
	cfg.Apply(patch)
	return &Room{
		workspaceID:    workspaceID,
		roomID:         roomID,
		createdAt:      time.Now().UTC(),
		consumers:      make(map[types.ParticipantID]types.Session),
		config:         cfg,
		recoveryConfig: recovery,
	}
}

func (r *Room) WorkspaceID() types.WorkspaceID { return r.workspaceID }
func (r *Room) ID() types.RoomID               { return r.roomID }

// Admit places the session and announces it to everyone already present.
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
	total := r.participantCountLocked()
	r.mu.Unlock()

	s.SendMessage(messages.Joined{
		Type:        messages.TypeJoined,
		RoomID:      r.roomID,
		WorkspaceID: r.workspaceID,
		Role:        s.Role(),
		Timestamp:   messages.Timestamp(),
	})

	broadcast(r.participantSnapshot(s.ID()), messages.ParticipantJoined{
		Type:          messages.TypeParticipantJoined,
		RoomID:        r.roomID,
		ParticipantID: s.ID(),
		Role:          s.Role(),
		Timestamp:     messages.Timestamp(),
	})

	metrics.RoomParticipants.WithLabelValues("video", string(r.roomID)).Set(float64(total))
	logging.Info(ctx, "Participant admitted to video room",
		zap.String("roomId", string(r.roomID)),
		zap.String("participantId", string(s.ID())),
		zap.String("role", string(s.Role())))
	return nil
}

// Evict removes the session and announces the departure. A departing producer
// also ends the stream from the consumers' point of view.
func (r *Room) Evict(ctx context.Context, s types.Session) {
	r.mu.Lock()
	wasProducer := r.producer != nil && r.producer == s
	if wasProducer {
		r.producer = nil
		r.streaming = false
	} else {
		delete(r.consumers, s.ID())
	}
	total := r.participantCountLocked()
	r.mu.Unlock()

	remaining := r.participantSnapshot(s.ID())
	if wasProducer {
		broadcast(remaining, messages.StreamStopped{
			Type:          messages.TypeStreamStopped,
			ParticipantID: s.ID(),
			Reason:        "producer disconnected",
			Timestamp:     messages.Timestamp(),
		})
	}
	broadcast(remaining, messages.ParticipantLeft{
		Type:          messages.TypeParticipantLeft,
		RoomID:        r.roomID,
		ParticipantID: s.ID(),
		Role:          s.Role(),
		Timestamp:     messages.Timestamp(),
	})

	if total > 0 {
		metrics.RoomParticipants.WithLabelValues("video", string(r.roomID)).Set(float64(total))
	} else {
		metrics.RoomParticipants.DeleteLabelValues("video", string(r.roomID))
	}

	logging.Info(ctx, "Participant left video room",
		zap.String("roomId", string(r.roomID)),
		zap.String("participantId", string(s.ID())))
}

// Close disconnects all sessions, used on room deletion and shutdown.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	sessions := r.sessionsLocked()
	r.producer = nil
	r.consumers = make(map[types.ParticipantID]types.Session)
	r.streaming = false
	r.mu.Unlock()

	farewell, err := messages.Encode(messages.NewError(reason, "room_deleted"))
	for _, s := range sessions {
		if err == nil {
			s.Send(farewell)
		}
		s.Close()
	}

	metrics.RoomParticipants.DeleteLabelValues("video", string(r.roomID))
	logging.Info(context.Background(), "Closed video room",
		zap.String("roomId", string(r.roomID)), zap.String("reason", reason))
}

// Producer returns the producer session, implementing signaling.PeerRoom.
func (r *Room) Producer() (types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.producer == nil {
		return nil, false
	}
	return r.producer, true
}

// Consumer returns the consumer session with the given id, implementing
// signaling.PeerRoom.
func (r *Room) Consumer(id types.ParticipantID) (types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.consumers[id]
	return s, ok
}

// Config returns a copy of the authoritative stream configuration.
func (r *Room) Config() messages.VideoConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// ApplyConfig merges the patch into the room config and returns the result.
func (r *Room) ApplyConfig(patch messages.VideoConfigPatch) messages.VideoConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Apply(patch)
	return r.config
}

// RecordFrames refreshes the room telemetry with the producer's cumulative
// frame counter.
func (r *Room) RecordFrames(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameCount = n
	r.lastFrameAt = time.Now().UTC()
}

func (r *Room) setStreaming(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = on
}

// --- fan-out helpers ---

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

// RoomInfo is the room listing entry.
type RoomInfo struct {
	ID             types.RoomID         `json:"id"`
	WorkspaceID    types.WorkspaceID    `json:"workspace_id"`
	Participants   Participants         `json:"participants"`
	Config         messages.VideoConfig `json:"config"`
	RecoveryConfig json.RawMessage      `json:"recovery_config,omitempty"`
	Streaming      bool                 `json:"streaming"`
	FrameCount     int64                `json:"frame_count"`
	LastFrameTime  string               `json:"last_frame_time,omitempty"`
	HasProducer    bool                 `json:"has_producer"`
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

// RoomState is the authoritative snapshot exposed over REST: the stream
// config, membership, and telemetry.
type RoomState struct {
	RoomID         types.RoomID         `json:"room_id"`
	WorkspaceID    types.WorkspaceID    `json:"workspace_id"`
	Config         messages.VideoConfig `json:"config"`
	RecoveryConfig json.RawMessage      `json:"recovery_config,omitempty"`
	Participants   Participants         `json:"participants"`
	Streaming      bool                 `json:"streaming"`
	FrameCount     int64                `json:"frame_count"`
	LastFrameTime  string               `json:"last_frame_time,omitempty"`
	Timestamp      string               `json:"timestamp"`
}

// State returns the authoritative snapshot.
func (r *Room) State() RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := RoomState{
		RoomID:         r.roomID,
		WorkspaceID:    r.workspaceID,
		Config:         r.config,
		RecoveryConfig: r.recoveryConfig,
		Participants:   r.participantsLocked(),
		Streaming:      r.streaming,
		FrameCount:     r.frameCount,
		Timestamp:      messages.Timestamp(),
	}
	if !r.lastFrameAt.IsZero() {
		state.LastFrameTime = r.lastFrameAt.Format(time.RFC3339Nano)
	}
	return state
}

// Info returns the room summary.
func (r *Room) Info() RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := RoomInfo{
		ID:             r.roomID,
		WorkspaceID:    r.workspaceID,
		Participants:   r.participantsLocked(),
		Config:         r.config,
		RecoveryConfig: r.recoveryConfig,
		Streaming:      r.streaming,
		FrameCount:     r.frameCount,
		HasProducer:    r.producer != nil,
	}
	if !r.lastFrameAt.IsZero() {
		info.LastFrameTime = r.lastFrameAt.Format(time.RFC3339Nano)
	}
	return info
}

// ParticipantCount reports the current number of attached sessions.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participantCountLocked()
}
