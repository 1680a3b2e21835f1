// Package messages defines the JSON wire model for both protocol surfaces.
// Every frame is a single JSON object discriminated by a "type" field; the
// codec peeks at the tag first and only then decodes into the concrete
// message struct.
package messages

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/robothub/transport-fabric/internal/v1/types"
)

// Type discriminates WebSocket frames.
type Type string

const (
	// Connection and lifecycle
	TypeJoined Type = "joined"
	TypeError  Type = "error"

	// Connection health
	TypeHeartbeat    Type = "heartbeat"
	TypeHeartbeatAck Type = "heartbeat_ack"

	// Robotics control
	TypeJointUpdate   Type = "joint_update"
	TypeStateSync     Type = "state_sync"
	TypeEmergencyStop Type = "emergency_stop"

	// Video streaming lifecycle
	TypeStreamStarted     Type = "stream_started"
	TypeStreamStopped     Type = "stream_stopped"
	TypeVideoConfigUpdate Type = "video_config_update"
	TypeRecoveryTriggered Type = "recovery_triggered"

	// Status and monitoring
	TypeStatusUpdate      Type = "status_update"
	TypeStreamStats       Type = "stream_stats"
	TypeParticipantJoined Type = "participant_joined"
	TypeParticipantLeft   Type = "participant_left"

	// WebRTC signaling, wrapped for delivery to a session
	TypeWebRTCOffer  Type = "webrtc_offer"
	TypeWebRTCAnswer Type = "webrtc_answer"
	TypeWebRTCIce    Type = "webrtc_ice"
)

// Timestamp returns the wall-clock string the server stamps on messages it
// originates. Client timestamps are preserved when relaying.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// --- Connection & lifecycle ---

// Joined confirms a successful room join.
type Joined struct {
	Type        Type              `json:"type"`
	RoomID      types.RoomID      `json:"room_id"`
	WorkspaceID types.WorkspaceID `json:"workspace_id"`
	Role        types.Role        `json:"role"`
	Timestamp   string            `json:"timestamp"`
}

// Error notifies a session of a failure. Code is machine-readable.
type Error struct {
	Type      Type   `json:"type"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewError builds an error frame with a server timestamp.
func NewError(msg, code string) Error {
	return Error{Type: TypeError, Message: msg, Code: code, Timestamp: Timestamp()}
}

// --- Connection health ---

// Heartbeat is a client ping.
type Heartbeat struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

// HeartbeatAck answers a heartbeat.
type HeartbeatAck struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
}

// --- Robotics control ---

// Joint is one named joint position. Value is unclamped; the fabric does not
// validate ranges.
type Joint struct {
	Name  string   `json:"name"`
	Value float64  `json:"value"`
	Speed *float64 `json:"speed,omitempty"`
}

// JointUpdate carries incremental joint positions from the producer and is
// fanned out to consumers with the changed subset.
type JointUpdate struct {
	Type      Type    `json:"type"`
	Data      []Joint `json:"data"`
	Source    string  `json:"source,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// StateSync conveys a full joint map in one payload, used for late-joiner
// catch-up and resync. Applied as a merge: absent keys are left unchanged.
type StateSync struct {
	Type      Type               `json:"type"`
	Data      map[string]float64 `json:"data"`
	Timestamp string             `json:"timestamp,omitempty"`
}

// EmergencyStop is a priority broadcast with no state effect.
type EmergencyStop struct {
	Type      Type   `json:"type"`
	Reason    string `json:"reason,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// --- Video streaming lifecycle ---

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VideoConfig is the authoritative stream configuration held by a video room.
type VideoConfig struct {
	Encoding   string     `json:"encoding"`
	Resolution Resolution `json:"resolution"`
	Framerate  int        `json:"framerate"`
	Bitrate    int        `json:"bitrate"`
	Quality    int        `json:"quality"`
}

// DefaultVideoConfig mirrors the defaults clients assume when they omit the
// config on room creation.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Encoding:   "vp8",
		Resolution: Resolution{Width: 640, Height: 480},
		Framerate:  30,
		Bitrate:    1_000_000,
		Quality:    80,
	}
}

// VideoConfigPatch is the wire form of a config: only keys present in the
// payload are applied.
type VideoConfigPatch struct {
	Encoding   *string     `json:"encoding,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Framerate  *int        `json:"framerate,omitempty"`
	Bitrate    *int        `json:"bitrate,omitempty"`
	Quality    *int        `json:"quality,omitempty"`
}

// Apply merges the patch into the config, field by field.
func (c *VideoConfig) Apply(p VideoConfigPatch) {
	if p.Encoding != nil {
		c.Encoding = *p.Encoding
	}
	if p.Resolution != nil {
		c.Resolution = *p.Resolution
	}
	if p.Framerate != nil {
		c.Framerate = *p.Framerate
	}
	if p.Bitrate != nil {
		c.Bitrate = *p.Bitrate
	}
	if p.Quality != nil {
		c.Quality = *p.Quality
	}
}

// StreamStarted announces that the producer began streaming.
type StreamStarted struct {
	Type          Type                `json:"type"`
	Config        VideoConfigPatch    `json:"config"`
	ParticipantID types.ParticipantID `json:"participant_id"`
	Timestamp     string              `json:"timestamp,omitempty"`
}

// StreamStopped announces that the producer stopped streaming.
type StreamStopped struct {
	Type          Type                `json:"type"`
	ParticipantID types.ParticipantID `json:"participant_id"`
	Reason        string              `json:"reason,omitempty"`
	Timestamp     string              `json:"timestamp,omitempty"`
}

// VideoConfigUpdate merges into the room config and is fanned out.
type VideoConfigUpdate struct {
	Type      Type             `json:"type"`
	Config    VideoConfigPatch `json:"config"`
	Source    string           `json:"source,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
}

// RecoveryTriggered is a consumer's self-report of frame-loss handling. The
// fabric forwards it for observability and never acts on it.
type RecoveryTriggered struct {
	Type      Type   `json:"type"`
	Policy    string `json:"policy,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// --- Status & monitoring ---

// StatusUpdate is a free-form observability broadcast.
type StatusUpdate struct {
	Type      Type           `json:"type"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// StreamStats reports producer-side stream telemetry.
type StreamStats struct {
	Type      Type           `json:"type"`
	Stats     map[string]any `json:"stats"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// ParticipantJoined announces a new participant to the rest of a video room.
type ParticipantJoined struct {
	Type          Type                `json:"type"`
	RoomID        types.RoomID        `json:"room_id"`
	ParticipantID types.ParticipantID `json:"participant_id"`
	Role          types.Role          `json:"role"`
	Timestamp     string              `json:"timestamp"`
}

// ParticipantLeft announces a departure to the rest of a video room.
type ParticipantLeft struct {
	Type          Type                `json:"type"`
	RoomID        types.RoomID        `json:"room_id"`
	ParticipantID types.ParticipantID `json:"participant_id"`
	Role          types.Role          `json:"role"`
	Timestamp     string              `json:"timestamp"`
}

// --- WebRTC signaling ---

// SignalMessage is the raw signaling payload submitted over REST. SDP and
// candidate bodies are relayed untouched.
type SignalMessage struct {
	Type           string                   `json:"type"`
	SDP            string                   `json:"sdp,omitempty"`
	Candidate      *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	TargetConsumer types.ParticipantID      `json:"target_consumer,omitempty"`
	TargetProducer types.ParticipantID      `json:"target_producer,omitempty"`
}

// WebRTCOffer wraps a producer's offer for delivery to one consumer.
type WebRTCOffer struct {
	Type         Type                      `json:"type"`
	Offer        webrtc.SessionDescription `json:"offer"`
	FromProducer types.ParticipantID       `json:"from_producer"`
	Timestamp    string                    `json:"timestamp"`
}

// WebRTCAnswer wraps a consumer's answer for delivery to the producer.
type WebRTCAnswer struct {
	Type         Type                      `json:"type"`
	Answer       webrtc.SessionDescription `json:"answer"`
	FromConsumer types.ParticipantID       `json:"from_consumer"`
	Timestamp    string                    `json:"timestamp"`
}

// WebRTCIce wraps an ICE candidate for delivery to the targeted peer. Exactly
// one of FromProducer/FromConsumer is set.
type WebRTCIce struct {
	Type         Type                    `json:"type"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
	FromProducer types.ParticipantID     `json:"from_producer,omitempty"`
	FromConsumer types.ParticipantID     `json:"from_consumer,omitempty"`
	Timestamp    string                  `json:"timestamp"`
}
