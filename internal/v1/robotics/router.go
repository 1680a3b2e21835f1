package robotics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// Route dispatches one inbound frame from an active session. Malformed or
// unauthorized frames produce an error frame to the sender; the connection
// stays open.
func (r *Room) Route(ctx context.Context, s types.Session, frame []byte) {
	start := time.Now()

	msgType, err := messages.PeekType(frame)
	if err != nil {
		s.SendMessage(messages.NewError(err.Error(), "malformed_message"))
		metrics.MessagesRouted.WithLabelValues("robotics", "unknown", "malformed").Inc()
		return
	}

	status := "ok"
	switch msgType {
	case messages.TypeJointUpdate:
		status = r.handleJointUpdate(ctx, s, frame)
	case messages.TypeStateSync:
		status = r.handleStateSync(ctx, s, frame)
	case messages.TypeEmergencyStop:
		status = r.handleEmergencyStop(ctx, s, frame)
	case messages.TypeHeartbeat:
		s.SendMessage(messages.HeartbeatAck{Type: messages.TypeHeartbeatAck, Timestamp: messages.Timestamp()})
	default:
		s.SendMessage(messages.NewError("unsupported message type: "+string(msgType), "unsupported_type"))
		status = "unsupported"
	}

	metrics.MessagesRouted.WithLabelValues("robotics", string(msgType), status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues("robotics", string(msgType)).Observe(time.Since(start).Seconds())
}

// handleJointUpdate merges a producer's incremental update and fans out only
// the joints whose value actually changed. An update that changes nothing is
// absorbed silently.
func (r *Room) handleJointUpdate(ctx context.Context, s types.Session, frame []byte) string {
	if s.Role() != types.RoleProducer {
		s.SendMessage(messages.NewError("only the producer may send joint updates", "role_violation"))
		return "rejected"
	}

	var update messages.JointUpdate
	if err := messages.Decode(frame, &update); err != nil {
		s.SendMessage(messages.NewError("malformed joint_update payload", "malformed_message"))
		return "malformed"
	}
	if len(update.Data) == 0 {
		return "empty"
	}

	changed := r.ApplyJoints(update.Data)
	if len(changed) == 0 {
		return "unchanged"
	}

	ts := update.Timestamp
	if ts == "" {
		ts = messages.Timestamp()
	}
	broadcast(r.consumerSnapshot(s.ID()), messages.JointUpdate{
		Type:      messages.TypeJointUpdate,
		Data:      changed,
		Source:    string(s.ID()),
		Timestamp: ts,
	})

	logging.Info(ctx, "Routed joint update",
		zap.String("roomId", string(r.roomID)),
		zap.Int("changed", len(changed)))
	return "ok"
}

// handleStateSync merges a full snapshot and always rebroadcasts it to
// consumers in joint_update list form, so resyncs reach late consumers even
// when every value is already current.
func (r *Room) handleStateSync(ctx context.Context, s types.Session, frame []byte) string {
	if s.Role() != types.RoleProducer {
		s.SendMessage(messages.NewError("only the producer may send state syncs", "role_violation"))
		return "rejected"
	}

	var sync messages.StateSync
	if err := messages.Decode(frame, &sync); err != nil {
		s.SendMessage(messages.NewError("malformed state_sync payload", "malformed_message"))
		return "malformed"
	}
	if len(sync.Data) == 0 {
		return "empty"
	}

	r.ApplySync(sync.Data)

	joints := make([]messages.Joint, 0, len(sync.Data))
	for name, value := range sync.Data {
		joints = append(joints, messages.Joint{Name: name, Value: value})
	}
	broadcast(r.consumerSnapshot(s.ID()), messages.JointUpdate{
		Type:      messages.TypeJointUpdate,
		Data:      joints,
		Source:    string(s.ID()),
		Timestamp: messages.Timestamp(),
	})

	logging.Info(ctx, "Applied state sync",
		zap.String("roomId", string(r.roomID)),
		zap.Int("joints", len(sync.Data)))
	return "ok"
}

// handleEmergencyStop relays the stop to every other participant. Any role may
// trigger it and the room state is untouched.
func (r *Room) handleEmergencyStop(ctx context.Context, s types.Session, frame []byte) string {
	var stop messages.EmergencyStop
	if err := messages.Decode(frame, &stop); err != nil {
		s.SendMessage(messages.NewError("malformed emergency_stop payload", "malformed_message"))
		return "malformed"
	}

	reason := stop.Reason
	if reason == "" {
		reason = "emergency stop"
	}
	broadcast(r.participantSnapshot(s.ID()), messages.EmergencyStop{
		Type:      messages.TypeEmergencyStop,
		Reason:    reason,
		Source:    string(s.ID()),
		Timestamp: messages.Timestamp(),
	})

	logging.Warn(ctx, "Emergency stop broadcast",
		zap.String("roomId", string(r.roomID)),
		zap.String("source", string(s.ID())),
		zap.String("reason", reason))
	return "ok"
}
