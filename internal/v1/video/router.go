package video

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
		metrics.MessagesRouted.WithLabelValues("video", "unknown", "malformed").Inc()
		return
	}

	status := "ok"
	switch msgType {
	case messages.TypeStreamStarted:
		status = r.handleStreamStarted(ctx, s, frame)
	case messages.TypeStreamStopped:
		status = r.handleStreamStopped(ctx, s, frame)
	case messages.TypeVideoConfigUpdate:
		status = r.handleConfigUpdate(ctx, s, frame)
	case messages.TypeRecoveryTriggered:
		status = r.handleRecoveryTriggered(ctx, s, frame)
	case messages.TypeStatusUpdate:
		status = r.relayExceptSender(s, frame, "malformed status_update payload", &messages.StatusUpdate{})
	case messages.TypeStreamStats:
		status = r.handleStreamStats(ctx, s, frame)
	case messages.TypeEmergencyStop:
		status = r.handleEmergencyStop(ctx, s, frame)
	case messages.TypeHeartbeat:
		s.SendMessage(messages.HeartbeatAck{Type: messages.TypeHeartbeatAck, Timestamp: messages.Timestamp()})
	default:
		s.SendMessage(messages.NewError("unsupported message type: "+string(msgType), "unsupported_type"))
		status = "unsupported"
	}

	metrics.MessagesRouted.WithLabelValues("video", string(msgType), status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues("video", string(msgType)).Observe(time.Since(start).Seconds())
}

func (r *Room) handleStreamStarted(ctx context.Context, s types.Session, frame []byte) string {
	if s.Role() != types.RoleProducer {
		s.SendMessage(messages.NewError("only the producer may start the stream", "role_violation"))
		return "rejected"
	}

	var started messages.StreamStarted
	if err := messages.Decode(frame, &started); err != nil {
		s.SendMessage(messages.NewError("malformed stream_started payload", "malformed_message"))
		return "malformed"
	}

	cfg := r.ApplyConfig(started.Config)
	r.setStreaming(true)

	broadcast(r.consumerSnapshot(s.ID()), messages.StreamStarted{
		Type:          messages.TypeStreamStarted,
		Config:        configAsPatch(cfg),
		ParticipantID: s.ID(),
		Timestamp:     messages.Timestamp(),
	})

	logging.Info(ctx, "Stream started",
		zap.String("roomId", string(r.roomID)),
		zap.String("encoding", cfg.Encoding))
	return "ok"
}

func (r *Room) handleStreamStopped(ctx context.Context, s types.Session, frame []byte) string {
	if s.Role() != types.RoleProducer {
		s.SendMessage(messages.NewError("only the producer may stop the stream", "role_violation"))
		return "rejected"
	}

	var stopped messages.StreamStopped
	if err := messages.Decode(frame, &stopped); err != nil {
		s.SendMessage(messages.NewError("malformed stream_stopped payload", "malformed_message"))
		return "malformed"
	}
	r.setStreaming(false)

	broadcast(r.consumerSnapshot(s.ID()), messages.StreamStopped{
		Type:          messages.TypeStreamStopped,
		ParticipantID: s.ID(),
		Reason:        stopped.Reason,
		Timestamp:     messages.Timestamp(),
	})

	logging.Info(ctx, "Stream stopped", zap.String("roomId", string(r.roomID)))
	return "ok"
}

// handleConfigUpdate merges the patch into the room config and fans the
// effective config out to every other participant.
func (r *Room) handleConfigUpdate(ctx context.Context, s types.Session, frame []byte) string {
	if s.Role() != types.RoleProducer {
		s.SendMessage(messages.NewError("only the producer may change the stream config", "role_violation"))
		return "rejected"
	}

	var update messages.VideoConfigUpdate
	if err := messages.Decode(frame, &update); err != nil {
		s.SendMessage(messages.NewError("malformed video_config_update payload", "malformed_message"))
		return "malformed"
	}

	cfg := r.ApplyConfig(update.Config)
	broadcast(r.participantSnapshot(s.ID()), messages.VideoConfigUpdate{
		Type:      messages.TypeVideoConfigUpdate,
		Config:    configAsPatch(cfg),
		Source:    string(s.ID()),
		Timestamp: messages.Timestamp(),
	})

	logging.Info(ctx, "Video config updated", zap.String("roomId", string(r.roomID)))
	return "ok"
}

// handleRecoveryTriggered relays a consumer's frame-loss report to the rest
// of the room for observability. No server-side state changes.
func (r *Room) handleRecoveryTriggered(ctx context.Context, s types.Session, frame []byte) string {
	if s.Role() != types.RoleConsumer {
		s.SendMessage(messages.NewError("only consumers may report recovery", "role_violation"))
		return "rejected"
	}

	var rec messages.RecoveryTriggered
	if err := messages.Decode(frame, &rec); err != nil {
		s.SendMessage(messages.NewError("malformed recovery_triggered payload", "malformed_message"))
		return "malformed"
	}
	rec.Type = messages.TypeRecoveryTriggered
	if rec.Timestamp == "" {
		rec.Timestamp = messages.Timestamp()
	}

	broadcast(r.participantSnapshot(s.ID()), rec)

	logging.Warn(ctx, "Recovery triggered",
		zap.String("roomId", string(r.roomID)),
		zap.String("participantId", string(s.ID())),
		zap.String("policy", rec.Policy))
	return "ok"
}

// handleStreamStats records frame telemetry carried in the stats payload and
// relays the message to the other participants.
func (r *Room) handleStreamStats(ctx context.Context, s types.Session, frame []byte) string {
	var stats messages.StreamStats
	if err := messages.Decode(frame, &stats); err != nil {
		s.SendMessage(messages.NewError("malformed stream_stats payload", "malformed_message"))
		return "malformed"
	}

	if n, ok := stats.Stats["frame_count"].(float64); ok && n > 0 {
		r.RecordFrames(int64(n))
	}

	stats.Type = messages.TypeStreamStats
	if stats.Timestamp == "" {
		stats.Timestamp = messages.Timestamp()
	}
	broadcast(r.participantSnapshot(s.ID()), stats)
	return "ok"
}

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
		zap.String("source", string(s.ID())))
	return "ok"
}

// relayExceptSender decodes the frame for validation only, then relays the
// original bytes to everyone but the sender.
func (r *Room) relayExceptSender(s types.Session, frame []byte, malformedMsg string, dst any) string {
	if err := messages.Decode(frame, dst); err != nil {
		s.SendMessage(messages.NewError(malformedMsg, "malformed_message"))
		return "malformed"
	}
	for _, peer := range r.participantSnapshot(s.ID()) {
		peer.Send(frame)
	}
	return "ok"
}

// configAsPatch renders the full effective config in patch form for the wire.
func configAsPatch(cfg messages.VideoConfig) messages.VideoConfigPatch {
	return messages.VideoConfigPatch{
		Encoding:   &cfg.Encoding,
		Resolution: &cfg.Resolution,
		Framerate:  &cfg.Framerate,
		Bitrate:    &cfg.Bitrate,
		Quality:    &cfg.Quality,
	}
}
