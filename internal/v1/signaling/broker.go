// Package signaling brokers WebRTC session negotiation between the producer
// and consumers of a video room. The fabric relays SDP and ICE payloads
// verbatim; it never parses them and never joins a peer connection itself.
package signaling

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// PeerRoom is the membership view the broker needs from a video room.
type PeerRoom interface {
	Producer() (types.Session, bool)
	Consumer(id types.ParticipantID) (types.Session, bool)
}

// Signal type tags accepted on the REST signaling endpoint.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
	SignalIce    = "ice"
)

// Relay validates the signal against room membership and enqueues the wrapped
// message on the target session. Offers flow producer→consumer, answers
// consumer→producer, ICE in the direction its target field names. The target
// is always looked up by id: a target that is absent, or that no longer
// matches the connected peer, returns types.ErrUnknownPeer and the caller
// reports it without tearing anything down.
func Relay(ctx context.Context, room PeerRoom, sender types.ParticipantID, sig messages.SignalMessage) error {
	var err error
	switch sig.Type {
	case SignalOffer:
		err = relayOffer(room, sender, sig)
	case SignalAnswer:
		err = relayAnswer(room, sender, sig)
	case SignalIce:
		err = relayIce(room, sender, sig)
	default:
		err = fmt.Errorf("unknown signal type %q", sig.Type)
	}

	status := "ok"
	if err != nil {
		status = "failed"
		logging.Warn(ctx, "Signal relay failed",
			zap.String("signalType", sig.Type),
			zap.String("sender", string(sender)),
			zap.Error(err))
	}
	metrics.SignalsRelayed.WithLabelValues(sig.Type, status).Inc()
	return err
}

func relayOffer(room PeerRoom, sender types.ParticipantID, sig messages.SignalMessage) error {
	if err := requireProducer(room, sender); err != nil {
		return err
	}
	if sig.SDP == "" {
		return fmt.Errorf("offer carries no sdp")
	}
	if sig.TargetConsumer == "" {
		return fmt.Errorf("offer missing target_consumer")
	}

	target, ok := room.Consumer(sig.TargetConsumer)
	if !ok {
		return types.ErrUnknownPeer
	}

	target.SendMessage(messages.WebRTCOffer{
		Type:         messages.TypeWebRTCOffer,
		Offer:        sessionDescription("offer", sig.SDP),
		FromProducer: sender,
		Timestamp:    messages.Timestamp(),
	})
	return nil
}

func relayAnswer(room PeerRoom, sender types.ParticipantID, sig messages.SignalMessage) error {
	if err := requireConsumer(room, sender); err != nil {
		return err
	}
	if sig.SDP == "" {
		return fmt.Errorf("answer carries no sdp")
	}
	if sig.TargetProducer == "" {
		return fmt.Errorf("answer missing target_producer")
	}

	// A producer that reconnected under a new id must not receive answers
	// negotiated against its predecessor.
	target, ok := room.Producer()
	if !ok || target.ID() != sig.TargetProducer {
		return types.ErrUnknownPeer
	}

	target.SendMessage(messages.WebRTCAnswer{
		Type:         messages.TypeWebRTCAnswer,
		Answer:       sessionDescription("answer", sig.SDP),
		FromConsumer: sender,
		Timestamp:    messages.Timestamp(),
	})
	return nil
}

// relayIce routes by target field: target_consumer means the sender is the
// producer, target_producer means the sender is a consumer.
func relayIce(room PeerRoom, sender types.ParticipantID, sig messages.SignalMessage) error {
	if sig.Candidate == nil {
		return fmt.Errorf("ice signal carries no candidate")
	}

	switch {
	case sig.TargetConsumer != "":
		if err := requireProducer(room, sender); err != nil {
			return err
		}
		target, ok := room.Consumer(sig.TargetConsumer)
		if !ok {
			return types.ErrUnknownPeer
		}
		target.SendMessage(messages.WebRTCIce{
			Type:         messages.TypeWebRTCIce,
			Candidate:    *sig.Candidate,
			FromProducer: sender,
			Timestamp:    messages.Timestamp(),
		})
		return nil

	case sig.TargetProducer != "":
		if err := requireConsumer(room, sender); err != nil {
			return err
		}
		target, ok := room.Producer()
		if !ok || target.ID() != sig.TargetProducer {
			return types.ErrUnknownPeer
		}
		target.SendMessage(messages.WebRTCIce{
			Type:         messages.TypeWebRTCIce,
			Candidate:    *sig.Candidate,
			FromConsumer: sender,
			Timestamp:    messages.Timestamp(),
		})
		return nil

	default:
		return fmt.Errorf("ice signal missing target peer")
	}
}

// sessionDescription wraps a relayed SDP body. The body itself is opaque to
// the fabric.
func sessionDescription(kind, sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(kind), SDP: sdp}
}

func requireProducer(room PeerRoom, sender types.ParticipantID) error {
	producer, ok := room.Producer()
	if !ok || producer.ID() != sender {
		return fmt.Errorf("sender %q is not the room producer", sender)
	}
	return nil
}

func requireConsumer(room PeerRoom, sender types.ParticipantID) error {
	if _, ok := room.Consumer(sender); !ok {
		return fmt.Errorf("sender %q is not a room consumer", sender)
	}
	return nil
}
