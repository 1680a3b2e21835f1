package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

const (
	// outboundQueueSize bounds each session's pending frames. On overflow the
	// oldest frame is dropped so one slow consumer never stalls the room.
	outboundQueueSize = 128

	writeWait = 10 * time.Second
)

// Session represents one participant's bidirectional stream to the fabric.
// It implements types.Session. The room pushes outbound frames onto the
// bounded send queue; the writer goroutine drains it to the socket.
type Session struct {
	conn wsConnection
	room types.Room

	id          types.ParticipantID
	role        types.Role
	connectedAt time.Time

	mu       sync.Mutex // guards closed and dropping
	closed   bool
	dropping bool

	send chan []byte
}

func newSession(conn wsConnection, room types.Room, id types.ParticipantID, role types.Role) *Session {
	return &Session{
		conn:        conn,
		room:        room,
		id:          id,
		role:        role,
		connectedAt: time.Now().UTC(),
		send:        make(chan []byte, outboundQueueSize),
	}
}

func (s *Session) ID() types.ParticipantID { return s.id }
func (s *Session) Role() types.Role        { return s.role }
func (s *Session) ConnectedAt() time.Time  { return s.connectedAt }

// Send enqueues a pre-encoded frame. Never blocks: when the queue is full the
// oldest pending frame is discarded and a single backpressure notice is
// emitted for the overflow episode.
func (s *Session) Send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	// Safety net: Close may race the enqueue below.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send on closed session",
				zap.String("participantId", string(s.id)), zap.Any("panic", r))
		}
	}()

	select {
	case s.send <- data:
		s.dropping = false
		return
	default:
	}

	// Queue full: drop oldest frames to make room for this one, plus a single
	// backpressure notice at the start of the overflow episode.
	firstDrop := !s.dropping
	s.dropping = true

	evict := 1
	if firstDrop {
		evict = 2
	}
	for i := 0; i < evict; i++ {
		select {
		case <-s.send:
			metrics.BackpressureDrops.Inc()
		default:
		}
	}

	if firstDrop {
		if notice, err := messages.Encode(messages.NewError("outbound queue overflow, oldest messages dropped", "backpressure_drop")); err == nil {
			select {
			case s.send <- notice:
			default:
			}
		}
	}

	select {
	case s.send <- data:
	default:
		metrics.BackpressureDrops.Inc()
	}
}

// SendMessage encodes v and enqueues it.
func (s *Session) SendMessage(v any) {
	data, err := messages.Encode(v)
	if err != nil {
		logging.Error(context.Background(), "Failed to encode outbound message",
			zap.String("participantId", string(s.id)), zap.Error(err))
		return
	}
	s.Send(data)
}

// Close tears the session down. Idempotent. Closing the send channel makes
// the writer drain pending frames, send a close frame, and close the socket.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.send)
}

// readPump drains inbound frames and hands them to the room router.
func (s *Session) readPump() {
	defer func() {
		s.room.Evict(context.Background(), s)
		s.Close()
		_ = s.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, frame, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			s.SendMessage(messages.NewError("binary frames are not supported", "protocol_violation"))
			continue
		}

		ctx := context.WithValue(context.Background(), logging.ParticipantIDKey, string(s.id))
		s.room.Route(ctx, s, frame)
	}
}

func (s *Session) writePump() {
	defer func() { _ = s.conn.Close() }()

	for message := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message",
				zap.String("participantId", string(s.id)), zap.Error(err))
			return
		}
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
