package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn is an in-memory wsConnection for exercising the pumps.
type fakeConn struct {
	inbound chan inboundFrame

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan inboundFrame, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return f.messageType, f.data, f.err
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if messageType == websocket.TextMessage {
		c.written = append(c.written, data)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		// Unblock a pending ReadMessage.
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// stubRoom records routed frames and evictions.
type stubRoom struct {
	mu      sync.Mutex
	routed  [][]byte
	evicted []types.ParticipantID
}

func (r *stubRoom) WorkspaceID() types.WorkspaceID             { return "ws-1" }
func (r *stubRoom) ID() types.RoomID                           { return "room-1" }
func (r *stubRoom) Admit(context.Context, types.Session) error { return nil }

func (r *stubRoom) Route(_ context.Context, _ types.Session, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, frame)
}

func (r *stubRoom) Evict(_ context.Context, s types.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, s.ID())
}

func (r *stubRoom) routedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routed)
}

func (r *stubRoom) evictedIDs() []types.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ParticipantID, len(r.evicted))
	copy(out, r.evicted)
	return out
}

// drain empties the session queue without running the writer goroutine.
func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-s.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestSendQueuesFrames(t *testing.T) {
	s := newSession(newFakeConn(), &stubRoom{}, "peer-1", types.RoleConsumer)

	s.Send([]byte(`{"type":"heartbeat_ack"}`))
	s.SendMessage(messages.NewError("boom", "test"))

	frames := drain(s)
	require.Len(t, frames, 2)
}

func TestSendDropsOldestOnOverflow(t *testing.T) {
	s := newSession(newFakeConn(), &stubRoom{}, "peer-1", types.RoleConsumer)

	for i := 0; i < outboundQueueSize+5; i++ {
		s.Send([]byte(fmt.Sprintf(`{"type":"joint_update","seq":%d}`, i)))
	}

	frames := drain(s)
	require.Len(t, frames, outboundQueueSize)

	// The newest frame survived.
	last := frames[len(frames)-1]
	assert.Contains(t, string(last), fmt.Sprintf(`"seq":%d`, outboundQueueSize+4))

	// Exactly one backpressure notice for the whole overflow episode.
	notices := 0
	for _, f := range frames {
		tag, err := messages.PeekType(f)
		require.NoError(t, err)
		if tag == messages.TypeError {
			var e messages.Error
			require.NoError(t, messages.Decode(f, &e))
			if e.Code == "backpressure_drop" {
				notices++
			}
		}
	}
	assert.Equal(t, 1, notices)

	// The earliest frames were the ones discarded: one eviction per late
	// frame, plus one extra to make room for the notice.
	assert.Contains(t, string(frames[0]), `"seq":5`)
}

func TestSendRecoversBetweenOverflowEpisodes(t *testing.T) {
	s := newSession(newFakeConn(), &stubRoom{}, "peer-1", types.RoleConsumer)

	for i := 0; i < outboundQueueSize+1; i++ {
		s.Send([]byte(`{"type":"joint_update"}`))
	}
	drain(s)

	// Queue drained: the next overflow is a new episode with its own notice.
	for i := 0; i < outboundQueueSize+1; i++ {
		s.Send([]byte(`{"type":"joint_update"}`))
	}
	frames := drain(s)

	notices := 0
	for _, f := range frames {
		var e messages.Error
		if tag, _ := messages.PeekType(f); tag == messages.TypeError {
			require.NoError(t, messages.Decode(f, &e))
			if e.Code == "backpressure_drop" {
				notices++
			}
		}
	}
	assert.Equal(t, 1, notices)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newSession(newFakeConn(), &stubRoom{}, "peer-1", types.RoleConsumer)

	s.Close()
	assert.NotPanics(t, func() { s.Close() })

	// Send after close is a no-op.
	assert.NotPanics(t, func() { s.Send([]byte(`{"type":"heartbeat"}`)) })
}

func TestPumpsRouteAndTeardown(t *testing.T) {
	conn := newFakeConn()
	room := &stubRoom{}
	s := newSession(conn, room, "peer-1", types.RoleConsumer)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writePump() }()
	go func() { defer wg.Done(); s.readPump() }()

	conn.inbound <- inboundFrame{messageType: websocket.TextMessage, data: []byte(`{"type":"heartbeat"}`)}

	require.Eventually(t, func() bool { return room.routedCount() == 1 }, time.Second, 5*time.Millisecond)

	// A read error ends the session: the room sees the eviction and both
	// pumps exit.
	conn.inbound <- inboundFrame{err: io.ErrUnexpectedEOF}
	wg.Wait()

	assert.Equal(t, []types.ParticipantID{"peer-1"}, room.evictedIDs())
}

func TestReadPumpRejectsBinaryFrames(t *testing.T) {
	conn := newFakeConn()
	room := &stubRoom{}
	s := newSession(conn, room, "peer-1", types.RoleConsumer)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writePump() }()
	go func() { defer wg.Done(); s.readPump() }()

	conn.inbound <- inboundFrame{messageType: websocket.BinaryMessage, data: []byte{0x01, 0x02}}
	conn.inbound <- inboundFrame{messageType: websocket.TextMessage, data: []byte(`{"type":"heartbeat"}`)}

	// The binary frame is rejected but the session stays open for the text
	// frame that follows.
	require.Eventually(t, func() bool { return room.routedCount() == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, f := range conn.writtenFrames() {
			var e messages.Error
			if tag, _ := messages.PeekType(f); tag == messages.TypeError {
				if err := messages.Decode(f, &e); err == nil && e.Code == "protocol_violation" {
					return true
				}
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	conn.inbound <- inboundFrame{err: io.EOF}
	wg.Wait()
}
