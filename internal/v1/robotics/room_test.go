package robotics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// fakeSession records outbound frames instead of writing to a socket.
type fakeSession struct {
	id   types.ParticipantID
	role types.Role

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeSession(id string, role types.Role) *fakeSession {
	return &fakeSession{id: types.ParticipantID(id), role: role}
}

func (s *fakeSession) ID() types.ParticipantID { return s.id }
func (s *fakeSession) Role() types.Role        { return s.role }
func (s *fakeSession) ConnectedAt() time.Time  { return time.Time{} }

func (s *fakeSession) Send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
}

func (s *fakeSession) SendMessage(v any) {
	data, err := messages.Encode(v)
	if err != nil {
		panic(err)
	}
	s.Send(data)
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// frameTypes returns the type tags of everything sent to this session.
func (s *fakeSession) frameTypes() []messages.Type {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]messages.Type, 0, len(s.frames))
	for _, f := range s.frames {
		tag, err := messages.PeekType(f)
		if err != nil {
			panic(err)
		}
		out = append(out, tag)
	}
	return out
}

// lastFrameOf decodes the most recent frame with the given type tag into dst.
func (s *fakeSession) lastFrameOf(t *testing.T, tag messages.Type, dst any) bool {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.frames) - 1; i >= 0; i-- {
		got, err := messages.PeekType(s.frames[i])
		require.NoError(t, err)
		if got == tag {
			require.NoError(t, messages.Decode(s.frames[i], dst))
			return true
		}
	}
	return false
}

func (s *fakeSession) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestAdmitProducer(t *testing.T) {
	room := NewRoom("ws-1", "room-1")
	producer := newFakeSession("robot-1", types.RoleProducer)

	require.NoError(t, room.Admit(context.Background(), producer))

	var joined messages.Joined
	require.True(t, producer.lastFrameOf(t, messages.TypeJoined, &joined))
	assert.Equal(t, types.RoomID("room-1"), joined.RoomID)
	assert.Equal(t, types.WorkspaceID("ws-1"), joined.WorkspaceID)
	assert.Equal(t, types.RoleProducer, joined.Role)
	assert.NotEmpty(t, joined.Timestamp)
}

func TestAdmitSecondProducerRejected(t *testing.T) {
	room := NewRoom("ws-1", "room-1")

	require.NoError(t, room.Admit(context.Background(), newFakeSession("robot-1", types.RoleProducer)))
	err := room.Admit(context.Background(), newFakeSession("robot-2", types.RoleProducer))
	assert.ErrorIs(t, err, types.ErrProducerExists)
}

func TestAdmitDuplicateParticipantID(t *testing.T) {
	room := NewRoom("ws-1", "room-1")

	require.NoError(t, room.Admit(context.Background(), newFakeSession("peer", types.RoleConsumer)))
	err := room.Admit(context.Background(), newFakeSession("peer", types.RoleConsumer))
	assert.ErrorIs(t, err, types.ErrDuplicateParticipant)

	// Same id under a different role is also a duplicate.
	err = room.Admit(context.Background(), newFakeSession("peer", types.RoleProducer))
	assert.ErrorIs(t, err, types.ErrDuplicateParticipant)
}

func TestConsumerReceivesSnapshotBeforeJoined(t *testing.T) {
	room := NewRoom("ws-1", "room-1")
	room.ApplyJoints([]messages.Joint{{Name: "shoulder", Value: 1.5}, {Name: "elbow", Value: -0.25}})

	consumer := newFakeSession("viewer-1", types.RoleConsumer)
	require.NoError(t, room.Admit(context.Background(), consumer))

	// Snapshot first, then the join acknowledgment.
	require.Equal(t, []messages.Type{messages.TypeStateSync, messages.TypeJoined}, consumer.frameTypes())

	var sync messages.StateSync
	require.True(t, consumer.lastFrameOf(t, messages.TypeStateSync, &sync))
	assert.Equal(t, map[string]float64{"shoulder": 1.5, "elbow": -0.25}, sync.Data)
}

func TestConsumerJoiningEmptyRoomGetsNoSnapshot(t *testing.T) {
	room := NewRoom("ws-1", "room-1")

	consumer := newFakeSession("viewer-1", types.RoleConsumer)
	require.NoError(t, room.Admit(context.Background(), consumer))

	assert.Equal(t, []messages.Type{messages.TypeJoined}, consumer.frameTypes())
}

func TestEvictKeepsJoints(t *testing.T) {
	room := NewRoom("ws-1", "room-1")
	producer := newFakeSession("robot-1", types.RoleProducer)
	require.NoError(t, room.Admit(context.Background(), producer))
	room.ApplyJoints([]messages.Joint{{Name: "base", Value: 0.5}})

	room.Evict(context.Background(), producer)

	assert.Equal(t, map[string]float64{"base": 0.5}, room.Joints())
	assert.False(t, room.Info().HasProducer)

	// Producer slot is free again.
	require.NoError(t, room.Admit(context.Background(), newFakeSession("robot-2", types.RoleProducer)))
}

func TestApplyJointsChangeDetection(t *testing.T) {
	room := NewRoom("ws-1", "room-1")

	changed := room.ApplyJoints([]messages.Joint{{Name: "a", Value: 1}, {Name: "b", Value: 2}})
	assert.Len(t, changed, 2)

	// Same values again: nothing changed.
	changed = room.ApplyJoints([]messages.Joint{{Name: "a", Value: 1}, {Name: "b", Value: 2}})
	assert.Empty(t, changed)

	// One value moves.
	changed = room.ApplyJoints([]messages.Joint{{Name: "a", Value: 1}, {Name: "b", Value: 3}})
	require.Len(t, changed, 1)
	assert.Equal(t, "b", changed[0].Name)
	assert.Equal(t, 3.0, changed[0].Value)
}

func TestApplySyncMerges(t *testing.T) {
	room := NewRoom("ws-1", "room-1")
	room.ApplyJoints([]messages.Joint{{Name: "a", Value: 1}, {Name: "b", Value: 2}})

	room.ApplySync(map[string]float64{"b": 5, "c": 6})

	assert.Equal(t, map[string]float64{"a": 1, "b": 5, "c": 6}, room.Joints())
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	room := NewRoom("ws-1", "room-1")
	producer := newFakeSession("robot-1", types.RoleProducer)
	consumer := newFakeSession("viewer-1", types.RoleConsumer)
	require.NoError(t, room.Admit(context.Background(), producer))
	require.NoError(t, room.Admit(context.Background(), consumer))

	room.Close("room deleted")

	assert.True(t, producer.isClosed())
	assert.True(t, consumer.isClosed())

	var errMsg messages.Error
	require.True(t, consumer.lastFrameOf(t, messages.TypeError, &errMsg))
	assert.Equal(t, "room_deleted", errMsg.Code)
	assert.Equal(t, 0, room.ParticipantCount())
}

func TestInfoAndState(t *testing.T) {
	room := NewRoom("ws-1", "room-1")
	producer := newFakeSession("robot-1", types.RoleProducer)
	consumer := newFakeSession("viewer-1", types.RoleConsumer)
	require.NoError(t, room.Admit(context.Background(), producer))
	require.NoError(t, room.Admit(context.Background(), consumer))
	room.ApplyJoints([]messages.Joint{{Name: "base", Value: 0.5}})

	info := room.Info()
	assert.Equal(t, types.RoomID("room-1"), info.ID)
	require.NotNil(t, info.Participants.Producer)
	assert.Equal(t, types.ParticipantID("robot-1"), *info.Participants.Producer)
	assert.Equal(t, 2, info.Participants.Total)
	assert.Equal(t, 1, info.JointsCount)
	assert.True(t, info.HasProducer)
	assert.Equal(t, 1, info.ActiveConsumers)

	state := room.State()
	assert.Equal(t, map[string]float64{"base": 0.5}, state.Joints)
	assert.NotEmpty(t, state.Timestamp)
}
