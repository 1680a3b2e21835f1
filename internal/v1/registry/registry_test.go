package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robothub/transport-fabric/internal/v1/types"
)

type stubRoom struct {
	mu          sync.Mutex
	closed      bool
	closeReason string
}

func (r *stubRoom) Close(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.closeReason = reason
}

func (r *stubRoom) wasClosed() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed, r.closeReason
}

func build(types.WorkspaceID, types.RoomID) *stubRoom { return &stubRoom{} }

func TestCreateAndGet(t *testing.T) {
	reg := New[*stubRoom]()

	ws, room, err := reg.Create("ws-1", "room-1", build)
	require.NoError(t, err)
	assert.Equal(t, types.WorkspaceID("ws-1"), ws)
	assert.Equal(t, types.RoomID("room-1"), room)

	got, ok := reg.Get("ws-1", "room-1")
	require.True(t, ok)
	assert.NotNil(t, got)

	_, ok = reg.Get("ws-1", "other")
	assert.False(t, ok)
	_, ok = reg.Get("other", "room-1")
	assert.False(t, ok)
}

func TestCreateGeneratesIDs(t *testing.T) {
	reg := New[*stubRoom]()

	ws, room, err := reg.Create("", "", build)
	require.NoError(t, err)
	assert.NotEmpty(t, ws)
	assert.NotEmpty(t, room)

	_, ok := reg.Get(ws, room)
	assert.True(t, ok)
}

func TestCreateConflict(t *testing.T) {
	reg := New[*stubRoom]()

	_, _, err := reg.Create("ws-1", "room-1", build)
	require.NoError(t, err)

	_, _, err = reg.Create("ws-1", "room-1", build)
	assert.ErrorIs(t, err, types.ErrRoomExists)

	// Same room id in a different workspace is fine.
	_, _, err = reg.Create("ws-2", "room-1", build)
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	reg := New[*stubRoom]()

	_, _, err := reg.Create("ws-1", "room-1", build)
	require.NoError(t, err)
	r, _ := reg.Get("ws-1", "room-1")

	assert.True(t, reg.Delete("ws-1", "room-1", "gone"))
	closed, reason := r.wasClosed()
	assert.True(t, closed)
	assert.Equal(t, "gone", reason)

	_, ok := reg.Get("ws-1", "room-1")
	assert.False(t, ok)

	// Idempotent: second delete reports absence without panicking.
	assert.False(t, reg.Delete("ws-1", "room-1", "gone"))
}

func TestDeleteDropsEmptyWorkspace(t *testing.T) {
	reg := New[*stubRoom]()

	_, _, err := reg.Create("ws-1", "room-1", build)
	require.NoError(t, err)

	reg.Delete("ws-1", "room-1", "gone")

	workspaces, rooms := reg.Counts()
	assert.Equal(t, 0, workspaces)
	assert.Equal(t, 0, rooms)
}

func TestListAndCounts(t *testing.T) {
	reg := New[*stubRoom]()

	_, _, _ = reg.Create("ws-1", "a", build)
	_, _, _ = reg.Create("ws-1", "b", build)
	_, _, _ = reg.Create("ws-2", "c", build)

	assert.Len(t, reg.List("ws-1"), 2)
	assert.Len(t, reg.List("ws-2"), 1)
	assert.Empty(t, reg.List("nope"))

	workspaces, rooms := reg.Counts()
	assert.Equal(t, 2, workspaces)
	assert.Equal(t, 3, rooms)

	assert.ElementsMatch(t, []types.WorkspaceID{"ws-1", "ws-2"}, reg.Workspaces())
}

func TestCloseAll(t *testing.T) {
	reg := New[*stubRoom]()

	_, _, _ = reg.Create("ws-1", "a", build)
	_, _, _ = reg.Create("ws-2", "b", build)
	a, _ := reg.Get("ws-1", "a")
	b, _ := reg.Get("ws-2", "b")

	reg.CloseAll("shutdown")

	closedA, _ := a.wasClosed()
	closedB, _ := b.wasClosed()
	assert.True(t, closedA)
	assert.True(t, closedB)

	workspaces, rooms := reg.Counts()
	assert.Equal(t, 0, workspaces)
	assert.Equal(t, 0, rooms)
}

func TestConcurrentCreateDelete(t *testing.T) {
	reg := New[*stubRoom]()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, room, err := reg.Create("", "", build)
			if err == nil {
				reg.Delete(ws, room, "done")
			}
		}()
	}
	wg.Wait()

	workspaces, rooms := reg.Counts()
	assert.Equal(t, 0, workspaces)
	assert.Equal(t, 0, rooms)
}
