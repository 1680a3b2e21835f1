// Package registry implements the two-level workspace→room map shared by the
// protocol cores. Workspaces are created lazily on first room creation and
// are not a visible lifecycle of their own.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/robothub/transport-fabric/internal/v1/types"
)

// Room is the minimal surface the registry needs from a room: teardown on
// deletion.
type Room interface {
	Close(reason string)
}

// Registry is a read-mostly map of workspaces to rooms. All entry points to a
// room go through it.
type Registry[R Room] struct {
	mu         sync.RWMutex
	workspaces map[types.WorkspaceID]map[types.RoomID]R
}

// New creates an empty registry.
func New[R Room]() *Registry[R] {
	return &Registry[R]{
		workspaces: make(map[types.WorkspaceID]map[types.RoomID]R),
	}
}

// Create inserts the room built by build under (workspaceID, roomID), creating
// the workspace implicitly. Empty ids are generated. Returns the resolved ids
// and types.ErrRoomExists when the slot is taken.
func (g *Registry[R]) Create(workspaceID types.WorkspaceID, roomID types.RoomID, build func(types.WorkspaceID, types.RoomID) R) (types.WorkspaceID, types.RoomID, error) {
	if workspaceID == "" {
		workspaceID = types.WorkspaceID(uuid.NewString())
	}
	if roomID == "" {
		roomID = types.RoomID(uuid.NewString())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rooms, ok := g.workspaces[workspaceID]
	if !ok {
		rooms = make(map[types.RoomID]R)
		g.workspaces[workspaceID] = rooms
	}
	if _, exists := rooms[roomID]; exists {
		return workspaceID, roomID, types.ErrRoomExists
	}

	rooms[roomID] = build(workspaceID, roomID)
	return workspaceID, roomID, nil
}

// Get looks up a room.
func (g *Registry[R]) Get(workspaceID types.WorkspaceID, roomID types.RoomID) (R, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var zero R
	rooms, ok := g.workspaces[workspaceID]
	if !ok {
		return zero, false
	}
	r, ok := rooms[roomID]
	if !ok {
		return zero, false
	}
	return r, true
}

// Delete removes the room from the registry and closes it. Returns false if
// the room did not exist; never panics. The empty workspace entry is dropped
// so subsequent lookups re-create it cleanly.
func (g *Registry[R]) Delete(workspaceID types.WorkspaceID, roomID types.RoomID, reason string) bool {
	g.mu.Lock()
	rooms, ok := g.workspaces[workspaceID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	r, ok := rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(g.workspaces, workspaceID)
	}
	g.mu.Unlock()

	// Close outside the lock: teardown sends farewell frames and joins
	// session goroutines.
	r.Close(reason)
	return true
}

// List returns a snapshot of the rooms in a workspace. Safe to call
// concurrently with mutations.
func (g *Registry[R]) List(workspaceID types.WorkspaceID) []R {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rooms := g.workspaces[workspaceID]
	out := make([]R, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r)
	}
	return out
}

// Workspaces returns a snapshot of the workspace ids currently holding rooms.
func (g *Registry[R]) Workspaces() []types.WorkspaceID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]types.WorkspaceID, 0, len(g.workspaces))
	for ws := range g.workspaces {
		out = append(out, ws)
	}
	return out
}

// Counts reports the number of workspaces and rooms.
func (g *Registry[R]) Counts() (workspaces int, rooms int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	workspaces = len(g.workspaces)
	for _, rs := range g.workspaces {
		rooms += len(rs)
	}
	return workspaces, rooms
}

// CloseAll closes every room, used on process shutdown.
func (g *Registry[R]) CloseAll(reason string) {
	g.mu.Lock()
	var all []R
	for _, rooms := range g.workspaces {
		for _, r := range rooms {
			all = append(all, r)
		}
	}
	g.workspaces = make(map[types.WorkspaceID]map[types.RoomID]R)
	g.mu.Unlock()

	for _, r := range all {
		r.Close(reason)
	}
}
