package video

import (
	"encoding/json"

	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
	"github.com/robothub/transport-fabric/internal/v1/registry"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// Core owns the video room registry and is the single entry point shared by
// the REST handlers and the WebSocket gateway.
type Core struct {
	rooms *registry.Registry[*Room]
}

// NewCore creates an empty video core.
func NewCore() *Core {
	return &Core{rooms: registry.New[*Room]()}
}

// CreateRoom registers a new room with the given initial config. Empty ids
// are generated server-side.
func (c *Core) CreateRoom(workspaceID types.WorkspaceID, roomID types.RoomID, cfg messages.VideoConfigPatch, recovery json.RawMessage) (types.WorkspaceID, types.RoomID, error) {
	workspaceID, roomID, err := c.rooms.Create(workspaceID, roomID, func(ws types.WorkspaceID, id types.RoomID) *Room {
		return NewRoom(ws, id, cfg, recovery)
	})
	if err != nil {
		return workspaceID, roomID, err
	}
	metrics.ActiveRooms.WithLabelValues("video").Inc()
	return workspaceID, roomID, nil
}

// DeleteRoom closes and removes a room. Returns false when it does not exist.
func (c *Core) DeleteRoom(workspaceID types.WorkspaceID, roomID types.RoomID) bool {
	if !c.rooms.Delete(workspaceID, roomID, "room deleted") {
		return false
	}
	metrics.ActiveRooms.WithLabelValues("video").Dec()
	return true
}

// GetRoom looks up a room.
func (c *Core) GetRoom(workspaceID types.WorkspaceID, roomID types.RoomID) (*Room, bool) {
	return c.rooms.Get(workspaceID, roomID)
}

// ListRooms snapshots the rooms of one workspace.
func (c *Core) ListRooms(workspaceID types.WorkspaceID) []RoomInfo {
	rooms := c.rooms.List(workspaceID)
	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	return out
}

// Resolve adapts the registry lookup for the WebSocket gateway.
func (c *Core) Resolve(workspaceID types.WorkspaceID, roomID types.RoomID) (types.Room, bool) {
	r, ok := c.rooms.Get(workspaceID, roomID)
	if !ok {
		return nil, false
	}
	return r, true
}

// CloseAll tears down every room, used on shutdown.
func (c *Core) CloseAll(reason string) {
	c.rooms.CloseAll(reason)
	metrics.ActiveRooms.DeleteLabelValues("video")
}

// Service implements health.StatusReporter.
func (c *Core) Service() string { return "video" }

// Counts implements health.StatusReporter.
func (c *Core) Counts() (workspaces int, rooms int, connections int) {
	workspaces, rooms = c.rooms.Counts()
	for _, ws := range c.rooms.Workspaces() {
		for _, r := range c.rooms.List(ws) {
			connections += r.ParticipantCount()
		}
	}
	return workspaces, rooms, connections
}
