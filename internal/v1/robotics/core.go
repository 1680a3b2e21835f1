package robotics

import (
	"fmt"

	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
	"github.com/robothub/transport-fabric/internal/v1/registry"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// Core owns the robotics room registry and is the single entry point shared
// by the REST handlers and the WebSocket gateway.
type Core struct {
	rooms *registry.Registry[*Room]
}

// NewCore creates an empty robotics core.
func NewCore() *Core {
	return &Core{rooms: registry.New[*Room]()}
}

// CreateRoom registers a new room. Empty ids are generated server-side.
func (c *Core) CreateRoom(workspaceID types.WorkspaceID, roomID types.RoomID) (types.WorkspaceID, types.RoomID, error) {
	workspaceID, roomID, err := c.rooms.Create(workspaceID, roomID, func(ws types.WorkspaceID, id types.RoomID) *Room {
		return NewRoom(ws, id)
	})
	if err != nil {
		return workspaceID, roomID, err
	}
	metrics.ActiveRooms.WithLabelValues("robotics").Inc()
	return workspaceID, roomID, nil
}

// DeleteRoom closes and removes a room. Returns false when it does not exist.
func (c *Core) DeleteRoom(workspaceID types.WorkspaceID, roomID types.RoomID) bool {
	if !c.rooms.Delete(workspaceID, roomID, "room deleted") {
		return false
	}
	metrics.ActiveRooms.WithLabelValues("robotics").Dec()
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

// SendCommand injects a joint update on behalf of the REST API, bypassing the
// producer slot. Changed joints are fanned out to consumers with "api" as the
// source.
func (c *Core) SendCommand(workspaceID types.WorkspaceID, roomID types.RoomID, joints []messages.Joint) (int, error) {
	r, ok := c.rooms.Get(workspaceID, roomID)
	if !ok {
		return 0, types.ErrRoomNotFound
	}
	if len(joints) == 0 {
		return 0, fmt.Errorf("command carries no joints")
	}

	changed := r.ApplyJoints(joints)
	if len(changed) > 0 {
		broadcast(r.consumerSnapshot(""), messages.JointUpdate{
			Type:      messages.TypeJointUpdate,
			Data:      changed,
			Source:    "api",
			Timestamp: messages.Timestamp(),
		})
	}
	metrics.MessagesRouted.WithLabelValues("robotics", string(messages.TypeJointUpdate), "api").Inc()
	return len(changed), nil
}

// CloseAll tears down every room, used on shutdown.
func (c *Core) CloseAll(reason string) {
	c.rooms.CloseAll(reason)
	metrics.ActiveRooms.DeleteLabelValues("robotics")
}

// Service implements health.StatusReporter.
func (c *Core) Service() string { return "robotics" }

// Counts implements health.StatusReporter.
func (c *Core) Counts() (workspaces int, rooms int, connections int) {
	workspaces, rooms = c.rooms.Counts()
	for _, ws := range c.listAllRooms() {
		connections += ws.ParticipantCount()
	}
	return workspaces, rooms, connections
}

func (c *Core) listAllRooms() []*Room {
	var all []*Room
	for _, ws := range c.rooms.Workspaces() {
		all = append(all, c.rooms.List(ws)...)
	}
	return all
}
