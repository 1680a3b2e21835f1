package robotics

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/transport"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// API exposes the robotics control plane over REST plus the room WebSocket
// endpoint.
type API struct {
	core    *Core
	gateway *transport.Gateway
}

// NewAPI wires the REST surface over a core and its WebSocket gateway.
func NewAPI(core *Core, gateway *transport.Gateway) *API {
	return &API{core: core, gateway: gateway}
}

// RegisterRoutes mounts the robotics routes under /robotics.
func (a *API) RegisterRoutes(r gin.IRouter) {
	grp := r.Group("/robotics")
	grp.GET("/status", a.status)

	ws := grp.Group("/workspaces/:workspaceId")
	ws.GET("/rooms", a.listRooms)
	ws.POST("/rooms", a.createRoom)
	ws.GET("/rooms/:roomId", a.getRoom)
	ws.GET("/rooms/:roomId/state", a.getState)
	ws.DELETE("/rooms/:roomId", a.deleteRoom)
	ws.POST("/rooms/:roomId/command", a.sendCommand)
	ws.GET("/rooms/:roomId/ws", a.gateway.ServeWS)
}

type createRoomRequest struct {
	RoomID string `json:"room_id"`
}

type commandRequest struct {
	Joints []messages.Joint `json:"joints"`
}

func (a *API) listRooms(c *gin.Context) {
	workspaceID := types.WorkspaceID(c.Param("workspaceId"))
	rooms := a.core.ListRooms(workspaceID)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": workspaceID,
		"rooms":        rooms,
		"total":        len(rooms),
	})
}

func (a *API) createRoom(c *gin.Context) {
	workspaceID := types.WorkspaceID(c.Param("workspaceId"))

	var req createRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
			return
		}
	}

	workspaceID, roomID, err := a.core.CreateRoom(workspaceID, types.RoomID(req.RoomID))
	if err != nil {
		if errors.Is(err, types.ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "room already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	logging.Info(c.Request.Context(), "Created robotics room",
		zap.String("workspaceId", string(workspaceID)),
		zap.String("roomId", string(roomID)))
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": workspaceID,
		"room_id":      roomID,
		"message":      "room created",
	})
}

func (a *API) getRoom(c *gin.Context) {
	workspaceID := types.WorkspaceID(c.Param("workspaceId"))
	roomID := types.RoomID(c.Param("roomId"))

	room, ok := a.core.GetRoom(workspaceID, roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": workspaceID,
		"room":         room.Info(),
	})
}

func (a *API) getState(c *gin.Context) {
	workspaceID := types.WorkspaceID(c.Param("workspaceId"))
	roomID := types.RoomID(c.Param("roomId"))

	room, ok := a.core.GetRoom(workspaceID, roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": workspaceID,
		"state":        room.State(),
	})
}

func (a *API) deleteRoom(c *gin.Context) {
	workspaceID := types.WorkspaceID(c.Param("workspaceId"))
	roomID := types.RoomID(c.Param("roomId"))

	if !a.core.DeleteRoom(workspaceID, roomID) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "room not found"})
		return
	}

	logging.Info(c.Request.Context(), "Deleted robotics room",
		zap.String("workspaceId", string(workspaceID)),
		zap.String("roomId", string(roomID)))
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": workspaceID,
		"message":      "room deleted",
	})
}

// sendCommand injects joint targets through the REST API, fanning the changed
// subset out to consumers exactly like a producer update would.
func (a *API) sendCommand(c *gin.Context) {
	workspaceID := types.WorkspaceID(c.Param("workspaceId"))
	roomID := types.RoomID(c.Param("roomId"))

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	changed, err := a.core.SendCommand(workspaceID, roomID, req.Joints)
	if err != nil {
		if errors.Is(err, types.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "room not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": workspaceID,
		"room_id":      roomID,
		"changed":      changed,
	})
}

func (a *API) status(c *gin.Context) {
	workspaces, rooms, connections := a.core.Counts()
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"service":     "robotics",
		"workspaces":  workspaces,
		"rooms":       rooms,
		"connections": connections,
		"timestamp":   messages.Timestamp(),
	})
}
