package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/messages"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
	"github.com/robothub/transport-fabric/internal/v1/ratelimit"
	"github.com/robothub/transport-fabric/internal/v1/types"
)

// joinTimeout bounds how long a freshly-accepted socket may sit in the
// Opening state before sending its join frame.
const joinTimeout = 10 * time.Second

// RoomResolver looks up the room behind a WebSocket endpoint.
type RoomResolver func(workspaceID types.WorkspaceID, roomID types.RoomID) (types.Room, bool)

// joinRequest is the mandatory first frame on every connection.
type joinRequest struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}

// Gateway upgrades HTTP requests to participant sessions and runs the join
// handshake. One gateway serves one protocol surface.
type Gateway struct {
	resolve        RoomResolver
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string // empty means any origin
	upgrader       websocket.Upgrader
}

// NewGateway creates a gateway over the given room resolver. rateLimiter may
// be nil (tests).
func NewGateway(resolve RoomResolver, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Gateway {
	g := &Gateway{
		resolve:        resolve,
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients (robot controllers, SDKs) send no Origin.
		return true
	}
	for _, allowed := range g.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeWS handles GET /{proto}/workspaces/:workspaceId/rooms/:roomId/ws.
func (g *Gateway) ServeWS(c *gin.Context) {
	if g.rateLimiter != nil && !g.rateLimiter.CheckWebSocket(c) {
		return // response already written
	}

	workspaceID := types.WorkspaceID(c.Param("workspaceId"))
	roomID := types.RoomID(c.Param("roomId"))

	room, ok := g.resolve(workspaceID, roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "room not found"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	g.HandleConnection(c, conn, room)
}

// HandleConnection runs the join handshake on an established connection and,
// on success, admits the session and starts its pumps.
func (g *Gateway) HandleConnection(c *gin.Context, conn wsConnection, room types.Room) {
	ctx := c.Request.Context()

	session, err := g.handshake(conn, room)
	if err != nil {
		logging.Warn(ctx, "Join handshake failed",
			zap.String("roomId", string(room.ID())), zap.Error(err))
		rejectAndClose(conn, err)
		return
	}

	if err := room.Admit(ctx, session); err != nil {
		logging.Warn(ctx, "Join rejected",
			zap.String("roomId", string(room.ID())),
			zap.String("participantId", string(session.ID())),
			zap.Error(err))
		rejectAndClose(conn, err)
		return
	}

	metrics.IncConnection()
	logging.Info(ctx, "Participant joined",
		zap.String("workspaceId", string(room.WorkspaceID())),
		zap.String("roomId", string(room.ID())),
		zap.String("participantId", string(session.ID())),
		zap.String("role", string(session.Role())))

	go session.writePump()
	go session.readPump()
}

// handshake reads and validates the mandatory join frame. Any other first
// frame, a binary frame, or a deadline expiry fails the connection.
func (g *Gateway) handshake(conn wsConnection, room types.Room) (*Session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, types.ErrRoomNotFound // socket gone; error text is never seen
	}
	_ = conn.SetReadDeadline(time.Time{})

	if messageType != websocket.TextMessage {
		return nil, errProtocol("first frame must be a text join message")
	}

	var join joinRequest
	if err := json.Unmarshal(frame, &join); err != nil {
		return nil, errProtocol("malformed join message")
	}
	if join.ParticipantID == "" {
		return nil, errProtocol("join message missing participant_id")
	}
	role, err := types.ParseRole(join.Role)
	if err != nil {
		return nil, errProtocol("join message has invalid role")
	}

	return newSession(conn, room, types.ParticipantID(join.ParticipantID), role), nil
}

type protocolError string

func (e protocolError) Error() string { return string(e) }

func errProtocol(msg string) error { return protocolError(msg) }

// rejectAndClose sends an error frame describing the join failure, then
// closes the socket. The session never reaches the Active state.
func rejectAndClose(conn wsConnection, cause error) {
	code := "join_rejected"
	switch cause {
	case types.ErrProducerExists:
		code = "producer_exists"
	case types.ErrRoomNotFound:
		code = "unknown_room"
	case types.ErrDuplicateParticipant:
		code = "duplicate_participant"
	}

	if frame, err := messages.Encode(messages.NewError("cannot join room: "+cause.Error(), code)); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = conn.Close()
}
