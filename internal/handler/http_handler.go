package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/coordinator/internal/domain"
	"github.com/weiawesome/wes-io-live/coordinator/internal/live"
	"github.com/weiawesome/wes-io-live/coordinator/internal/registry"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/log"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/response"
)

// LiveQuery is the read side of the live orchestrator used by the REST API.
type LiveQuery interface {
	URL(roomID string) string
	Sessions(ctx context.Context) ([]*live.LiveSession, error)
}

var _ LiveQuery = (*live.Orchestrator)(nil)

// CreateRoomRequest is the body of POST /api/rooms. The body is optional.
type CreateRoomRequest struct {
	CreatorID string `json:"creatorId"`
}

// LiveRoom is one entry of the live room directory.
type LiveRoom struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	JoinCode    string `json:"joinCode"`
	WatchCode   string `json:"watchCode"`
	ViewerCount int    `json:"viewerCount"`
	HLSUrl      string `json:"hlsUrl"`
}

// WatchResponse resolves a watch code. HLSUrl is null while the room is
// not live.
type WatchResponse struct {
	Room   domain.RoomSnapshot `json:"room"`
	HLSUrl *string             `json:"hlsUrl"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
}

// Handler handles HTTP requests for rooms and live sessions.
type Handler struct {
	rooms     *registry.Registry
	live      LiveQuery
	startedAt time.Time
}

// NewHandler creates a new HTTP handler.
func NewHandler(rooms *registry.Registry, lq LiveQuery) *Handler {
	return &Handler{
		rooms:     rooms,
		live:      lq,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/health", h.APIHealth)

		rooms := api.Group("/rooms")
		{
			rooms.POST("", h.CreateRoom)
			rooms.GET("", h.ListRooms)
			rooms.GET("/live", h.ListLiveRooms)
			rooms.GET("/code/:code", h.GetRoomByJoinCode)
			rooms.GET("/watch/:code", h.GetRoomByWatchCode)
			rooms.GET("/:id", h.GetRoom)
		}

		api.GET("/live/sessions", h.ListSessions)
	}
}

// CreateRoom creates a new room with generated codes.
func (h *Handler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		l.Warn().Err(err).Msg("failed to bind create room request")
		response.BadRequest(c, "invalid request body")
		return
	}

	room, err := h.rooms.CreateRoom(ctx, req.CreatorID)
	if err != nil {
		l.Error().Err(err).Msg("failed to create room")
		response.InternalError(c, "failed to create room")
		return
	}

	response.Created(c, room.Snapshot())
}

// ListRooms returns registry statistics.
func (h *Handler) ListRooms(c *gin.Context) {
	response.Success(c, h.rooms.Stats())
}

// ListLiveRooms returns the rooms currently live, with their peer count as
// the viewer count.
func (h *Handler) ListLiveRooms(c *gin.Context) {
	liveRooms := h.rooms.LiveRooms()
	out := make([]LiveRoom, 0, len(liveRooms))
	for _, room := range liveRooms {
		title, description := room.Details()
		out = append(out, LiveRoom{
			ID:          room.ID,
			Title:       title,
			Description: description,
			JoinCode:    room.JoinCode,
			WatchCode:   room.WatchCode,
			ViewerCount: room.PeerCount(),
			HLSUrl:      h.live.URL(room.ID),
		})
	}
	response.Success(c, out)
}

// GetRoom retrieves a room by id.
func (h *Handler) GetRoom(c *gin.Context) {
	room, ok := h.rooms.GetRoom(c.Param("id"))
	if !ok {
		response.NotFound(c, "room not found")
		return
	}
	response.Success(c, room.Snapshot())
}

// GetRoomByJoinCode resolves a join code, case-insensitively.
func (h *Handler) GetRoomByJoinCode(c *gin.Context) {
	room, ok := h.rooms.GetRoomByJoinCode(c.Param("code"))
	if !ok {
		response.NotFound(c, "room not found")
		return
	}
	response.Success(c, room.Snapshot())
}

// GetRoomByWatchCode resolves a watch code to the room and its stream URL.
func (h *Handler) GetRoomByWatchCode(c *gin.Context) {
	room, ok := h.rooms.GetRoomByWatchCode(c.Param("code"))
	if !ok {
		response.NotFound(c, "room not found")
		return
	}

	resp := WatchResponse{Room: room.Snapshot()}
	if room.IsLive() {
		url := h.live.URL(room.ID)
		resp.HLSUrl = &url
	}
	response.Success(c, resp)
}

// ListSessions returns the live session records.
func (h *Handler) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()
	sessions, err := h.live.Sessions(ctx)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to list live sessions")
		response.InternalError(c, "failed to list live sessions")
		return
	}
	if sessions == nil {
		sessions = []*live.LiveSession{}
	}
	response.Success(c, sessions)
}

// APIHealth reports liveness with uptime in seconds.
func (h *Handler) APIHealth(c *gin.Context) {
	now := time.Now()
	response.Success(c, HealthResponse{
		Status:    "ok",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startedAt).Seconds(),
	})
}

// Health is the bare probe endpoint.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
