package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/coordinator/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/storage"
)

// PlaybackHandler serves the HLS artifacts the live pipeline writes.
type PlaybackHandler struct {
	store storage.Storage
}

// NewPlaybackHandler creates a handler reading from store, keyed
// "{roomId}/{file}".
func NewPlaybackHandler(store storage.Storage) *PlaybackHandler {
	return &PlaybackHandler{store: store}
}

// RegisterRoutes registers the playback routes.
func (h *PlaybackHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/hls/:roomId/:file", h.ServeHLS)
	r.HEAD("/hls/:roomId/:file", h.ServeHLS)
	r.OPTIONS("/hls/:roomId/:file", h.Preflight)
}

// Preflight answers CORS preflight requests.
func (h *PlaybackHandler) Preflight(c *gin.Context) {
	setCORSHeaders(c.Writer)
	c.Status(http.StatusOK)
}

// ServeHLS streams a playlist or segment. Only .m3u8 and .ts names directly
// under a valid room directory are served.
func (h *PlaybackHandler) ServeHLS(c *gin.Context) {
	setCORSHeaders(c.Writer)

	roomID := c.Param("roomId")
	file := c.Param("file")
	if !domain.ValidRoomID(roomID) || !validArtifactName(file) {
		c.String(http.StatusNotFound, "not found")
		return
	}

	rc, err := h.store.Read(c.Request.Context(), roomID+"/"+file)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.String(http.StatusNotFound, "not found")
			return
		}
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Str(pkglog.FieldRoomID, roomID).Str("file", file).Msg("failed to read hls artifact")
		c.String(http.StatusInternalServerError, "internal server error")
		return
	}
	defer rc.Close()

	headers := map[string]string{"Cache-Control": storage.CacheControl(file)}
	c.DataFromReader(http.StatusOK, -1, storage.ContentType(file), rc, headers)
}

func validArtifactName(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".m3u8" || ext == ".ts"
}

// setCORSHeaders sets CORS headers for cross-origin requests.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
}
