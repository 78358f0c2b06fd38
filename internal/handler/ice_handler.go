package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/coordinator/pkg/response"
)

const fallbackSTUN = "stun:stun.l.google.com:19302"

// ICEResponse is the body of GET /api/ice-servers.
type ICEResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// ICEHandler serves the ICE servers browsers should use for their
// transports.
type ICEHandler struct {
	servers []webrtc.ICEServer
}

// NewICEHandler creates a new ICE handler. A STUN server is always
// included, prepended when none is configured.
func NewICEHandler(servers []webrtc.ICEServer) *ICEHandler {
	hasSTUN := false
	for _, s := range servers {
		for _, url := range s.URLs {
			if strings.HasPrefix(url, "stun:") {
				hasSTUN = true
			}
		}
	}
	if !hasSTUN {
		servers = append([]webrtc.ICEServer{{URLs: []string{fallbackSTUN}}}, servers...)
	}
	return &ICEHandler{servers: servers}
}

// RegisterRoutes registers the ICE routes.
func (h *ICEHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/ice-servers", h.GetICEServers)
	r.OPTIONS("/api/ice-servers", func(c *gin.Context) {
		setCORSHeaders(c.Writer)
		c.Status(http.StatusOK)
	})
}

// GetICEServers returns the configured servers.
func (h *ICEHandler) GetICEServers(c *gin.Context) {
	setCORSHeaders(c.Writer)
	response.Success(c, ICEResponse{ICEServers: h.servers})
}
