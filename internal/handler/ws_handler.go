package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/coordinator/internal/config"
	"github.com/weiawesome/wes-io-live/coordinator/internal/domain"
	"github.com/weiawesome/wes-io-live/coordinator/internal/hub"
	"github.com/weiawesome/wes-io-live/coordinator/internal/service"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub     *hub.Hub
	service service.SignalService
	cfg     config.WebSocketConfig
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, svc service.SignalService, cfg config.WebSocketConfig) *WSHandler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &WSHandler{
		hub:     h,
		service: svc,
		cfg:     cfg,
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket handles WebSocket upgrade and message routing. A clientId
// query parameter becomes the peer id when it is well formed and not
// already connected; otherwise a UUID is assigned.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := pkglog.L()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	var client *hub.Client
	if requested := c.Query("clientId"); clientIDPattern.MatchString(requested) {
		client = hub.NewClient(requested, h.hub, conn, h.cfg.SendBuffer)
		if !h.hub.Register(client) {
			l.Debug().Str(pkglog.FieldPeerID, requested).Msg("requested client id in use")
			client = nil
		}
	}
	if client == nil {
		client = hub.NewClient(uuid.New().String(), h.hub, conn, h.cfg.SendBuffer)
		h.hub.Register(client)
	}

	client.SetDisconnectHandler(func(c *hub.Client) {
		ctx := pkglog.WithRoom(context.Background(), c.Session.RoomID(), c.ID)
		if err := h.service.HandleDisconnect(ctx, c); err != nil {
			l.Error().Err(err).Str(pkglog.FieldPeerID, c.ID).Msg("disconnect handler error")
		}
	})

	go client.WritePump()
	if err := h.service.HandleConnect(context.Background(), client); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldPeerID, client.ID).Msg("failed to greet client")
	}
	go client.ReadPump(h.handleMessage)
}

// decode unmarshals a client message, replying with an error frame when it
// is malformed.
func decode[T any](client *hub.Client, message []byte, msgType string) (*T, bool) {
	var msg T
	if err := json.Unmarshal(message, &msg); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid "+msgType+" message"))
		return nil, false
	}
	return &msg, true
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}
	if !domain.IsClientMessage(base.Type) {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
		return
	}
	if err := client.Session.Check(base.Type); err != nil {
		client.SendMessage(domain.ErrorFor(err))
		return
	}

	ctx := pkglog.WithRoom(context.Background(), client.Session.RoomID(), client.ID)
	l := pkglog.Ctx(ctx)

	var err error
	switch base.Type {
	case domain.MsgTypeJoinRoom:
		msg, ok := decode[domain.JoinRoomMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleJoinRoom(ctx, client, msg.RoomID)

	case domain.MsgTypeJoinRoomByCode:
		msg, ok := decode[domain.JoinRoomByCodeMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleJoinRoomByCode(ctx, client, msg.Code)

	case domain.MsgTypeLeaveRoom:
		err = h.service.HandleLeaveRoom(ctx, client)

	case domain.MsgTypeOffer, domain.MsgTypeAnswer, domain.MsgTypeICECandidate:
		msg, ok := decode[domain.SignalMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleRelay(ctx, client, msg)

	case domain.MsgTypeChatMessage:
		msg, ok := decode[domain.ChatMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleChat(ctx, client, msg.Message)

	case domain.MsgTypeGoLive:
		msg, ok := decode[domain.GoLiveMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleGoLive(ctx, client, msg)

	case domain.MsgTypeEndLive:
		msg, ok := decode[domain.EndLiveMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleEndLive(ctx, client, msg.RoomID)

	case domain.MsgTypeUpdateRoom:
		msg, ok := decode[domain.UpdateRoomMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleUpdateRoom(ctx, client, msg)

	case domain.MsgTypeCreateTransport:
		err = h.service.HandleCreateTransport(ctx, client)

	case domain.MsgTypeConnectTransport:
		msg, ok := decode[domain.ConnectTransportMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleConnectTransport(ctx, client, msg)

	case domain.MsgTypeTransportICECandidate:
		msg, ok := decode[domain.TransportICECandidateMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleTransportICECandidate(ctx, client, msg)

	case domain.MsgTypeConsume:
		msg, ok := decode[domain.ConsumeMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleConsume(ctx, client, msg)

	case domain.MsgTypeConsumerAnswer:
		msg, ok := decode[domain.ConsumerAnswerMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleConsumerAnswer(ctx, client, msg)

	case domain.MsgTypeCloseProducer:
		msg, ok := decode[domain.CloseProducerMessage](client, message, base.Type)
		if !ok {
			return
		}
		err = h.service.HandleCloseProducer(ctx, client, msg.ProducerID)

	case domain.MsgTypePing:
		err = client.SendMessage(&domain.PongMessage{Type: domain.MsgTypePong, Timestamp: time.Now().UnixMilli()})
	}

	if err != nil {
		l.Error().Err(err).Str(pkglog.FieldMsgType, base.Type).Msg("message handling failed")
	}
}
