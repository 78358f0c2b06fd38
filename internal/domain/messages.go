package domain

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/coordinator/pkg/response"
)

// WebSocket message types from client.
const (
	MsgTypeJoinRoom              = "join-room"
	MsgTypeJoinRoomByCode        = "join-room-by-code"
	MsgTypeLeaveRoom             = "leave-room"
	MsgTypeOffer                 = "offer"
	MsgTypeAnswer                = "answer"
	MsgTypeICECandidate          = "ice-candidate"
	MsgTypeChatMessage           = "chat-message"
	MsgTypeGoLive                = "go-live"
	MsgTypeEndLive               = "end-live"
	MsgTypeUpdateRoom            = "update-room"
	MsgTypeCreateTransport       = "create-transport"
	MsgTypeConnectTransport      = "connect-transport"
	MsgTypeTransportICECandidate = "transport-ice-candidate"
	MsgTypeConsume               = "consume"
	MsgTypeConsumerAnswer        = "consumer-answer"
	MsgTypeCloseProducer         = "close-producer"
	MsgTypePing                  = "ping"
)

var clientMessageTypes = map[string]struct{}{
	MsgTypeJoinRoom: {}, MsgTypeJoinRoomByCode: {}, MsgTypeLeaveRoom: {},
	MsgTypeOffer: {}, MsgTypeAnswer: {}, MsgTypeICECandidate: {},
	MsgTypeChatMessage: {}, MsgTypeGoLive: {}, MsgTypeEndLive: {}, MsgTypeUpdateRoom: {},
	MsgTypeCreateTransport: {}, MsgTypeConnectTransport: {}, MsgTypeTransportICECandidate: {},
	MsgTypeConsume: {}, MsgTypeConsumerAnswer: {}, MsgTypeCloseProducer: {},
	MsgTypePing: {},
}

// IsClientMessage reports whether t is a message type clients may send.
func IsClientMessage(t string) bool {
	_, ok := clientMessageTypes[t]
	return ok
}

// WebSocket message types to client.
const (
	MsgTypeConnected          = "connected"
	MsgTypeRoomJoined         = "room-joined"
	MsgTypeUserConnected      = "user-connected"
	MsgTypeUserDisconnected   = "user-disconnected"
	MsgTypeLiveStatusChanged  = "live-status-changed"
	MsgTypeRoomUpdated        = "room-updated"
	MsgTypeNewProducer        = "new-producer"
	MsgTypeProducerClosed     = "producer-closed"
	MsgTypeServerICECandidate = "server-ice-candidate"
	MsgTypeTransportCreated   = "transport-created"
	MsgTypeTransportConnected = "transport-connected"
	MsgTypeConsumerCreated    = "consumer-created"
	MsgTypeError              = "error"
	MsgTypePong               = "pong"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type JoinRoomByCodeMessage struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// SignalMessage carries an opaque SDP or ICE payload between two peers.
// Inbound messages name the target in To; the relayed copy names the sender
// in From.
type SignalMessage struct {
	Type      string          `json:"type"`
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ChatMessage is both the inbound chat intent and the relayed copy.
type ChatMessage struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type GoLiveMessage struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type EndLiveMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type UpdateRoomMessage struct {
	Type        string  `json:"type"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type ConnectTransportMessage struct {
	Type        string                    `json:"type"`
	TransportID string                    `json:"transportId"`
	Offer       webrtc.SessionDescription `json:"offer"`
}

type TransportICECandidateMessage struct {
	Type        string                  `json:"type"`
	TransportID string                  `json:"transportId"`
	Candidate   webrtc.ICECandidateInit `json:"candidate"`
}

type ConsumeMessage struct {
	Type        string `json:"type"`
	TransportID string `json:"transportId"`
	ProducerID  string `json:"producerId"`
}

type ConsumerAnswerMessage struct {
	Type        string                    `json:"type"`
	TransportID string                    `json:"transportId"`
	Answer      webrtc.SessionDescription `json:"answer"`
}

type CloseProducerMessage struct {
	Type       string `json:"type"`
	ProducerID string `json:"producerId"`
}

// Server -> Client messages

type ConnectedMessage struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

// RoomJoinedMessage is sent when client successfully joins a room.
type RoomJoinedMessage struct {
	Type      string       `json:"type"`
	Room      RoomSnapshot `json:"room"`
	Peers     []string     `json:"peers"`
	IsCreator bool         `json:"isCreator"`
}

// PeerEventMessage announces a peer arriving or leaving.
type PeerEventMessage struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

type LiveStatusMessage struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	IsLive      bool   `json:"isLive"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	HLSUrl      string `json:"hlsUrl,omitempty"`
}

type RoomUpdatedMessage struct {
	Type string       `json:"type"`
	Room RoomSnapshot `json:"room"`
}

type NewProducerMessage struct {
	Type       string `json:"type"`
	PeerID     string `json:"peerId"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type ProducerClosedMessage struct {
	Type       string `json:"type"`
	PeerID     string `json:"peerId"`
	ProducerID string `json:"producerId"`
}

type ServerICECandidateMessage struct {
	Type        string                  `json:"type"`
	TransportID string                  `json:"transportId"`
	Candidate   webrtc.ICECandidateInit `json:"candidate"`
}

type TransportCreatedMessage struct {
	Type        string             `json:"type"`
	TransportID string             `json:"transportId"`
	ICEServers  []webrtc.ICEServer `json:"iceServers,omitempty"`
}

type TransportConnectedMessage struct {
	Type        string                    `json:"type"`
	TransportID string                    `json:"transportId"`
	Answer      webrtc.SessionDescription `json:"answer"`
}

type ConsumerCreatedMessage struct {
	Type        string                    `json:"type"`
	TransportID string                    `json:"transportId"`
	ConsumerID  string                    `json:"consumerId"`
	ProducerID  string                    `json:"producerId"`
	Kind        string                    `json:"kind"`
	Offer       webrtc.SessionDescription `json:"offer"`
}

type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes shared with the REST envelope.
const (
	ErrCodeBadRequest    = response.CodeBadRequest
	ErrCodeForbidden     = response.CodeForbidden
	ErrCodeNotFound      = response.CodeNotFound
	ErrCodeConflict      = response.CodeConflict
	ErrCodeInternalError = response.CodeInternalError
)

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// ErrorFor maps a domain error onto the error frame sent to the client.
func ErrorFor(err error) *ErrorMessage {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrRoomClosed):
		return NewErrorMessage(ErrCodeNotFound, "Room not found")
	case errors.Is(err, ErrPeerNotFound):
		return NewErrorMessage(ErrCodeNotFound, "Target peer not found")
	case errors.Is(err, ErrTransportNotFound):
		return NewErrorMessage(ErrCodeNotFound, "Transport not found")
	case errors.Is(err, ErrProducerNotFound):
		return NewErrorMessage(ErrCodeNotFound, "Producer not found")
	case errors.Is(err, ErrInvalidRoomID):
		return NewErrorMessage(ErrCodeBadRequest, "Invalid room id")
	case errors.Is(err, ErrNotInRoom):
		return NewErrorMessage(ErrCodeBadRequest, "Not in a room")
	case errors.Is(err, ErrDisconnected):
		return NewErrorMessage(ErrCodeBadRequest, "Connection has left its room")
	case errors.Is(err, ErrAlreadyInRoom), errors.Is(err, ErrDuplicatePeer):
		return NewErrorMessage(ErrCodeConflict, "Already in a room")
	case errors.Is(err, ErrNotCreator):
		return NewErrorMessage(ErrCodeForbidden, "Only the room creator can do this")
	default:
		return NewErrorMessage(ErrCodeInternalError, "Internal error")
	}
}
