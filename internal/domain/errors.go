package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomClosed        = errors.New("room closed")
	ErrInvalidRoomID     = errors.New("invalid room id")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrPeerClosed        = errors.New("peer closed")
	ErrDuplicatePeer     = errors.New("peer already in room")
	ErrNotCreator        = errors.New("only the room creator can do this")
	ErrNotInRoom         = errors.New("not in a room")
	ErrAlreadyInRoom     = errors.New("already in a room")
	ErrDisconnected      = errors.New("connection closed")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrSendBufferFull    = errors.New("send buffer full")
)
