package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Service
	FieldService = "service"

	// Rooms and peers
	FieldRoomID    = "room_id"
	FieldPeerID    = "peer_id"
	FieldJoinCode  = "join_code"
	FieldWatchCode = "watch_code"
	FieldMsgType   = "msg_type"

	// Media engine
	FieldRouterID    = "router_id"
	FieldTransportID = "transport_id"
	FieldProducerID  = "producer_id"
	FieldConsumerID  = "consumer_id"

	// Live sessions
	FieldSessionID = "session_id"
	FieldPID       = "pid"
	FieldState     = "state"

	// Events
	FieldEventType = "event_type"
)
