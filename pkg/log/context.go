package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context, falling back to the global one.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// WithRoom returns ctx carrying a child logger tagged with the room and peer.
// Empty values are omitted.
func WithRoom(ctx context.Context, roomID, peerID string) context.Context {
	lc := Ctx(ctx).With()
	if roomID != "" {
		lc = lc.Str(FieldRoomID, roomID)
	}
	if peerID != "" {
		lc = lc.Str(FieldPeerID, peerID)
	}
	return WithLogger(ctx, lc.Logger())
}
