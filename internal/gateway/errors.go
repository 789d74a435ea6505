package gateway

import (
	"errors"

	"cmelive/internal/auth"
	"cmelive/internal/room"
	"cmelive/pkg/interfaces"
	"cmelive/pkg/types"
)

// Connection-level errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// genericFailure hides unexpected internal errors from clients; the real
// cause goes to the log.
const genericFailure = "internal server error"

// toGatewayError maps a handler error onto the structured error taxonomy
// sent back to the originating connection.
func toGatewayError(err error) *types.GatewayError {
	var gw *types.GatewayError
	if errors.As(err, &gw) {
		return gw
	}

	switch {
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrUserNotFound):
		return types.NewGatewayError(types.KindAuthentication, err.Error())

	case errors.Is(err, interfaces.ErrCourseNotFound):
		return types.NewGatewayError(types.KindNotFound, "Course not found")

	case errors.Is(err, room.ErrRoomNotFound):
		return types.NewGatewayError(types.KindNotFound, "Room not found")

	case errors.Is(err, room.ErrNotInRoom):
		return types.NewGatewayError(types.KindAuthorization, "You are not in this room")

	case errors.Is(err, types.ErrEmptyChatMessage),
		errors.Is(err, types.ErrChatMessageTooLong):
		return types.NewGatewayError(types.KindValidation, err.Error())

	default:
		return types.NewGatewayError(types.KindInternal, genericFailure)
	}
}
