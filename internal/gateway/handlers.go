package gateway

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"cmelive/internal/room"
	"cmelive/pkg/types"
)

// handleJoinRoom resolves course access first, outside any registry lock,
// then admits the connection to the room for that course. The joining
// connection receives the full room snapshot; existing occupants receive
// only the newcomer.
func (g *Gateway) handleJoinRoom(ctx context.Context, c sender, req courseRequest) error {
	if strings.TrimSpace(req.CourseID) == "" {
		return types.NewGatewayError(types.KindValidation, "courseId is required")
	}

	user := c.User()
	level, _, err := g.access.Resolve(ctx, req.CourseID, user)
	if err != nil {
		return err
	}
	if level == types.AccessUnauthorized {
		return types.NewGatewayError(types.KindAuthorization, "You are not registered for this course")
	}

	// Media flags start disabled; clients flip them with explicit toggle
	// events once capture succeeds.
	participant := types.Participant{
		UserID:       user.ID,
		Name:         user.FullName,
		Email:        user.Email,
		Role:         user.Role,
		IsInstructor: level.InstructorCapable(),
		JoinedAt:     time.Now(),
	}

	result := g.registry.Join(req.CourseID, c.ID(), participant)

	g.send(c, EventJoinedRoom, joinedRoomPayload{
		RoomID:       result.RoomID,
		ConnectionID: c.ID(),
		Participants: result.Participants,
		IsLive:       result.IsLive,
		ChatMessages: result.ChatHistory,
	})

	g.broadcast(result.Others, EventParticipantJoined, participantJoinedPayload{
		ParticipantID: c.ID(),
		Participant:   result.Participant,
	})

	log.Printf("%s joined room %s (instructor=%t)", user.FullName, result.RoomID, result.BecameInstructor)
	return nil
}

// handleLiveSession starts or ends the live session for a course room. Only
// a connection with instructor-level access may flip the flag. The room
// state changes before any occupant is notified, and the course record is
// updated after the fact; a persistence failure is reported to the caller
// but does not undo the room transition.
func (g *Gateway) handleLiveSession(ctx context.Context, c sender, req courseRequest, live bool) error {
	if strings.TrimSpace(req.CourseID) == "" {
		return types.NewGatewayError(types.KindValidation, "courseId is required")
	}

	level, _, err := g.access.Resolve(ctx, req.CourseID, c.User())
	if err != nil {
		return err
	}
	if !level.InstructorCapable() {
		if live {
			return types.NewGatewayError(types.KindAuthorization, "Only instructors can start live sessions")
		}
		return types.NewGatewayError(types.KindAuthorization, "Only instructors can end live sessions")
	}

	roomID := room.IDForCourse(req.CourseID)
	result, err := g.registry.SetLive(roomID, c.ID(), live)
	if err != nil {
		return err
	}
	if !result.Changed {
		return nil
	}

	if live {
		g.broadcast(result.Occupants, EventLiveSessionStarted, liveStartedPayload{
			Instructor: result.By,
			StartedAt:  result.At,
		})
		log.Printf("Live session started for course %s by %s", req.CourseID, c.User().FullName)
	} else {
		g.broadcast(result.Occupants, EventLiveSessionEnded, liveEndedPayload{
			Reason:  "ended by instructor",
			EndedAt: result.At,
		})
		log.Printf("Live session ended for course %s by %s", req.CourseID, c.User().FullName)
	}

	if err := g.courses.SetCourseLiveState(ctx, req.CourseID, live, result.At); err != nil {
		log.Printf("Failed to persist live state for course %s: %v", req.CourseID, err)
		return types.NewGatewayError(types.KindInternal, "failed to update course status")
	}
	return nil
}

// handleChatMessage validates, stores, and fans out a chat message. The
// sender receives the same broadcast as everyone else, carrying the
// server-assigned id and timestamp.
func (g *Gateway) handleChatMessage(c sender, req chatRequest) error {
	if strings.TrimSpace(req.RoomID) == "" {
		return types.NewGatewayError(types.KindValidation, "roomId is required")
	}
	if err := types.ValidateChatMessage(req.Message); err != nil {
		return err
	}

	user := c.User()
	msg := types.ChatMessage{
		ID:        ulid.Make().String(),
		UserID:    user.ID,
		Name:      user.FullName,
		Role:      user.Role,
		Message:   strings.TrimSpace(req.Message),
		Timestamp: time.Now(),
	}

	result, err := g.registry.AppendChat(req.RoomID, c.ID(), msg)
	if err != nil {
		return err
	}

	g.broadcast(result.Occupants, EventNewChatMessage, result.Message)
	return nil
}

// handleToggle flips one media flag and tells the other occupants. The
// caller already sees its own state; only the others need the event.
func (g *Gateway) handleToggle(
	c sender,
	req toggleRequest,
	set func(roomID, connID string, enabled bool) (room.ToggleResult, error),
	event string,
) error {
	if strings.TrimSpace(req.RoomID) == "" {
		return types.NewGatewayError(types.KindValidation, "roomId is required")
	}

	result, err := set(req.RoomID, c.ID(), req.Enabled)
	if err != nil {
		return err
	}

	g.broadcast(result.Others, event, togglePayload{
		ParticipantID:   c.ID(),
		ParticipantName: result.Participant.Name,
		Enabled:         req.Enabled,
	})
	return nil
}
