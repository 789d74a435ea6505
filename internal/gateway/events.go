package gateway

import (
	"encoding/json"
	"time"

	"cmelive/pkg/types"
)

// Inbound event names.
const (
	EventJoinCourseRoom     = "join-course-room"
	EventStartLiveSession   = "start-live-session"
	EventEndLiveSession     = "end-live-session"
	EventSendChatMessage    = "send-chat-message"
	EventToggleVideo        = "toggle-video"
	EventToggleAudio        = "toggle-audio"
	EventToggleScreenShare  = "toggle-screen-share"
	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCICECandidate = "webrtc-ice-candidate"
)

// Outbound event names.
const (
	EventJoinedRoom                    = "joined-room"
	EventParticipantJoined             = "participant-joined"
	EventParticipantLeft               = "participant-left"
	EventLiveSessionStarted            = "live-session-started"
	EventLiveSessionEnded              = "live-session-ended"
	EventNewChatMessage                = "new-chat-message"
	EventParticipantVideoToggled       = "participant-video-toggled"
	EventParticipantAudioToggled       = "participant-audio-toggled"
	EventParticipantScreenShareToggled = "participant-screen-share-toggled"
	EventError                         = "error"
)

// Envelope frames every message in both directions: a tagged event name
// with an opaque payload decoded per variant.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads.

type courseRequest struct {
	CourseID string `json:"courseId"`
}

type chatRequest struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type toggleRequest struct {
	RoomID  string `json:"roomId"`
	Enabled bool   `json:"enabled"`
}

// signalRequest carries an opaque WebRTC handshake payload addressed to one
// connection. Exactly one of Offer/Answer/Candidate is set, matching the
// event name; the relay never inspects it.
type signalRequest struct {
	Target    string          `json:"target"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Outbound payloads.

type joinedRoomPayload struct {
	RoomID       string              `json:"roomId"`
	ConnectionID string              `json:"connectionId"`
	Participants []types.Participant `json:"participants"`
	IsLive       bool                `json:"isLive"`
	ChatMessages []types.ChatMessage `json:"chatMessages"`
}

type participantJoinedPayload struct {
	ParticipantID string            `json:"participantId"`
	Participant   types.Participant `json:"participant"`
}

type participantLeftPayload struct {
	ParticipantID string            `json:"participantId"`
	Participant   types.Participant `json:"participant"`
	Reason        string            `json:"reason,omitempty"`
}

type liveStartedPayload struct {
	Instructor *types.Participant `json:"instructor,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
}

type liveEndedPayload struct {
	Reason  string    `json:"reason,omitempty"`
	EndedAt time.Time `json:"endedAt"`
}

type togglePayload struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	Enabled         bool   `json:"enabled"`
}

type signalPayload struct {
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	Sender     string          `json:"sender"`
	SenderName string          `json:"senderName"`
}
