package types

import (
	"time"
)

// Course status values. The scheduler walks pending -> open -> closed ->
// completed; start-live/end-live flip between live and completed.
const (
	CourseStatusPending   = "pending"
	CourseStatusOpen      = "open"
	CourseStatusClosed    = "closed"
	CourseStatusCompleted = "completed"
	CourseStatusCancelled = "cancelled"
	CourseStatusLive      = "live"
)

// Course delivery modes.
const (
	CourseModeOnline  = "online"
	CourseModeOffline = "offline"
)

// User is a verified identity. It is resolved once per connection attempt
// and attached immutably to the connection for its lifetime.
type User struct {
	ID         string    `json:"id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Course is the persisted course record. RegisteredUserIDs is stored as a
// JSON column, so membership checks happen in Go rather than SQL.
type Course struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Mode              string     `json:"mode"`
	Status            string     `json:"status"`
	CreatedBy         string     `json:"created_by"`
	RegisteredUserIDs []string   `json:"registered_user_ids"`
	RegistrationOpen  time.Time  `json:"registration_open"`
	RegistrationClose time.Time  `json:"registration_close"`
	CourseDateTime    time.Time  `json:"course_datetime"`
	Location          string     `json:"course_location,omitempty"`
	CMEPoints         int        `json:"cme_point"`
	IsLive            bool       `json:"is_live"`
	LiveStartedAt     *time.Time `json:"live_started_at,omitempty"`
	LiveEndedAt       *time.Time `json:"live_ended_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// IsRegistered reports whether the user appears in the course's
// registered-user list.
func (c *Course) IsRegistered(userID string) bool {
	for _, id := range c.RegisteredUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AccessLevel is the membership class the access resolver computes for a
// (course, user) pair. Recomputed on every privileged action, never cached,
// because registration and role state can change between actions.
type AccessLevel int

const (
	AccessUnauthorized AccessLevel = iota
	AccessRegistered
	AccessInstructor
	AccessElevated
)

// InstructorCapable reports whether the level grants instructor privileges
// (starting/ending live sessions, claiming the instructor slot).
func (l AccessLevel) InstructorCapable() bool {
	return l == AccessInstructor || l == AccessElevated
}

func (l AccessLevel) String() string {
	switch l {
	case AccessRegistered:
		return "registered"
	case AccessInstructor:
		return "instructor"
	case AccessElevated:
		return "elevated"
	default:
		return "unauthorized"
	}
}

// Participant is one connection's presence record inside a room. Keyed by
// connection id, so two tabs of the same user are distinct participants.
type Participant struct {
	UserID        string    `json:"userId"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	IsInstructor  bool      `json:"isInstructor"`
	VideoEnabled  bool      `json:"videoEnabled"`
	AudioEnabled  bool      `json:"audioEnabled"`
	ScreenSharing bool      `json:"screenSharing"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// ChatMessage is an immutable chat utterance. The id is a ULID: time-ordered
// with enough randomness to avoid collisions within the bounded buffer.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomInfo is the read-only projection of one room exposed through the
// administrative snapshot endpoint.
type RoomInfo struct {
	RoomID           string     `json:"roomId"`
	CourseID         string     `json:"courseId"`
	ParticipantCount int        `json:"participantCount"`
	IsLive           bool       `json:"isLive"`
	CreatedAt        time.Time  `json:"createdAt"`
	LiveStartedAt    *time.Time `json:"liveStartedAt,omitempty"`
	Instructor       string     `json:"instructor,omitempty"`
}
