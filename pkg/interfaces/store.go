package interfaces

import (
	"context"
	"time"

	"cmelive/pkg/types"
)

// UserStore handles persistent user records. The gateway only needs GetUser;
// the REST surface uses the rest for registration and login.
type UserStore interface {
	// CreateUser persists a new user. Role and Department on the record are
	// names; the store resolves them to their seeded rows.
	CreateUser(ctx context.Context, user *types.User, passwordHash string) error

	// GetUser retrieves a user by id, with role and department names joined
	// in. Returns ErrUserNotFound if the id does not resolve.
	GetUser(ctx context.Context, userID string) (*types.User, error)

	// GetCredentials retrieves a user and their password hash by email, for
	// login verification.
	GetCredentials(ctx context.Context, email string) (*types.User, string, error)
}

// CourseStore handles persistent course records. Live-state transitions are
// read-many/write-occasionally with no cross-component locking; a last-write-
// wins outcome on concurrent updates is accepted.
type CourseStore interface {
	CreateCourse(ctx context.Context, course *types.Course) error

	// GetCourse returns ErrCourseNotFound if the id does not resolve.
	GetCourse(ctx context.Context, courseID string) (*types.Course, error)

	ListCourses(ctx context.Context) ([]*types.Course, error)

	// RegisterUser appends the user to the course's registered-user list.
	RegisterUser(ctx context.Context, courseID, userID string) error

	// SetCourseLiveState flips is_live and stamps the matching timestamp and
	// status (live on start, completed on end).
	SetCourseLiveState(ctx context.Context, courseID string, live bool, at time.Time) error

	UpdateCourseStatus(ctx context.Context, courseID, status string) error

	// TransitionCourseStatuses applies the scheduled pending->open->closed->
	// completed walk as of now, returning per-transition counts.
	TransitionCourseStatuses(ctx context.Context, now time.Time) (opened, closed, completed int64, err error)
}

// IdentityVerifier validates a bearer credential and resolves it to a user
// record. A failed verification terminates the connection attempt; there is
// no retry.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*types.User, error)
}

// AccessResolver computes the membership class for a course and verified
// user. Implementations must not cache: the result is recomputed on every
// privileged action.
type AccessResolver interface {
	Resolve(ctx context.Context, courseID string, user *types.User) (types.AccessLevel, *types.Course, error)
}
