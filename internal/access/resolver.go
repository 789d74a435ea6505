package access

import (
	"context"
	"fmt"
	"strings"

	"cmelive/pkg/interfaces"
	"cmelive/pkg/types"
)

// elevatedRoleMarker grants instructor-equivalent privileges for any course.
const elevatedRoleMarker = "super admin"

// Resolver implements interfaces.AccessResolver. It fetches the course on
// every call and never caches the outcome: registration and role state can
// change between a join and a later start-live.
type Resolver struct {
	courses interfaces.CourseStore
}

// NewResolver creates a resolver backed by the given course store.
func NewResolver(courses interfaces.CourseStore) *Resolver {
	return &Resolver{courses: courses}
}

// Resolve computes the membership class for the course and user, returning
// the course record fetched along the way. Fails with
// interfaces.ErrCourseNotFound when the id does not resolve.
func (r *Resolver) Resolve(ctx context.Context, courseID string, user *types.User) (types.AccessLevel, *types.Course, error) {
	course, err := r.courses.GetCourse(ctx, courseID)
	if err == interfaces.ErrCourseNotFound {
		return types.AccessUnauthorized, nil, err
	}
	if err != nil {
		return types.AccessUnauthorized, nil, fmt.Errorf("failed to fetch course %s: %w", courseID, err)
	}

	switch {
	case course.CreatedBy == user.ID:
		return types.AccessInstructor, course, nil
	case IsElevated(user):
		return types.AccessElevated, course, nil
	case course.IsRegistered(user.ID):
		return types.AccessRegistered, course, nil
	default:
		return types.AccessUnauthorized, course, nil
	}
}

// IsElevated reports whether the user's role carries system-wide
// administrative privilege.
func IsElevated(user *types.User) bool {
	return strings.Contains(strings.ToLower(user.Role), elevatedRoleMarker)
}
