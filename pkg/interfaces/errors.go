package interfaces

import "errors"

// Common collaborator errors used across components.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrCourseNotFound     = errors.New("course not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUnknownRole        = errors.New("unknown role")
	ErrUnknownDepartment  = errors.New("unknown department")
	ErrAlreadyRegistered  = errors.New("user already registered for course")
	ErrRegistrationClosed = errors.New("course registration is not open")
)
