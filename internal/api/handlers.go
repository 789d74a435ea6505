package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cmelive/internal/access"
	"cmelive/internal/auth"
	"cmelive/pkg/interfaces"
	"cmelive/pkg/types"
)

type registerRequest struct {
	FullName   string `json:"full_name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	Department string `json:"department"`
}

// handleRegister creates a learner account. Instructor and administrative
// roles are provisioned out of band, never through self-registration.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	user := &types.User{
		ID:         uuid.New().String(),
		FullName:   req.FullName,
		Email:      req.Email,
		Role:       "Learner",
		Department: req.Department,
	}

	if err := s.users.CreateUser(c.Request.Context(), user, hash); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(err, interfaces.ErrUnknownDepartment):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown department"})
		default:
			log.Printf("Failed to create user: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}

	token, err := s.verifier.Issue(user)
	if err != nil {
		log.Printf("Failed to issue token for %s: %v", user.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, hash, err := s.users.GetCredentials(c.Request.Context(), req.Email)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		// Same reply for unknown email and bad password.
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidCredentials.Error()})
		return
	}

	token, err := s.verifier.Issue(user)
	if err != nil {
		log.Printf("Failed to issue token for %s: %v", user.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (s *Server) handleListCourses(c *gin.Context) {
	courses, err := s.courses.ListCourses(c.Request.Context())
	if err != nil {
		log.Printf("Failed to list courses: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list courses"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (s *Server) handleGetCourse(c *gin.Context) {
	course, err := s.courses.GetCourse(c.Request.Context(), c.Param("id"))
	if errors.Is(err, interfaces.ErrCourseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to fetch course %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch course"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}

type createCourseRequest struct {
	Title             string    `json:"title" binding:"required"`
	Description       string    `json:"description"`
	Mode              string    `json:"mode" binding:"required,oneof=online offline"`
	RegistrationOpen  time.Time `json:"registration_open" binding:"required"`
	RegistrationClose time.Time `json:"registration_close" binding:"required"`
	CourseDateTime    time.Time `json:"course_datetime" binding:"required"`
	Location          string    `json:"course_location"`
	CMEPoints         int       `json:"cme_point"`
}

// handleCreateCourse creates a course owned by the caller. Only instructors
// and administrators may create courses; learners get 403.
func (s *Server) handleCreateCourse(c *gin.Context) {
	user := currentUser(c)
	if !canCreateCourses(user) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only instructors can create courses"})
		return
	}

	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.RegistrationClose.After(req.RegistrationOpen) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "registration close must be after registration open"})
		return
	}

	course := &types.Course{
		ID:                uuid.New().String(),
		Title:             req.Title,
		Description:       req.Description,
		Mode:              req.Mode,
		Status:            types.CourseStatusPending,
		CreatedBy:         user.ID,
		RegisteredUserIDs: []string{},
		RegistrationOpen:  req.RegistrationOpen,
		RegistrationClose: req.RegistrationClose,
		CourseDateTime:    req.CourseDateTime,
		Location:          req.Location,
		CMEPoints:         req.CMEPoints,
	}

	if err := s.courses.CreateCourse(c.Request.Context(), course); err != nil {
		log.Printf("Failed to create course: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create course"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"course": course})
}

func (s *Server) handleRegisterForCourse(c *gin.Context) {
	user := currentUser(c)
	err := s.courses.RegisterUser(c.Request.Context(), c.Param("id"), user.ID)
	switch {
	case errors.Is(err, interfaces.ErrCourseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
	case errors.Is(err, interfaces.ErrRegistrationClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "registration is not open for this course"})
	case errors.Is(err, interfaces.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "already registered for this course"})
	case err != nil:
		log.Printf("Failed to register %s for course %s: %v", user.ID, c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "registered"})
	}
}

// handleListRooms returns the live snapshot of every active room. Elevated
// access only; enforced by middleware.
func (s *Server) handleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.registry.Rooms()})
}

func canCreateCourses(user *types.User) bool {
	return access.IsElevated(user) || user.Role == "Instructor"
}
