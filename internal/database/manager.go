package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "cmelive/pkg/database"
	"cmelive/pkg/interfaces"
	"cmelive/pkg/types"
)

// Manager implements interfaces.UserStore and interfaces.CourseStore on
// SQLite. Reads run concurrently; all writes funnel through a single
// goroutine to avoid SQLite write contention.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations, and starts
// the write loop.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && !isBusinessError(err) {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// isBusinessError reports whether the write failed for a reason a retry
// cannot fix. Only transient failures get the retry.
func isBusinessError(err error) bool {
	for _, sentinel := range []error{
		interfaces.ErrUserNotFound,
		interfaces.ErrCourseNotFound,
		interfaces.ErrEmailTaken,
		interfaces.ErrUnknownRole,
		interfaces.ErrUnknownDepartment,
		interfaces.ErrAlreadyRegistered,
		interfaces.ErrRegistrationClosed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateUser persists a user, resolving role and department names to their
// seeded rows.
func (m *Manager) CreateUser(ctx context.Context, user *types.User, passwordHash string) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM users WHERE email = ?", user.Email,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check email: %w", err)
		}
		if exists > 0 {
			return interfaces.ErrEmailTaken
		}

		var roleID string
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM roles WHERE name = ? COLLATE NOCASE", user.Role,
		).Scan(&roleID)
		if err == sql.ErrNoRows {
			return interfaces.ErrUnknownRole
		}
		if err != nil {
			return fmt.Errorf("failed to resolve role: %w", err)
		}

		var departmentID sql.NullString
		if user.Department != "" {
			var id string
			err = tx.QueryRowContext(ctx,
				"SELECT id FROM departments WHERE name = ? COLLATE NOCASE", user.Department,
			).Scan(&id)
			if err == sql.ErrNoRows {
				return interfaces.ErrUnknownDepartment
			}
			if err != nil {
				return fmt.Errorf("failed to resolve department: %w", err)
			}
			departmentID = sql.NullString{String: id, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, full_name, email, password_hash, role_id, department_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, user.ID, user.FullName, user.Email, passwordHash, roleID, departmentID, user.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		return tx.Commit()
	})
}

const userSelect = `
	SELECT u.id, u.full_name, u.email, r.name, COALESCE(d.name, ''), u.created_at
	FROM users u
	JOIN roles r ON r.id = u.role_id
	LEFT JOIN departments d ON d.id = u.department_id
`

// GetUser retrieves a user by id with role and department names joined in.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx, userSelect+" WHERE u.id = ?", userID)

	var user types.User
	err := row.Scan(&user.ID, &user.FullName, &user.Email, &user.Role, &user.Department, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	return &user, nil
}

// GetCredentials retrieves a user and their password hash by email.
func (m *Manager) GetCredentials(ctx context.Context, email string) (*types.User, string, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT u.id, u.full_name, u.email, r.name, COALESCE(d.name, ''), u.created_at, u.password_hash
		FROM users u
		JOIN roles r ON r.id = u.role_id
		LEFT JOIN departments d ON d.id = u.department_id
		WHERE u.email = ?
	`, email)

	var user types.User
	var hash string
	err := row.Scan(&user.ID, &user.FullName, &user.Email, &user.Role, &user.Department, &user.CreatedAt, &hash)
	if err == sql.ErrNoRows {
		return nil, "", interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query credentials: %w", err)
	}

	return &user, hash, nil
}

// CreateCourse persists a new course record.
func (m *Manager) CreateCourse(ctx context.Context, course *types.Course) error {
	return m.executeWrite(func(db *sql.DB) error {
		registeredJSON, err := json.Marshal(course.RegisteredUserIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal registered users: %w", err)
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO courses (
				id, title, description, mode, status, created_by, registered_users,
				registration_open, registration_close, course_datetime, course_location,
				cme_point, is_live, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			course.ID, course.Title, course.Description, course.Mode, course.Status,
			course.CreatedBy, string(registeredJSON), course.RegistrationOpen,
			course.RegistrationClose, course.CourseDateTime, course.Location,
			course.CMEPoints, course.IsLive, course.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert course: %w", err)
		}

		return nil
	})
}

const courseSelect = `
	SELECT id, title, description, mode, status, created_by, registered_users,
	       registration_open, registration_close, course_datetime, course_location,
	       cme_point, is_live, live_started_at, live_ended_at, created_at
	FROM courses
`

func scanCourse(scan func(dest ...any) error) (*types.Course, error) {
	var course types.Course
	var registeredJSON string
	var liveStarted, liveEnded sql.NullTime

	err := scan(
		&course.ID, &course.Title, &course.Description, &course.Mode, &course.Status,
		&course.CreatedBy, &registeredJSON, &course.RegistrationOpen,
		&course.RegistrationClose, &course.CourseDateTime, &course.Location,
		&course.CMEPoints, &course.IsLive, &liveStarted, &liveEnded, &course.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(registeredJSON), &course.RegisteredUserIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registered users: %w", err)
	}
	if liveStarted.Valid {
		course.LiveStartedAt = &liveStarted.Time
	}
	if liveEnded.Valid {
		course.LiveEndedAt = &liveEnded.Time
	}

	return &course, nil
}

// GetCourse retrieves a course by id.
func (m *Manager) GetCourse(ctx context.Context, courseID string) (*types.Course, error) {
	row := m.db.QueryRowContext(ctx, courseSelect+" WHERE id = ?", courseID)

	course, err := scanCourse(row.Scan)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query course: %w", err)
	}

	return course, nil
}

// ListCourses returns all courses, most recently created first.
func (m *Manager) ListCourses(ctx context.Context) ([]*types.Course, error) {
	rows, err := m.db.QueryContext(ctx, courseSelect+" ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var courses []*types.Course
	for rows.Next() {
		course, err := scanCourse(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course row: %w", err)
		}
		courses = append(courses, course)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating course rows: %w", err)
	}

	return courses, nil
}

// RegisterUser appends the user to the course's registered-user list. The
// read-modify-write of the JSON column happens inside the single write
// goroutine, so concurrent registrations cannot lose entries.
func (m *Manager) RegisterUser(ctx context.Context, courseID, userID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var status, registeredJSON string
		err = tx.QueryRowContext(ctx,
			"SELECT status, registered_users FROM courses WHERE id = ?", courseID,
		).Scan(&status, &registeredJSON)
		if err == sql.ErrNoRows {
			return interfaces.ErrCourseNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query course: %w", err)
		}

		if status != types.CourseStatusOpen {
			return interfaces.ErrRegistrationClosed
		}

		var registered []string
		if err := json.Unmarshal([]byte(registeredJSON), &registered); err != nil {
			return fmt.Errorf("failed to unmarshal registered users: %w", err)
		}
		for _, id := range registered {
			if id == userID {
				return interfaces.ErrAlreadyRegistered
			}
		}
		registered = append(registered, userID)

		updatedJSON, err := json.Marshal(registered)
		if err != nil {
			return fmt.Errorf("failed to marshal registered users: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE courses SET registered_users = ? WHERE id = ?", string(updatedJSON), courseID,
		); err != nil {
			return fmt.Errorf("failed to update registered users: %w", err)
		}

		return tx.Commit()
	})
}

// SetCourseLiveState flips is_live and stamps the matching timestamp and
// status. Concurrent calls are last-write-wins on the persisted record.
func (m *Manager) SetCourseLiveState(ctx context.Context, courseID string, live bool, at time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		var result sql.Result
		var err error
		if live {
			result, err = db.ExecContext(ctx, `
				UPDATE courses SET is_live = 1, live_started_at = ?, status = ? WHERE id = ?
			`, at, types.CourseStatusLive, courseID)
		} else {
			result, err = db.ExecContext(ctx, `
				UPDATE courses SET is_live = 0, live_ended_at = ?, status = ? WHERE id = ?
			`, at, types.CourseStatusCompleted, courseID)
		}
		if err != nil {
			return fmt.Errorf("failed to update live state: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrCourseNotFound
		}

		return nil
	})
}

// UpdateCourseStatus sets the course status directly.
func (m *Manager) UpdateCourseStatus(ctx context.Context, courseID, status string) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE courses SET status = ? WHERE id = ?", status, courseID,
		)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrCourseNotFound
		}

		return nil
	})
}

// TransitionCourseStatuses applies the scheduled status walk as of now.
func (m *Manager) TransitionCourseStatuses(ctx context.Context, now time.Time) (opened, closed, completed int64, err error) {
	err = m.executeWrite(func(db *sql.DB) error {
		tx, txErr := db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		opened, txErr = transition(ctx, tx,
			"UPDATE courses SET status = ? WHERE status = ? AND registration_open <= ?",
			types.CourseStatusOpen, types.CourseStatusPending, now)
		if txErr != nil {
			return txErr
		}

		closed, txErr = transition(ctx, tx,
			"UPDATE courses SET status = ? WHERE status = ? AND registration_close < ?",
			types.CourseStatusClosed, types.CourseStatusOpen, now)
		if txErr != nil {
			return txErr
		}

		completed, txErr = transition(ctx, tx,
			"UPDATE courses SET status = ? WHERE status = ? AND course_datetime < ?",
			types.CourseStatusCompleted, types.CourseStatusClosed, now)
		if txErr != nil {
			return txErr
		}

		return tx.Commit()
	})
	return opened, closed, completed, err
}

func transition(ctx context.Context, tx *sql.Tx, query, to, from string, now time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx, query, to, from, now)
	if err != nil {
		return 0, fmt.Errorf("failed status transition %s -> %s: %w", from, to, err)
	}
	return result.RowsAffected()
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying connection, for schema validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and closes the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
