package database

import (
	"database/sql"
	"fmt"
)

// Migration is one schema step, tracked by version in schema_migrations.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations are applied in order; versions already present in
// schema_migrations are skipped.
var migrations = []Migration{
	{
		Version:     "001_core_tables",
		Description: "roles, departments, users, courses",
		SQL: `
			CREATE TABLE IF NOT EXISTS roles (
				id   TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE
			);

			CREATE TABLE IF NOT EXISTS departments (
				id   TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE
			);

			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				full_name     TEXT NOT NULL,
				email         TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				role_id       TEXT NOT NULL REFERENCES roles(id),
				department_id TEXT REFERENCES departments(id),
				is_active     BOOLEAN NOT NULL DEFAULT 1,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS courses (
				id                 TEXT PRIMARY KEY,
				title              TEXT NOT NULL,
				description        TEXT NOT NULL DEFAULT '',
				mode               TEXT NOT NULL CHECK (mode IN ('online', 'offline')),
				status             TEXT NOT NULL DEFAULT 'pending'
					CHECK (status IN ('pending', 'open', 'closed', 'completed', 'cancelled', 'live')),
				created_by         TEXT NOT NULL,
				registered_users   TEXT NOT NULL DEFAULT '[]',
				registration_open  DATETIME NOT NULL,
				registration_close DATETIME NOT NULL,
				course_datetime    DATETIME NOT NULL,
				course_location    TEXT NOT NULL DEFAULT '',
				cme_point          INTEGER NOT NULL DEFAULT 0,
				is_live            BOOLEAN NOT NULL DEFAULT 0,
				live_started_at    DATETIME,
				live_ended_at      DATETIME,
				created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
			CREATE INDEX IF NOT EXISTS idx_courses_status ON courses(status);
			CREATE INDEX IF NOT EXISTS idx_courses_created_by ON courses(created_by);
		`,
	},
	{
		Version:     "002_seed_roles",
		Description: "default roles and departments",
		SQL: `
			INSERT OR IGNORE INTO roles (id, name) VALUES
				('role-super-admin', 'Super Admin'),
				('role-instructor', 'Instructor'),
				('role-learner', 'Learner');

			INSERT OR IGNORE INTO departments (id, name) VALUES
				('dept-internal-medicine', 'Internal Medicine'),
				('dept-surgery', 'Surgery'),
				('dept-pediatrics', 'Pediatrics'),
				('dept-nursing', 'Nursing');
		`,
	},
}

// MigrationManager applies pending migrations inside transactions.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a migration manager for the given connection.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies all pending migrations in order. Each migration
// runs in its own transaction together with its schema_migrations row, so a
// failure leaves the database at the previous version.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) appliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version) VALUES (?)", migration.Version,
	); err != nil {
		return err
	}
	return tx.Commit()
}
