package store

import (
	"context"
	"fmt"
)

// Migrate creates the entity tables and the outbox if they do not exist.
// The DDL is intentionally minimal; production deployments manage schema
// through their own migration tooling and only need the outbox shape to
// match.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.ddl() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("classguard/store: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) ddl() []string {
	changes := `CREATE TABLE IF NOT EXISTS changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload BLOB NOT NULL
	)`
	switch s.dialect {
	case Postgres:
		changes = `CREATE TABLE IF NOT EXISTS changes (
			id BIGSERIAL PRIMARY KEY,
			payload BYTEA NOT NULL
		)`
	case MySQL:
		changes = `CREATE TABLE IF NOT EXISTS changes (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			payload BLOB NOT NULL
		)`
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			full_name VARCHAR(255) NOT NULL,
			role VARCHAR(16) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS classrooms (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			teacher_id VARCHAR(36) NOT NULL REFERENCES users (id)
		)`,
		`CREATE TABLE IF NOT EXISTS classroom_enrollments (
			user_id VARCHAR(36) NOT NULL REFERENCES users (id),
			classroom_id VARCHAR(36) NOT NULL REFERENCES classrooms (id),
			PRIMARY KEY (user_id, classroom_id)
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			id VARCHAR(36) PRIMARY KEY,
			classroom_id VARCHAR(36) NOT NULL REFERENCES classrooms (id),
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			max_points INTEGER NOT NULL,
			due_date TIMESTAMP NULL
		)`,
		`CREATE TABLE IF NOT EXISTS progress (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(36) NOT NULL REFERENCES users (id),
			assignment_id VARCHAR(36) NOT NULL REFERENCES assignments (id),
			completion_percentage INTEGER NOT NULL,
			status VARCHAR(16) NOT NULL,
			grade VARCHAR(8) NULL,
			points_earned INTEGER NULL,
			feedback TEXT NULL,
			graded_at TIMESTAMP NULL,
			UNIQUE (user_id, assignment_id)
		)`,
		changes,
	}
}
