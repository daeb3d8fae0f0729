// Package directory provides a sqlite-backed DirectoryLookup for hosts that
// keep their user directory alongside the engine. Hosts with an external
// directory of record supply their own implementation instead.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/port"
)

// SQLiteDirectory implements port.DirectoryLookup over the users, user_roles
// and departments tables
type SQLiteDirectory struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteDirectory creates a directory lookup backed by the given database
func NewSQLiteDirectory(db *sql.DB, logger *zap.Logger) *SQLiteDirectory {
	return &SQLiteDirectory{
		db:     db,
		logger: logger,
	}
}

// UsersWithRole returns the active users holding any of the role codes
func (d *SQLiteDirectory) UsersWithRole(ctx context.Context, roleCodes []string) ([]string, error) {
	if len(roleCodes) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(roleCodes))
	query := fmt.Sprintf(`
		SELECT DISTINCT u.id
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.active = 1 AND ur.role_code IN (%s)
		ORDER BY u.id
	`, placeholders[:len(placeholders)-1])

	args := make([]interface{}, len(roleCodes))
	for i, code := range roleCodes {
		args[i] = code
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		d.logger.Error("Failed to query users with role", zap.Strings("role_codes", roleCodes), zap.Error(err))
		return nil, fmt.Errorf("failed to query users with role: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}

	return users, rows.Err()
}

// DepartmentManager returns the manager of a department, or "" when none
func (d *SQLiteDirectory) DepartmentManager(ctx context.Context, departmentID string) (string, error) {
	query := `SELECT COALESCE(manager_id, '') FROM departments WHERE id = ?`

	var manager string
	err := d.db.QueryRowContext(ctx, query, departmentID).Scan(&manager)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query department manager: %w", err)
	}

	return manager, nil
}

// ManagerOf returns a user's direct manager, or "" when none
func (d *SQLiteDirectory) ManagerOf(ctx context.Context, userID string) (string, error) {
	query := `SELECT COALESCE(manager_id, '') FROM users WHERE id = ?`

	var manager string
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&manager)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query user manager: %w", err)
	}

	return manager, nil
}

// IsActive reports whether the user account is currently active
func (d *SQLiteDirectory) IsActive(ctx context.Context, userID string) (bool, error) {
	query := `SELECT active FROM users WHERE id = ?`

	var active bool
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}

	return active, nil
}

// Verify interface compliance
var _ port.DirectoryLookup = (*SQLiteDirectory)(nil)
