package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServerRow is a registered server as stored. PasswordSealed holds the
// password sealed by the registry, never plaintext.
type ServerRow struct {
	ID             string
	Name           string
	Hostname       string
	Port           int
	Username       string
	AuthMethod     string
	PasswordSealed []byte
	KeyPath        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrDuplicateName is returned when a server name is already taken.
var ErrDuplicateName = errors.New("store: server name already exists")

const serverColumns = `id, name, hostname, port, username, auth_method, password_sealed, key_path, created_at, updated_at`

// CreateServer inserts a server.
func (s *Store) CreateServer(ctx context.Context, r *ServerRow) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Hostname, r.Port, r.Username, r.AuthMethod,
		r.PasswordSealed, nullString(r.KeyPath), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

// UpdateServer overwrites every mutable column of an existing server.
func (s *Store) UpdateServer(ctx context.Context, r *ServerRow) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers
		SET name = ?, hostname = ?, port = ?, username = ?, auth_method = ?,
		    password_sealed = ?, key_path = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.Hostname, r.Port, r.Username, r.AuthMethod,
		r.PasswordSealed, nullString(r.KeyPath), r.UpdatedAt, r.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("update server: %w", err)
	}
	return expectOne(res)
}

// DeleteServer removes a server. Its command history is kept.
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return expectOne(res)
}

// GetServer returns one server by id.
func (s *Store) GetServer(ctx context.Context, id string) (*ServerRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	r, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListServers returns every server ordered by name.
func (s *Store) ListServers(ctx context.Context) ([]*ServerRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []*ServerRow
	for rows.Next() {
		r, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(sc scanner) (*ServerRow, error) {
	var (
		r       ServerRow
		keyPath sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Name, &r.Hostname, &r.Port, &r.Username, &r.AuthMethod,
		&r.PasswordSealed, &keyPath, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan server: %w", err)
	}
	r.KeyPath = keyPath.String
	return &r, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
