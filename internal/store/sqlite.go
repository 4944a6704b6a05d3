package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite stores sessions and reset requests in a single database file.
type SQLite struct {
	db *sql.DB
	// writeMu serializes writers to avoid SQLITE_BUSY under concurrent requests.
	writeMu sync.Mutex
}

var _ Store = (*SQLite)(nil)

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		in_scope_count INTEGER NOT NULL DEFAULT 0,
		out_of_scope_count INTEGER NOT NULL DEFAULT 0,
		history_json TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reset_requests (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		email TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		resolved_at INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reset_requests_one_pending
		ON reset_requests(session_id) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_reset_requests_status_created
		ON reset_requests(status, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, in_scope_count, out_of_scope_count, history_json, version, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var (
		sess                 domain.Session
		history              string
		createdAt, updatedAt int64
	)
	err := row.Scan(&sess.ID, &sess.InScopeCount, &sess.OutOfScopeCount, &history, &sess.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := json.Unmarshal([]byte(history), &sess.History); err != nil {
		return nil, fmt.Errorf("decode session history: %w", err)
	}
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.UpdatedAt = time.Unix(0, updatedAt)

	return &sess, nil
}

func (s *SQLite) PutSession(ctx context.Context, sess *domain.Session, expectedVersion int64) error {
	history := sess.History
	if history == nil {
		history = []domain.Turn{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode session history: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result sql.Result
	if expectedVersion == 0 {
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, in_scope_count, out_of_scope_count, history_json, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			sess.ID, sess.InScopeCount, sess.OutOfScopeCount, string(historyJSON),
			sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
		)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE sessions
			SET in_scope_count = ?, out_of_scope_count = ?, history_json = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			sess.InScopeCount, sess.OutOfScopeCount, string(historyJSON), sess.UpdatedAt.UnixNano(),
			sess.ID, expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

const resetColumns = `id, session_id, email, status, created_at, updated_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResetRequest(row rowScanner) (*domain.ResetRequest, error) {
	var (
		req                  domain.ResetRequest
		status               string
		createdAt, updatedAt int64
		resolvedAt           sql.NullInt64
	)
	if err := row.Scan(&req.ID, &req.SessionID, &req.Email, &status, &createdAt, &updatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	req.Status = domain.RequestStatus(status)
	req.CreatedAt = time.Unix(0, createdAt)
	req.UpdatedAt = time.Unix(0, updatedAt)
	if resolvedAt.Valid {
		ts := time.Unix(0, resolvedAt.Int64)
		req.ResolvedAt = &ts
	}
	return &req, nil
}

func (s *SQLite) UpsertPending(ctx context.Context, sessionID, email string, now time.Time) (*domain.ResetRequest, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanResetRequest(tx.QueryRowContext(ctx,
		`SELECT `+resetColumns+` FROM reset_requests WHERE session_id = ? AND status = 'pending'`, sessionID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		req := &domain.ResetRequest{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Email:     email,
			Status:    domain.RequestPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reset_requests (id, session_id, email, status, created_at, updated_at)
			VALUES (?, ?, ?, 'pending', ?, ?)`,
			req.ID, sessionID, email, now.UnixNano(), now.UnixNano(),
		); err != nil {
			return nil, false, fmt.Errorf("insert reset request: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit reset request: %w", err)
		}
		return req, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("find pending reset request: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE reset_requests SET email = ?, updated_at = ? WHERE id = ?`,
		email, now.UnixNano(), existing.ID,
	); err != nil {
		return nil, false, fmt.Errorf("update reset request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit reset request: %w", err)
	}

	existing.Email = email
	existing.UpdatedAt = time.Unix(0, now.UnixNano())
	return existing, false, nil
}

func (s *SQLite) GetResetRequest(ctx context.Context, id string) (*domain.ResetRequest, error) {
	req, err := scanResetRequest(s.db.QueryRowContext(ctx,
		`SELECT `+resetColumns+` FROM reset_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reset request: %w", err)
	}
	return req, nil
}

func (s *SQLite) PendingResetRequest(ctx context.Context, sessionID string) (*domain.ResetRequest, error) {
	req, err := scanResetRequest(s.db.QueryRowContext(ctx,
		`SELECT `+resetColumns+` FROM reset_requests WHERE session_id = ? AND status = 'pending'`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending reset request: %w", err)
	}
	return req, nil
}

func (s *SQLite) ListResetRequests(ctx context.Context, status domain.RequestStatus) ([]*domain.ResetRequest, error) {
	query := `SELECT ` + resetColumns + ` FROM reset_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reset requests: %w", err)
	}
	defer rows.Close()

	out := []*domain.ResetRequest{}
	for rows.Next() {
		req, err := scanResetRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reset request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *SQLite) ResolveResetRequest(ctx context.Context, id string, status domain.RequestStatus, at time.Time) (*domain.ResetRequest, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE reset_requests SET status = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(status), at.UnixNano(), at.UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve reset request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}

	req, err := s.GetResetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domain.ErrNotFound
	}
	if rows == 0 {
		return nil, domain.ErrInvalidState
	}
	return req, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
