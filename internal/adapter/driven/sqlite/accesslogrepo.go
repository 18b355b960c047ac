package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccessLog = (*AccessLogRepo)(nil)

// AccessLogRepo is the SQLite implementation of the AccessLog port interface.
// Rows are append-only; there is no update or delete path.
type AccessLogRepo struct {
	db *DB
}

// NewAccessLogRepo creates a new AccessLogRepo backed by the given DB.
func NewAccessLogRepo(db *DB) *AccessLogRepo {
	return &AccessLogRepo{db: db}
}

// Record appends one audit event.
func (r *AccessLogRepo) Record(ctx context.Context, e model.AccessEvent) error {
	const query = `INSERT INTO access_log (user_id, token_id, service, operation, action, decision, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		e.UserID, e.TokenID, e.Service, e.Operation, e.Action,
		string(e.Decision), e.Reason, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("record access event: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent events, newest first.
func (r *AccessLogRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.AccessEvent, error) {
	const query = `SELECT id, user_id, token_id, service, operation, action, decision, reason, created_at
		FROM access_log WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Reader.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list access events for user %s: %w", userID, err)
	}
	defer rows.Close()

	var events []model.AccessEvent
	for rows.Next() {
		var (
			e         model.AccessEvent
			decision  string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TokenID, &e.Service,
			&e.Operation, &e.Action, &decision, &e.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		e.Decision = model.Decision(decision)

		e.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for event %d: %w", e.ID, err)
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access events: %w", err)
	}
	return events, nil
}
