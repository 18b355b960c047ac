package driven

import (
	"context"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

// AccessLog defines the driven port for the append-only audit trail.
// Recording failures must never block request handling; callers log and move on.
type AccessLog interface {
	Record(ctx context.Context, e model.AccessEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.AccessEvent, error)
}
