package driven

import (
	"context"
	"errors"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

// ErrUserNotFound is returned when no user row matches the given id.
var ErrUserNotFound = errors.New("user not found")

// UserStore defines the driven port for user persistence.
type UserStore interface {
	Create(ctx context.Context, u model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
}
