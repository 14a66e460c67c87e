package store

import (
	"context"
	"errors"

	"github.com/manzt/higlass-go/internal/model"
)

// ErrNotFound is returned when a registration is not found.
var ErrNotFound = errors.New("registration not found")

// Store defines the persistence operations for remote tileset registrations.
type Store interface {
	CreateRegistration(ctx context.Context, r *model.RemoteTileset) error
	GetRegistration(ctx context.Context, uid string) (*model.RemoteTileset, error)
	GetRegistrationByKey(ctx context.Context, fileURL, filetype string) (*model.RemoteTileset, error)
	ListRegistrations(ctx context.Context) ([]*model.RemoteTileset, error)
	DeleteRegistration(ctx context.Context, uid string) error
	Close() error
}
