package authstore

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
)

// ErrInvalidRecord is returned when a stored record cannot be decoded.
var ErrInvalidRecord = errors.New("authstore: invalid record")

// Store loads and saves the app authorization.
//
// Load returns a zero AuthInfo and no error when nothing has been stored.
type Store interface {
	Load(ctx context.Context) (freeboxos.AuthInfo, error)
	Save(ctx context.Context, info freeboxos.AuthInfo) error
	Clear(ctx context.Context) error
}
