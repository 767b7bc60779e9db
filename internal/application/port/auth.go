package port

import (
	"context"

	"xoracle/internal/domain/model"
)

// Authorizer answers role membership checks before gated operations.
type Authorizer interface {
	HasRole(ctx context.Context, role model.Role, caller model.Identity) (bool, error)
}
