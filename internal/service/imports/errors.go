package imports

import "errors"

// Sentinel errors for the imports service layer.
var (
	ErrNotFound              = errors.New("import not found")
	ErrMissingIdempotencyKey = errors.New("missing idempotency key")
	ErrMissingTenant         = errors.New("missing tenant")
)
