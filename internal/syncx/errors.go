package syncx

import "errors"

var (
	// ErrNotFound is returned when a queue item or conflict id does not
	// exist. Callers translate it to a hard failure, never swallow it.
	ErrNotFound = errors.New("syncx: not found")
)
