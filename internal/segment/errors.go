package segment

import "fmt"

// NotFoundError is returned by ReadFrom when the named segment file is
// absent, distinct from a generic I/O error.
type NotFoundError struct {
	ID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("segment: segment %d not found", e.ID)
}
