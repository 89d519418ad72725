package record

import "fmt"

// KeyNotFoundError is returned when a read reaches a missing key.
type KeyNotFoundError struct {
	Path string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("record: key %q not found", e.Path)
}

// PathError is returned when a write cannot follow its path, for example
// through a scalar or past the end of a list.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("record: cannot set %q: %s", e.Path, e.Reason)
}
