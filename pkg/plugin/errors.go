package plugin

import "fmt"

// Error describes a failed plug-in operation.
type Error struct {
	Op  string
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("plugin %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("plugin %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op, id string, err error) error {
	return &Error{Op: op, ID: id, Err: err}
}

func opErrorf(op, id, format string, args ...any) error {
	return &Error{Op: op, ID: id, Err: fmt.Errorf(format, args...)}
}
