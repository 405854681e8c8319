package exception

import "github.com/yanun0323/errors"

var ErrUnsupported = errors.New("unsupported operation")

// UnsupportedError names the operation a collaborator does not implement.
type UnsupportedError struct {
	Operation string
}

// Unsupported returns an error tagged with the unsupported operation.
func Unsupported(operation string) error {
	return UnsupportedError{Operation: operation}
}

func (e UnsupportedError) Error() string {
	return "unsupported operation: " + e.Operation
}

func (e UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}
