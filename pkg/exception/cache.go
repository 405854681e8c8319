package exception

import (
	"errors"

	xerrors "github.com/yanun0323/errors"
)

// Cache integrity errors
var (
	ErrDuplicateKey   = xerrors.New("cache: duplicate key")
	ErrNotFound       = xerrors.New("cache: not found")
	ErrImmutableField = xerrors.New("cache: immutable field changed")
)

// IsFatal reports whether err breaks a cache invariant and must reach the session controller.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrImmutableField)
}
