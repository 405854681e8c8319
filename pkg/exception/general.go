package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrTypeUnsupported = errors.New("type unsupported")
	ErrInvalidArgument = errors.New("invalid argument")
)
