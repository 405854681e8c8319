package enum

import (
	"fmt"
	"strings"
)

type named interface {
	~uint8
	String() string
}

// parse scans the open interval (beg, end) for a value whose String matches s.
func parse[T named](s string, beg, end T) (T, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for v := beg + 1; v < end; v++ {
		if v.String() == s {
			return v, nil
		}
	}
	return beg, fmt.Errorf("unknown value %q", s)
}
