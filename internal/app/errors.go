package app

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrPattern reports a table filter that is not a valid regular expression.
var ErrPattern = errors.New("invalid table pattern")

// Error is the single error type a backup, restore or header run returns.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CompileFilter compiles a table filter. A name is selected only when the
// whole name matches, ignoring case.
func CompileFilter(expr string) (*regexp.Regexp, error) {
	// Parsed alone first so a stray ")" cannot escape the anchors.
	if _, err := regexp.Compile(expr); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrPattern, expr, err)
	}
	re, err := regexp.Compile("(?i)^(?:" + expr + ")$")
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrPattern, expr, err)
	}
	return re, nil
}
