package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

const maxNameLen = 64

var nameChars = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateName reports whether name can be used as a directory under
// the sessions root.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidName, name, maxNameLen)
	case !nameChars.MatchString(name):
		return fmt.Errorf("%w: %q may only contain a-z, 0-9, '_' and '-'", ErrInvalidName, name)
	}
	return nil
}
