package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.cadenza/sessions, so the
// charset is restricted to lowercase path-safe characters. The length cap
// keeps lock and log paths well under filesystem limits.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name can safely serve as a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 lowercase letters, digits, '-' or '_'", name)
	}
	return nil
}
