// Package names validates instance names.
package names

import (
	"fmt"
	"regexp"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Valid reports whether name is usable as an instance name: non-empty,
// alphanumeric and underscore only. Names become directory components, so
// anything else is rejected.
func Valid(name string) bool {
	return nameRe.MatchString(name)
}

// Check returns a descriptive error for an invalid name, nil otherwise.
func Check(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if !Valid(name) {
		return fmt.Errorf("name %q contains characters outside [a-zA-Z0-9_]", name)
	}
	return nil
}
