// Package deps checks for the presence of external commands before they are
// spawned, so that missing dependencies fail construction instead of leaving
// a half-started instance behind.
package deps

import "os/exec"

// Checker reports whether an external command is available.
type Checker interface {
	Exists(command string) bool
}

// PathChecker resolves commands against PATH.
type PathChecker struct{}

func (PathChecker) Exists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
