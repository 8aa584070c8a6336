package util

import (
	"regexp"
)

var (
	profileIDRegex = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,128}$`)
	taskIDRegex    = regexp.MustCompile(`^(todo|planner)-[A-Za-z0-9_-]{1,64}$`)
)

// IsValidProfileID accepts Experience user ids usable as storage and channel scopes.
func IsValidProfileID(s string) bool {
	return profileIDRegex.MatchString(s)
}

func IsValidTaskID(s string) bool {
	return taskIDRegex.MatchString(s)
}
