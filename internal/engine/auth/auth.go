package auth

import (
	"fmt"
	"strings"
)

// ForbiddenOverrideError indicates the caller holds none of the roles allowed to override a gate.
type ForbiddenOverrideError struct {
	Gate    string
	Roles   []string
	Allowed []string
}

func (e ForbiddenOverrideError) Error() string {
	have := "none"
	if len(e.Roles) > 0 {
		have = strings.Join(e.Roles, ",")
	}
	return fmt.Sprintf("override of %s gate requires one of [%s], have %s", e.Gate, strings.Join(e.Allowed, ","), have)
}

// HasAnyRole reports whether roles and allowed intersect. Matching ignores case.
func HasAnyRole(roles, allowed []string) bool {
	for _, r := range roles {
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(r), a) {
				return true
			}
		}
	}
	return false
}

// RequireOverrideRole returns ForbiddenOverrideError unless roles grants an override on gate.
func RequireOverrideRole(gate string, roles, allowed []string) error {
	if HasAnyRole(roles, allowed) {
		return nil
	}
	return ForbiddenOverrideError{Gate: gate, Roles: roles, Allowed: allowed}
}
