package rbac

import (
	"fmt"
	"regexp"
	"strings"
)

// DynamicPrefix is the reserved first section marking computed, non-stored
// semantics. It looks like an abstract action but is consumed entirely by
// the dynamic-permission subsystem: a route may never declare it.
const DynamicPrefix = "dynamic"

// AbstractActions is the fixed set of legal first sections for a
// route-backed permission name.
var AbstractActions = map[string]struct{}{
	"create": {},
	"get":    {},
	"update": {},
	"delete": {},
	"do":     {},
}

var targetPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// HasDynamicPrefix reports whether the name carries the reserved dynamic
// prefix.
func HasDynamicPrefix(name string) bool {
	return strings.HasPrefix(name, DynamicPrefix+":")
}

// ValidateName checks a permission name against the
// "<abstract-action>:<target>" convention: exactly one colon, a recognized
// abstract action, and a dash-separated alphanumeric target. Names with the
// dynamic prefix pass validation here; pairing them with actions is rejected
// later by the registry.
func ValidateName(name string) error {
	sections := strings.Split(name, ":")
	if len(sections) != 2 {
		return &InvalidNameError{Name: name, Reason: "want exactly one separating colon"}
	}
	action, target := sections[0], sections[1]
	if action != DynamicPrefix {
		if _, ok := AbstractActions[action]; !ok {
			return &InvalidNameError{Name: name, Reason: fmt.Sprintf("unrecognized abstract action %q", action)}
		}
	}
	if !targetPattern.MatchString(target) {
		return &InvalidNameError{Name: name, Reason: fmt.Sprintf("invalid target %q", target)}
	}
	return nil
}
