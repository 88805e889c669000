package mot

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Role is trust level of a tracked person
type Role uint8

const (
	// RoleVisitor is default role of every new track
	RoleVisitor Role = iota
	// RoleStaff is assigned by a match against authorized personnel registry
	RoleStaff
	// RoleSuspect is assigned by a match against suspects registry
	RoleSuspect
)

var roleNames = [...]string{
	RoleVisitor: "Visitor",
	RoleStaff:   "Staff",
	RoleSuspect: "Suspect",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", r)
}

// ParseRole parses role name (case insensitive)
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Role(i), nil
		}
	}
	return RoleVisitor, errors.Errorf("unknown role '%s'", s)
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity is result of face identification applied to a track
type Identity struct {
	Name          string
	Role          Role
	Confirmed     bool
	LastCheckTime time.Time
	MatchScore    float64
}

// rolePolicy describes how a role changes suspicion state
type rolePolicy struct {
	// Authorized people are allowed to stand still or walk around
	skipBehavior bool
	// Applied once identity is resolved to the role
	apply func(track *Track, name string)
}

var rolePolicies = map[Role]rolePolicy{
	RoleVisitor: {
		apply: func(*Track, string) {},
	},
	RoleStaff: {
		skipBehavior: true,
		apply: func(track *Track, _ string) {
			track.suspicionScore = 0
			// Staff clearance never silences weapon alerts
			track.retainAlerts(func(tag string) bool {
				return strings.Contains(tag, WeaponTagKeyword)
			})
		},
	},
	RoleSuspect: {
		apply: func(track *Track, name string) {
			track.suspicionScore = MaxSuspicionScore
			tag := SuspectAlertTag(name)
			if !track.HasAlert(tag) {
				track.activeAlerts = append(track.activeAlerts, tag)
			}
		},
	},
}

func policyFor(role Role) rolePolicy {
	if p, ok := rolePolicies[role]; ok {
		return p
	}
	return rolePolicies[RoleVisitor]
}

// SuspectAlertTag returns alert tag added on suspect identification
func SuspectAlertTag(name string) string {
	return "Identified Suspect: " + name
}
