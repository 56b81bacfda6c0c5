package auth

import (
	"errors"
	"fmt"

	"github.com/in-nis/school-portal/internal/schoolapi"
)

var ErrUnknownRole = errors.New("auth: unknown role")

type Role string

const (
	RoleSuperAdmin Role = "superAdmin"
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleParent     Role = "parent"
	RoleStudent    Role = "student"
)

// Roles is the closed set of portal roles.
var Roles = []Role{RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleParent, RoleStudent}

func ParseRole(value string) (Role, error) {
	for _, r := range Roles {
		if string(r) == value {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, value)
}

// School is a membership that survived role filtering: it always has an id
// and at least one recognised role.
type School struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Roles []Role `json:"roles"`
}

func (s School) HasRole(role Role) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Membership converts s back to the wire shape.
func (s School) Membership() schoolapi.SchoolMembership {
	roles := make([]string, len(s.Roles))
	for i, r := range s.Roles {
		roles[i] = string(r)
	}
	return schoolapi.SchoolMembership{
		SchoolID: schoolapi.SchoolRef{ID: s.ID, Name: s.Name},
		Roles:    roles,
	}
}

// FilterSchools keeps recognised roles only and drops schools left without
// any. Order is preserved and repeated roles collapse to their first use.
func FilterSchools(raw []schoolapi.SchoolMembership) []School {
	schools := make([]School, 0, len(raw))
	for _, m := range raw {
		if m.SchoolID.ID == "" {
			continue
		}
		var roles []Role
		for _, value := range m.Roles {
			role, err := ParseRole(value)
			if err != nil {
				continue
			}
			if !containsRole(roles, role) {
				roles = append(roles, role)
			}
		}
		if len(roles) == 0 {
			continue
		}
		schools = append(schools, School{ID: m.SchoolID.ID, Name: m.SchoolID.Name, Roles: roles})
	}
	return schools
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
