package auth

import (
	"errors"

	"github.com/in-nis/school-portal/internal/schoolapi"
)

var (
	// ErrNoValidSchools means the server listed schools but none carried a
	// recognised role. It is not the onboarding case.
	ErrNoValidSchools = errors.New("auth: no valid schools")
	ErrMissingToken   = errors.New("auth: login response has no access token")
)

// LoginResolution is the shape of a first login answer. It is one of
// OnboardingRequired, Resolved, SingleSchoolSingleRole or NeedsSelection.
type LoginResolution interface {
	loginResolution()
}

type OnboardingRequired struct {
	AccessToken string
}

type Resolved struct {
	AccessToken string
	User        AuthUser
	Role        Role
	SchoolID    string
}

type SingleSchoolSingleRole struct {
	AccessToken string
	Role        Role
	SchoolID    string
	School      School
}

type NeedsSelection struct {
	AccessToken string
	Schools     []School
}

func (OnboardingRequired) loginResolution()     {}
func (Resolved) loginResolution()               {}
func (SingleSchoolSingleRole) loginResolution() {}
func (NeedsSelection) loginResolution()         {}

// Classify decides what a login answer means for the selection flow.
func Classify(resp *schoolapi.LoginResponse) (LoginResolution, error) {
	if resp == nil || resp.AccessToken == "" {
		return nil, ErrMissingToken
	}

	if resp.User != nil {
		if res, ok, err := embeddedUser(resp); ok || err != nil {
			return res, err
		}
	}

	if len(resp.Schools) == 0 {
		return OnboardingRequired{AccessToken: resp.AccessToken}, nil
	}

	schools := FilterSchools(resp.Schools)
	switch {
	case len(schools) == 0:
		return nil, ErrNoValidSchools
	case len(schools) == 1 && len(schools[0].Roles) == 1:
		return SingleSchoolSingleRole{
			AccessToken: resp.AccessToken,
			Role:        schools[0].Roles[0],
			SchoolID:    schools[0].ID,
			School:      schools[0],
		}, nil
	default:
		return NeedsSelection{AccessToken: resp.AccessToken, Schools: schools}, nil
	}
}

// embeddedUser handles answers that already carry a populated user. The first
// valid school and its first valid role become the active context.
func embeddedUser(resp *schoolapi.LoginResponse) (LoginResolution, bool, error) {
	user := userFromAPI(resp.User)

	if len(resp.User.Schools) > 0 {
		schools := FilterSchools(resp.User.Schools)
		if len(schools) == 0 {
			return nil, false, ErrNoValidSchools
		}
		user.Role = schools[0].Roles[0]
		user.School = &SchoolInfo{ID: schools[0].ID, Name: schools[0].Name}
	}

	if user.Role == "" || user.School == nil {
		return nil, false, nil
	}
	return Resolved{
		AccessToken: resp.AccessToken,
		User:        user,
		Role:        user.Role,
		SchoolID:    user.School.ID,
	}, true, nil
}
