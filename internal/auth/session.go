package auth

import (
	"context"

	"github.com/in-nis/school-portal/internal/schoolapi"
)

type SchoolInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AuthUser struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Phone     string      `json:"phone,omitempty"`
	Role      Role        `json:"role,omitempty"`
	School    *SchoolInfo `json:"school,omitempty"`
}

// AuthSession is what the rest of the portal reads. IsAuthenticated implies a
// token; User stays nil until a school and role are resolved.
type AuthSession struct {
	Token           string    `json:"token"`
	User            *AuthUser `json:"user"`
	IsAuthenticated bool      `json:"isAuthenticated"`
}

func Anonymous() AuthSession {
	return AuthSession{}
}

// SessionStore is the durable mirror of one browser's session.
type SessionStore interface {
	Load(ctx context.Context) (AuthSession, bool, error)
	Save(ctx context.Context, s AuthSession) error
	Clear(ctx context.Context) error
}

func userFromAPI(u *schoolapi.User) AuthUser {
	out := AuthUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
	}
	if role, err := ParseRole(u.Role); err == nil {
		out.Role = role
	}
	if u.School != nil && u.School.ID != "" {
		out.School = &SchoolInfo{ID: u.School.ID, Name: u.School.Name}
	}
	return out
}
