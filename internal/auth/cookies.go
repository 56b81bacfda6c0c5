package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"
)

const (
	TokenCookie     = "auth-token"
	UserCookie      = "user-data"
	SessionIDCookie = "portal-session"
)

type CookieOptions struct {
	MaxAge time.Duration
	Secure bool
	Path   string
}

// UserData is the subset of the user exposed to server-rendered pages.
type UserData struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Role       Role   `json:"role"`
	SchoolID   string `json:"schoolId"`
	SchoolName string `json:"schoolName"`
}

func NewUserData(u AuthUser) UserData {
	d := UserData{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
	if u.School != nil {
		d.SchoolID = u.School.ID
		d.SchoolName = u.School.Name
	}
	return d
}

// EncodeUserData serialises d as base64url JSON so it survives as a cookie value.
func EncodeUserData(d UserData) (string, error) {
	buf, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func DecodeUserData(value string) (UserData, error) {
	var d UserData
	buf, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return d, err
	}
	err = json.Unmarshal(buf, &d)
	return d, err
}

// WriteSessionCookies mirrors step into the browser: the token cookie whenever
// there is a token, the user cookie only once resolved. Anything else is expired.
func WriteSessionCookies(w http.ResponseWriter, step Step, opts CookieOptions) error {
	if step.Session.Token == "" {
		expire(w, TokenCookie, opts)
	} else {
		http.SetCookie(w, newCookie(TokenCookie, step.Session.Token, opts))
	}

	if step.State != StateResolved || step.Session.User == nil {
		expire(w, UserCookie, opts)
		return nil
	}
	value, err := EncodeUserData(NewUserData(*step.Session.User))
	if err != nil {
		return err
	}
	http.SetCookie(w, newCookie(UserCookie, value, opts))
	return nil
}

// WriteSessionID sets the HttpOnly cookie that keys the browser's resolver.
func WriteSessionID(w http.ResponseWriter, id string, opts CookieOptions) {
	http.SetCookie(w, newCookie(SessionIDCookie, id, opts))
}

func ClearSessionCookies(w http.ResponseWriter, opts CookieOptions) {
	expire(w, TokenCookie, opts)
	expire(w, UserCookie, opts)
}

func newCookie(name, value string, opts CookieOptions) *http.Cookie {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(opts.MaxAge / time.Second),
		Secure:   opts.Secure,
		HttpOnly: name == SessionIDCookie,
		SameSite: http.SameSiteStrictMode,
	}
}

func expire(w http.ResponseWriter, name string, opts CookieOptions) {
	c := newCookie(name, "", opts)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}
