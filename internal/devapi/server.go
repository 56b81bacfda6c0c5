// Package devapi is a local stand-in for the school REST API. It keeps
// accounts, memberships and OTP codes in memory and mints the same tokens the
// portal middleware reads.
package devapi

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/in-nis/school-portal/internal/auth"
	"github.com/in-nis/school-portal/internal/schoolapi"
)

const (
	TokenTTL = 7 * 24 * time.Hour
	OTPTTL   = 10 * time.Minute

	msgInvalidCredentials = "Invalid email or password"
	msgRoleNotAllowed     = "You do not have this role at the selected school"
	msgInvalidCode        = "Invalid or expired code"
)

var ErrDuplicateAccount = errors.New("devapi: account already exists")

type Account struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Phone        string
	PasswordHash []byte
	Memberships  []schoolapi.SchoolMembership
}

type otpEntry struct {
	code      string
	expiresAt time.Time
}

type Server struct {
	secret string
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*Account
	otps     map[string]otpEntry
}

func New(secret string) *Server {
	return &Server{
		secret:   secret,
		now:      time.Now,
		accounts: map[string]*Account{},
		otps:     map[string]otpEntry{},
	}
}

// NewSchool returns a reference with a fresh id.
func NewSchool(name string) schoolapi.SchoolRef {
	return schoolapi.SchoolRef{ID: uuid.NewString(), Name: name}
}

func Membership(school schoolapi.SchoolRef, roles ...auth.Role) schoolapi.SchoolMembership {
	m := schoolapi.SchoolMembership{SchoolID: school}
	for _, r := range roles {
		m.Roles = append(m.Roles, string(r))
	}
	return m
}

func (s *Server) AddAccount(email, password, firstName, lastName string, memberships ...schoolapi.SchoolMembership) (*Account, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAccount, email)
	}
	a := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
		Memberships:  memberships,
	}
	s.accounts[email] = a
	return a, nil
}

// Seed creates one account per login path, all sharing password.
func (s *Server) Seed(password string) error {
	north := NewSchool("North High")
	south := NewSchool("South Primary")

	seeds := []struct {
		email, first, last string
		memberships        []schoolapi.SchoolMembership
	}{
		{"parent@example.com", "Pat", "Parent", []schoolapi.SchoolMembership{Membership(north, auth.RoleParent)}},
		{"teacher@example.com", "Tess", "Teacher", []schoolapi.SchoolMembership{Membership(north, auth.RoleTeacher), Membership(south, auth.RoleTeacher)}},
		{"admin@example.com", "Ade", "Admin", []schoolapi.SchoolMembership{Membership(north, auth.RoleAdmin, auth.RoleTeacher)}},
		{"owner@example.com", "Olu", "Owner", []schoolapi.SchoolMembership{Membership(north, auth.RoleSuperAdmin), Membership(south, auth.RoleSuperAdmin, auth.RoleAdmin)}},
		{"new@example.com", "Nia", "New", nil},
	}
	for _, seed := range seeds {
		if _, err := s.AddAccount(seed.email, password, seed.first, seed.last, seed.memberships...); err != nil {
			return err
		}
	}
	log.Printf("✅ Seeded %d dev accounts", len(seeds))
	return nil
}

// PendingCode returns the OTP waiting for email, if any.
func (s *Server) PendingCode(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.otps[normalizeEmail(email)]
	if !ok || !s.now().Before(e.expiresAt) {
		return "", false
	}
	return e.code, true
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1/auth")
	{
		v1.POST("/login", s.login)
		v1.POST("/otp/send", s.sendOTP)
		v1.POST("/otp/verify", s.verifyOTP)
		v1.GET("/me", s.me)
	}
	return r
}

func (s *Server) login(c *gin.Context) {
	var req schoolapi.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, schoolapi.ErrorBody{Message: "Email and password are required"})
		return
	}

	account, ok := s.account(req.Email)
	if !ok || bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, schoolapi.ErrorBody{Message: msgInvalidCredentials})
		return
	}

	if req.SchoolID == "" {
		tokenType := auth.TokenIdentity
		if len(account.Memberships) == 0 {
			tokenType = auth.TokenOnboarding
		}
		token, err := s.mint(account, tokenType, "", "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, schoolapi.ErrorBody{Message: "Could not issue token"})
			return
		}
		respond(c, schoolapi.LoginResponse{AccessToken: token, Schools: account.Memberships})
		return
	}

	school, ok := account.school(req.SchoolID, req.Role)
	if !ok {
		c.JSON(http.StatusForbidden, schoolapi.ErrorBody{Message: msgRoleNotAllowed})
		return
	}
	token, err := s.mint(account, auth.TokenAccess, req.Role, school.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, schoolapi.ErrorBody{Message: "Could not issue token"})
		return
	}
	user := account.user()
	user.Role = req.Role
	user.School = &school
	respond(c, schoolapi.LoginResponse{AccessToken: token, User: &user})
}

func (s *Server) sendOTP(c *gin.Context) {
	var req schoolapi.OTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, schoolapi.ErrorBody{Message: "A valid email is required"})
		return
	}

	code, err := randomCode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, schoolapi.ErrorBody{Message: "Could not generate code"})
		return
	}
	email := normalizeEmail(req.Email)
	s.mu.Lock()
	s.otps[email] = otpEntry{code: code, expiresAt: s.now().Add(OTPTTL)}
	s.mu.Unlock()

	log.Printf("📨 OTP for %s: %s", email, code)
	c.JSON(http.StatusOK, schoolapi.Envelope[gin.H]{Success: true, Data: gin.H{}, Message: "Code sent"})
}

// verifyOTP consumes the code and returns an onboarding token, creating a
// bare account for first-time emails.
func (s *Server) verifyOTP(c *gin.Context) {
	var req schoolapi.OTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Code == "" {
		c.JSON(http.StatusBadRequest, schoolapi.ErrorBody{Message: "Email and code are required"})
		return
	}
	email := normalizeEmail(req.Email)

	s.mu.Lock()
	entry, ok := s.otps[email]
	if !ok || entry.code != req.Code || !s.now().Before(entry.expiresAt) {
		s.mu.Unlock()
		c.JSON(http.StatusUnauthorized, schoolapi.ErrorBody{Message: msgInvalidCode})
		return
	}
	delete(s.otps, email)
	account, exists := s.accounts[email]
	if !exists {
		account = &Account{ID: uuid.NewString(), Email: email}
		s.accounts[email] = account
	}
	s.mu.Unlock()

	token, err := s.mint(account, auth.TokenOnboarding, "", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, schoolapi.ErrorBody{Message: "Could not issue token"})
		return
	}
	respond(c, schoolapi.OTPResponse{AccessToken: token})
}

func (s *Server) me(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		c.JSON(http.StatusUnauthorized, schoolapi.ErrorBody{Message: "Missing token"})
		return
	}
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, schoolapi.ErrorBody{Message: "Invalid token"})
		return
	}
	account, ok := s.account(claims.Email)
	if !ok {
		c.JSON(http.StatusNotFound, schoolapi.ErrorBody{Message: "User not found"})
		return
	}

	user := account.user()
	if claims.SchoolID != "" {
		if school, ok := account.school(claims.SchoolID, claims.Role); ok {
			user.Role = claims.Role
			user.School = &school
		}
	}
	if claims.Type != auth.TokenAccess {
		user.Schools = account.Memberships
	}
	respond(c, user)
}

func (s *Server) account(email string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[normalizeEmail(email)]
	return a, ok
}

func (s *Server) mint(a *Account, tokenType, role, schoolID string) (string, error) {
	return auth.NewToken(s.secret, TokenTTL, auth.Claims{
		UserID:   a.ID,
		Email:    a.Email,
		Role:     role,
		SchoolID: schoolID,
		Type:     tokenType,
	})
}

func (a *Account) user() schoolapi.User {
	return schoolapi.User{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Phone:     a.Phone,
	}
}

func (a *Account) school(id, role string) (schoolapi.SchoolRef, bool) {
	for _, m := range a.Memberships {
		if m.SchoolID.ID != id {
			continue
		}
		for _, r := range m.Roles {
			if r == role {
				return m.SchoolID, true
			}
		}
	}
	return schoolapi.SchoolRef{}, false
}

func respond[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, schoolapi.Envelope[T]{Success: true, Data: data})
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
