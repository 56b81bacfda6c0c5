package devapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/in-nis/school-portal/internal/auth"
	"github.com/in-nis/school-portal/internal/schoolapi"
)

const secret = "dev-test-secret"

func newTestAPI(t *testing.T) (*Server, *schoolapi.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := New(secret)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, schoolapi.New(ts.URL, 5*time.Second)
}

func TestLoginFlows(t *testing.T) {
	s, client := newTestAPI(t)
	north := NewSchool("North")
	if _, err := s.AddAccount("Ada@Example.com", "pw", "Ada", "Obi", Membership(north, auth.RoleTeacher, auth.RoleParent)); err != nil {
		t.Fatalf("add account: %v", err)
	}
	ctx := context.Background()

	_, err := client.Login(ctx, schoolapi.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	var apiErr *schoolapi.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != msgInvalidCredentials {
		t.Fatalf("expected 401 with message, got %v", err)
	}

	first, err := client.Login(ctx, schoolapi.LoginRequest{Email: "ada@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if first.AccessToken == "" || len(first.Schools) != 1 || first.Schools[0].SchoolID.ID != north.ID || first.User != nil {
		t.Fatalf("unexpected first login %+v", first)
	}
	claims, err := auth.ParseToken(secret, first.AccessToken)
	if err != nil || claims.Type != auth.TokenIdentity {
		t.Fatalf("expected identity token, got %+v (%v)", claims, err)
	}

	_, err = client.Login(ctx, schoolapi.LoginRequest{Email: "ada@example.com", Password: "pw", SchoolID: north.ID, Role: "admin"})
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for role not held, got %v", err)
	}

	scoped, err := client.Login(ctx, schoolapi.LoginRequest{Email: "ada@example.com", Password: "pw", SchoolID: north.ID, Role: "parent"})
	if err != nil {
		t.Fatalf("scoped login: unexpected error: %v", err)
	}
	if scoped.User == nil || scoped.User.Role != "parent" || scoped.User.School == nil || scoped.User.School.Name != "North" {
		t.Fatalf("unexpected scoped user %+v", scoped.User)
	}
	claims, err = auth.ParseToken(secret, scoped.AccessToken)
	if err != nil || claims.Type != auth.TokenAccess || claims.Role != "parent" || claims.SchoolID != north.ID {
		t.Fatalf("unexpected scoped claims %+v (%v)", claims, err)
	}

	me, err := client.Me(ctx, scoped.AccessToken)
	if err != nil {
		t.Fatalf("me: unexpected error: %v", err)
	}
	if me.Email != "ada@example.com" || me.Role != "parent" || len(me.Schools) != 0 {
		t.Fatalf("unexpected profile %+v", me)
	}
}

func TestOTPFlow(t *testing.T) {
	s, client := newTestAPI(t)
	ctx := context.Background()

	if err := client.SendOTP(ctx, "fresh@example.com"); err != nil {
		t.Fatalf("send otp: unexpected error: %v", err)
	}
	code, ok := s.PendingCode("fresh@example.com")
	if !ok || len(code) != 6 {
		t.Fatalf("expected a 6 digit pending code, got %q", code)
	}

	if _, err := client.VerifyOTP(ctx, "fresh@example.com", "nope"); err == nil {
		t.Fatal("expected wrong code to be rejected")
	}
	out, err := client.VerifyOTP(ctx, "fresh@example.com", code)
	if err != nil {
		t.Fatalf("verify otp: unexpected error: %v", err)
	}
	claims, err := auth.ParseToken(secret, out.AccessToken)
	if err != nil || claims.Type != auth.TokenOnboarding {
		t.Fatalf("expected onboarding token, got %+v (%v)", claims, err)
	}
	if _, ok := s.PendingCode("fresh@example.com"); ok {
		t.Fatal("expected code to be consumed")
	}
	if _, err := client.VerifyOTP(ctx, "fresh@example.com", code); err == nil {
		t.Fatal("expected reused code to be rejected")
	}
}

func TestOTPExpires(t *testing.T) {
	s, client := newTestAPI(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	if err := client.SendOTP(context.Background(), "late@example.com"); err != nil {
		t.Fatalf("send otp: unexpected error: %v", err)
	}
	code, _ := s.PendingCode("late@example.com")
	now = now.Add(OTPTTL + time.Second)
	if _, err := client.VerifyOTP(context.Background(), "late@example.com", code); err == nil {
		t.Fatal("expected expired code to be rejected")
	}
}

func TestSeedAndDuplicates(t *testing.T) {
	s := New(secret)
	if err := s.Seed("pw"); err != nil {
		t.Fatalf("seed: unexpected error: %v", err)
	}
	if _, err := s.AddAccount("PARENT@example.com", "pw", "", ""); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
	a, ok := s.account("new@example.com")
	if !ok || len(a.Memberships) != 0 {
		t.Fatalf("expected onboarding account without schools, got %+v", a)
	}
}

func TestMeRejectsMissingToken(t *testing.T) {
	s, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
