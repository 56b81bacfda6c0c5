package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/in-nis/school-portal/internal/auth"
	"github.com/in-nis/school-portal/internal/calendar"
	"github.com/in-nis/school-portal/internal/config"
	"github.com/in-nis/school-portal/internal/devapi"
	"github.com/in-nis/school-portal/internal/models"
	"github.com/in-nis/school-portal/internal/schoolapi"
	"github.com/in-nis/school-portal/internal/sessionstore"
)

const (
	testSecret   = "portal-test-secret"
	testPassword = "pw"
)

type stepBody struct {
	State           string         `json:"state"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	User            *auth.AuthUser `json:"user"`
	Schools         []auth.School  `json:"schools"`
	School          *auth.School   `json:"school"`
	Roles           []auth.Role    `json:"roles"`
}

type harness struct {
	t       *testing.T
	router  *gin.Engine
	dev     *devapi.Server
	repo    *calendar.MemoryRepository
	cfg     *config.Config
	cookies map[string]*http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dev := devapi.New(testSecret)
	if err := dev.Seed(testPassword); err != nil {
		t.Fatalf("seed dev api: %v", err)
	}
	ts := httptest.NewServer(dev.Router())
	t.Cleanup(ts.Close)
	client := schoolapi.New(ts.URL, 5*time.Second)

	store := sessionstore.NewMemory(time.Hour)
	registry := auth.NewRegistry(func(id string) *auth.Resolver {
		return auth.NewResolver(client, sessionstore.For(store, id))
	})
	repo := calendar.NewMemoryRepository(models.Term{
		Session:   "2024/2025",
		Name:      "1",
		StartDate: time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 13, 0, 0, 0, 0, time.UTC),
	})
	cfg := &config.Config{
		JWTSecret:    testSecret,
		CookieMaxAge: 7 * 24 * time.Hour,
		CookieSecure: true,
		Timezone:     "UTC",
	}

	return &harness{
		t:       t,
		router:  SetupRouter(cfg, Deps{Registry: registry, Calendar: repo, School: client}),
		dev:     dev,
		repo:    repo,
		cfg:     cfg,
		cookies: map[string]*http.Cookie{},
	}
}

// do sends a request carrying every cookie the harness has collected, then
// applies the response's Set-Cookie headers the way a browser would.
func (h *harness) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range h.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(h.cookies, c.Name)
			continue
		}
		h.cookies[c.Name] = c
	}
	return rec
}

func (h *harness) step(rec *httptest.ResponseRecorder) stepBody {
	h.t.Helper()
	if rec.Code != http.StatusOK {
		h.t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out stepBody
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		h.t.Fatalf("decode step: %v", err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"], body["message"]
}

func login(email string) gin.H {
	return gin.H{"email": email, "password": testPassword}
}

func TestLoginThroughSchoolAndRoleChoice(t *testing.T) {
	h := newHarness(t)

	step := h.step(h.do(http.MethodPost, "/auth/login", login("teacher@example.com")))
	if step.State != "awaiting_school_choice" || len(step.Schools) != 2 || step.IsAuthenticated {
		t.Fatalf("expected school choice, got %+v", step)
	}
	if h.cookies[auth.SessionIDCookie] == nil || h.cookies[auth.TokenCookie] == nil {
		t.Fatalf("expected session id and pending token cookies, got %v", h.cookies)
	}
	if h.cookies[auth.UserCookie] != nil {
		t.Fatal("user cookie must wait for resolution")
	}

	rec := h.do(http.MethodGet, "/calendar/terms", nil)
	if code, _ := errorCode(t, rec); rec.Code != http.StatusUnauthorized || code != "invalid_token" {
		t.Fatalf("expected pending login to be kept out of protected routes, got %d %s", rec.Code, code)
	}

	south := step.Schools[1]
	step = h.step(h.do(http.MethodPost, "/auth/select-school", gin.H{"schoolId": south.ID}))
	if step.State != "awaiting_role_choice" || len(step.Roles) != 1 || step.Roles[0] != auth.RoleTeacher {
		t.Fatalf("expected teacher role prompt, got %+v", step)
	}

	step = h.step(h.do(http.MethodPost, "/auth/select-role", gin.H{"role": "teacher"}))
	if step.State != "resolved" || !step.IsAuthenticated || step.User == nil {
		t.Fatalf("expected resolved, got %+v", step)
	}
	if step.User.School == nil || step.User.School.ID != south.ID || step.User.Role != auth.RoleTeacher {
		t.Fatalf("unexpected resolved user %+v", step.User)
	}

	userCookie := h.cookies[auth.UserCookie]
	if userCookie == nil || userCookie.MaxAge != 604800 || !userCookie.Secure || userCookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected user cookie %+v", userCookie)
	}
	data, err := auth.DecodeUserData(userCookie.Value)
	if err != nil || data.SchoolID != south.ID || data.Role != auth.RoleTeacher {
		t.Fatalf("unexpected user cookie data %+v (%v)", data, err)
	}

	claims, err := auth.ParseToken(testSecret, h.cookies[auth.TokenCookie].Value)
	if err != nil || claims.Type != auth.TokenAccess || claims.SchoolID != south.ID {
		t.Fatalf("expected role scoped token, got %+v (%v)", claims, err)
	}

	step = h.step(h.do(http.MethodGet, "/auth/session", nil))
	if step.State != "resolved" {
		t.Fatalf("expected session to stick to the browser, got %s", step.State)
	}
}

func TestSingleSchoolLoginAndLogout(t *testing.T) {
	h := newHarness(t)

	step := h.step(h.do(http.MethodPost, "/auth/login", login("parent@example.com")))
	if step.State != "resolved" || step.User == nil || step.User.Role != auth.RoleParent {
		t.Fatalf("expected immediate resolution, got %+v", step)
	}

	rec := h.do(http.MethodGet, "/attendance/period?frequency=custom&from=2024-09-02&to=2024-09-08", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodPost, "/admin/calendar/reload", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected parents to be kept out of admin routes, got %d", rec.Code)
	}

	step = h.step(h.do(http.MethodPost, "/auth/logout", nil))
	if step.State != "anonymous" || step.IsAuthenticated || step.User != nil {
		t.Fatalf("expected anonymous after logout, got %+v", step)
	}
	if h.cookies[auth.TokenCookie] != nil || h.cookies[auth.UserCookie] != nil {
		t.Fatalf("expected auth cookies to be cleared, got %v", h.cookies)
	}

	rec = h.do(http.MethodGet, "/attendance/period?frequency=week", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/auth/login", gin.H{"email": "parent@example.com", "password": "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	code, message := errorCode(t, rec)
	if code != "login_failed" || message != "Invalid email or password" {
		t.Fatalf("unexpected error %q %q", code, message)
	}
	if h.cookies[auth.TokenCookie] != nil {
		t.Fatal("failed login must not leave a token cookie")
	}

	rec = h.do(http.MethodPost, "/auth/login", gin.H{"email": "not-an-email", "password": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid email, got %d", rec.Code)
	}

	step := h.step(h.do(http.MethodGet, "/auth/session", nil))
	if step.State != "anonymous" {
		t.Fatalf("expected anonymous, got %s", step.State)
	}
}

func TestSelectRoleValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/auth/select-role", gin.H{"role": "teacher"})
	if code, _ := errorCode(t, rec); rec.Code != http.StatusConflict || code != "invalid_state" {
		t.Fatalf("expected 409 invalid_state, got %d %s", rec.Code, code)
	}

	step := h.step(h.do(http.MethodPost, "/auth/login", login("admin@example.com")))
	if step.State != "awaiting_role_choice" || step.School == nil || len(step.Roles) != 2 {
		t.Fatalf("expected role prompt for one school, got %+v", step)
	}

	rec = h.do(http.MethodPost, "/auth/select-role", gin.H{"role": "janitor"})
	if code, _ := errorCode(t, rec); rec.Code != http.StatusBadRequest || code != "unknown_role" {
		t.Fatalf("expected 400 unknown_role, got %d %s", rec.Code, code)
	}
	rec = h.do(http.MethodPost, "/auth/select-role", gin.H{"role": "student"})
	if code, _ := errorCode(t, rec); rec.Code != http.StatusBadRequest || code != "role_not_offered" {
		t.Fatalf("expected 400 role_not_offered, got %d %s", rec.Code, code)
	}
	rec = h.do(http.MethodPost, "/auth/select-school", gin.H{"schoolId": "elsewhere"})
	if code, _ := errorCode(t, rec); rec.Code != http.StatusBadRequest || code != "unknown_school" {
		t.Fatalf("expected 400 unknown_school, got %d %s", rec.Code, code)
	}

	step = h.step(h.do(http.MethodPost, "/auth/select-role", gin.H{"role": "admin"}))
	if step.State != "resolved" || step.User.Role != auth.RoleAdmin {
		t.Fatalf("expected admin session, got %+v", step)
	}
}

func TestOnboarding(t *testing.T) {
	h := newHarness(t)

	step := h.step(h.do(http.MethodPost, "/auth/login", login("new@example.com")))
	if step.State != "onboarding_pending" || !step.IsAuthenticated || step.User != nil {
		t.Fatalf("expected onboarding, got %+v", step)
	}
	if h.cookies[auth.TokenCookie] == nil || h.cookies[auth.UserCookie] != nil {
		t.Fatalf("expected token only cookies, got %v", h.cookies)
	}

	other := newHarness(t)
	rec := other.do(http.MethodPost, "/auth/otp/send", gin.H{"email": "fresh@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	code, ok := other.dev.PendingCode("fresh@example.com")
	if !ok {
		t.Fatal("expected a pending code")
	}

	rec = other.do(http.MethodPost, "/auth/otp/verify", gin.H{"email": "fresh@example.com", "code": "000000x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected malformed code to be rejected, got %d", rec.Code)
	}

	step = other.step(other.do(http.MethodPost, "/auth/otp/verify", gin.H{"email": "fresh@example.com", "code": code}))
	if step.State != "onboarding_pending" {
		t.Fatalf("expected onboarding, got %+v", step)
	}

	rec = other.do(http.MethodGet, "/auth/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected profile, got %d: %s", rec.Code, rec.Body.String())
	}
	var me schoolapi.User
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil || me.Email != "fresh@example.com" {
		t.Fatalf("unexpected profile %+v (%v)", me, err)
	}
}

func TestAttendancePeriod(t *testing.T) {
	h := newHarness(t)
	token, err := auth.NewToken(testSecret, time.Hour, auth.Claims{UserID: "u1", Email: "t@example.com", Role: "teacher", SchoolID: "s1", Type: auth.TokenAccess})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	tests := []struct {
		name     string
		query    string
		want     int
		wantCode string
		wantBody PeriodResponse
	}{
		{
			name:  "custom",
			query: "frequency=custom&from=2024-09-06&to=2024-09-10",
			want:  http.StatusOK,
			wantBody: PeriodResponse{
				From:      "2024-09-06",
				To:        "2024-09-10",
				ValidDays: []string{"2024-09-06", "2024-09-09", "2024-09-10"},
			},
		},
		{
			name:  "weekend only custom",
			query: "frequency=custom&from=2024-09-07&to=2024-09-08",
			want:  http.StatusOK,
			wantBody: PeriodResponse{
				From:      "2024-09-07",
				To:        "2024-09-08",
				ValidDays: []string{},
			},
		},
		{
			name:     "half term",
			query:    "frequency=half-term&session=2024/2025&term=1",
			want:     http.StatusOK,
			wantBody: PeriodResponse{From: "2024-09-02", To: "2024-10-23"},
		},
		{name: "unknown frequency", query: "frequency=fortnight", want: http.StatusBadRequest, wantCode: "unknown_frequency"},
		{name: "missing term", query: "frequency=term&session=1999/2000&term=1", want: http.StatusNotFound, wantCode: "term_unavailable"},
		{name: "missing session", query: "frequency=session&session=1999/2000", want: http.StatusNotFound, wantCode: "session_unavailable"},
		{name: "bad date", query: "frequency=custom&from=06/09/2024&to=2024-09-10", want: http.StatusBadRequest, wantCode: "invalid_date"},
		{name: "inverted", query: "frequency=custom&from=2024-09-10&to=2024-09-06", want: http.StatusBadRequest, wantCode: "invalid_range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/attendance/period?"+tt.query, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			h.router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				if code, _ := errorCode(t, rec); code != tt.wantCode {
					t.Fatalf("expected %s, got %s", tt.wantCode, code)
				}
				return
			}
			var got PeriodResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.From != tt.wantBody.From || got.To != tt.wantBody.To {
				t.Fatalf("expected %s..%s, got %s..%s", tt.wantBody.From, tt.wantBody.To, got.From, got.To)
			}
			if tt.wantBody.ValidDays != nil && !equalStrings(got.ValidDays, tt.wantBody.ValidDays) {
				t.Fatalf("expected valid days %v, got %v", tt.wantBody.ValidDays, got.ValidDays)
			}
		})
	}
}

func TestAdminReloadsCalendar(t *testing.T) {
	h := newHarness(t)
	h.cfg.CalendarPath = writeCalendar(t)

	h.step(h.do(http.MethodPost, "/auth/login", login("admin@example.com")))
	h.step(h.do(http.MethodPost, "/auth/select-role", gin.H{"role": "admin"}))

	rec := h.do(http.MethodPost, "/admin/calendar/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out["terms"] != 2 {
		t.Fatalf("expected 2 terms imported, got %v (%v)", out, err)
	}

	rec = h.do(http.MethodGet, "/calendar/terms", nil)
	var terms []models.Term
	if err := json.Unmarshal(rec.Body.Bytes(), &terms); err != nil || len(terms) != 2 || terms[0].Session != "2025/2026" {
		t.Fatalf("expected the new calendar, got %+v (%v)", terms, err)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func writeCalendar(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Session", "Term", "Start", "End"},
		{"2025/2026", "1", "2025-09-01", "2025-12-12"},
		{"2025/2026", "2", "2026-01-05", "2026-03-27"},
	}
	for i, row := range rows {
		axis, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, axis, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "calendar.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
