package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/in-nis/school-portal/internal/auth"
	"github.com/in-nis/school-portal/internal/calendar"
	"github.com/in-nis/school-portal/internal/config"
	"github.com/in-nis/school-portal/internal/models"
	"github.com/in-nis/school-portal/internal/period"
	"github.com/in-nis/school-portal/internal/schoolapi"
)

const resolverKey = "resolver"

// SchoolAPI is the part of the remote API the handlers call directly. Login
// goes through the resolvers.
type SchoolAPI interface {
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*schoolapi.OTPResponse, error)
	Me(ctx context.Context, token string) (*schoolapi.User, error)
}

type Handler struct {
	cfg      *config.Config
	registry *auth.Registry
	calendar calendar.Repository
	school   SchoolAPI
	health   func(ctx context.Context) error
}

func (h *Handler) cookieOpts() auth.CookieOptions {
	return auth.CookieOptions{MaxAge: h.cfg.CookieMaxAge, Secure: h.cfg.CookieSecure}
}

// StepResponse is the resolver view sent to the browser. The token itself
// only travels in the auth-token cookie.
type StepResponse struct {
	State           auth.State     `json:"state" swaggertype:"string"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	User            *auth.AuthUser `json:"user"`
	Schools         []auth.School  `json:"schools,omitempty"`
	School          *auth.School   `json:"school,omitempty"`
	Roles           []auth.Role    `json:"roles,omitempty"`
}

func newStepResponse(step auth.Step) StepResponse {
	return StepResponse{
		State:           step.State,
		IsAuthenticated: step.Session.IsAuthenticated,
		User:            step.Session.User,
		Schools:         step.Schools,
		School:          step.School,
		Roles:           step.Roles,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type SelectSchoolRequest struct {
	SchoolID string `json:"schoolId" binding:"required"`
}

type SelectRoleRequest struct {
	Role string `json:"role" binding:"required,schoolrole"`
}

type OTPSendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type OTPVerifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

// PeriodResponse carries dates as YYYY-MM-DD.
type PeriodResponse struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	ValidDays []string `json:"validDays"`
}

// Health godoc
// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			log.Println("❌ Health check failed:", err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "dependency_error"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Login godoc
// @Summary      Log in
// @Description  Runs the first login call and moves to onboarding, school choice, role choice or resolved
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      LoginRequest  true  "Credentials"
// @Success      200   {object}  StepResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	r := resolverFrom(c)
	step, err := r.Login(c.Request.Context(), auth.Credentials{Email: req.Email, Password: req.Password})
	h.respondStep(c, step, err)
}

// SelectSchool godoc
// @Summary      Choose a school
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      SelectSchoolRequest  true  "School"
// @Success      200   {object}  StepResponse
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /auth/select-school [post]
func (h *Handler) SelectSchool(c *gin.Context) {
	var req SelectSchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	step, err := resolverFrom(c).SelectSchool(c.Request.Context(), req.SchoolID)
	h.respondStep(c, step, err)
}

// SelectRole godoc
// @Summary      Choose a role
// @Description  Performs the role-scoped login for the chosen school
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      SelectRoleRequest  true  "Role"
// @Success      200   {object}  StepResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /auth/select-role [post]
func (h *Handler) SelectRole(c *gin.Context) {
	var req SelectRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "schoolrole" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_role"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	step, err := resolverFrom(c).SelectRole(c.Request.Context(), req.Role)
	h.respondStep(c, step, err)
}

// Logout godoc
// @Summary      Log out
// @Tags         auth
// @Produce      json
// @Success      200  {object}  StepResponse
// @Failure      500  {object}  map[string]string
// @Router       /auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	r := resolverFrom(c)
	err := r.Logout(c.Request.Context())
	auth.ClearSessionCookies(c.Writer, h.cookieOpts())
	if err != nil {
		log.Println("❌ Failed to clear session:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
		return
	}
	c.JSON(http.StatusOK, newStepResponse(r.Step()))
}

// Session godoc
// @Summary      Current login state
// @Tags         auth
// @Produce      json
// @Success      200  {object}  StepResponse
// @Router       /auth/session [get]
func (h *Handler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, newStepResponse(resolverFrom(c).Step()))
}

// SendOTP godoc
// @Summary      Send a registration code
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      OTPSendRequest  true  "Email"
// @Success      200   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /auth/otp/send [post]
func (h *Handler) SendOTP(c *gin.Context) {
	var req OTPSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.school.SendOTP(c.Request.Context(), req.Email); err != nil {
		respondRemoteError(c, "otp_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Code sent"})
}

// VerifyOTP godoc
// @Summary      Verify a registration code
// @Description  A valid code starts a token-only session pending onboarding
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      OTPVerifyRequest  true  "Email and code"
// @Success      200   {object}  StepResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /auth/otp/verify [post]
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req OTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	out, err := h.school.VerifyOTP(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		respondRemoteError(c, "otp_failed", err)
		return
	}
	step, err := resolverFrom(c).Onboard(c.Request.Context(), out.AccessToken)
	h.respondStep(c, step, err)
}

// Me godoc
// @Summary      Profile behind the current token
// @Tags         auth
// @Produce      json
// @Success      200  {object}  schoolapi.User
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Security     BearerAuth
// @Router       /auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	token := bearerOrCookie(c)
	user, err := h.school.Me(c.Request.Context(), token)
	if err != nil {
		respondRemoteError(c, "profile_unavailable", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// AttendancePeriod godoc
// @Summary      Resolve an attendance period
// @Description  Turns a preset into from, to and the weekdays in between
// @Tags         attendance
// @Produce      json
// @Param        frequency  query     string  true   "Preset"  Enums(week, business-week, month, rolling-7, next-week, rolling-30, term, half-term, session, custom)
// @Param        session    query     string  false  "Academic session, e.g. 2024/2025"
// @Param        term       query     string  false  "Term within the session"
// @Param        from       query     string  false  "Custom start, YYYY-MM-DD"
// @Param        to         query     string  false  "Custom end, YYYY-MM-DD"
// @Success      200        {object}  PeriodResponse
// @Failure      400        {object}  map[string]string
// @Failure      404        {object}  map[string]string
// @Security     BearerAuth
// @Router       /attendance/period [get]
func (h *Handler) AttendancePeriod(c *gin.Context) {
	loc := h.cfg.Location()

	freq, err := period.ParseFrequency(c.Query("frequency"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_frequency"})
		return
	}
	sel := period.Selection{Frequency: freq, Session: c.Query("session"), Term: c.Query("term")}
	if freq == period.FrequencyCustom {
		if sel.From, err = parseDay(c.Query("from"), loc); err == nil {
			sel.To, err = parseDay(c.Query("to"), loc)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
			return
		}
	}

	terms, err := h.calendar.ListTerms(c.Request.Context())
	if err != nil {
		log.Println("❌ Failed to load calendar:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar_unavailable"})
		return
	}
	resolver := period.Resolver{Terms: calendar.Build(terms, loc), Location: loc}

	var out PeriodResponse
	err = resolver.Select(sel, func(p period.AttendancePeriod) {
		out = newPeriodResponse(p)
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, out)
	case errors.Is(err, period.ErrTermUnavailable):
		c.JSON(http.StatusNotFound, gin.H{"error": "term_unavailable"})
	case errors.Is(err, period.ErrSessionUnavailable):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_unavailable"})
	case errors.Is(err, period.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_range"})
	default:
		log.Println("❌ Failed to resolve period:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "period_failed"})
	}
}

// ListTerms godoc
// @Summary      List the term calendar
// @Tags         calendar
// @Produce      json
// @Success      200  {array}   models.Term
// @Failure      500  {object}  map[string]string
// @Security     BearerAuth
// @Router       /calendar/terms [get]
func (h *Handler) ListTerms(c *gin.Context) {
	terms, err := h.calendar.ListTerms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar_unavailable"})
		return
	}
	if terms == nil {
		terms = []models.Term{}
	}
	c.JSON(http.StatusOK, terms)
}

// ReloadCalendar godoc
// @Summary      Re-import the term calendar
// @Tags         calendar
// @Produce      json
// @Success      200  {object}  map[string]int
// @Failure      403  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     BearerAuth
// @Router       /admin/calendar/reload [post]
func (h *Handler) ReloadCalendar(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	n, err := calendar.Reload(ctx, h.calendar, h.cfg.CalendarPath, h.cfg.Location())
	if err != nil {
		log.Println("❌ Failed to import calendar:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar_import_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"terms": n})
}

// respondStep writes the cookies for step, then either the step or the error.
func (h *Handler) respondStep(c *gin.Context, step auth.Step, err error) {
	// A rejected duplicate must not overwrite cookies the running step sets.
	if !errors.Is(err, auth.ErrInFlight) {
		if cerr := auth.WriteSessionCookies(c.Writer, step, h.cookieOpts()); cerr != nil {
			log.Println("❌ Failed to write session cookies:", cerr)
		}
	}
	if err == nil {
		c.JSON(http.StatusOK, newStepResponse(step))
		return
	}

	var loginErr *auth.LoginError
	switch {
	case errors.As(err, &loginErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login_failed", "message": loginErr.Message})
	case errors.Is(err, auth.ErrNoValidSchools):
		c.JSON(http.StatusBadGateway, gin.H{"error": "no_valid_schools"})
	case errors.Is(err, auth.ErrMissingToken):
		c.JSON(http.StatusBadGateway, gin.H{"error": "missing_token"})
	case errors.Is(err, auth.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "login_in_progress"})
	case errors.Is(err, auth.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state"})
	case errors.Is(err, auth.ErrUnknownSchool):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_school"})
	case errors.Is(err, auth.ErrUnknownRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_role"})
	case errors.Is(err, auth.ErrRoleNotOffered):
		c.JSON(http.StatusBadRequest, gin.H{"error": "role_not_offered"})
	case errors.Is(err, auth.ErrMissingCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		log.Println("❌ Login step failed:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func respondRemoteError(c *gin.Context, code string, err error) {
	var apiErr *schoolapi.Error
	status := http.StatusBadGateway
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		status = apiErr.Status
	}
	c.JSON(status, gin.H{"error": code, "message": schoolapi.Message(err)})
}

func resolverFrom(c *gin.Context) *auth.Resolver {
	return c.MustGet(resolverKey).(*auth.Resolver)
}

func bearerOrCookie(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	token, _ := c.Cookie(auth.TokenCookie)
	return token
}

func parseDay(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, value, loc)
}

func newPeriodResponse(p period.AttendancePeriod) PeriodResponse {
	out := PeriodResponse{
		From:      p.From.Format(time.DateOnly),
		To:        p.To.Format(time.DateOnly),
		ValidDays: make([]string, 0, len(p.ValidDays)),
	}
	for _, d := range p.ValidDays {
		out.ValidDays = append(out.ValidDays, d.Format(time.DateOnly))
	}
	return out
}
