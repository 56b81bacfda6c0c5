package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/in-nis/school-portal/internal/schoolapi"
)

var (
	ErrMissingCredentials = errors.New("auth: email and password are required")
	ErrInFlight           = errors.New("auth: another login step is still running")
	ErrInvalidState       = errors.New("auth: step not allowed in current state")
	ErrUnknownSchool      = errors.New("auth: school not offered")
	ErrRoleNotOffered     = errors.New("auth: role not offered by school")
)

// LoginError is a failed call to the login endpoint. Message is safe to show.
type LoginError struct {
	Message string
	Err     error
}

func (e *LoginError) Error() string {
	return "auth: login failed: " + e.Message
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateOnboardingPending
	StateAwaitingSchoolChoice
	StateAwaitingRoleChoice
	StateResolved
)

var stateNames = map[State]string{
	StateAnonymous:            "anonymous",
	StateAuthenticating:       "authenticating",
	StateOnboardingPending:    "onboarding_pending",
	StateAwaitingSchoolChoice: "awaiting_school_choice",
	StateAwaitingRoleChoice:   "awaiting_role_choice",
	StateResolved:             "resolved",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type LoginAPI interface {
	Login(ctx context.Context, req schoolapi.LoginRequest) (*schoolapi.LoginResponse, error)
}

type Credentials struct {
	Email    string
	Password string
}

// Step is a read-only view of the resolver after a transition.
type Step struct {
	State   State       `json:"state"`
	Session AuthSession `json:"session"`
	Schools []School    `json:"schools,omitempty"`
	School  *School     `json:"school,omitempty"`
	Roles   []Role      `json:"roles,omitempty"`
}

// Resolver walks one browser through login, school choice and role choice.
// Calls that arrive while another one is running are rejected with
// ErrInFlight rather than queued.
type Resolver struct {
	api   LoginAPI
	store SessionStore

	busy sync.Mutex

	mu      sync.Mutex
	state   State
	session AuthSession
	creds   *Credentials
	schools []School
	school  *School
}

func NewResolver(api LoginAPI, store SessionStore) *Resolver {
	return &Resolver{api: api, store: store}
}

// Init hydrates the resolver from its store. Only resolved and onboarding
// sessions survive; a half-finished selection cannot resume without the
// credentials, so it is cleared.
func (r *Resolver) Init(ctx context.Context) error {
	r.busy.Lock()
	defer r.busy.Unlock()

	s, ok, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("auth: load session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	if !ok || s.Token == "" {
		return nil
	}

	switch {
	case s.User != nil && s.User.School != nil && validRole(s.User.Role):
		s.IsAuthenticated = true
		r.state, r.session = StateResolved, s
	case s.IsAuthenticated && s.User == nil:
		r.state, r.session = StateOnboardingPending, s
	default:
		return r.store.Clear(ctx)
	}
	return nil
}

func (r *Resolver) Step() Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepLocked()
}

func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resolver) Session() AuthSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Login runs the first login call and moves to whichever state the answer
// calls for. Any previous session is torn down first, so a failure always
// leaves the resolver anonymous with nothing persisted.
func (r *Resolver) Login(ctx context.Context, creds Credentials) (Step, error) {
	creds.Email = strings.TrimSpace(strings.ToLower(creds.Email))
	if creds.Email == "" || creds.Password == "" {
		return r.Step(), ErrMissingCredentials
	}
	if !r.busy.TryLock() {
		return r.Step(), ErrInFlight
	}
	defer r.busy.Unlock()

	if err := r.store.Clear(ctx); err != nil {
		return r.Step(), fmt.Errorf("auth: clear session: %w", err)
	}
	r.mu.Lock()
	r.resetLocked()
	r.state = StateAuthenticating
	r.mu.Unlock()

	resp, err := r.api.Login(ctx, schoolapi.LoginRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		log.Printf("❌ Login failed for %s: %v", creds.Email, err)
		return r.fail(&LoginError{Message: schoolapi.Message(err), Err: err})
	}

	res, err := Classify(resp)
	if err != nil {
		log.Printf("❌ Login answer for %s unusable: %v", creds.Email, err)
		return r.fail(err)
	}

	switch res := res.(type) {
	case OnboardingRequired:
		return r.commit(ctx, StateOnboardingPending, AuthSession{Token: res.AccessToken, IsAuthenticated: true}, nil, nil, nil)

	case Resolved:
		user := res.User
		return r.commit(ctx, StateResolved, AuthSession{Token: res.AccessToken, User: &user, IsAuthenticated: true}, nil, nil, nil)

	case SingleSchoolSingleRole:
		school := res.School
		session, err := r.scopedLogin(ctx, creds, school, res.Role)
		if err != nil {
			return r.fail(err)
		}
		return r.commit(ctx, StateResolved, session, &creds, []School{school}, &school)

	case NeedsSelection:
		pending := AuthSession{Token: res.AccessToken}
		if len(res.Schools) == 1 {
			school := res.Schools[0]
			return r.commit(ctx, StateAwaitingRoleChoice, pending, &creds, res.Schools, &school)
		}
		return r.commit(ctx, StateAwaitingSchoolChoice, pending, &creds, res.Schools, nil)
	}

	return r.fail(fmt.Errorf("auth: unhandled login resolution %T", res))
}

// SelectSchool picks one of the offered schools. Picking again while the
// role prompt is open switches school.
func (r *Resolver) SelectSchool(ctx context.Context, schoolID string) (Step, error) {
	if !r.busy.TryLock() {
		return r.Step(), ErrInFlight
	}
	defer r.busy.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateAwaitingSchoolChoice && r.state != StateAwaitingRoleChoice {
		return r.stepLocked(), ErrInvalidState
	}
	for _, s := range r.schools {
		if s.ID == schoolID {
			school := s
			r.school = &school
			r.state = StateAwaitingRoleChoice
			return r.stepLocked(), nil
		}
	}
	return r.stepLocked(), fmt.Errorf("%w: %q", ErrUnknownSchool, schoolID)
}

// SelectRole performs the role-scoped login for the chosen school. Each call
// is a fresh round trip, so repeating it after resolution re-derives the
// session. A failed call leaves the prompt open for a retry.
func (r *Resolver) SelectRole(ctx context.Context, value string) (Step, error) {
	if !r.busy.TryLock() {
		return r.Step(), ErrInFlight
	}
	defer r.busy.Unlock()

	role, err := ParseRole(value)
	if err != nil {
		return r.Step(), err
	}

	r.mu.Lock()
	state, creds, school, schools := r.state, r.creds, r.school, r.schools
	r.mu.Unlock()

	if (state != StateAwaitingRoleChoice && state != StateResolved) || creds == nil || school == nil {
		return r.Step(), ErrInvalidState
	}
	if !school.HasRole(role) {
		return r.Step(), fmt.Errorf("%w: %s at %s", ErrRoleNotOffered, role, school.ID)
	}

	session, err := r.scopedLogin(ctx, *creds, *school, role)
	if err != nil {
		return r.Step(), err
	}
	return r.commit(ctx, StateResolved, session, creds, schools, school)
}

// Onboard adopts a token from registration. The session has no user until
// onboarding finishes elsewhere.
func (r *Resolver) Onboard(ctx context.Context, token string) (Step, error) {
	if token == "" {
		return r.Step(), ErrMissingToken
	}
	if !r.busy.TryLock() {
		return r.Step(), ErrInFlight
	}
	defer r.busy.Unlock()

	return r.commit(ctx, StateOnboardingPending, AuthSession{Token: token, IsAuthenticated: true}, nil, nil, nil)
}

// Logout clears persisted artifacts and returns to anonymous defaults. It
// waits for a running step instead of failing.
func (r *Resolver) Logout(ctx context.Context) error {
	r.busy.Lock()
	defer r.busy.Unlock()

	err := r.store.Clear(ctx)

	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("auth: clear session: %w", err)
	}
	return nil
}

// idle reports whether no step is running.
func (r *Resolver) idle() bool {
	if !r.busy.TryLock() {
		return false
	}
	r.busy.Unlock()
	return true
}

func (r *Resolver) scopedLogin(ctx context.Context, creds Credentials, school School, role Role) (AuthSession, error) {
	resp, err := r.api.Login(ctx, schoolapi.LoginRequest{
		Email:    creds.Email,
		Password: creds.Password,
		SchoolID: school.ID,
		Role:     string(role),
	})
	if err != nil {
		log.Printf("❌ Role login failed for %s as %s at %s: %v", creds.Email, role, school.ID, err)
		return AuthSession{}, &LoginError{Message: schoolapi.Message(err), Err: err}
	}
	if resp == nil || resp.AccessToken == "" {
		return AuthSession{}, ErrMissingToken
	}

	user := AuthUser{Email: creds.Email}
	if resp.User != nil {
		user = userFromAPI(resp.User)
	}
	user.Role = role
	user.School = &SchoolInfo{ID: school.ID, Name: school.Name}
	if user.School.Name == "" && resp.User != nil && resp.User.School != nil {
		user.School.Name = resp.User.School.Name
	}

	return AuthSession{Token: resp.AccessToken, User: &user, IsAuthenticated: true}, nil
}

// commit persists session and only then exposes the new state.
func (r *Resolver) commit(ctx context.Context, state State, session AuthSession, creds *Credentials, schools []School, school *School) (Step, error) {
	if err := r.store.Save(ctx, session); err != nil {
		// Drop whatever an earlier commit persisted so a reload stays anonymous.
		if cerr := r.store.Clear(ctx); cerr != nil {
			log.Println("❌ Failed to clear session after save error:", cerr)
		}
		return r.fail(fmt.Errorf("auth: save session: %w", err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.session = session
	r.creds = creds
	r.schools = schools
	r.school = school
	log.Printf("✅ Session moved to %s", state)
	return r.stepLocked(), nil
}

func (r *Resolver) fail(err error) (Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	return r.stepLocked(), err
}

func (r *Resolver) resetLocked() {
	r.state = StateAnonymous
	r.session = Anonymous()
	r.creds = nil
	r.schools = nil
	r.school = nil
}

func (r *Resolver) stepLocked() Step {
	step := Step{State: r.state, Session: r.session}
	switch r.state {
	case StateAwaitingSchoolChoice:
		step.Schools = append([]School(nil), r.schools...)
	case StateAwaitingRoleChoice:
		step.Schools = append([]School(nil), r.schools...)
		if r.school != nil {
			school := *r.school
			step.School = &school
			step.Roles = append([]Role(nil), school.Roles...)
		}
	case StateResolved:
		if r.school != nil {
			school := *r.school
			step.School = &school
		}
	}
	return step
}

func validRole(role Role) bool {
	_, err := ParseRole(string(role))
	return err == nil
}
