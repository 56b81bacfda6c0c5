package schoolapi

// LoginRequest carries SchoolID and Role only on the role-scoped second call.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	SchoolID string `json:"schoolId,omitempty"`
	Role     string `json:"role,omitempty"`
}

type SchoolRef struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// SchoolMembership is one school a user belongs to, with the raw role strings
// the server reports for it.
type SchoolMembership struct {
	SchoolID SchoolRef `json:"schoolId"`
	Roles    []string  `json:"roles"`
}

type User struct {
	ID        string             `json:"_id"`
	Email     string             `json:"email"`
	FirstName string             `json:"firstName"`
	LastName  string             `json:"lastName"`
	Phone     string             `json:"phone,omitempty"`
	Role      string             `json:"role,omitempty"`
	School    *SchoolRef         `json:"school,omitempty"`
	Schools   []SchoolMembership `json:"schools,omitempty"`
}

type LoginResponse struct {
	AccessToken string             `json:"accessToken"`
	User        *User              `json:"user,omitempty"`
	Schools     []SchoolMembership `json:"schools"`
}

type OTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

type OTPResponse struct {
	AccessToken string `json:"accessToken"`
}

// Envelope wraps every successful payload.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
}
