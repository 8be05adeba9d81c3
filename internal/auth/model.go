package auth

import "time"

// Challenge purposes. A challenge is a single-use token delivered by
// email: a verification link, a login second-factor code, or a
// password-reset link.
const (
	PurposeVerify = "verify"
	PurposeLogin  = "login"
	PurposeReset  = "reset"
)

type User struct {
	ID                  string
	Email               string
	Username            string
	FirstName           string
	LastName            string
	Phone               string
	PasswordHash        string
	PasswordHistory     []string
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PublicUser is the subset of User safe to return to clients.
type PublicUser struct {
	ID            string `json:"id"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	EmailVerified bool   `json:"emailVerified"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Email:         u.Email,
		Username:      u.Username,
		EmailVerified: u.EmailVerified,
	}
}

type Challenge struct {
	ID        string
	UserID    string
	Token     string
	Purpose   string
	CreatedAt time.Time
}
