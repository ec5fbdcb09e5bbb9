package identity

import "time"

// User is a registered PennyWise account holder.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash []byte
	Currency     string
	TokenVersion int
	LastLogin    *time.Time
	CreatedAt    time.Time
}

// Registration is the sign-up request.
type Registration struct {
	Email    string
	Username string
	Password string
	Currency string
}

// Credentials request structure. Login is an email address or a username.
type Credentials struct {
	Login    string
	Password string
}
