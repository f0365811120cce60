package auth

import (
	"context"
	"strings"

	"vocalytics/internal/apperr"
)

var (
	ErrNotConfirmed = apperr.New(apperr.KindAuth, "Please verify your account before signing in.")
	ErrUserExists   = apperr.New(apperr.KindValidation, "An account with this email already exists.")
	ErrInvalidCode  = apperr.New(apperr.KindValidation, "Invalid verification code provided, please try again.")
	ErrBadToken     = apperr.New(apperr.KindAuth, "Your session has expired. Please sign in again.")
)

// Tokens are issued by a successful authentication.
type Tokens struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    int64
}

// Challenge is an extra step the identity provider requires, such as MFA.
type Challenge struct {
	Name       string
	Session    string
	Parameters map[string]string
}

// Result holds exactly one of Tokens or Challenge.
type Result struct {
	Tokens    *Tokens
	Challenge *Challenge
}

// User is the identity behind an access token.
type User struct {
	Username   string
	Attributes map[string]string
}

// Email returns the email attribute, falling back to the username.
func (u User) Email() string {
	if e := u.Attributes["email"]; e != "" {
		return e
	}
	return u.Username
}

// Provider is the identity provider contract.
type Provider interface {
	Authenticate(ctx context.Context, identity, secret string) (*Result, error)
	SignUp(ctx context.Context, email, password string) error
	ConfirmSignUp(ctx context.Context, email, code string) error
	CurrentUser(ctx context.Context, accessToken string) (*User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// SessionFor builds the request session for u.
func SessionFor(u *User, accessToken string) Session {
	return Session{
		Username:    u.Username,
		Email:       u.Email(),
		AccessToken: accessToken,
	}
}

// FieldErrors maps a form field to its message.
type FieldErrors map[string]string

func (f FieldErrors) Empty() bool { return len(f) == 0 }

const minPasswordLen = 6

// ValidateCredentials checks a login or sign-up form.
func ValidateCredentials(email, password string) FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(email) == "" {
		errs["email"] = "Email is Required"
	}
	switch {
	case password == "":
		errs["password"] = "Password is required"
	case len(password) < minPasswordLen:
		errs["password"] = "must be 6 character"
	}
	return errs
}

// ValidateVerification checks the account verification form.
func ValidateVerification(email, code string) FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(email) == "" {
		errs["email"] = "Email is Required"
	}
	if strings.TrimSpace(code) == "" {
		errs["code"] = "Code is required"
	}
	return errs
}
