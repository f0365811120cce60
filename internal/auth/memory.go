package auth

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"

	"vocalytics/internal/apperr"
)

type memoryUser struct {
	password  string
	confirmed bool
	code      string
}

// Memory is a local Provider for the memory backend. Confirmation codes are
// written to the log instead of being emailed.
type Memory struct {
	logger *slog.Logger

	mu     sync.Mutex
	users  map[string]*memoryUser
	tokens map[string]string
}

func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		logger: logger,
		users:  make(map[string]*memoryUser),
		tokens: make(map[string]string),
	}
}

func (m *Memory) Authenticate(_ context.Context, identity, secret string) (*Result, error) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[identity]
	if !ok || u.password != secret {
		return nil, apperr.ErrAuthFailed
	}
	if !u.confirmed {
		return nil, ErrNotConfirmed
	}
	token := uuid.NewString()
	m.tokens[token] = identity
	return &Result{Tokens: &Tokens{AccessToken: token, ExpiresIn: 3600}}, nil
}

func (m *Memory) SignUp(_ context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return ErrUserExists
	}
	code := fmt.Sprintf("%06d", rand.Intn(1000000))
	m.users[email] = &memoryUser{password: password, code: code}
	m.logger.Info("confirmation code issued", "email", email, "code", code)
	return nil
}

func (m *Memory) ConfirmSignUp(_ context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return apperr.ErrAuthFailed
	}
	if u.code != strings.TrimSpace(code) {
		return ErrInvalidCode
	}
	u.confirmed = true
	return nil
}

func (m *Memory) CurrentUser(_ context.Context, accessToken string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.tokens[accessToken]
	if !ok {
		return nil, ErrBadToken
	}
	return &User{Username: email, Attributes: map[string]string{"email": email}}, nil
}

func (m *Memory) SignOut(_ context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, accessToken)
	return nil
}

// Code returns the pending confirmation code for email.
func (m *Memory) Code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[strings.ToLower(strings.TrimSpace(email))]; ok {
		return u.code
	}
	return ""
}
