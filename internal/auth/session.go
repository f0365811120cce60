package auth

import "context"

// Session is the signed-in user for one request. Handlers resolve it once
// and pass it explicitly to the services that need an owner.
type Session struct {
	Username    string
	Email       string
	AccessToken string
}

// Valid reports whether the session belongs to a user.
func (s Session) Valid() bool {
	return s.Username != ""
}

type sessionKey struct{}

// WithSession returns a child context carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok && s.Valid()
}
