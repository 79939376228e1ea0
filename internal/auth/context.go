package auth

import "context"

type contextKey string

const (
	contextKeySubject contextKey = "auth.subject"
	contextKeyEmail   contextKey = "auth.email"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	ctx = context.WithValue(ctx, contextKeySubject, identity.UserID)
	ctx = context.WithValue(ctx, contextKeyEmail, identity.Email)
	return ctx
}

// IdentityFromContext extracts the caller identity; ok is false when absent.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	subject := SubjectFromContext(ctx)
	if subject == "" {
		return Identity{}, false
	}
	email, _ := ctx.Value(contextKeyEmail).(string)
	return Identity{UserID: subject, Email: email}, true
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeySubject)
	if subject, ok := value.(string); ok {
		return subject
	}
	return ""
}
