package auth

import "context"

type ctxKey int

const (
	userKey ctxKey = iota
	rolesKey
)

// ContextWithUser attaches the authenticated user and roles to the context.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, userKey, userID)
	return context.WithValue(ctx, rolesKey, roles)
}

// UserIDFromContext extracts the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(userKey).(string)
	return v, ok && v != ""
}

// RolesFromContext extracts the authenticated roles, if any.
func RolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(rolesKey).([]string)
	return v
}
