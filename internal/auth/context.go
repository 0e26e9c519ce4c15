/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import "context"

// claimsKey is unexported and zero-sized so no other package can collide
// with or forge the stored claims.
type claimsKey struct{}

// WithClaims attaches a verified session's claims to the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext retrieves the session claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// IsAdmin reports whether the context carries an admin session.
func IsAdmin(ctx context.Context) bool {
	claims, ok := ClaimsFromContext(ctx)
	return ok && claims.Admin
}

// UserIDFromContext returns the session's user id, or zero when anonymous.
func UserIDFromContext(ctx context.Context) uint {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return 0
	}
	return claims.UserID
}
