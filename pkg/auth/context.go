package auth

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

// IdentityFromContext returns the authenticated caller.
// Returns false if no claims are present or the subject is empty.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.Subject == "" {
		return models.Identity{}, false
	}
	return claims.Identity(), true
}

// RequireIdentityFromContext is IdentityFromContext with an error for the missing case.
func RequireIdentityFromContext(ctx context.Context) (models.Identity, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return models.Identity{}, fmt.Errorf("authentication required: no identity in context")
	}
	return identity, nil
}
