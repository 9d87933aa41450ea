package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/accord-chat/accord/internal/core"
	"github.com/accord-chat/accord/internal/domain"
)

// Gate checks a presented session token against the credential store.
type Gate struct {
	Store core.CredentialStore
}

// Verify compares by exact match. An absent or empty stored token always
// fails: a logged-out user cannot rejoin with a stale token. A backing
// store error also fails, closed.
func (g Gate) Verify(ctx context.Context, user domain.UserID, token string) bool {
	stored, err := g.Store.GetCredentials(ctx, user)
	if err != nil {
		log.Error().Err(err).Str("module", "app.gate").Str("user", string(user)).Msg("credential lookup failed, rejecting")
		return false
	}
	return token != "" && stored == token
}
