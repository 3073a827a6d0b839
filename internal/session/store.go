// Package session keeps the signed-in user's credentials between CLI runs.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"notary-chat/internal/domain"
)

// ErrNoSession is returned by Load when the profile has never signed in or
// has signed out.
var ErrNoSession = errors.New("session: no stored session")

// Session is what gets persisted for one profile.
type Session struct {
	Credentials domain.Credentials `json:"credentials"`
	Email       string             `json:"email,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Store persists one Session per profile name.
type Store interface {
	Load(ctx context.Context, profile string) (Session, error)
	Save(ctx context.Context, profile string, s Session) error
	Delete(ctx context.Context, profile string) error
}

func normalizeProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return "default"
	}
	return profile
}
