package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notary-chat/internal/domain"
	"notary-chat/internal/integrations/paramstore"
)

// Authenticator is the credential-issuing side of the backend.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (domain.Credentials, error)
	Register(ctx context.Context, email, password, name string) (domain.Credentials, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Manager signs users in and out and keeps the resulting credentials in a
// Store under one profile name.
type Manager struct {
	auth    Authenticator
	store   Store
	profile string
	log     *slog.Logger
	now     func() time.Time
}

type ManagerOption func(*Manager)

func WithProfile(profile string) ManagerOption {
	return func(m *Manager) { m.profile = normalizeProfile(profile) }
}

func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func NewManager(auth Authenticator, store Store, opts ...ManagerOption) (*Manager, error) {
	if auth == nil {
		return nil, errors.New("session: authenticator must not be nil")
	}
	if store == nil {
		return nil, errors.New("session: store must not be nil")
	}
	m := &Manager{
		auth:    auth,
		store:   store,
		profile: normalizeProfile(""),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Profile() string {
	return m.profile
}

func (m *Manager) Login(ctx context.Context, email, password string) (domain.Credentials, error) {
	creds, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return domain.Credentials{}, err
	}
	return creds, m.persist(ctx, email, creds)
}

// LoginFromParam signs in with the email and password stored in Parameter
// Store under name.
func (m *Manager) LoginFromParam(ctx context.Context, g paramstore.Getter, name string) (domain.Credentials, error) {
	l, err := paramstore.LoadLogin(ctx, g, name)
	if err != nil {
		return domain.Credentials{}, err
	}
	return m.Login(ctx, l.Email, l.Password)
}

func (m *Manager) Register(ctx context.Context, email, password, name string) (domain.Credentials, error) {
	creds, err := m.auth.Register(ctx, email, password, name)
	if err != nil {
		return domain.Credentials{}, err
	}
	return creds, m.persist(ctx, email, creds)
}

func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	return m.auth.ForgotPassword(ctx, email)
}

func (m *Manager) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.auth.ResetPassword(ctx, token, newPassword)
}

// Restore returns the stored credentials, or ErrNoSession.
func (m *Manager) Restore(ctx context.Context) (domain.Credentials, error) {
	s, err := m.store.Load(ctx, m.profile)
	if err != nil {
		return domain.Credentials{}, err
	}
	if !s.Credentials.Valid() {
		return domain.Credentials{}, ErrNoSession
	}
	return s.Credentials, nil
}

// Logout forgets the stored credentials. The backend keeps no session state
// so nothing is sent upstream.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Delete(ctx, m.profile); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	m.log.Info("signed out", "profile", m.profile)
	return nil
}

func (m *Manager) persist(ctx context.Context, email string, creds domain.Credentials) error {
	err := m.store.Save(ctx, m.profile, Session{
		Credentials: creds,
		Email:       email,
		CreatedAt:   m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	m.log.Info("signed in", "profile", m.profile, "user_id", creds.UserID)
	return nil
}
