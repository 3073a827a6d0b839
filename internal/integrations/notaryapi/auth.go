package notaryapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"notary-chat/internal/domain"
)

// Login exchanges credentials for a bearer token and user id.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Credentials, error) {
	return c.authenticate(ctx, "/auth/login", authRequest{Correo: email, Contrasena: password})
}

// Register creates an account and returns the same shape as Login.
func (c *Client) Register(ctx context.Context, email, password, name string) (domain.Credentials, error) {
	return c.authenticate(ctx, "/auth/register", authRequest{Correo: email, Contrasena: password, Nombre: strings.TrimSpace(name)})
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("notaryapi: email must not be empty")
	}
	return c.FetchJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/forgot-password",
		Body:   forgotPasswordRequest{Correo: strings.TrimSpace(email)},
	}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("notaryapi: reset token must not be empty")
	}
	if newPassword == "" {
		return errors.New("notaryapi: new password must not be empty")
	}
	return c.FetchJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/reset-password",
		Body:   resetPasswordRequest{Token: strings.TrimSpace(token), NuevaContrasena: newPassword},
	}, nil)
}

func (c *Client) authenticate(ctx context.Context, path string, body authRequest) (domain.Credentials, error) {
	body.Correo = strings.TrimSpace(body.Correo)
	if body.Correo == "" || body.Contrasena == "" {
		return domain.Credentials{}, errors.New("notaryapi: email and password are required")
	}
	var out authResponse
	if err := c.FetchJSON(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, &out); err != nil {
		return domain.Credentials{}, err
	}
	creds := domain.Credentials{Token: out.APIKey, UserID: out.UsuarioID}
	if !creds.Valid() {
		return domain.Credentials{}, errors.New("notaryapi: auth response missing api_key")
	}
	return creds, nil
}
