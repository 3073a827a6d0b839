package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// newBackend serves the endpoints the commands touch.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		if body["contrasena"] != "secreto" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Credenciales inválidas"}`))
			return
		}
		_, _ = w.Write([]byte(`{"api_key":"tok-1","usuario_id":5}`))
	})
	r.Get("/chat/historial", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"chat_id":42,"nombre":"Contrato de Alquiler","estado":"en_progreso","contrato":{"id":1}}]`))
	})
	r.Get("/chat/documento", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("chat_id") != "42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`<h1>Contrato de Alquiler</h1><p>PRIMERA. Objeto.</p>`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "notary.yaml")
	body := fmt.Sprintf("logLevel: error\napi:\n  baseURL: %s\nsession:\n  backend: bolt\n  boltPath: %s\n", baseURL, filepath.Join(dir, "session.bolt"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "version: 1.2.3")
}

func TestLoginThenHistory(t *testing.T) {
	srv := newBackend(t)
	cfg := writeConfig(t, srv.URL)

	out, err := execute(t, "", "-c", cfg, "login", "--email", "ana@example.com", "--password", "secreto")
	require.NoError(t, err)
	require.Contains(t, out, "Sesión iniciada (usuario 5)")

	out, err = execute(t, "", "-c", cfg, "history")
	require.NoError(t, err)
	require.Contains(t, out, "42  Contrato de Alquiler [contrato]")

	out, err = execute(t, "", "-c", cfg, "logout")
	require.NoError(t, err)
	require.Contains(t, out, "Sesión cerrada.")

	_, err = execute(t, "", "-c", cfg, "history")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not signed in")
}

func TestLogin_PasswordFromStdin(t *testing.T) {
	srv := newBackend(t)
	cfg := writeConfig(t, srv.URL)

	out, err := execute(t, "secreto\n", "-c", cfg, "login", "-e", "ana@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "Contraseña: ")
	require.Contains(t, out, "Sesión iniciada")
}

func TestLogin_WrongPassword(t *testing.T) {
	srv := newBackend(t)
	cfg := writeConfig(t, srv.URL)

	_, err := execute(t, "", "-c", cfg, "login", "-e", "ana@example.com", "--password", "otra")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Credenciales inválidas")
}

func TestLogin_FromParamNeedsName(t *testing.T) {
	srv := newBackend(t)
	cfg := writeConfig(t, srv.URL)

	_, err := execute(t, "", "-c", cfg, "login", "--from-param")
	require.Error(t, err)
	require.Contains(t, err.Error(), "--param")
}

func TestDocumentCommand(t *testing.T) {
	srv := newBackend(t)
	cfg := writeConfig(t, srv.URL)

	out, err := execute(t, "", "-c", cfg, "document", "42")
	require.NoError(t, err)
	require.Contains(t, out, "== Contrato de Alquiler ==")
	require.Contains(t, out, "PRIMERA. Objeto.")

	out, err = execute(t, "", "-c", cfg, "document", "42", "--html")
	require.NoError(t, err)
	require.Contains(t, out, "<h1>Contrato de Alquiler</h1>")

	_, err = execute(t, "", "-c", cfg, "document", "abc")
	require.Error(t, err)

	_, err = execute(t, "", "-c", cfg, "document", "7")
	require.Error(t, err)
}

func TestChatCommand(t *testing.T) {
	srv := newBackend(t)
	cfg := writeConfig(t, srv.URL)

	_, err := execute(t, "", "-c", cfg, "login", "-e", "ana@example.com", "--password", "secreto")
	require.NoError(t, err)

	out, err := execute(t, "/list\n/quit\n", "-c", cfg, "chat")
	require.NoError(t, err)
	require.Contains(t, out, "Escribe /help")
	require.Contains(t, out, "1 conversaciones en el historial")
	require.Contains(t, out, "Contrato de Alquiler #42 [contrato]")
}

func TestInvalidFlagOverride(t *testing.T) {
	_, err := execute(t, "", "--session-backend", "s3", "version")
	require.NoError(t, err, "version does not load the config")

	_, err = execute(t, "", "--session-backend", "s3", "logout")
	require.Error(t, err)
}
