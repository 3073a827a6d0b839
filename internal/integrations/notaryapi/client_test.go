package notaryapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"notary-chat/internal/domain"
)

var testCreds = domain.Credentials{Token: "tok-123", UserID: 7}

// newBackend serves r and returns a client pointed at it.
func newBackend(t *testing.T, r chi.Router, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func requireBearer(t *testing.T, r *http.Request) {
	t.Helper()
	require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_DefaultBaseURL(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:5000", c.BaseURL())
	require.Equal(t, DefaultSentinel, c.sentinel)
	require.Equal(t, 60*time.Second, c.idleTimeout)
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c, err := NewClient("http://example.test/api/")
	require.NoError(t, err)
	require.Equal(t, "http://example.test/api", c.BaseURL())
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid base url")
}

// ---------------------------------------------------------------------------
// status mapping
// ---------------------------------------------------------------------------

func TestFetchJSON_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadGateway, ErrServer},
	}
	for _, tc := range cases {
		r := chi.NewRouter()
		r.Get("/x", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		})
		c := newBackend(t, r)

		err := c.FetchJSON(context.Background(), Request{Path: "/x"}, nil)
		require.ErrorIs(t, err, tc.want, "status=%d", tc.status)

		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, tc.status, se.HTTPStatusCode())
		require.Equal(t, "nope", se.Message)
	}
}

func TestFetchJSON_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url)
	require.NoError(t, err)
	err = c.FetchJSON(context.Background(), Request{Path: "/x"}, nil)
	require.Error(t, err)
	require.True(t, IsTransport(err))
}

func TestFetchJSON_InvalidCredentialsNeverLeave(t *testing.T) {
	called := false
	r := chi.NewRouter()
	r.Get("/x", func(http.ResponseWriter, *http.Request) { called = true })
	c := newBackend(t, r)

	err := c.FetchJSON(context.Background(), Request{Path: "/x", Credentials: &domain.Credentials{}}, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, called)
}

func TestErrorMessage(t *testing.T) {
	require.Equal(t, "a", errorMessage([]byte(`{"error":"a","message":"b"}`)))
	require.Equal(t, "b", errorMessage([]byte(`{"message":"b"}`)))
	require.Equal(t, "plain", errorMessage([]byte("  plain \n")))
	require.Equal(t, "", errorMessage([]byte("<html>oops</html>")))
	require.Len(t, errorMessage([]byte(strings.Repeat("x", 500))), 200)
}

func TestErrorMessage_CutsOnRuneBoundary(t *testing.T) {
	msg := errorMessage([]byte(strings.Repeat("a", 199) + "éé"))
	require.True(t, utf8.ValidString(msg))
	require.Equal(t, strings.Repeat("a", 199)+"é", msg)
	require.Equal(t, 200, utf8.RuneCountInString(msg))
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var body authRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		require.Equal(t, "ana@example.com", body.Correo)
		require.Equal(t, "secreto", body.Contrasena)
		_, _ = w.Write([]byte(`{"api_key":"tok-123","usuario_id":7}`))
	})
	c := newBackend(t, r)

	creds, err := c.Login(context.Background(), " ana@example.com ", "secreto")
	require.NoError(t, err)
	require.Equal(t, testCreds, creds)
}

func TestLogin_MissingFields(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "", "x")
	require.Error(t, err)
}

func TestLogin_EmptyKeyRejected(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"usuario_id":7}`))
	})
	c := newBackend(t, r)
	_, err := c.Login(context.Background(), "a@b.c", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "api_key")
}

func TestRegister_Conflict(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/register", func(w http.ResponseWriter, req *http.Request) {
		var body authRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		require.Equal(t, "Ana", body.Nombre)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"El usuario ya existe"}`))
	})
	c := newBackend(t, r)
	_, err := c.Register(context.Background(), "a@b.c", "x", "Ana")
	require.ErrorIs(t, err, ErrConflict)
}

func TestForgotAndResetPassword(t *testing.T) {
	var gotForgot forgotPasswordRequest
	var gotReset resetPasswordRequest
	r := chi.NewRouter()
	r.Post("/auth/forgot-password", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotForgot))
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})
	r.Post("/auth/reset-password", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotReset))
		w.WriteHeader(http.StatusNoContent)
	})
	c := newBackend(t, r)

	require.NoError(t, c.ForgotPassword(context.Background(), "a@b.c"))
	require.Equal(t, "a@b.c", gotForgot.Correo)

	require.NoError(t, c.ResetPassword(context.Background(), "tkn", "nueva"))
	require.Equal(t, resetPasswordRequest{Token: "tkn", NuevaContrasena: "nueva"}, gotReset)

	require.Error(t, c.ResetPassword(context.Background(), "", "nueva"))
}

// ---------------------------------------------------------------------------
// history and detail
// ---------------------------------------------------------------------------

func TestHistory_BareArray(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/historial", func(w http.ResponseWriter, req *http.Request) {
		requireBearer(t, req)
		_, _ = w.Write([]byte(`[
			{"chat_id":3,"nombre":"Compraventa","estado":"esperando_aprobacion_formal","fecha_actualizacion":"2024-05-02T10:00:00","ultimo_mensaje":"listo","contrato":{"id":9,"codigo":"C-9","titulo":"Compraventa","estado":"borrador"}},
			{"chat_id":0,"nombre":"sin id"},
			{"chat_id":4,"nombre":"Arrendamiento","fecha_creacion":"Thu, 02 May 2024 10:00:00 GMT"}
		]`))
	})
	c := newBackend(t, r)

	got, err := c.History(context.Background(), testCreds)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(3), got[0].RemoteID)
	require.Equal(t, "listo", got[0].LastMessage)
	require.Equal(t, &domain.ContractRef{ID: 9, Code: "C-9", Title: "Compraventa", Status: "borrador"}, got[0].Contract)
	require.Equal(t, time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), got[0].UpdatedAt)
	require.Equal(t, time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), got[1].CreatedAt)
	require.Nil(t, got[1].Contract)
}

func TestHistory_Envelope(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/historial", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"chat_id":5,"nombre":"x"}]}`))
	})
	c := newBackend(t, r)

	got, err := c.History(context.Background(), testCreds)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(5), got[0].RemoteID)
}

func TestHistory_Unauthorized(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/historial", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newBackend(t, r)
	_, err := c.History(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestChatDetail(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/{id}", func(w http.ResponseWriter, req *http.Request) {
		requireBearer(t, req)
		require.Equal(t, "12", chi.URLParam(req, "id"))
		_, _ = w.Write([]byte(`{
			"chat":{"id":12,"nombre":"Compraventa","estado":"en_progreso","metadatos":{"estado":"en_progreso","tipo_contrato":"compraventa"}},
			"mensajes":[
				{"id":1,"remitente":"usuario","contenido":"hola","fecha":"2024-05-02T10:00:00"},
				{"id":2,"remitente":"asistente","contenido":"buenas"}
			],
			"contrato":null,
			"should_show_preview":false
		}`))
	})
	c := newBackend(t, r)

	d, err := c.ChatDetail(context.Background(), testCreds, 12)
	require.NoError(t, err)
	require.Equal(t, int64(12), d.RemoteID)
	require.Equal(t, "Compraventa", d.Title)
	require.Len(t, d.Messages, 2)
	require.Equal(t, domain.RoleUser, d.Messages[0].Role)
	require.Equal(t, domain.RoleAssistant, d.Messages[1].Role)
	require.Equal(t, "msg-2", d.Messages[1].ID)
	require.False(t, d.Messages[1].Streaming(), "hydrated messages are complete")
	require.Equal(t, "compraventa", d.Context.ContractType())
	require.False(t, d.ContractStored)
}

func TestChatDetail_StoredContract(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"chat":{"id":12,"estado":"completado"},"mensajes":[],"contrato":{"id":1,"codigo":"C-1"}}`))
	})
	c := newBackend(t, r)

	d, err := c.ChatDetail(context.Background(), testCreds, 12)
	require.NoError(t, err)
	require.True(t, d.ContractStored)
	require.Equal(t, "completado", d.Context.Status(), "status falls back to chat.estado without metadatos")
}

func TestChatDetail_NotFound(t *testing.T) {
	c := newBackend(t, chi.NewRouter())
	_, err := c.ChatDetail(context.Background(), testCreds, 99)
	require.ErrorIs(t, err, ErrNotFound)
}

// ---------------------------------------------------------------------------
// send
// ---------------------------------------------------------------------------

func TestSend_FirstTurnCarriesTitle(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat", func(w http.ResponseWriter, req *http.Request) {
		requireBearer(t, req)
		raw, _ := io.ReadAll(req.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Equal(t, "quiero una compraventa", body["mensaje"])
		require.Equal(t, "quiero una compraventa", body["nombre"])
		require.NotContains(t, body, "chat_id")
		require.NotContains(t, body, "contexto")
		_, _ = w.Write([]byte(`{"chat_id":21,"respuesta":"¿Quién vende?","estado":"en_progreso","tipo_contrato":"compraventa","clausulas_especiales":["a"]}`))
	})
	c := newBackend(t, r)

	res, err := c.Send(context.Background(), testCreds, domain.SendRequest{
		Message: "quiero una compraventa",
		Title:   "quiero una compraventa",
	})
	require.NoError(t, err)
	require.Equal(t, int64(21), res.RemoteID)
	require.Equal(t, "¿Quién vende?", res.Reply)
	require.Equal(t, "en_progreso", res.Context.Status())
	require.Equal(t, "compraventa", res.Context.ContractType())
	require.Equal(t, []any{"a"}, res.Context[domain.ContextKeySpecialClauses])
}

func TestSend_EmptyMessage(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	_, err = c.Send(context.Background(), testCreds, domain.SendRequest{})
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// streaming
// ---------------------------------------------------------------------------

func TestStream_DecodesBody(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/streaming", func(w http.ResponseWriter, req *http.Request) {
		requireBearer(t, req)
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		require.Equal(t, float64(12), body["chat_id"])
		require.Equal(t, map[string]any{"estado": "en_progreso"}, body["contexto"])

		fl := w.(http.Flusher)
		for _, part := range []string{"Entiendo, ", "necesito más datos.", DefaultSentinel + `{"estado":"en_progreso","chat_id":12}`} {
			_, _ = w.Write([]byte(part))
			fl.Flush()
		}
	})
	c := newBackend(t, r)

	got := collect(c.Stream(context.Background(), testCreds, domain.SendRequest{
		Message:  "hola",
		RemoteID: 12,
		Context:  domain.WorkflowContext{"estado": "en_progreso"},
	}))
	require.NoError(t, got.err)
	require.Equal(t, "Entiendo, necesito más datos.", got.text)
	require.Len(t, got.contexts, 1)
	id, ok := got.contexts[0].ChatID()
	require.True(t, ok)
	require.Equal(t, int64(12), id)
}

func TestStream_EmptyContextIsSentAsObject(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/streaming", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		require.Equal(t, map[string]any{}, body["contexto"])
		require.Equal(t, "hola", body["nombre"])
	})
	c := newBackend(t, r)
	got := collect(c.Stream(context.Background(), testCreds, domain.SendRequest{Message: "hola", Title: "hola"}))
	require.NoError(t, got.err)
}

func TestStream_StatusError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/streaming", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	c := newBackend(t, r)
	got := collect(c.Stream(context.Background(), testCreds, domain.SendRequest{Message: "x"}))
	require.ErrorIs(t, got.err, ErrForbidden)
}

func TestStream_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	r := chi.NewRouter()
	r.Post("/chat/streaming", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("hola"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-req.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })
	c := newBackend(t, r, WithIdleTimeout(50*time.Millisecond))

	got := collect(c.Stream(context.Background(), testCreds, domain.SendRequest{Message: "x"}))
	require.Equal(t, "hola", got.text)
	require.ErrorIs(t, got.err, ErrIdleTimeout)
	require.True(t, IsTransport(got.err))
}

func TestStream_CallerCancel(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/streaming", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("hola"))
		w.(http.Flusher).Flush()
		<-req.Context().Done()
	})
	c := newBackend(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var text string
	var gotErr error
	for ev, err := range c.Stream(ctx, testCreds, domain.SendRequest{Message: "x"}) {
		if err != nil {
			gotErr = err
			continue
		}
		text += ev.Text
		cancel()
	}
	require.Equal(t, "hola", text)
	require.True(t, IsTransport(gotErr))
	require.False(t, errors.Is(gotErr, ErrIdleTimeout))
}

// ---------------------------------------------------------------------------
// document
// ---------------------------------------------------------------------------

func TestContractDocument(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/documento", func(w http.ResponseWriter, req *http.Request) {
		require.Empty(t, req.Header.Get("Authorization"))
		require.Equal(t, "12", req.URL.Query().Get("chat_id"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<div><style>p{}</style><h1> Contrato de  Compraventa </h1><p>Primera   cláusula.</p><ul><li>Uno</li><li><p>Dos</p></li></ul></div>`))
	})
	c := newBackend(t, r)

	doc, err := c.ContractDocument(context.Background(), 12)
	require.NoError(t, err)
	require.Equal(t, int64(12), doc.RemoteID)
	require.Equal(t, "Contrato de Compraventa", doc.Title)
	require.Equal(t, "Contrato de Compraventa\nPrimera cláusula.\nUno\nDos", doc.Text)
	require.Contains(t, doc.HTML, "<h1>")
}

func TestContractDocument_NotFound(t *testing.T) {
	c := newBackend(t, chi.NewRouter())
	_, err := c.ContractDocument(context.Background(), 12)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStream_ChunkSizeBoundsReads(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/streaming", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("abcdefghij"))
	})
	c := newBackend(t, r, WithChunkSize(3))

	var got strings.Builder
	for chunk, err := range c.OpenStream(context.Background(), Request{Method: http.MethodPost, Path: "/chat/streaming", Credentials: &testCreds}) {
		require.NoError(t, err)
		require.LessOrEqual(t, len(chunk), 3)
		got.Write(chunk)
	}
	require.Equal(t, "abcdefghij", got.String())
}

type countingTransport struct {
	calls atomic.Int64
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(req)
}

func TestStream_UsesStreamHTTPClient(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/streaming", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hola"))
	})
	r.Get("/chat/historial", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	streamRT := &countingTransport{}
	c := newBackend(t, r, WithStreamHTTPClient(&http.Client{Transport: streamRT}))

	got := collect(c.Stream(context.Background(), testCreds, domain.SendRequest{Message: "x"}))
	require.NoError(t, got.err)
	require.Equal(t, "hola", got.text)
	require.Equal(t, int64(1), streamRT.calls.Load())

	_, err := c.History(context.Background(), testCreds)
	require.NoError(t, err)
	require.Equal(t, int64(1), streamRT.calls.Load(), "JSON calls keep the request client")
}

func TestNewStreamHTTPClient(t *testing.T) {
	hc := NewStreamHTTPClient(3 * time.Second)
	require.Zero(t, hc.Timeout)
	tr, ok := hc.Transport.(*http.Transport)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, tr.TLSHandshakeTimeout)
	require.NotNil(t, tr.DialContext)
}
