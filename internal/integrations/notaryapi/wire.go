package notaryapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"notary-chat/internal/domain"
)

type authRequest struct {
	Correo     string `json:"correo"`
	Contrasena string `json:"contrasena"`
	Nombre     string `json:"nombre,omitempty"`
}

type authResponse struct {
	APIKey    string `json:"api_key"`
	UsuarioID int64  `json:"usuario_id"`
}

type forgotPasswordRequest struct {
	Correo string `json:"correo"`
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	NuevaContrasena string `json:"nueva_contrasena"`
}

type contractWire struct {
	ID     int64  `json:"id"`
	Codigo string `json:"codigo"`
	Titulo string `json:"titulo"`
	Estado string `json:"estado"`
}

type historyItem struct {
	ChatID             int64         `json:"chat_id"`
	Nombre             string        `json:"nombre"`
	Estado             string        `json:"estado"`
	FechaCreacion      string        `json:"fecha_creacion"`
	FechaActualizacion string        `json:"fecha_actualizacion"`
	UltimoMensaje      string        `json:"ultimo_mensaje"`
	Contrato           *contractWire `json:"contrato"`
}

type detailMessage struct {
	ID         int64  `json:"id"`
	Remitente  string `json:"remitente"`
	Contenido  string `json:"contenido"`
	Fecha      string `json:"fecha"`
	ContratoID *int64 `json:"contrato_id"`
}

type detailResponse struct {
	Chat struct {
		ID                 int64          `json:"id"`
		Nombre             string         `json:"nombre"`
		Estado             string         `json:"estado"`
		Metadatos          map[string]any `json:"metadatos"`
		FechaCreacion      string         `json:"fecha_creacion"`
		FechaActualizacion string         `json:"fecha_actualizacion"`
	} `json:"chat"`
	Mensajes          []detailMessage `json:"mensajes"`
	Contrato          *contractWire   `json:"contrato"`
	ShouldShowPreview bool            `json:"should_show_preview"`
}

type sendRequest struct {
	Mensaje  string          `json:"mensaje"`
	ChatID   int64           `json:"chat_id,omitempty"`
	Nombre   string          `json:"nombre,omitempty"`
	Contexto *map[string]any `json:"contexto,omitempty"`
}

type sendResponse struct {
	ChatID              int64          `json:"chat_id"`
	Respuesta           string         `json:"respuesta"`
	Nombre              string         `json:"nombre"`
	Estado              string         `json:"estado"`
	TipoContrato        string         `json:"tipo_contrato"`
	PreguntaActual      any            `json:"pregunta_actual"`
	Respuestas          map[string]any `json:"respuestas"`
	ClausulasEspeciales []string       `json:"clausulas_especiales"`
}

func newSendRequest(in domain.SendRequest, withContext bool) sendRequest {
	out := sendRequest{
		Mensaje: in.Message,
		ChatID:  in.RemoteID,
		Nombre:  in.Title,
	}
	if withContext {
		ctx := map[string]any(in.Context.Clone())
		if ctx == nil {
			ctx = map[string]any{}
		}
		out.Contexto = &ctx
	}
	return out
}

func (c *contractWire) toDomain() *domain.ContractRef {
	if c == nil {
		return nil
	}
	return &domain.ContractRef{ID: c.ID, Code: c.Codigo, Title: c.Titulo, Status: c.Estado}
}

func (h historyItem) toDomain() domain.ConversationSummary {
	return domain.ConversationSummary{
		RemoteID:    h.ChatID,
		Title:       h.Nombre,
		Status:      h.Estado,
		LastMessage: h.UltimoMensaje,
		Contract:    h.Contrato.toDomain(),
		CreatedAt:   parseTime(h.FechaCreacion),
		UpdatedAt:   parseTime(h.FechaActualizacion),
	}
}

func (d detailResponse) toDomain(remoteID int64) domain.ConversationDetail {
	msgs := make([]domain.Message, 0, len(d.Mensajes))
	for _, m := range d.Mensajes {
		role := domain.RoleAssistant
		if m.Remitente == "usuario" {
			role = domain.RoleUser
		}
		created := parseTime(m.Fecha)
		if created.IsZero() {
			// A hydrated message is never in flight.
			created = time.Unix(0, 0).UTC()
		}
		msgs = append(msgs, domain.Message{
			ID:        "msg-" + strconv.FormatInt(m.ID, 10),
			Role:      role,
			Content:   m.Contenido,
			CreatedAt: created,
		})
	}

	ctx := domain.WorkflowContext(d.Chat.Metadatos).Clone()
	if ctx == nil && d.Chat.Estado != "" {
		ctx = domain.WorkflowContext{domain.ContextKeyStatus: d.Chat.Estado}
	}

	id := d.Chat.ID
	if id == 0 {
		id = remoteID
	}
	return domain.ConversationDetail{
		RemoteID:       id,
		Title:          d.Chat.Nombre,
		Messages:       msgs,
		Context:        ctx,
		Contract:       d.Contrato.toDomain(),
		ContractStored: d.Contrato != nil || d.ShouldShowPreview,
		CreatedAt:      parseTime(d.Chat.FechaCreacion),
		UpdatedAt:      parseTime(d.Chat.FechaActualizacion),
	}
}

func (s sendResponse) toDomain() domain.SendResult {
	ctx := domain.WorkflowContext{}
	if s.Estado != "" {
		ctx[domain.ContextKeyStatus] = s.Estado
	}
	if s.TipoContrato != "" {
		ctx[domain.ContextKeyContractType] = s.TipoContrato
	}
	if s.PreguntaActual != nil {
		ctx[domain.ContextKeyCurrentQuestion] = s.PreguntaActual
	}
	if s.Respuestas != nil {
		ctx[domain.ContextKeyAnswers] = s.Respuestas
	}
	if s.ClausulasEspeciales != nil {
		clauses := make([]any, len(s.ClausulasEspeciales))
		for i, c := range s.ClausulasEspeciales {
			clauses[i] = c
		}
		ctx[domain.ContextKeySpecialClauses] = clauses
	}
	return domain.SendResult{
		RemoteID: s.ChatID,
		Reply:    s.Respuesta,
		Title:    s.Nombre,
		Context:  ctx,
	}
}

// decodeHistory accepts both a bare array and a {"data": [...]} envelope.
func decodeHistory(raw json.RawMessage) ([]historyItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var items []historyItem
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("notaryapi: decode history: %w", err)
		}
		return items, nil
	}
	var envelope struct {
		Data []historyItem `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("notaryapi: decode history: %w", err)
	}
	return envelope.Data, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
