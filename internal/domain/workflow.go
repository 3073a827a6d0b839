package domain

import (
	"encoding/json"
	"strconv"
)

// Workflow context keys as the drafting service names them.
const (
	ContextKeyStatus          = "estado"
	ContextKeyContractType    = "tipo_contrato"
	ContextKeyCurrentQuestion = "pregunta_actual"
	ContextKeyAnswers         = "respuestas"
	ContextKeySpecialClauses  = "clausulas_especiales"
	ContextKeyChatID          = "chat_id"
)

// StatusAwaitingFormalApproval is the workflow status reported once a draft
// is ready for the user's formal approval.
const StatusAwaitingFormalApproval = "esperando_aprobacion_formal"

// WorkflowContext mirrors the server-side drafting session. It is opaque to
// the client apart from a few well-known keys and is always replaced whole.
type WorkflowContext map[string]any

func (w WorkflowContext) Status() string {
	return w.str(ContextKeyStatus)
}

func (w WorkflowContext) ContractType() string {
	return w.str(ContextKeyContractType)
}

// ChatID returns the server conversation id carried in the snapshot, if any.
func (w WorkflowContext) ChatID() (int64, bool) {
	switch v := w[ContextKeyChatID].(type) {
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return int64(v), true
		}
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	case json.Number:
		n, err := v.Int64()
		return n, err == nil && n > 0
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

func (w WorkflowContext) str(key string) string {
	s, _ := w[key].(string)
	return s
}

// Clone deep-copies nested maps and slices so the result can be stored
// without aliasing the caller's value.
func (w WorkflowContext) Clone() WorkflowContext {
	if w == nil {
		return nil
	}
	out := make(WorkflowContext, len(w))
	for k, v := range w {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case WorkflowContext:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []string:
		s := make([]string, len(t))
		copy(s, t)
		return s
	default:
		return v
	}
}
