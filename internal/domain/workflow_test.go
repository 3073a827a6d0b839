package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkflowContext_ChatID(t *testing.T) {
	cases := []struct {
		name string
		ctx  WorkflowContext
		want int64
		ok   bool
	}{
		{name: "float from json", ctx: WorkflowContext{"chat_id": float64(42)}, want: 42, ok: true},
		{name: "json number", ctx: WorkflowContext{"chat_id": json.Number("7")}, want: 7, ok: true},
		{name: "numeric string", ctx: WorkflowContext{"chat_id": "9"}, want: 9, ok: true},
		{name: "fractional", ctx: WorkflowContext{"chat_id": 1.5}},
		{name: "zero", ctx: WorkflowContext{"chat_id": float64(0)}},
		{name: "missing", ctx: WorkflowContext{}},
		{name: "nil", ctx: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.ctx.ChatID()
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestWorkflowContext_CloneIsDeep(t *testing.T) {
	orig := WorkflowContext{
		"estado":               "solicitando_datos",
		"respuestas":           map[string]any{"arrendador": "Ana"},
		"clausulas_especiales": []any{"mascotas"},
	}
	cp := orig.Clone()
	cp["respuestas"].(map[string]any)["arrendador"] = "Luis"
	cp["clausulas_especiales"].([]any)[0] = "fumar"
	cp["estado"] = "revision"

	require.Equal(t, "Ana", orig["respuestas"].(map[string]any)["arrendador"])
	require.Equal(t, "mascotas", orig["clausulas_especiales"].([]any)[0])
	require.Equal(t, "solicitando_datos", orig.Status())
	require.Nil(t, WorkflowContext(nil).Clone())
}

func TestConversation_CloneDoesNotAliasMessages(t *testing.T) {
	c := Conversation{
		ID:       "c1",
		Messages: []Message{{ID: "m1", Role: RoleUser, Content: "hola"}},
		Contract: &ContractRef{ID: 3},
	}
	cp := c.Clone()
	cp.Messages[0].Content = "changed"
	cp.Contract.ID = 4

	require.Equal(t, "hola", c.Messages[0].Content)
	require.Equal(t, int64(3), c.Contract.ID)
	require.Equal(t, "hola", c.FirstUserMessage())
}
