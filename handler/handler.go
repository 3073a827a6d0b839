// Package handler is the terminal presentation layer. It renders the
// transcript, notifications and preview signals, and turns input lines into
// workspace intents.
package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"notary-chat/internal/domain"
	"notary-chat/internal/store"
	"notary-chat/internal/usecase"
)

// Workspace is the slice of usecase.Workspace driven by the console.
type Workspace interface {
	Store() *store.Store
	Active() string
	Conversations() []domain.Conversation
	Conversation(id string) (domain.Conversation, bool)
	NewConversation() domain.Conversation
	LoadHistory(ctx context.Context) ([]domain.Conversation, error)
	SelectConversation(ctx context.Context, id string) error
	Send(ctx context.Context, id, text string) error
	SendMessageSync(ctx context.Context, id, text string) error
	TogglePreview() bool
	ContractDocument(ctx context.Context, id string) (domain.ContractDocument, error)
}

var codeMessages = map[usecase.ErrorCode]string{
	usecase.ErrorAuthRequired: "Tu sesión no es válida. Inicia sesión de nuevo.",
	usecase.ErrorForbidden:    "No tienes permiso para acceder a esta conversación.",
	usecase.ErrorNotFound:     "La conversación no existe en el servidor.",
	usecase.ErrorConflict:     "El recurso ya existe.",
	usecase.ErrorTransport:    "No se pudo conectar con el servidor.",
	usecase.ErrorProtocol:     "El servidor envió una respuesta no válida.",
	usecase.ErrorServer:       "El servidor respondió con un error.",
	usecase.ErrorInvalidInput: "Entrada no válida.",
	usecase.ErrorSendInFlight: "Espera a que termine la respuesta anterior.",
	usecase.ErrorInternal:     "Ocurrió un error inesperado.",
}

var reasonMessages = map[string]string{
	"empty_message":              "El mensaje está vacío.",
	"unknown_conversation":       "Conversación desconocida.",
	"conversation_not_persisted": "La conversación todavía no existe en el servidor.",
}

// Message returns the user-facing text for code.
func Message(code usecase.ErrorCode) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return codeMessages[usecase.ErrorInternal]
}

const helpText = `Comandos:
  /new            nueva conversación
  /list           listar conversaciones
  /open <n|id>    abrir una conversación
  /preview        mostrar u ocultar la vista previa del contrato
  /doc            ver el contrato de la conversación activa
  /sync <texto>   enviar sin streaming
  /quit           salir
Cualquier otro texto se envía a la conversación activa.`

// Console renders workspace state on a terminal. It implements
// usecase.Presenter.
type Console struct {
	out io.Writer
	log *slog.Logger
	ws  Workspace

	mu       sync.Mutex
	printed  map[string]int
	closed   map[string]bool
	openLine bool
	listed   []string
	preview  bool
}

type Option func(*Console)

func WithLogger(log *slog.Logger) Option {
	return func(c *Console) {
		if log != nil {
			c.log = log
		}
	}
}

func NewConsole(out io.Writer, opts ...Option) (*Console, error) {
	if out == nil {
		return nil, errors.New("handler: output must not be nil")
	}
	c := &Console{
		out:     out,
		log:     slog.Default(),
		printed: make(map[string]int),
		closed:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Console) Notify(n usecase.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linef("! %s\n", Message(n.Code))
}

func (c *Console) ShowPreview(_ string, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if visible == c.preview {
		return
	}
	c.preview = visible
	if visible {
		c.linef("[contrato disponible: /doc para verlo, /preview para ocultarlo]\n")
		return
	}
	c.linef("[vista previa cerrada]\n")
}

// Run loads the history, opens a fresh conversation and serves intents read
// from in until /quit or end of input. Sends run in the background; Run
// waits for them before returning, canceling them first on /quit.
func (c *Console) Run(ctx context.Context, ws Workspace, in io.Reader) error {
	if ws == nil {
		return errors.New("handler: workspace must not be nil")
	}
	if in == nil {
		return errors.New("handler: input must not be nil")
	}
	c.ws = ws
	unsubscribe := ws.Store().Subscribe(c.onChange)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var sends sync.WaitGroup
	defer sends.Wait()

	if list, err := ws.LoadHistory(ctx); err == nil && len(list) > 0 {
		c.printf("%d conversaciones en el historial. Usa /list para verlas.\n", len(list))
	}
	c.newConversation()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit", "/salir":
			cancel()
			return nil
		case "/help":
			c.printf("%s\n", helpText)
		case "/new":
			c.newConversation()
		case "/list":
			c.list()
		case "/open":
			c.open(ctx, arg)
		case "/preview":
			c.togglePreview()
		case "/doc":
			c.document(ctx)
		case "/sync":
			c.send(ctx, &sends, arg, true)
		default:
			if strings.HasPrefix(cmd, "/") {
				c.printf("Comando desconocido: %s. Usa /help.\n", cmd)
				continue
			}
			c.send(ctx, &sends, line, false)
		}
	}
	return scanner.Err()
}

func (c *Console) newConversation() {
	conv := c.ws.NewConversation()
	c.showTranscript(conv)
}

func (c *Console) list() {
	convs := c.ws.Conversations()
	active := c.ws.Active()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.listed = c.listed[:0]
	if len(convs) == 0 {
		c.linef("No hay conversaciones.\n")
		return
	}
	for i, conv := range convs {
		c.listed = append(c.listed, conv.ID)
		marker := " "
		if conv.ID == active {
			marker = "*"
		}
		line := fmt.Sprintf("%2d. %s %s", i+1, marker, conv.Title)
		if conv.RemoteID != 0 {
			line += fmt.Sprintf(" #%d", conv.RemoteID)
		}
		if conv.ContractAvailable {
			line += " [contrato]"
		}
		c.linef("%s\n", line)
		if conv.LastMessagePreview != "" {
			c.linef("      %s\n", conv.LastMessagePreview)
		}
	}
}

func (c *Console) open(ctx context.Context, arg string) {
	id, ok := c.resolve(arg)
	if !ok {
		c.printf("! %s\n", reasonMessages["unknown_conversation"])
		return
	}
	err := c.ws.SelectConversation(ctx, id)
	c.report(err)
	if c.ws.Active() != id {
		return
	}
	if conv, ok := c.ws.Conversation(id); ok {
		c.showTranscript(conv)
	}
}

// resolve maps a /list position, a local id or a server id to a local id.
func (c *Console) resolve(arg string) (string, bool) {
	if arg == "" {
		return "", false
	}
	if n, err := strconv.Atoi(arg); err == nil {
		c.mu.Lock()
		listed := append([]string(nil), c.listed...)
		c.mu.Unlock()
		if n >= 1 && n <= len(listed) {
			return listed[n-1], true
		}
		if conv, ok := c.ws.Store().FindByRemoteID(int64(n)); ok {
			return conv.ID, true
		}
	}
	if _, ok := c.ws.Conversation(arg); ok {
		return arg, true
	}
	return "", false
}

func (c *Console) togglePreview() {
	c.mu.Lock()
	before := c.preview
	c.mu.Unlock()
	if !c.ws.TogglePreview() && !before {
		c.printf("Todavía no hay un contrato para esta conversación.\n")
	}
}

func (c *Console) document(ctx context.Context) {
	doc, err := c.ws.ContractDocument(ctx, c.ws.Active())
	if err != nil {
		c.report(err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	title := doc.Title
	if title == "" {
		title = "Contrato"
	}
	c.linef("== %s ==\n%s\n", title, doc.Text)
}

func (c *Console) send(ctx context.Context, sends *sync.WaitGroup, text string, plain bool) {
	id := c.ws.Active()
	if id == "" {
		c.printf("No hay una conversación activa. Usa /new.\n")
		return
	}
	sends.Add(1)
	go func() {
		defer sends.Done()
		var err error
		if plain {
			err = c.ws.SendMessageSync(ctx, id, text)
		} else {
			err = c.ws.Send(ctx, id, text)
		}
		c.report(err)
	}()
}

// report prints errors the workspace does not notify by itself.
func (c *Console) report(err error) {
	if err == nil {
		return
	}
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		c.log.Error("unexpected workspace error", "err", err)
		c.printf("! %s\n", Message(usecase.ErrorInternal))
		return
	}
	switch ue.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorSendInFlight:
		msg, ok := reasonMessages[ue.Reason]
		if !ok {
			msg = Message(ue.Code)
		}
		c.printf("! %s\n", msg)
	}
}

// onChange prints assistant text appended to the active conversation.
func (c *Console) onChange(ch store.Change) {
	if ch.Kind != store.ChangeMessages || ch.ConversationID != c.ws.Active() {
		return
	}
	conv, ok := c.ws.Conversation(ch.ConversationID)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range conv.Messages {
		if c.closed[m.ID] {
			continue
		}
		if m.Role != domain.RoleAssistant {
			c.closed[m.ID] = true
			continue
		}
		c.renderLocked(m)
	}
}

func (c *Console) showTranscript(conv domain.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linef("== %s ==\n", conv.Title)
	for _, m := range conv.Messages {
		delete(c.printed, m.ID)
		delete(c.closed, m.ID)
		if m.Role == domain.RoleUser {
			c.linef("tú: %s\n", m.Content)
			c.closed[m.ID] = true
			continue
		}
		c.renderLocked(m)
	}
}

// renderLocked prints the unseen tail of an assistant message and closes the
// line once the message is complete.
func (c *Console) renderLocked(m domain.Message) {
	n, started := c.printed[m.ID]
	if !started {
		c.linef("asistente: ")
	}
	if len(m.Content) > n {
		fmt.Fprint(c.out, m.Content[n:])
	}
	c.printed[m.ID] = len(m.Content)
	c.openLine = true
	if !m.Streaming() {
		fmt.Fprintln(c.out)
		c.openLine = false
		c.closed[m.ID] = true
		delete(c.printed, m.ID)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linef(format, args...)
}

// linef writes on a fresh line, breaking an in-progress streamed reply.
func (c *Console) linef(format string, args ...any) {
	if c.openLine {
		fmt.Fprintln(c.out)
		c.openLine = false
	}
	fmt.Fprintf(c.out, format, args...)
}
