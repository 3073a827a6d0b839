package usecase

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"notary-chat/internal/domain"
	"notary-chat/internal/integrations/notaryapi"
	"notary-chat/internal/preview"
	"notary-chat/internal/store"
)

const (
	defaultPlaceholderTitle = "Nuevo Contrato"
	defaultWelcomeMessage   = "Bienvenido al asistente notarial de IA. ¿Qué tipo de contrato necesita generar hoy?"
	defaultErrorReply       = "Lo siento, ocurrió un error al procesar tu mensaje. Por favor, inténtalo de nuevo."
	defaultTitleLength      = 30
	requestTitleLength      = 50
	historyIDPrefix         = "chat-"
)

// ChatAPI is the slice of the backend used by Workspace.
type ChatAPI interface {
	History(ctx context.Context, creds domain.Credentials) ([]domain.ConversationSummary, error)
	ChatDetail(ctx context.Context, creds domain.Credentials, remoteID int64) (domain.ConversationDetail, error)
	Send(ctx context.Context, creds domain.Credentials, req domain.SendRequest) (domain.SendResult, error)
	Stream(ctx context.Context, creds domain.Credentials, req domain.SendRequest) iter.Seq2[domain.StreamEvent, error]
	ContractDocument(ctx context.Context, remoteID int64) (domain.ContractDocument, error)
}

// Workspace drives one signed-in chat session: it selects and hydrates
// conversations, reconciles replies into the store and routes every preview
// visibility change through the eligibility evaluator.
type Workspace struct {
	api       ChatAPI
	store     *store.Store
	presenter Presenter
	creds     domain.Credentials
	log       *slog.Logger
	now       func() time.Time

	placeholderTitle string
	welcomeMessage   string
	errorReply       string
	titleLength      int
	streaming        bool

	hydration singleflight.Group

	// view orders active changes and preview signals; held across the
	// presenter call so signals reach it in the order they took effect.
	view sync.Mutex

	mu          sync.Mutex
	active      string
	previewOpen bool
	inFlight    map[string]bool
}

type Option func(*Workspace)

func WithLogger(log *slog.Logger) Option {
	return func(w *Workspace) {
		if log != nil {
			w.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Workspace) {
		if now != nil {
			w.now = now
		}
	}
}

func WithPlaceholderTitle(title string) Option {
	return func(w *Workspace) {
		if strings.TrimSpace(title) != "" {
			w.placeholderTitle = title
		}
	}
}

func WithWelcomeMessage(msg string) Option {
	return func(w *Workspace) {
		if strings.TrimSpace(msg) != "" {
			w.welcomeMessage = msg
		}
	}
}

func WithErrorReply(msg string) Option {
	return func(w *Workspace) {
		if strings.TrimSpace(msg) != "" {
			w.errorReply = msg
		}
	}
}

func WithTitleLength(n int) Option {
	return func(w *Workspace) {
		if n > 0 {
			w.titleLength = n
		}
	}
}

// WithStreaming selects the streaming endpoint for Send.
func WithStreaming(on bool) Option {
	return func(w *Workspace) {
		w.streaming = on
	}
}

func NewWorkspace(api ChatAPI, st *store.Store, presenter Presenter, creds domain.Credentials, opts ...Option) (*Workspace, error) {
	if api == nil {
		return nil, errors.New("usecase: chat api must not be nil")
	}
	if st == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if !creds.Valid() {
		return nil, newError(ErrorAuthRequired, "missing_credentials", nil)
	}
	if presenter == nil {
		presenter = nopPresenter{}
	}
	w := &Workspace{
		api:              api,
		store:            st,
		presenter:        presenter,
		creds:            creds,
		log:              slog.Default(),
		now:              time.Now,
		placeholderTitle: defaultPlaceholderTitle,
		welcomeMessage:   defaultWelcomeMessage,
		errorReply:       defaultErrorReply,
		titleLength:      defaultTitleLength,
		streaming:        true,
		inFlight:         make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Workspace) Store() *store.Store {
	return w.store
}

// Active returns the id of the selected conversation, or "".
func (w *Workspace) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *Workspace) PreviewVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.previewOpen
}

func (w *Workspace) Conversations() []domain.Conversation {
	return w.store.List()
}

func (w *Workspace) Conversation(id string) (domain.Conversation, bool) {
	return w.store.Get(id)
}

// NewConversation creates a provisional conversation holding the welcome
// message and makes it active.
func (w *Workspace) NewConversation() domain.Conversation {
	id := newUUID()
	title := w.placeholderTitle
	now := w.now()
	res := w.store.Upsert(store.Patch{
		ID:    id,
		Title: &title,
		Messages: []domain.Message{{
			ID:        newUUID(),
			Role:      domain.RoleAssistant,
			Content:   w.welcomeMessage,
			CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	})
	w.view.Lock()
	w.setActiveLocked(id)
	w.showPreviewLocked(id, false)
	w.view.Unlock()
	w.log.Debug("conversation created", "conversation_id", id)
	return res.Conversation
}

// LoadHistory lists the caller's conversations and merges them into the
// store as summaries. Detail is fetched lazily on selection.
func (w *Workspace) LoadHistory(ctx context.Context) ([]domain.Conversation, error) {
	items, err := w.api.History(ctx, w.creds)
	if err != nil {
		return nil, w.fail("load_history", "", err)
	}

	for _, item := range items {
		patch := store.Patch{
			ID:             historyIDPrefix + strconv.FormatInt(item.RemoteID, 10),
			RemoteID:       item.RemoteID,
			ContractStored: boolPtr(item.Contract != nil),
			Contract:       item.Contract,
			CreatedAt:      item.CreatedAt,
			UpdatedAt:      item.UpdatedAt,
		}
		existing, known := w.store.FindByRemoteID(item.RemoteID)
		if title := strings.TrimSpace(item.Title); title != "" {
			patch.Title = &title
		} else if !known {
			placeholder := w.placeholderTitle
			patch.Title = &placeholder
		}
		if item.LastMessage != "" {
			last := item.LastMessage
			patch.LastMessagePreview = &last
		}
		if item.Status != "" && (!known || len(existing.WorkflowContext) == 0) {
			patch.Context = domain.WorkflowContext{domain.ContextKeyStatus: item.Status}
		}
		res := w.store.Upsert(patch)
		w.applyDecision(res.Conversation.ID, res.Preview)
	}

	w.log.Info("history loaded", "conversations", len(items))
	return w.store.List(), nil
}

// SelectConversation activates id at once, hydrates it on first selection
// and then mirrors its eligibility in the preview.
func (w *Workspace) SelectConversation(ctx context.Context, id string) error {
	c, ok := w.store.Get(id)
	if !ok {
		return newError(ErrorInvalidInput, "unknown_conversation", nil)
	}
	w.setActive(id)

	var hydrateErr error
	if len(c.Messages) == 0 && !c.Provisional() {
		hydrateErr = w.hydrate(ctx, id, c.RemoteID)
	}

	if cur, ok := w.store.Get(id); ok {
		w.applySelection(id, cur.ContractAvailable)
	}
	return hydrateErr
}

func (w *Workspace) hydrate(ctx context.Context, id string, remoteID int64) error {
	// Concurrent selections of id share one fetch and one notification.
	_, err, _ := w.hydration.Do(id, func() (any, error) {
		detail, err := w.api.ChatDetail(ctx, w.creds, remoteID)
		if err != nil {
			return nil, w.fail("hydrate", id, err)
		}
		w.store.Hydrate(id, detail)
		w.log.Debug("conversation hydrated", "conversation_id", id, "remote_id", remoteID)
		return nil, nil
	})
	return err
}

// Send dispatches to the streaming or the non-streaming endpoint.
func (w *Workspace) Send(ctx context.Context, id, text string) error {
	if w.streaming {
		return w.SendMessage(ctx, id, text)
	}
	return w.SendMessageSync(ctx, id, text)
}

// SendMessage posts text on the streaming endpoint and reconciles the reply
// into conversation id. Every store mutation is addressed to id, whichever
// conversation is active meanwhile.
func (w *Workspace) SendMessage(ctx context.Context, id, text string) error {
	c, req, release, err := w.beginSend(id, text)
	if err != nil || release == nil {
		return err
	}
	defer release()

	replyID := newUUID()
	received := false
	var streamErr error
	for ev, err := range w.api.Stream(ctx, w.creds, req) {
		if err != nil {
			var pe *notaryapi.ProtocolError
			if errors.As(err, &pe) {
				w.log.Warn("stream segment skipped", "conversation_id", id, "reason", pe.Reason, "err", err)
				continue
			}
			streamErr = err
			break
		}
		switch ev.Kind {
		case domain.EventText:
			if ev.Text == "" {
				continue
			}
			received = true
			w.store.AppendDelta(id, replyID, ev.Text)
		case domain.EventContext:
			res := w.store.ReplaceContext(id, ev.Context)
			if remoteID, ok := ev.Context.ChatID(); ok && c.Provisional() {
				w.store.AssignRemoteID(id, remoteID)
				c.RemoteID = remoteID
			}
			w.applyDecision(id, res.Preview)
		}
	}

	if received {
		w.store.CompleteMessage(id, replyID, w.now())
	}

	switch {
	case ctx.Err() != nil:
		w.log.Info("send canceled", "conversation_id", id)
		return classify("send_stream", ctx.Err())
	case streamErr != nil:
		w.appendErrorReply(id)
		return w.fail("send_stream", id, streamErr)
	}

	w.resolveTitle(id, "")
	w.log.Info("message streamed", "conversation_id", id, "remote_id", c.RemoteID)
	return nil
}

// SendMessageSync posts text on the non-streaming endpoint and applies the
// full reply.
func (w *Workspace) SendMessageSync(ctx context.Context, id, text string) error {
	_, req, release, err := w.beginSend(id, text)
	if err != nil || release == nil {
		return err
	}
	defer release()

	res, err := w.api.Send(ctx, w.creds, req)
	if err != nil {
		if ctx.Err() != nil {
			return classify("send", ctx.Err())
		}
		w.appendErrorReply(id)
		return w.fail("send", id, err)
	}

	if res.RemoteID != 0 {
		w.store.AssignRemoteID(id, res.RemoteID)
	}
	if res.Reply != "" {
		w.store.AppendMessage(id, domain.Message{
			ID:        newUUID(),
			Role:      domain.RoleAssistant,
			Content:   res.Reply,
			CreatedAt: w.now(),
		})
	}
	out := w.store.ReplaceContext(id, res.Context)
	w.applyDecision(id, out.Preview)
	w.resolveTitle(id, res.Title)
	w.log.Info("message sent", "conversation_id", id, "remote_id", res.RemoteID)
	return nil
}

// beginSend validates the call, claims the conversation's send slot and
// appends the user message. A nil release with a nil error means the
// conversation does not exist and the call is a no-op.
func (w *Workspace) beginSend(id, text string) (domain.Conversation, domain.SendRequest, func(), error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Conversation{}, domain.SendRequest{}, nil, newError(ErrorInvalidInput, "empty_message", nil)
	}
	c, ok := w.store.Get(id)
	if !ok {
		return domain.Conversation{}, domain.SendRequest{}, nil, nil
	}

	w.mu.Lock()
	if w.inFlight[id] {
		w.mu.Unlock()
		return domain.Conversation{}, domain.SendRequest{}, nil, newError(ErrorSendInFlight, "send_in_flight", nil)
	}
	w.inFlight[id] = true
	w.mu.Unlock()
	release := func() {
		w.mu.Lock()
		delete(w.inFlight, id)
		w.mu.Unlock()
	}

	req := domain.SendRequest{
		Message:  text,
		RemoteID: c.RemoteID,
		Context:  c.WorkflowContext,
	}
	if c.Provisional() {
		req.Title = truncateRunes(text, requestTitleLength, "")
	}

	w.store.AppendMessage(id, domain.Message{
		ID:        newUUID(),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: w.now(),
	})
	return c, req, release, nil
}

// TogglePreview closes an open preview, or opens it when the active
// conversation has a contract. It returns the resulting visibility.
func (w *Workspace) TogglePreview() bool {
	w.view.Lock()
	defer w.view.Unlock()
	w.mu.Lock()
	id, open := w.active, w.previewOpen
	w.mu.Unlock()
	if id == "" {
		return false
	}
	if open {
		w.showPreviewLocked(id, false)
		return false
	}
	c, ok := w.store.Get(id)
	if !ok || !c.ContractAvailable {
		return false
	}
	w.showPreviewLocked(id, true)
	return true
}

// ContractDocument fetches the rendered contract of conversation id.
func (w *Workspace) ContractDocument(ctx context.Context, id string) (domain.ContractDocument, error) {
	c, ok := w.store.Get(id)
	if !ok {
		return domain.ContractDocument{}, newError(ErrorInvalidInput, "unknown_conversation", nil)
	}
	if c.Provisional() {
		return domain.ContractDocument{}, newError(ErrorInvalidInput, "conversation_not_persisted", nil)
	}
	doc, err := w.api.ContractDocument(ctx, c.RemoteID)
	if err != nil {
		return domain.ContractDocument{}, w.fail("document", id, err)
	}
	return doc, nil
}

func (w *Workspace) setActive(id string) {
	w.view.Lock()
	w.setActiveLocked(id)
	w.view.Unlock()
}

// setActiveLocked requires w.view.
func (w *Workspace) setActiveLocked(id string) {
	w.mu.Lock()
	w.active = id
	w.mu.Unlock()
}

// applyDecision forwards an eligibility edge to the presenter when it
// concerns the active conversation. Other conversations pick their state up
// on selection.
func (w *Workspace) applyDecision(id string, d preview.Decision) {
	if d == preview.Unchanged {
		return
	}
	w.view.Lock()
	defer w.view.Unlock()
	if w.Active() != id {
		return
	}
	w.showPreviewLocked(id, d == preview.Open)
}

// applySelection mirrors the eligibility of id while it is still active.
func (w *Workspace) applySelection(id string, available bool) {
	w.view.Lock()
	defer w.view.Unlock()
	if w.Active() != id {
		return
	}
	w.showPreviewLocked(id, preview.ForSelection(available) == preview.Open)
}

// showPreviewLocked requires w.view.
func (w *Workspace) showPreviewLocked(id string, visible bool) {
	w.mu.Lock()
	w.previewOpen = visible
	w.mu.Unlock()
	w.presenter.ShowPreview(id, visible)
}

func (w *Workspace) appendErrorReply(id string) {
	w.store.AppendMessage(id, domain.Message{
		ID:        newUUID(),
		Role:      domain.RoleAssistant,
		Content:   w.errorReply,
		CreatedAt: w.now(),
	})
}

// fail classifies err, logs it and notifies the presenter.
func (w *Workspace) fail(op, conversationID string, err error) *Error {
	ue := classify(op, err)
	level := LevelError
	if ue.Code == ErrorNotFound {
		level = LevelWarn
	}
	w.log.Error("operation failed", "op", op, "conversation_id", conversationID, "code", ue.Code, "err", err)
	w.presenter.Notify(Notification{
		Level:          level,
		Code:           ue.Code,
		ConversationID: conversationID,
		Err:            ue,
	})
	return ue
}

// resolveTitle replaces a placeholder title: the server's title first, then
// one derived from the contract type, then the first user message.
func (w *Workspace) resolveTitle(id, serverTitle string) {
	c, ok := w.store.Get(id)
	if !ok {
		return
	}
	if t := strings.TrimSpace(c.Title); t != "" && t != w.placeholderTitle {
		return
	}
	title := strings.TrimSpace(serverTitle)
	if title == "" {
		title = contractTitle(c.WorkflowContext.ContractType())
	}
	if title == "" {
		title = truncateRunes(c.FirstUserMessage(), w.titleLength, "…")
	}
	if title == "" || title == c.Title {
		return
	}
	w.store.Rename(id, title)
}

func boolPtr(b bool) *bool {
	return &b
}

var newUUID = func() string {
	return uuid.NewString()
}
