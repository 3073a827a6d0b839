// Package store holds the in-memory conversation collection. Every mutation
// replaces the affected record with an updated copy, recomputes contract
// eligibility and notifies subscribers.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"notary-chat/internal/domain"
	"notary-chat/internal/preview"
)

const previewRunes = 80

type ChangeKind int

const (
	ChangeUpserted ChangeKind = iota + 1
	ChangeMessages
	ChangeContext
	ChangeContract
	ChangeRemoved
)

// Change is delivered to subscribers after a mutation is committed.
type Change struct {
	ConversationID string
	Kind           ChangeKind
	Preview        preview.Decision
}

// Result is returned by every mutation. Applied is false when the target
// conversation no longer exists and the mutation was dropped.
type Result struct {
	Conversation domain.Conversation
	Preview      preview.Decision
	Applied      bool
}

// Patch carries the fields of a partial upsert. Zero values leave the
// stored field untouched; a non-nil Messages or Context replaces it whole.
type Patch struct {
	ID                 string
	RemoteID           int64
	Title              *string
	Messages           []domain.Message
	Context            domain.WorkflowContext
	ContractStored     *bool
	Contract           *domain.ContractRef
	LastMessagePreview *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type Store struct {
	mu       sync.RWMutex
	byID     map[string]domain.Conversation
	byRemote map[int64]string
	seq      map[string]int
	nextSeq  int

	subMu   sync.RWMutex
	subs    map[int]func(Change)
	nextSub int

	now func() time.Time
}

func New(opts ...Option) *Store {
	s := &Store{
		byID:     make(map[string]domain.Conversation),
		byRemote: make(map[int64]string),
		seq:      make(map[string]int),
		subs:     make(map[int]func(Change)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for every committed change and returns a function
// that removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// List returns every conversation, most recently updated first.
func (s *Store) List() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) Get(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return c.Clone(), true
}

func (s *Store) FindByRemoteID(remoteID int64) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRemote[remoteID]
	if !ok {
		return domain.Conversation{}, false
	}
	return s.byID[id].Clone(), true
}

// Upsert creates or updates a conversation. A record already holding
// p.RemoteID is the target when p.ID is unknown; at most one record keeps a
// given remote id, so a different holder is dropped.
func (s *Store) Upsert(p Patch) Result {
	s.mu.Lock()
	var removed string
	id := p.ID
	if p.RemoteID != 0 {
		if owner, ok := s.byRemote[p.RemoteID]; ok {
			if _, known := s.byID[id]; id == "" || !known {
				id = owner
			} else if owner != id {
				s.removeLocked(owner)
				removed = owner
			}
		}
	}
	if id == "" {
		s.mu.Unlock()
		return Result{}
	}

	cur, exists := s.byID[id]
	before := cur.ContractAvailable
	now := s.now()
	if exists {
		cur = cur.Clone()
	} else {
		cur = domain.Conversation{ID: id, CreatedAt: now, UpdatedAt: now}
		s.nextSeq++
		s.seq[id] = s.nextSeq
	}

	if p.RemoteID != 0 && cur.RemoteID != p.RemoteID {
		if cur.RemoteID != 0 {
			delete(s.byRemote, cur.RemoteID)
		}
		cur.RemoteID = p.RemoteID
		s.byRemote[p.RemoteID] = id
	}
	if p.Title != nil {
		cur.Title = *p.Title
	}
	if p.Messages != nil {
		cur.Messages = cloneMessages(p.Messages)
		if last, ok := cur.LastMessage(); ok {
			cur.LastMessagePreview = previewText(last.Content)
		}
	}
	if p.Context != nil {
		cur.WorkflowContext = p.Context.Clone()
	}
	if p.ContractStored != nil {
		cur.ContractStored = *p.ContractStored
	}
	if p.Contract != nil {
		ref := *p.Contract
		cur.Contract = &ref
	}
	if p.LastMessagePreview != nil {
		cur.LastMessagePreview = previewText(*p.LastMessagePreview)
	}
	if !p.CreatedAt.IsZero() {
		cur.CreatedAt = p.CreatedAt
	}
	if !p.UpdatedAt.IsZero() {
		cur.UpdatedAt = p.UpdatedAt
	}

	res := s.commitLocked(cur, before)
	s.mu.Unlock()

	if removed != "" {
		s.notify(Change{ConversationID: removed, Kind: ChangeRemoved})
	}
	s.notify(Change{ConversationID: id, Kind: ChangeUpserted, Preview: res.Preview})
	return res
}

// AppendMessage adds msg at the end of the transcript.
func (s *Store) AppendMessage(conversationID string, msg domain.Message) Result {
	return s.mutate(conversationID, ChangeMessages, func(c *domain.Conversation) bool {
		c.Messages = append(c.Messages, msg)
		s.touch(c, msg.Content)
		return true
	})
}

// AppendDelta extends the in-flight message messageID when it is the last
// entry, otherwise starts a new assistant message with that id.
func (s *Store) AppendDelta(conversationID, messageID, delta string) Result {
	return s.mutate(conversationID, ChangeMessages, func(c *domain.Conversation) bool {
		if last, ok := c.LastMessage(); ok && last.ID == messageID {
			if !last.Streaming() {
				return false
			}
			last.Content += delta
			c.Messages[len(c.Messages)-1] = last
			s.touch(c, last.Content)
			return true
		}
		c.Messages = append(c.Messages, domain.Message{
			ID:      messageID,
			Role:    domain.RoleAssistant,
			Content: delta,
		})
		s.touch(c, delta)
		return true
	})
}

// CompleteMessage stamps the in-flight message, closing it to further deltas.
func (s *Store) CompleteMessage(conversationID, messageID string, at time.Time) Result {
	return s.mutate(conversationID, ChangeMessages, func(c *domain.Conversation) bool {
		for i := len(c.Messages) - 1; i >= 0; i-- {
			if c.Messages[i].ID != messageID {
				continue
			}
			if !c.Messages[i].Streaming() {
				return false
			}
			c.Messages[i].CreatedAt = at
			return true
		}
		return false
	})
}

// ReplaceContext swaps the workflow context for ctx. Fields absent from ctx
// are dropped, never merged.
func (s *Store) ReplaceContext(conversationID string, ctx domain.WorkflowContext) Result {
	return s.mutate(conversationID, ChangeContext, func(c *domain.Conversation) bool {
		if ctx == nil {
			c.WorkflowContext = domain.WorkflowContext{}
			return true
		}
		c.WorkflowContext = ctx.Clone()
		return true
	})
}

// SetContractAvailable records whether the server holds a stored contract.
// ContractAvailable itself is always recomputed from that signal and the
// workflow status.
func (s *Store) SetContractAvailable(conversationID string, stored bool) Result {
	return s.mutate(conversationID, ChangeContract, func(c *domain.Conversation) bool {
		c.ContractStored = stored
		return true
	})
}

// Hydrate merges fetched detail. Messages are only taken when none are
// loaded yet so a concurrent local append is never clobbered.
func (s *Store) Hydrate(conversationID string, d domain.ConversationDetail) Result {
	return s.mutate(conversationID, ChangeUpserted, func(c *domain.Conversation) bool {
		if len(c.Messages) == 0 {
			c.Messages = cloneMessages(d.Messages)
			if last, ok := c.LastMessage(); ok {
				c.LastMessagePreview = previewText(last.Content)
			}
		}
		if d.Context != nil {
			c.WorkflowContext = d.Context.Clone()
		}
		c.ContractStored = d.ContractStored
		if d.Contract != nil {
			ref := *d.Contract
			c.Contract = &ref
		} else {
			c.Contract = nil
		}
		if strings.TrimSpace(d.Title) != "" {
			c.Title = d.Title
		}
		return true
	})
}

// AssignRemoteID records the server id of an existing conversation. An
// unknown conversationID is dropped. Another record holding remoteID is
// removed so the id keeps one holder.
func (s *Store) AssignRemoteID(conversationID string, remoteID int64) Result {
	if remoteID == 0 {
		return Result{}
	}
	s.mu.Lock()
	cur, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return Result{}
	}
	if cur.RemoteID == remoteID {
		s.mu.Unlock()
		return Result{Conversation: cur.Clone()}
	}
	var removed string
	if owner, held := s.byRemote[remoteID]; held && owner != conversationID {
		s.removeLocked(owner)
		removed = owner
	}
	before := cur.ContractAvailable
	next := cur.Clone()
	if next.RemoteID != 0 && s.byRemote[next.RemoteID] == conversationID {
		delete(s.byRemote, next.RemoteID)
	}
	next.RemoteID = remoteID
	s.byRemote[remoteID] = conversationID
	res := s.commitLocked(next, before)
	s.mu.Unlock()

	if removed != "" {
		s.notify(Change{ConversationID: removed, Kind: ChangeRemoved})
	}
	s.notify(Change{ConversationID: conversationID, Kind: ChangeUpserted, Preview: res.Preview})
	return res
}

// Rename sets the title of an existing conversation.
func (s *Store) Rename(conversationID, title string) Result {
	return s.mutate(conversationID, ChangeUpserted, func(c *domain.Conversation) bool {
		if c.Title == title {
			return false
		}
		c.Title = title
		return true
	})
}

func (s *Store) Remove(conversationID string) bool {
	s.mu.Lock()
	_, ok := s.byID[conversationID]
	if ok {
		s.removeLocked(conversationID)
	}
	s.mu.Unlock()
	if ok {
		s.notify(Change{ConversationID: conversationID, Kind: ChangeRemoved})
	}
	return ok
}

func (s *Store) mutate(conversationID string, kind ChangeKind, fn func(*domain.Conversation) bool) Result {
	s.mu.Lock()
	cur, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return Result{}
	}
	before := cur.ContractAvailable
	next := cur.Clone()
	if !fn(&next) {
		s.mu.Unlock()
		return Result{Conversation: cur.Clone()}
	}
	res := s.commitLocked(next, before)
	s.mu.Unlock()

	s.notify(Change{ConversationID: conversationID, Kind: kind, Preview: res.Preview})
	return res
}

func (s *Store) commitLocked(c domain.Conversation, before bool) Result {
	c.ContractAvailable = preview.IsContractReady(c)
	s.byID[c.ID] = c
	return Result{
		Conversation: c.Clone(),
		Preview:      preview.Transition(before, c.ContractAvailable),
		Applied:      true,
	}
}

func (s *Store) removeLocked(id string) {
	if c, ok := s.byID[id]; ok && c.RemoteID != 0 && s.byRemote[c.RemoteID] == id {
		delete(s.byRemote, c.RemoteID)
	}
	delete(s.byID, id)
	delete(s.seq, id)
}

func (s *Store) touch(c *domain.Conversation, content string) {
	now := s.now()
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
	c.LastMessagePreview = previewText(content)
}

func (s *Store) notify(ch Change) {
	s.subMu.RLock()
	keys := make([]int, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fns := make([]func(Change), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, s.subs[k])
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ch)
	}
}

func cloneMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	copy(out, in)
	return out
}

func previewText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	r := []rune(s)
	return string(r[:previewRunes]) + "…"
}
