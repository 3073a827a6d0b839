package notaryapi

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"notary-chat/internal/domain"
)

// History lists the caller's conversation summaries.
func (c *Client) History(ctx context.Context, creds domain.Credentials) ([]domain.ConversationSummary, error) {
	var raw json.RawMessage
	if err := c.FetchJSON(ctx, Request{Method: http.MethodGet, Path: "/chat/historial", Credentials: &creds}, &raw); err != nil {
		return nil, err
	}
	items, err := decodeHistory(raw)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConversationSummary, 0, len(items))
	for _, item := range items {
		if item.ChatID == 0 {
			continue
		}
		out = append(out, item.toDomain())
	}
	return out, nil
}

// ChatDetail fetches messages, workflow context and stored contract of one
// conversation.
func (c *Client) ChatDetail(ctx context.Context, creds domain.Credentials, remoteID int64) (domain.ConversationDetail, error) {
	if remoteID <= 0 {
		return domain.ConversationDetail{}, errors.New("notaryapi: remote id must be positive")
	}
	var out detailResponse
	err := c.FetchJSON(ctx, Request{
		Method:      http.MethodGet,
		Path:        "/chat/" + strconv.FormatInt(remoteID, 10),
		Credentials: &creds,
	}, &out)
	if err != nil {
		return domain.ConversationDetail{}, err
	}
	return out.toDomain(remoteID), nil
}

// Send posts a user turn to the non-streaming endpoint and returns the full
// reply.
func (c *Client) Send(ctx context.Context, creds domain.Credentials, req domain.SendRequest) (domain.SendResult, error) {
	if req.Message == "" {
		return domain.SendResult{}, errors.New("notaryapi: message must not be empty")
	}
	var out sendResponse
	err := c.FetchJSON(ctx, Request{
		Method:      http.MethodPost,
		Path:        "/chat",
		Body:        newSendRequest(req, false),
		Credentials: &creds,
	}, &out)
	if err != nil {
		return domain.SendResult{}, err
	}
	res := out.toDomain()
	if res.RemoteID == 0 {
		res.RemoteID = req.RemoteID
	}
	return res, nil
}

// Stream posts a user turn to the streaming endpoint and returns the decoded
// event sequence. The sequence is lazy, finite and not restartable; breaking
// out of it aborts the request.
func (c *Client) Stream(ctx context.Context, creds domain.Credentials, req domain.SendRequest) iter.Seq2[domain.StreamEvent, error] {
	chunks := c.OpenStream(ctx, Request{
		Method:      http.MethodPost,
		Path:        "/chat/streaming",
		Body:        newSendRequest(req, true),
		Credentials: &creds,
	})
	return Decode(chunks, c.sentinel)
}

// ContractDocument returns the rendered contract as an HTML fragment. The
// endpoint is unauthenticated.
func (c *Client) ContractDocument(ctx context.Context, remoteID int64) (domain.ContractDocument, error) {
	if remoteID <= 0 {
		return domain.ContractDocument{}, errors.New("notaryapi: remote id must be positive")
	}
	html, err := c.FetchText(ctx, Request{
		Method: http.MethodGet,
		Path:   "/chat/documento",
		Query:  url.Values{"chat_id": {strconv.FormatInt(remoteID, 10)}},
	})
	if err != nil {
		return domain.ContractDocument{}, err
	}
	return ParseDocument(remoteID, html)
}
