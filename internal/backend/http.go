package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HTTP implements Client against the hosted REST backend. Push events are
// delivered by long-polling the events endpoint; the cursor is advanced only
// after handlers ran, so a crash replays rather than drops events.
type HTTP struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger

	mu       sync.Mutex
	handlers []func(Event)
	cursor   string
	cancel   context.CancelFunc
}

// NewHTTP creates a backend client for the given base URL and bearer token.
func NewHTTP(baseURL, token string, logger *zap.Logger) *HTTP {
	return &HTTP{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 70 * time.Second},
		logger:  logger,
	}
}

// FetchConversations returns all conversations the session participates in.
func (h *HTTP) FetchConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := h.getJSON(ctx, "/v1/conversations", &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// FetchMessages returns the canonical message sequence for a conversation.
func (h *HTTP) FetchMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := h.getJSON(ctx, path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// PostMessage submits a message and returns its canonical form.
func (h *HTTP) PostMessage(ctx context.Context, conversationID string, out OutgoingMessage) (*Message, error) {
	var msg Message
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := h.postJSON(ctx, path, out, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PostVote submits a poll vote.
func (h *HTTP) PostVote(ctx context.Context, pollID, voterID string, optionIndex int) error {
	path := "/v1/polls/" + url.PathEscape(pollID) + "/votes"
	body := VoteUpdate{PollID: pollID, VoterID: voterID, OptionIndex: optionIndex}
	return h.postJSON(ctx, path, body, nil)
}

// StoreFile streams a file to storage and returns its stable reference.
func (h *HTTP) StoreFile(ctx context.Context, fh FileHandle) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/files", fh.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", fh.MimeType)
	req.Header.Set("X-Filename", fh.Name)
	if fh.Size > 0 {
		req.ContentLength = fh.Size
	}
	h.authorize(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusRequestEntityTooLarge:
		return "", ErrTooLarge
	case http.StatusUnsupportedMediaType:
		return "", ErrUnsupportedType
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: store file: status %d", ErrTransport, resp.StatusCode)
	}

	var out struct {
		StorageRef string `json:"storage_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode store response: %v", ErrTransport, err)
	}
	return out.StorageRef, nil
}

// RegisterEventHandler adds a handler for remote push events.
func (h *HTTP) RegisterEventHandler(handler func(Event)) {
	h.mu.Lock()
	h.handlers = append(h.handlers, handler)
	h.mu.Unlock()
}

// Connect starts the long-poll event loop in the background.
func (h *HTTP) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	go h.pollLoop(ctx)
	return nil
}

// Close stops the event loop.
func (h *HTTP) Close() error {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (h *HTTP) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		events, err := h.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("event poll failed", zap.Error(err))
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, evt := range events {
			h.dispatch(evt)
			if evt.Cursor != "" {
				h.mu.Lock()
				h.cursor = evt.Cursor
				h.mu.Unlock()
			}
		}
	}
}

func (h *HTTP) pollOnce(ctx context.Context) ([]Event, error) {
	h.mu.Lock()
	cursor := h.cursor
	h.mu.Unlock()

	path := "/v1/events"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var events []Event
	if err := h.getJSON(ctx, path, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (h *HTTP) dispatch(evt Event) {
	h.mu.Lock()
	handlers := make([]func(Event), len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

func (h *HTTP) authorize(req *http.Request) {
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
}

func (h *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	h.authorize(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: GET %s: status %d", ErrTransport, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransport, path, err)
	}
	return nil
}

func (h *HTTP) postJSON(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	h.authorize(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: POST %s: status %d", ErrTransport, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransport, path, err)
	}
	return nil
}
