package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
)

// API is the REST side the engine needs for initial load and backfill.
type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	// ListMessages returns a newest-first page older than before (zero for
	// the latest page).
	ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]models.Message, error)
	CreateConversation(ctx context.Context, typ models.ConversationType, participants []string, name string) (*models.Conversation, error)
	ToggleReaction(ctx context.Context, messageID, emoji string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// APIClient talks to the server's /api/v1 routes with a bearer token.
type APIClient struct {
	base  string
	token string
	http  *http.Client
}

// NewAPIClient builds a client for baseURL (scheme and host, no path).
func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &APIClient{
		base:  strings.TrimRight(baseURL, "/") + "/api/v1",
		token: token,
		http:  &http.Client{Transport: tr, Timeout: timeout},
	}
}

func (c *APIClient) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, "list conversations", http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *APIClient) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]models.Message, error) {
	q := url.Values{}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, "list messages", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *APIClient) CreateConversation(ctx context.Context, typ models.ConversationType, participants []string, name string) (*models.Conversation, error) {
	body := map[string]any{"type": typ, "participants": participants, "name": name}
	var out models.Conversation
	if err := c.do(ctx, "create conversation", http.MethodPost, "/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ToggleReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	var out models.Message
	path := "/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := c.do(ctx, "toggle reaction", http.MethodPatch, path, map[string]string{"emoji": emoji}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, "delete message", http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *APIClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Persistence(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusErr(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Persistence(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// statusErr maps the server's {"error": msg} body back onto an apperr kind.
func statusErr(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperr.Auth(op, errors.New(msg))
	case http.StatusForbidden:
		return apperr.Forbidden(op, msg)
	case http.StatusNotFound:
		return apperr.NotFound(op, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.Validation(op, msg)
	case http.StatusConflict:
		return apperr.Conflict(op, msg)
	}
	return apperr.Persistence(op, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
}
