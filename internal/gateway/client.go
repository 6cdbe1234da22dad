package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
)

// Client talks JSON over HTTP for reads and writes and opens one websocket
// per push subscription.
type Client struct {
	baseURL string
	wsURL   string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL, wsURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		wsURL:   wsURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// sentinelByCode maps the wire error codes to the typed taxonomy. Unknown
// codes surface as transport failures.
var sentinelByCode = map[string]error{
	"event_not_found":    models.ErrEventNotFound,
	"question_not_found": models.ErrQuestionNotFound,
	"poll_not_found":     models.ErrPollNotFound,
	"option_not_found":   models.ErrUnknownOptionKey,
	"duplicate_vote":     models.ErrDuplicateVote,
	"empty_question":     models.ErrQuestionIsEmpty,
	"empty_option":       models.ErrOptionIsEmpty,
	"not_enough_options": models.ErrNotEnoughOptions,
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil {
			if sentinel, ok := sentinelByCode[eb.Error]; ok {
				return sentinel
			}
			c.log.Debug("gateway error response",
				zap.Int("status", resp.StatusCode),
				zap.String("code", eb.Error),
				zap.String("message", eb.Message))
		}
		return fmt.Errorf("gateway: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

func (c *Client) FetchEvent(ctx context.Context, eventID, actorID string) (*models.Event, error) {
	var ev models.Event
	path := fmt.Sprintf("/events/%s?actor_id=%s", url.PathEscape(eventID), url.QueryEscape(actorID))
	if err := c.do(ctx, http.MethodGet, path, nil, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Client) CreateQuestion(ctx context.Context, eventID, content string, author models.Actor) (*models.Question, error) {
	body := map[string]any{
		"content": content,
		"author":  models.Author{ID: author.ID, Name: author.Name},
	}
	var q models.Question
	path := fmt.Sprintf("/events/%s/questions", url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodPost, path, body, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) CastUpvote(ctx context.Context, eventID, questionID, actorID string) (*models.Question, error) {
	body := map[string]any{"actor_id": actorID}
	var q models.Question
	path := fmt.Sprintf("/events/%s/questions/%s/upvote", url.PathEscape(eventID), url.PathEscape(questionID))
	if err := c.do(ctx, http.MethodPost, path, body, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) CreatePoll(ctx context.Context, eventID, questionText string, options []string) (*models.Poll, error) {
	body := map[string]any{
		"question_text": questionText,
		"options":       options,
	}
	var p models.Poll
	path := fmt.Sprintf("/events/%s/polls", url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodPost, path, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CastPollVote(ctx context.Context, eventID, pollID, optionKey, actorID string) (*models.Poll, error) {
	body := map[string]any{
		"option_key": optionKey,
		"actor_id":   actorID,
	}
	var p models.Poll
	path := fmt.Sprintf("/events/%s/polls/%s/votes", url.PathEscape(eventID), url.PathEscape(pollID))
	if err := c.do(ctx, http.MethodPost, path, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SubscribeQuestionUpdates(ctx context.Context, eventID string) (*QuestionSubscription, error) {
	conn, err := c.dial(ctx, fmt.Sprintf("/events/%s/questions/subscribe", url.PathEscape(eventID)))
	if err != nil {
		return nil, err
	}
	ch := make(chan models.QuestionUpdate)
	go func() {
		defer close(ch)
		for {
			var u models.QuestionUpdate
			if err := conn.ReadJSON(&u); err != nil {
				c.log.Debug("question subscription ended", zap.Error(err))
				return
			}
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return NewQuestionSubscription(ch, func() { _ = conn.Close() }), nil
}

func (c *Client) SubscribePollUpdates(ctx context.Context, eventID string) (*PollSubscription, error) {
	conn, err := c.dial(ctx, fmt.Sprintf("/events/%s/polls/subscribe", url.PathEscape(eventID)))
	if err != nil {
		return nil, err
	}
	ch := make(chan models.PollUpdate)
	go func() {
		defer close(ch)
		for {
			var u models.PollUpdate
			if err := conn.ReadJSON(&u); err != nil {
				c.log.Debug("poll subscription ended", zap.Error(err))
				return
			}
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return NewPollSubscription(ch, func() { _ = conn.Close() }), nil
}

func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", path, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, nil
}
