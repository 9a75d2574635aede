package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nageoffer/ragent"
)

// Interface compliance checks.
var (
	_ ragent.Transport   = (*Client)(nil)
	_ ragent.Persistence = (*Client)(nil)
)

// Client talks to the RAG server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the session token sent in the Authorization header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a [Client].
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login exchanges credentials for a user carrying a session token.
func (c *Client) Login(ctx context.Context, username, password string) (ragent.User, error) {
	var u apiUser
	if err := c.do(ctx, http.MethodPost, loginPath, nil, loginRequest{Username: username, Password: password}, &u); err != nil {
		return ragent.User{}, err
	}
	return ragent.User{ID: u.ID, Username: u.Username, Avatar: u.Avatar, Token: u.Token}, nil
}

// Logout invalidates the client's session token.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, logoutPath, nil, nil, nil)
}

// ListSessions returns the user's conversations without messages.
func (c *Client) ListSessions(ctx context.Context) ([]ragent.Session, error) {
	var raw []apiSession
	if err := c.do(ctx, http.MethodGet, conversationsPath, nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]ragent.Session, len(raw))
	for i, s := range raw {
		out[i] = convertSession(s)
	}
	return out, nil
}

// ListMessages returns a conversation's persisted messages in order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]ragent.Message, error) {
	var raw []apiMessage
	path := conversationsPath + "/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]ragent.Message, len(raw))
	for i, m := range raw {
		out[i] = convertMessage(m)
		if out[i].ConversationID == "" {
			out[i].ConversationID = conversationID
		}
	}
	return out, nil
}

// RenameSession sets a conversation's title.
func (c *Client) RenameSession(ctx context.Context, conversationID, title string) error {
	path := conversationsPath + "/" + url.PathEscape(conversationID)
	return c.do(ctx, http.MethodPut, path, nil, renameRequest{Title: title}, nil)
}

// DeleteSession deletes a conversation.
func (c *Client) DeleteSession(ctx context.Context, conversationID string) error {
	path := conversationsPath + "/" + url.PathEscape(conversationID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// SubmitFeedback records a vote on a persisted assistant message.
func (c *Client) SubmitFeedback(ctx context.Context, messageID string, vote ragent.Feedback) error {
	if !vote.Valid() {
		return fmt.Errorf("api: feedback %q: %w", vote, ragent.ErrValidation)
	}
	path := conversationsPath + "/messages/" + url.PathEscape(messageID) + "/feedback"
	return c.do(ctx, http.MethodPost, path, nil, feedbackRequest{Vote: voteToWire(vote)}, nil)
}

// StopTask asks the server to stop generating for taskID.
func (c *Client) StopTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, stopPath, url.Values{"taskId": {taskID}}, nil, nil)
}

// Stream opens the reply channel for req and returns a [ragent.Stream] that
// emits semantic events. Closing the stream or cancelling ctx releases the
// connection.
func (c *Client) Stream(ctx context.Context, req ragent.ChatRequest) (ragent.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	q := url.Values{
		"question":     {req.Question},
		"deepThinking": {strconv.FormatBool(req.DeepThinking)},
	}
	if req.ConversationID != "" {
		q.Set("conversationId", req.ConversationID)
	}

	httpReq, err := c.newRequest(ctx, http.MethodGet, chatPath, q, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseHTTPError(resp)
	}
	return newStream(ctx, resp.Body), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, in any) (*http.Request, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("api: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
	return req, nil
}

// do sends a JSON request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	req, err := c.newRequest(ctx, method, path, q, in)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseHTTPError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	if env.Code != "" && env.Code != codeOK {
		return envelopeError(env)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("api: decode data: %w", err)
	}
	return nil
}

func envelopeError(env envelope) error {
	msg := env.Message
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Errorf("api: code %s: %s", env.Code, msg)
}

func parseHTTPError(resp *http.Response) error {
	var sentinel error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		sentinel = ragent.ErrUnauthorized
	case http.StatusNotFound:
		sentinel = ragent.ErrNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(
			fmt.Errorf("api: HTTP %d (failed to read body: %w)", resp.StatusCode, err),
			sentinel,
		)
	}
	msg := strings.TrimSpace(string(body))
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		msg = env.Message
	}
	if sentinel != nil {
		return fmt.Errorf("api: HTTP %d: %s: %w", resp.StatusCode, msg, sentinel)
	}
	return fmt.Errorf("api: HTTP %d: %s", resp.StatusCode, msg)
}
