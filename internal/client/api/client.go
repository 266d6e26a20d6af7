package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"

	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
)

// Client calls the chat REST API with a bearer token. Reads are retried on
// transient failures; writes never are, since a resent message is a new one.
type Client struct {
	baseURL string
	http    *resty.Client
}

type nopLogger struct{}

func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

func NewClient(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetLogger(nopLogger{}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			retry, _ := retryablehttp.DefaultRetryPolicy(r.Request.Context(), r.RawResponse, err)
			return retry
		})
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{baseURL: baseURL, http: c}
}

// envelope mirrors pkg/response.Response with a deferred data field.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func (c *Client) StartChat(ctx context.Context, productID string) (*usecase.ChatResponse, error) {
	var chat usecase.ChatResponse
	body := map[string]string{"product_id": productID}
	if err := c.do(ctx, http.MethodPost, "/v1/chats", body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) ListChats(ctx context.Context) ([]*usecase.ChatResponse, error) {
	var chats []*usecase.ChatResponse
	if err := c.do(ctx, http.MethodGet, "/v1/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) History(ctx context.Context, chatID string) (*usecase.HistoryResponse, error) {
	var history usecase.HistoryResponse
	if err := c.do(ctx, http.MethodGet, chatPath(chatID, "messages"), nil, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// SendMessage is not idempotent. Retrying after a timeout may store the text twice.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*usecase.MessageResponse, error) {
	var message usecase.MessageResponse
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, chatPath(chatID, "messages"), body, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *Client) MarkAsRead(ctx context.Context, chatID string) (*usecase.ReadResult, error) {
	var result usecase.ReadResult
	if err := c.do(ctx, http.MethodPost, chatPath(chatID, "read"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DevToken asks a development server to mint a token for userID.
func (c *Client) DevToken(ctx context.Context, userID string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/dev/token", map[string]string{"user_id": userID}, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// WithToken returns a copy of the client that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	return NewClient(c.baseURL, token)
}

// SubjectFromToken reads the user id out of a JWT without verifying it. The
// server still verifies every request; this only tells the client who it is.
func SubjectFromToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", errors.BadRequest("Token is not a JWT", err)
	}
	if claims.Subject == "" {
		return "", errors.BadRequest("Token has no subject", nil)
	}
	return claims.Subject, nil
}

func chatPath(chatID, action string) string {
	return "/v1/chats/" + url.PathEscape(chatID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Unavailable("Chat API unreachable", err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if resp.StatusCode() >= 500 {
			return errors.Unavailable(fmt.Sprintf("Chat API returned status %d", resp.StatusCode()), err)
		}
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode(), err)
	}

	if !env.Success || resp.IsError() {
		return decodeError(resp.StatusCode(), &env)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func decodeError(status int, env *envelope) error {
	if env.Error == nil {
		return errors.New(errors.CodeInternal, http.StatusText(status), status, nil)
	}
	appErr := errors.New(env.Error.Code, env.Error.Message, status, nil)
	appErr.Retryable = env.Error.Retryable
	return appErr
}
