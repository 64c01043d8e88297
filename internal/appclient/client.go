package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/logging"
	"github.com/g960059/opsdash/internal/security"
)

// GenericFailureMessage is reported when a failure carries no usable text.
const GenericFailureMessage = "Request failed"

const (
	defaultUnaryTimeout = 10 * time.Second
	maxPlainErrorLength = 200
)

// TokenSource yields the access token for a single call. An empty token
// means the call goes out unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
	tokens       TokenSource
	log          *zap.Logger
}

type RequestOptions struct {
	Params url.Values
	Body   any
}

func New(baseURL string, tokens TokenSource) *Client {
	return NewWithClient(baseURL, &http.Client{}).WithTokenSource(tokens)
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
		log:          zap.NewNop(),
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

func (c *Client) WithTokenSource(tokens TokenSource) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.tokens = tokens
	return &clone
}

func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.log = logging.OrNop(logger)
	return &clone
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Unauthorized() bool {
	return e != nil && e.StatusCode == http.StatusUnauthorized
}

// IsUnauthorized reports whether err is a 401 answer from the backend.
func IsUnauthorized(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Unauthorized()
}

// MessageOf picks the most specific user-facing text for a failure: the
// backend message, then the transport error text, then a generic string.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *api.DomainError
	if errors.As(err, &domainErr) {
		if msg := strings.TrimSpace(domainErr.Message); msg != "" {
			return msg
		}
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if msg := strings.TrimSpace(reqErr.Message); msg != "" {
			return msg
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out"
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return GenericFailureMessage
}

func (c *Client) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, path, RequestOptions{Params: params})
}

func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, path, RequestOptions{Body: body})
}

func (c *Client) Put(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPut, path, RequestOptions{Body: body})
}

func (c *Client) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPatch, path, RequestOptions{Body: body})
}

func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, path, RequestOptions{})
}

// Do performs one call and returns the raw 2xx body. Answers >= 400 become
// *RequestError; a 2xx body is returned as is, whatever its status marker.
func (c *Client) Do(ctx context.Context, method, path string, opts RequestOptions) (json.RawMessage, error) {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(opts.Params) > 0 {
		u += "?" + opts.Params.Encode()
	}
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	var encoded []byte
	if opts.Body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(opts.Body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		encoded = buf.Bytes()
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("read access token: %w", err)
		}
		if token = strings.TrimSpace(token); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("query", security.RedactPayload(opts.Params.Encode())),
		zap.String("body", security.RedactPayload(strings.TrimSpace(string(encoded)))),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))
	if resp.StatusCode >= 400 {
		return nil, decodeRequestError(resp.StatusCode, payload)
	}
	return payload, nil
}

func decodeRequestError(status int, payload []byte) *RequestError {
	var er api.ErrorResponse
	if err := json.Unmarshal(payload, &er); err == nil {
		code := strings.TrimSpace(er.Status)
		message := strings.TrimSpace(er.Message)
		if er.Error != nil {
			if strings.TrimSpace(er.Error.Code) != "" {
				code = strings.TrimSpace(er.Error.Code)
			}
			if message == "" {
				message = strings.TrimSpace(er.Error.Message)
			}
		}
		if code != "" || message != "" {
			return &RequestError{StatusCode: status, Code: code, Message: message}
		}
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > maxPlainErrorLength || strings.HasPrefix(text, "<") {
		text = ""
	}
	return &RequestError{
		StatusCode: status,
		Code:       fmt.Sprintf("HTTP_%d", status),
		Message:    text,
	}
}
