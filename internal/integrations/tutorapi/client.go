package tutorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-tutor/internal/domain"
)

const defaultTimeout = 30 * time.Second

// askRequest is the body the tutor service expects on POST /ask.
type askRequest struct {
	Question string `json:"question"`
}

// askResponse is the envelope returned by the tutor service. The answer may be
// a string or any other JSON value.
type askResponse struct {
	Response json.RawMessage `json:"response"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("tutorapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the remote question-answering service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithParamStore makes the client send a bearer token read from
// <paramPrefix>/tutor-api-token on first use.
func WithParamStore(g Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = g
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

// NewClient creates a Client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("tutorapi: base URL must not be empty")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("tutorapi: base URL %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.getter != nil && c.paramPrefix == "" {
		return nil, errors.New("tutorapi: parameter prefix must not be empty")
	}
	return c, nil
}

func askURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/ask") {
		return base
	}
	return base + "/ask"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// resolveAPIKey returns "" when no parameter store is configured. Otherwise the
// token is read on every call; caching belongs to the getter, so a failed
// fetch is retried by the next question.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.getter == nil {
		return "", nil
	}
	return fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/tutor-api-token"
}

// Ask sends one question and returns the complete reply.
func (c *Client) Ask(ctx context.Context, question string) (domain.Reply, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.Reply{}, err
	}

	body, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("tutorapi: marshal request: %w", err)
	}

	url := askURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.Reply{}, fmt.Errorf("tutorapi: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("tutorapi: request failed: %w", err)
	}
	return decodeReply(raw)
}

func decodeReply(raw []byte) (domain.Reply, error) {
	var payload askResponse
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(raw)))
	if err := dec.Decode(&payload); err != nil {
		return domain.Reply{}, fmt.Errorf("tutorapi: decode response: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return domain.Reply{}, errors.New("tutorapi: decode response: multiple JSON values")
		}
		return domain.Reply{}, fmt.Errorf("tutorapi: decode response trailing data: %w", err)
	}
	if len(payload.Response) == 0 {
		return domain.Reply{}, errors.New("tutorapi: response field missing")
	}
	if payload.Response[0] == '"' {
		var text string
		if err := json.Unmarshal(payload.Response, &text); err != nil {
			return domain.Reply{}, fmt.Errorf("tutorapi: decode response text: %w", err)
		}
		return domain.TextReply(text), nil
	}
	return domain.PayloadReply(payload.Response), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("tutorapi: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("tutorapi: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("tutorapi: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("tutorapi: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("tutorapi: API token is empty")
	}
	return tp.Token, nil
}
