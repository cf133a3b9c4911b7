package messaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

const (
	memberCountPath = "/groups/%s/members/count"
	memberIDsPath   = "/groups/%s/members"
	messagesPath    = "/messages"
)

// HTTPClient talks to the platform's bot API. Each operation has its own breaker: after
// BreakerFailures consecutive failures of that operation its calls fail fast with
// ErrUnavailable until BreakerCooldown elapses. Other operations are unaffected.
type HTTPClient struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *zap.Logger

	// circuit-breaker, keyed by path template
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoint        string
	Token           string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

var _ Platform = (*HTTPClient)(nil)

// NewHTTPClient creates a platform client with the given options.
func NewHTTPClient(o Opts) *HTTPClient {
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 10 * time.Second
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		endpoint:         strings.TrimRight(o.Endpoint, "/"),
		token:            o.Token,
		client:           client,
		logger:           logger,
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
}

func (c *HTTPClient) GetMemberCount(ctx context.Context, groupID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, memberCountPath, http.MethodGet, fmt.Sprintf(memberCountPath, url.PathEscape(groupID)), nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *HTTPClient) GetMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	var out struct {
		MemberIDs []string `json:"memberIds"`
	}
	if err := c.doJSON(ctx, memberIDsPath, http.MethodGet, fmt.Sprintf(memberIDsPath, url.PathEscape(groupID)), nil, &out); err != nil {
		return nil, err
	}
	return out.MemberIDs, nil
}

func (c *HTTPClient) SendConfirmationPrompt(ctx context.Context, groupID, text string, yes, no Action) error {
	return c.SendMessage(ctx, groupID, Message{Text: text, Actions: []Action{yes, no}})
}

func (c *HTTPClient) SendMessage(ctx context.Context, target string, msg Message) error {
	payload := struct {
		Target string `json:"target"`
		Message
	}{Target: target, Message: msg}
	return c.doJSON(ctx, messagesPath, http.MethodPost, messagesPath, payload, nil)
}

// isOpen reports whether the breaker of op is OPEN.
func (c *HTTPClient) isOpen(op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[op]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, op)
		c.failures[op] = 0
		return false
	}
	return true
}

func (c *HTTPClient) noteFailure(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op]++
	if c.failures[op] >= c.breakerThreshold {
		c.opened[op] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = 0
}

// doJSON performs one request for operation op. Every failure, including non-2xx replies and
// undecodable bodies, is reported as ErrUnavailable wrapping the cause.
func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, payload any, out any) error {
	if c.endpoint == "" {
		return fmt.Errorf("no endpoint configured: %w", ErrUnavailable)
	}
	if c.isOpen(op) {
		return fmt.Errorf("circuit open: %w", ErrUnavailable)
	}

	body := bytes.NewReader(nil)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.noteFailure(op)
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrUnavailable)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 500 {
		c.noteFailure(op)
		return fmt.Errorf("%s %s: server %d: %w", method, path, resp.StatusCode, ErrUnavailable)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: http %d: %w", method, path, resp.StatusCode, ErrUnavailable)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode: %v: %w", method, path, err, ErrUnavailable)
		}
	}
	c.noteSuccess(op)
	return nil
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<20))
	_ = rc.Close()
}
