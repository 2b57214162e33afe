package follower

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
	"time"

	"github.com/hilthontt/readalong/pkg/protocol"
)

var (
	ErrMissingBaseURL  = errors.New("missing required base url")
	ErrMissingRoomCode = errors.New("missing required room code")
)

// APIError is a non-2xx answer from the room API.
type APIError struct {
	StatusCode        int
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("readalong: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("readalong: %d %s", e.StatusCode, e.Code)
}

// Gone reports whether the room no longer exists for this caller.
func (e *APIError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

type JoinResponse struct {
	Room     protocol.RoomStateEvent `json:"room"`
	Created  bool                    `json:"created"`
	Rejoined bool                    `json:"rejoined"`
}

// Client calls the pull binding of the room API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	c := &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Join(ctx context.Context, code string) (JoinResponse, error) {
	var res JoinResponse
	err := c.do(ctx, http.MethodPost, roomPath(code, "join"), nil, &res)
	return res, err
}

func (c *Client) Leave(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, roomPath(code, "leave"), nil, nil)
}

// State reads the room. It also counts as presence for the caller.
func (c *Client) State(ctx context.Context, code string) (protocol.RoomStateEvent, error) {
	var res protocol.RoomStateEvent
	err := c.do(ctx, http.MethodGet, roomPath(code, ""), nil, &res)
	return res, err
}

// UpdatePosition writes the host position. Non-hosts get the same answer
// and nothing changes.
func (c *Client) UpdatePosition(ctx context.Context, code string, position float64, pageIndex int) error {
	body := map[string]any{"position": position, "pageIndex": pageIndex}
	return c.do(ctx, http.MethodPatch, roomPath(code, "position"), body, nil)
}

func (c *Client) Heartbeat(ctx context.Context, code string, localPosition *float64) error {
	body := map[string]any{}
	if localPosition != nil {
		body["localPosition"] = *localPosition
	}
	return c.do(ctx, http.MethodPost, roomPath(code, "heartbeat"), body, nil)
}

// Messages lists chat messages created after since, oldest first. A zero
// since returns the most recent ones; otherwise pass the timestamp of the
// last message received to page forward.
func (c *Client) Messages(ctx context.Context, code string, since time.Time, limit int) ([]protocol.MessageReceivedEvent, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := roomPath(code, "messages")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res struct {
		Messages []protocol.MessageReceivedEvent `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, code, text string) (protocol.MessageReceivedEvent, error) {
	var res protocol.MessageReceivedEvent
	err := c.do(ctx, http.MethodPost, roomPath(code, "messages"), map[string]string{"text": text}, &res)
	return res, err
}

func roomPath(code, action string) string {
	p := "/api/rooms/" + url.PathEscape(code)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		if apiErr.RetryAfterSeconds == 0 {
			apiErr.RetryAfterSeconds, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
