package dispatch

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
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"github.com/tidwall/gjson"

	"fortwave/netclient/internal/logging"
	"fortwave/netclient/internal/protocol"
)

// DefaultTimeout bounds every request round trip. There are no retries at this
// layer; retry policy belongs to the callers that know what is safe to repeat.
const DefaultTimeout = 8 * time.Second

// maxResponseBytes caps how much of a reply is read, rejoin backlogs included.
const maxResponseBytes = 8 << 20

// RequestError describes a request the server rejected or that never
// completed. Status is zero when no response arrived.
type RequestError struct {
	Status  int
	Message string
	Timeout bool
}

// Error renders the failure for logs and wrapped errors.
func (e *RequestError) Error() string {
	if e == nil {
		return "dispatch: request failed"
	}
	switch {
	case e.Timeout:
		return "dispatch: request timed out"
	case e.Status != 0:
		return fmt.Sprintf("dispatch: request rejected (%d): %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("dispatch: request failed: %s", e.Message)
	}
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Client submits session requests and gameplay actions to the match service.
// One client serves one player identity for the lifetime of a session.
type Client struct {
	httpClient *http.Client
	logger     *log.Logger
	baseURL    string
	playerID   string
	timeout    time.Duration
	clientSeq  atomic.Uint64
}

// NewClient constructs a dispatcher for the given service base URL. An empty
// playerID is replaced with a fresh anonymous identity.
func NewClient(baseURL, playerID string, logger *log.Logger, opts ...Option) *Client {
	if playerID == "" {
		playerID = NewPlayerID()
	}
	c := &Client{
		httpClient: &http.Client{},
		logger:     logging.Ensure(logger),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		playerID:   playerID,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// PlayerID reports the identity stamped on outbound traffic.
func (c *Client) PlayerID() string {
	if c == nil {
		return ""
	}
	return c.playerID
}

// NextClientSeq reserves the next strictly increasing action counter.
func (c *Client) NextClientSeq() uint64 {
	if c == nil {
		return 0
	}
	return c.clientSeq.Add(1)
}

// joinRequest is the body for create, join, and rejoin calls.
type joinRequest struct {
	PlayerID       string `json:"playerId"`
	LastAppliedSeq uint64 `json:"lastAppliedSeq,omitempty"`
}

// Create provisions a new match and seats this player in it.
func (c *Client) Create(ctx context.Context) (protocol.JoinResult, error) {
	var result protocol.JoinResult
	err := c.do(ctx, http.MethodPost, "/matches", joinRequest{PlayerID: c.playerID}, &result)
	return result, err
}

// Join seats this player in an existing match.
func (c *Client) Join(ctx context.Context, matchID string) (protocol.JoinResult, error) {
	var result protocol.JoinResult
	err := c.do(ctx, http.MethodPost, matchPath(matchID, "join"), joinRequest{PlayerID: c.playerID}, &result)
	return result, err
}

// Rejoin re-enters a match after a connection loss, asking for everything the
// player missed since lastApplied.
func (c *Client) Rejoin(ctx context.Context, matchID string, lastApplied uint64) (protocol.SyncResult, error) {
	var result protocol.SyncResult
	body := joinRequest{PlayerID: c.playerID, LastAppliedSeq: lastApplied}
	err := c.do(ctx, http.MethodPost, matchPath(matchID, "rejoin"), body, &result)
	return result, err
}

// State fetches the current authoritative snapshot.
func (c *Client) State(ctx context.Context, matchID string) (protocol.MatchState, error) {
	var state protocol.MatchState
	err := c.do(ctx, http.MethodGet, matchPath(matchID, "state"), nil, &state)
	return state, err
}

// Sync is the combined poll: a fresh snapshot plus the backlog accumulated
// since lastApplied.
func (c *Client) Sync(ctx context.Context, matchID string, lastApplied uint64) (protocol.SyncResult, error) {
	var result protocol.SyncResult
	path := matchPath(matchID, "sync") + "?since=" + strconv.FormatUint(lastApplied, 10)
	err := c.do(ctx, http.MethodGet, path, nil, &result)
	return result, err
}

// Send stamps the player identity and action counter onto the action and
// submits it, returning the server's acknowledgement.
func (c *Client) Send(ctx context.Context, matchID string, action protocol.ClientAction) (protocol.ActionAck, error) {
	//1.- Stamp identity late so callers can build actions without the client.
	action.PlayerID = c.playerID
	if action.ClientSeq == 0 {
		action.ClientSeq = c.NextClientSeq()
	}
	var ack protocol.ActionAck
	if err := c.do(ctx, http.MethodPost, matchPath(matchID, "actions"), action, &ack); err != nil {
		return ack, err
	}
	if !ack.OK {
		//2.- A well-formed refusal still counts as a rejected request.
		return ack, &RequestError{Status: http.StatusOK, Message: ack.Error}
	}
	return ack, nil
}

// SendBestEffort submits an action whose failure the caller does not care
// about, such as heartbeats and courtesy disconnect notices.
func (c *Client) SendBestEffort(ctx context.Context, matchID string, action protocol.ClientAction) {
	if c == nil {
		return
	}
	if _, err := c.Send(ctx, matchID, action); err != nil {
		c.logger.Debug().Str("action", action.Type).Msgf("best-effort action dropped: %v", err)
	}
}

// matchPath assembles the sub-resource path for one match.
func matchPath(matchID, tail string) string {
	return "/matches/" + url.PathEscape(matchID) + "/" + tail
}

// do performs one bounded round trip and decodes the reply into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil {
		return &RequestError{Message: "client not configured"}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dispatch: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("dispatch: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &RequestError{Timeout: true, Message: "deadline exceeded"}
		}
		return &RequestError{Message: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &RequestError{Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return rejection(resp.StatusCode, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &RequestError{Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

// rejection converts a non-2xx reply into a RequestError, preferring the
// server's own error string over generic status text.
func rejection(status int, payload []byte) *RequestError {
	message := gjson.GetBytes(payload, "error").String()
	if message == "" {
		message = http.StatusText(status)
	}
	return &RequestError{Status: status, Message: message}
}
