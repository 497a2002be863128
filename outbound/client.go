// Package outbound places calls to peer nodes: a thin HTTP client for the
// peer's /api/a2a endpoints and a driver that holds a full multi-turn
// conversation against them.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openclaw/a2a"
)

// DefaultPeerTimeout bounds one HTTP round trip to a peer.
const DefaultPeerTimeout = 60 * time.Second

// Client speaks the inbound API of a remote node identified by an a2a://
// endpoint.
type Client struct {
	endpoint *a2a.Endpoint
	http     *http.Client

	// TraceID, when set, is propagated on every request.
	TraceID string
}

// NewClient returns a client for the endpoint. timeout <= 0 uses the
// default.
func NewClient(endpoint *a2a.Endpoint, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Ping checks peer liveness.
func (c *Client) Ping(ctx context.Context) (*a2a.PingResponse, error) {
	var out a2a.PingResponse
	if err := c.do(ctx, http.MethodGet, "/ping", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the peer's capability card.
func (c *Client) Status(ctx context.Context) (*a2a.StatusResponse, error) {
	var out a2a.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Invoke sends one turn to the peer.
func (c *Client) Invoke(ctx context.Context, req a2a.InvokeRequest) (*a2a.InvokeResponse, error) {
	var out a2a.InvokeResponse
	if err := c.do(ctx, http.MethodPost, "/invoke", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// End asks the peer to conclude the conversation.
func (c *Client) End(ctx context.Context, conversationID string) (*a2a.EndResponse, error) {
	var out a2a.EndResponse
	if err := c.do(ctx, http.MethodPost, "/end", a2a.EndRequest{ConversationID: conversationID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	url := c.endpoint.BaseURL() + a2a.APIPrefix + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.endpoint.Token)
	if c.TraceID != "" {
		req.Header.Set("x-trace-id", c.TraceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &a2a.APIError{
			Code:    a2a.CodePeerUnreachable,
			Message: fmt.Sprintf("peer did not respond: %v", err),
			Hint:    a2a.CodePeerUnreachable.Hint(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody a2a.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			return &a2a.APIError{
				Code:    a2a.ErrorCode(errBody.Error),
				Message: errBody.Message,
				Hint:    errBody.Hint,
			}
		}
		return fmt.Errorf("peer returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode peer response: %w", err)
	}
	return nil
}
