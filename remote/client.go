package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client talks to a remote Server.
type Client struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:8264".
	BaseURL string

	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) log() *zap.SugaredLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop().Sugar()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("server: %s", errResp.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// Create creates an instance on the server.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*InstanceInfo, error) {
	var out InstanceInfo
	if err := c.do(ctx, http.MethodPost, "/instances", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns live instance names, optionally filtered by kind.
func (c *Client) List(ctx context.Context, kindFilter string) ([]string, error) {
	path := "/instances"
	if kindFilter != "" {
		path += "?kind=" + url.QueryEscape(kindFilter)
	}
	var out []string
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Describe returns one instance's details.
func (c *Client) Describe(ctx context.Context, name string) (*InstanceInfo, error) {
	var out InstanceInfo
	if err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Destroy tears an instance down.
func (c *Client) Destroy(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(name), nil, nil)
}

// ConfigDump returns all settings of an instance.
func (c *Client) ConfigDump(ctx context.Context, name string) (map[string]string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(name)+"/config", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfigGet returns one setting.
func (c *Client) ConfigGet(ctx context.Context, name, key string) (string, error) {
	var out map[string]string
	path := "/instances/" + url.PathEscape(name) + "/config?key=" + url.QueryEscape(key)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out[key], nil
}

// ConfigSet sets one setting.
func (c *Client) ConfigSet(ctx context.Context, name, key, value string) error {
	path := "/instances/" + url.PathEscape(name) + "/config"
	return c.do(ctx, http.MethodPost, path, ConfigSetRequest{Key: key, Value: value}, nil)
}

// EvalConn is an open evaluate session. Calls on one connection are answered
// in order by the server.
type EvalConn struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger
}

// Dial opens an evaluate session for the named instance.
func (c *Client) Dial(ctx context.Context, name string) (*EvalConn, error) {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/instances/" + url.PathEscape(name) + "/eval"
	c.log().Debugw("dialing WebSocket for eval", "URL", wsURL)
	wsConn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient:      c.httpClient(),
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn for eval: %w", err)
	}
	return &EvalConn{conn: wsConn, log: c.log()}, nil
}

// Evaluate performs one evaluate call over the session.
func (ec *EvalConn) Evaluate(ctx context.Context, lines []string) ([]string, error) {
	if lines == nil {
		lines = []string{}
	}
	if err := wsjson.Write(ctx, ec.conn, evalRequestMessage{Lines: lines}); err != nil {
		return nil, fmt.Errorf("sending eval request: %w", err)
	}
	var resp evalResponseMessage
	if err := wsjson.Read(ctx, ec.conn, &resp); err != nil {
		return nil, fmt.Errorf("reading eval response: %w", err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("remote evaluate: %s", resp.Err)
	}
	return resp.Lines, nil
}

// Close ends the session. The instance stays alive.
func (ec *EvalConn) Close() error {
	return ec.conn.Close(websocket.StatusNormalClosure, "")
}

// Evaluate is a convenience that dials, evaluates once, and closes.
func (c *Client) Evaluate(ctx context.Context, name string, lines []string) ([]string, error) {
	ec, err := c.Dial(ctx, name)
	if err != nil {
		return nil, err
	}
	defer ec.Close()
	return ec.Evaluate(ctx, lines)
}
