package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/shadefetch/shadefetch/internal/engine"
)

// ErrDaemonUnreachable wraps any failure to reach the daemon's socket, so
// every CLI verb can give the user one consistent, actionable message.
var ErrDaemonUnreachable = errors.New("fetchd daemon unreachable")

// Client drives a Server over its Unix domain socket. Every cobra command
// builds one of these instead of constructing its own Engine, so pause/
// resume/cancel/rm/ls all observe whatever "fetchd daemon" currently holds.
type Client struct {
	http *http.Client
}

// NewClient builds a Client that dials socketPath for every request.
func NewClient(socketPath string) *Client {
	dialer := &net.Dialer{}
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, "http://unix"+path, reqBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v (start it with 'fetchd daemon')", ErrDaemonUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("fetchd: %s", e.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Add submits a new download and returns its id.
func (c *Client) Add(rawURL, targetDir, filename string, mode engine.PrivacyMode) (string, error) {
	var resp AddResponse
	err := c.do(http.MethodPost, "/add", AddRequest{URL: rawURL, TargetDir: targetDir, Filename: filename, Mode: mode}, &resp)
	return resp.ID, err
}

func (c *Client) Pause(id string) error  { return c.do(http.MethodPost, "/pause", IDRequest{ID: id}, nil) }
func (c *Client) Resume(id string) error { return c.do(http.MethodPost, "/resume", IDRequest{ID: id}, nil) }
func (c *Client) Cancel(id string) error { return c.do(http.MethodPost, "/cancel", IDRequest{ID: id}, nil) }
func (c *Client) Delete(id string) error { return c.do(http.MethodPost, "/delete", IDRequest{ID: id}, nil) }

// ClearCompleted removes every terminal transfer from the daemon's Registry.
func (c *Client) ClearCompleted() error {
	return c.do(http.MethodPost, "/clear", nil, nil)
}

// Get returns a point-in-time snapshot of id.
func (c *Client) Get(id string) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := c.do(http.MethodGet, "/get?id="+url.QueryEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListAll returns a snapshot of every transfer the daemon knows about.
func (c *Client) ListAll() ([]engine.Snapshot, error) {
	var snaps []engine.Snapshot
	err := c.do(http.MethodGet, "/list", nil, &snaps)
	return snaps, err
}
