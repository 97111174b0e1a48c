package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/profiling"
)

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

const streamBuffer = 16

// RemoteClient implements Client by calling the HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	socketPath string
}

// NewRemoteClient creates a new RemoteClient for the given socket.
func NewRemoteClient(socketPath string) (*RemoteClient, error) {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	// Launcher stop waits for the child process; the timeout leaves room for it.
	client := &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}

	return &RemoteClient{
		httpClient: client,
		socketPath: socketPath,
	}, nil
}

// do sends a request and decodes a 2xx JSON answer into out, when out is not nil.
// Error answers are decoded into a SyncError.
func (c *RemoteClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	defer profiling.Start(method + " " + path).Stop()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConnection, "failed to reach synctrayd").
			WithDetail("socket", c.socketPath)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeProtocol, fmt.Sprintf("failed to decode %s response", path))
	}
	return nil
}

// decodeError reads an error answer. Both SyncError bodies and rejected
// command results carry a code.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Code    errors.ErrorCode       `json:"code"`
		Message string                 `json:"message"`
		Error   string                 `json:"error"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		msg := body.Message
		if msg == "" {
			msg = body.Error
		}
		return &errors.SyncError{Code: body.Code, Message: msg, Details: body.Details}
	}
	msg := string(bytes.TrimSpace(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return errors.New(errors.ErrCodeInternal, fmt.Sprintf("synctrayd returned status %d: %s", resp.StatusCode, msg)).
		WithDetail("status", resp.StatusCode)
}

// Snapshot returns the current snapshot.
func (c *RemoteClient) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Notifications returns the notification feed.
func (c *RemoteClient) Notifications(ctx context.Context) ([]models.Notification, error) {
	var list []models.Notification
	if err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MarkSeen marks a notification as seen and returns it.
func (c *RemoteClient) MarkSeen(ctx context.Context, id string) (models.Notification, error) {
	var n models.Notification
	err := c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/seen", nil, &n)
	return n, err
}

// Dismiss removes a notification from the feed.
func (c *RemoteClient) Dismiss(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil)
}

// Submit sends a control command. A rejected command returns the result
// together with the error.
func (c *RemoteClient) Submit(ctx context.Context, cmd models.Command) (models.CommandResult, error) {
	var result models.CommandResult
	if err := c.do(ctx, http.MethodPost, "/api/commands", cmd, &result); err != nil {
		result.Accepted = false
		if se, ok := err.(*errors.SyncError); ok {
			result.Error = se.Message
			result.Code = string(se.Code)
		}
		return result, err
	}
	return result, nil
}

// Profiles lists the configured profiles.
func (c *RemoteClient) Profiles(ctx context.Context) ([]models.ProfileInfo, error) {
	var profiles []models.ProfileInfo
	if err := c.do(ctx, http.MethodGet, "/api/profiles", nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// SelectProfile switches the active session to profile id.
func (c *RemoteClient) SelectProfile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/profiles/select", models.SelectProfileRequest{ID: id}, nil)
}

// Launcher returns the launcher status.
func (c *RemoteClient) Launcher(ctx context.Context) (models.LauncherInfo, error) {
	var info models.LauncherInfo
	err := c.do(ctx, http.MethodGet, "/api/launcher", nil, &info)
	return info, err
}

// StartLauncher launches the local daemon.
func (c *RemoteClient) StartLauncher(ctx context.Context) (models.LauncherInfo, error) {
	var info models.LauncherInfo
	err := c.do(ctx, http.MethodPost, "/api/launcher/start", nil, &info)
	return info, err
}

// StopLauncher stops the local daemon and waits for it to exit.
func (c *RemoteClient) StopLauncher(ctx context.Context) (models.LauncherInfo, error) {
	var info models.LauncherInfo
	err := c.do(ctx, http.MethodPost, "/api/launcher/stop", nil, &info)
	return info, err
}

// IsRunning returns true if synctrayd is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stream subscribes to real-time pushes over a websocket.
// The first message is always the current snapshot.
func (c *RemoteClient) Stream(ctx context.Context) (<-chan models.StreamMessage, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(dialCtx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(dialCtx, "unix", c.socketPath)
		},
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, "ws://unix/api/stream", nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConnection, "failed to connect to stream").
			WithDetail("socket", c.socketPath)
	}

	ch := make(chan models.StreamMessage, streamBuffer)

	// Unblocks ReadJSON when the caller gives up.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	go func() {
		defer close(ch)
		defer close(stop)
		defer conn.Close()

		for {
			var msg models.StreamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
