// Package syncthing talks to a Syncthing-compatible daemon over its REST API:
// the long-polled event feed, full state queries and control operations.
package syncthing

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/version"
)

const (
	// DefaultPollTimeout is how long the daemon may hold an event request open.
	DefaultPollTimeout = 60 * time.Second
	// DefaultHeartbeatGrace is added to the poll timeout to bound each request.
	DefaultHeartbeatGrace = 10 * time.Second
	// DefaultEventLimit caps the number of records fetched per poll.
	DefaultEventLimit = 500

	requestTimeout = 10 * time.Second
)

// Options tune a Client.
type Options struct {
	PollTimeout    time.Duration
	HeartbeatGrace time.Duration
	EventLimit     int
	// CheckLocalPaths enables on-disk existence checks of folder paths.
	// Only meaningful when the daemon runs on this machine.
	CheckLocalPaths bool
}

// Client is a REST client for one daemon profile.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	opts       Options
	statPath   func(string) bool
	logger     *logrus.Entry
}

// NewClient creates a client for profile.
func NewClient(profile models.Profile, opts Options) *Client {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.HeartbeatGrace <= 0 {
		opts.HeartbeatGrace = DefaultHeartbeatGrace
	}
	if opts.EventLimit <= 0 {
		opts.EventLimit = DefaultEventLimit
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if profile.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		baseURL:    strings.TrimRight(profile.URL, "/"),
		apiKey:     profile.APIKey,
		httpClient: &http.Client{Transport: transport},
		opts:       opts,
		statPath:   dirExists,
		logger:     logging.NewLogger("syncthing").WithField("profile", profile.ID),
	}
}

// IsLocalURL reports whether rawURL points at this machine.
func IsLocalURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// HeartbeatTimeout is the longest a single event request may take.
func (c *Client) HeartbeatTimeout() time.Duration {
	return c.opts.PollTimeout + c.opts.HeartbeatGrace
}

// do performs a request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.ConnectionFailed(c.baseURL, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.ConnectionFailed(c.baseURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.AuthRejected(c.baseURL, resp.StatusCode)
	case resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.ConnectionFailed(c.baseURL,
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg))))
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(errors.ErrCodeProtocol,
			fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))).
			WithDetail("status", resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return errors.ConnectionFailed(c.baseURL, ctx.Err())
		}
		return errors.Wrap(err, errors.ErrCodeProtocol, fmt.Sprintf("failed to decode %s response", path))
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, query url.Values) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, path, query, nil, nil)
}

// Events long-polls the event feed for records newer than since.
// Each request is bounded by the poll timeout plus the heartbeat grace; a
// request exceeding it is reported as a connection error.
func (c *Client) Events(ctx context.Context, since int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = c.opts.EventLimit
	}
	return c.events(ctx, since, limit, c.opts.PollTimeout)
}

// LatestEventID returns the id of the newest event without waiting, in the
// same subscription Events reads.
func (c *Client) LatestEventID(ctx context.Context) (int64, error) {
	events, err := c.events(ctx, 0, 1, 0)
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, ev := range events {
		if ev.ID > latest {
			latest = ev.ID
		}
	}
	return latest, nil
}

func (c *Client) events(ctx context.Context, since int64, limit int, timeout time.Duration) ([]Event, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatInt(since, 10))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	query.Set("events", strings.Join(SubscribedEvents, ","))

	reqCtx, cancel := context.WithTimeout(ctx, timeout+c.opts.HeartbeatGrace)
	defer cancel()

	var raw []json.RawMessage
	if err := c.do(reqCtx, http.MethodGet, "/rest/events", query, nil, &raw); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, errors.ConnectionFailed(c.baseURL, fmt.Errorf("no heartbeat within %s", timeout+c.opts.HeartbeatGrace))
		}
		return nil, err
	}

	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		events = append(events, decodeEvent(r))
	}
	return events, nil
}

// decodeEvent decodes one record. A record that fails to decode keeps
// whatever id and type could be recovered and carries the error.
func decodeEvent(raw json.RawMessage) Event {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		var partial struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &partial)
		return Event{ID: partial.ID, Type: partial.Type, Err: errors.MalformedEvent(partial.Type, partial.ID, err)}
	}
	if ev.Type == "" {
		ev.Err = errors.MalformedEvent("", ev.ID, fmt.Errorf("record without type"))
	}
	return ev
}

// Status returns /rest/system/status.
func (c *Client) Status(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.get(ctx, "/rest/system/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Identity returns the identity of the running daemon.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return Identity{}, err
	}
	return Identity{MyID: status.MyID, StartTime: status.StartTime}, nil
}

// Config returns /rest/config.
func (c *Client) Config(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.get(ctx, "/rest/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Connections returns /rest/system/connections.
func (c *Client) Connections(ctx context.Context) (*Connections, error) {
	var conns Connections
	if err := c.get(ctx, "/rest/system/connections", nil, &conns); err != nil {
		return nil, err
	}
	return &conns, nil
}

// FolderStatus returns /rest/db/status for a folder.
func (c *Client) FolderStatus(ctx context.Context, folderID string) (*FolderStatus, error) {
	var status FolderStatus
	if err := c.get(ctx, "/rest/db/status", url.Values{"folder": {folderID}}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// PendingDevices returns /rest/cluster/pending/devices.
func (c *Client) PendingDevices(ctx context.Context) (map[string]PendingDeviceInfo, error) {
	pending := make(map[string]PendingDeviceInfo)
	if err := c.get(ctx, "/rest/cluster/pending/devices", nil, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// PendingFolders returns /rest/cluster/pending/folders.
func (c *Client) PendingFolders(ctx context.Context) (map[string]PendingFolderInfo, error) {
	pending := make(map[string]PendingFolderInfo)
	if err := c.get(ctx, "/rest/cluster/pending/folders", nil, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// Pause pauses one device, or all devices when deviceID is empty.
func (c *Client) Pause(ctx context.Context, deviceID string) error {
	return c.post(ctx, "/rest/system/pause", deviceQuery(deviceID))
}

// Resume resumes one device, or all devices when deviceID is empty.
func (c *Client) Resume(ctx context.Context, deviceID string) error {
	return c.post(ctx, "/rest/system/resume", deviceQuery(deviceID))
}

func deviceQuery(deviceID string) url.Values {
	if deviceID == "" {
		return nil
	}
	return url.Values{"device": {deviceID}}
}

// SetFolderPaused pauses or resumes a folder through a config patch.
func (c *Client) SetFolderPaused(ctx context.Context, folderID string, paused bool) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPatch, "/rest/config/folders/"+url.PathEscape(folderID), nil,
		map[string]bool{"paused": paused}, nil)
}

// Scan requests a rescan of one folder, or all folders when folderID is empty.
func (c *Client) Scan(ctx context.Context, folderID string) error {
	var query url.Values
	if folderID != "" {
		query = url.Values{"folder": {folderID}}
	}
	return c.post(ctx, "/rest/db/scan", query)
}

// Restart asks the daemon to restart itself.
func (c *Client) Restart(ctx context.Context) error {
	return c.post(ctx, "/rest/system/restart", nil)
}

// FullState queries the complete daemon state. The barrier is captured
// before any state query so every event it covers is already reflected.
func (c *Client) FullState(ctx context.Context) (*FullState, error) {
	barrier, err := c.LatestEventID(ctx)
	if err != nil {
		return nil, err
	}
	identity, err := c.Identity(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	conns, err := c.Connections(ctx)
	if err != nil {
		return nil, err
	}
	pendingDevices, err := c.PendingDevices(ctx)
	if err != nil {
		return nil, err
	}
	pendingFolders, err := c.PendingFolders(ctx)
	if err != nil {
		return nil, err
	}

	state := &FullState{Identity: identity, Barrier: barrier}
	myID := NormalizeDeviceID(identity.MyID)

	for _, dc := range cfg.Devices {
		id := NormalizeDeviceID(dc.DeviceID)
		if id == myID {
			continue
		}
		dev := models.Device{
			ID:      id,
			ShortID: ShortDeviceID(id),
			Name:    dc.Name,
			Paused:  dc.Paused,
		}
		if conn, ok := conns.Connections[dc.DeviceID]; ok {
			dev.Connected = conn.Connected
			dev.Address = conn.Address
			dev.InBytes = conn.InBytesTotal
			dev.OutBytes = conn.OutBytesTotal
			if conn.Paused {
				dev.Paused = true
			}
		}
		state.Devices = append(state.Devices, dev)
	}

	for _, fc := range cfg.Folders {
		folder := models.Folder{
			ID:         fc.ID,
			Label:      fc.Label,
			Path:       fc.Path,
			Type:       ParseFolderType(fc.Type),
			Paused:     fc.Paused,
			PathExists: true,
			ScanState:  models.ScanIdle,
		}
		for _, d := range fc.Devices {
			id := NormalizeDeviceID(d.DeviceID)
			if id != myID {
				folder.Devices = append(folder.Devices, id)
			}
		}
		if c.opts.CheckLocalPaths {
			folder.PathExists = c.statPath(fc.Path)
		}
		if !fc.Paused {
			status, err := c.FolderStatus(ctx, fc.ID)
			switch {
			case err == nil:
				folder.ScanState = ParseScanState(status.State)
				folder.StateChangedAt = status.StateChanged
				folder.NeedFiles = status.NeedFiles
				folder.GlobalFiles = status.GlobalFiles
				folder.ItemErrors = status.Errors + status.PullErrors
				folder.Error = status.Error
			case errors.IsRetryable(err) || errors.Is(err, errors.ErrCodeAuth):
				return nil, err
			default:
				c.logger.WithError(err).WithField("folder", fc.ID).Debug("Folder status unavailable")
			}
		}
		state.Folders = append(state.Folders, folder)
	}

	for id, info := range pendingDevices {
		state.PendingDevices = append(state.PendingDevices, models.PendingDevice{
			ID:      NormalizeDeviceID(id),
			Name:    info.Name,
			Address: info.Address,
			Time:    info.Time,
		})
	}

	for folderID, info := range pendingFolders {
		for deviceID, offer := range info.OfferedBy {
			state.PendingFolders = append(state.PendingFolders, models.PendingFolder{
				ID:        folderID,
				Label:     offer.Label,
				OfferedBy: NormalizeDeviceID(deviceID),
				Time:      offer.Time,
			})
		}
	}

	return state, nil
}
