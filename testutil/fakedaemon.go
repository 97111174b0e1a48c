package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeDaemon is an in-memory Syncthing REST surface for tests.
// Control requests mutate its state and emit the events a real daemon would.
type FakeDaemon struct {
	Server *httptest.Server
	APIKey string

	mu           sync.Mutex
	myID         string
	startTime    time.Time
	devices      []map[string]interface{}
	folders      []map[string]interface{}
	connections  map[string]map[string]interface{}
	folderStatus map[string]map[string]interface{}
	pendingDevs  map[string]interface{}
	pendingFlds  map[string]interface{}
	events       []map[string]interface{}
	nextID       int64
	truncated    int64
	stalls       int
	notify       chan struct{}
	requests     []string
	forceStatus  int
	controlFails map[string]int
}

// NewFakeDaemon starts a fake daemon that is closed with the test.
func NewFakeDaemon(t *testing.T) *FakeDaemon {
	t.Helper()

	d := &FakeDaemon{
		APIKey:       "test-api-key",
		myID:         "SELF",
		startTime:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		connections:  make(map[string]map[string]interface{}),
		folderStatus: make(map[string]map[string]interface{}),
		pendingDevs:  make(map[string]interface{}),
		pendingFlds:  make(map[string]interface{}),
		notify:       make(chan struct{}),
		controlFails: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/events", d.handleEvents)
	mux.HandleFunc("/rest/system/status", d.handleStatus)
	mux.HandleFunc("/rest/config", d.handleConfig)
	mux.HandleFunc("/rest/config/folders/", d.handleFolderPatch)
	mux.HandleFunc("/rest/system/connections", d.handleConnections)
	mux.HandleFunc("/rest/db/status", d.handleDBStatus)
	mux.HandleFunc("/rest/cluster/pending/devices", d.handlePendingDevices)
	mux.HandleFunc("/rest/cluster/pending/folders", d.handlePendingFolders)
	mux.HandleFunc("/rest/system/pause", d.handlePause(true))
	mux.HandleFunc("/rest/system/resume", d.handlePause(false))
	mux.HandleFunc("/rest/db/scan", d.handleScan)
	mux.HandleFunc("/rest/system/restart", d.handleRestart)

	d.Server = httptest.NewServer(d.auth(mux))
	t.Cleanup(d.Server.Close)
	return d
}

// URL returns the base address of the fake daemon.
func (d *FakeDaemon) URL() string {
	return d.Server.URL
}

func (d *FakeDaemon) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != d.APIKey {
			http.Error(w, "CSRF Error", http.StatusForbidden)
			return
		}
		d.mu.Lock()
		code := d.forceStatus
		if r.Method != http.MethodGet {
			d.requests = append(d.requests, r.Method+" "+r.URL.RequestURI())
			if c, ok := d.controlFails[r.URL.Path]; ok {
				code = c
			}
		}
		d.mu.Unlock()
		if code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetIdentity sets the daemon's own id and start time.
func (d *FakeDaemon) SetIdentity(myID string, start time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.myID = myID
	d.startTime = start
}

// ForceStatus makes every request fail with code; zero restores normal service.
func (d *FakeDaemon) ForceStatus(code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceStatus = code
}

// FailControl makes requests to path fail with code.
func (d *FakeDaemon) FailControl(path string, code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controlFails[path] = code
}

// AddDevice configures a remote device.
func (d *FakeDaemon) AddDevice(id, name string, paused, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = append(d.devices, map[string]interface{}{
		"deviceID": id, "name": name, "paused": paused, "addresses": []string{"dynamic"},
	})
	d.connections[id] = map[string]interface{}{
		"connected": connected, "paused": paused, "address": "10.0.0.2:22000",
		"inBytesTotal": 100, "outBytesTotal": 200,
	}
}

// AddFolder configures a folder shared with devices.
func (d *FakeDaemon) AddFolder(id, label, path string, paused bool, devices ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	devs := make([]map[string]interface{}, 0, len(devices))
	for _, dev := range devices {
		devs = append(devs, map[string]interface{}{"deviceID": dev})
	}
	d.folders = append(d.folders, map[string]interface{}{
		"id": id, "label": label, "path": path, "type": "sendreceive", "paused": paused, "devices": devs,
	})
	d.folderStatus[id] = map[string]interface{}{
		"state": "idle", "stateChanged": d.startTime.Format(time.RFC3339Nano),
		"needFiles": 0, "globalFiles": 10, "errors": 0, "pullErrors": 0,
	}
}

// RemoveFolder drops a folder from the configuration.
func (d *FakeDaemon) RemoveFolder(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, f := range d.folders {
		if f["id"] == id {
			d.folders = append(d.folders[:i], d.folders[i+1:]...)
			break
		}
	}
	delete(d.folderStatus, id)
}

// SetFolderState sets the state reported by /rest/db/status.
func (d *FakeDaemon) SetFolderState(id, state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.folderStatus[id]; ok {
		st["state"] = state
	}
}

// AddPendingDevice records a device asking to connect.
func (d *FakeDaemon) AddPendingDevice(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingDevs[id] = map[string]interface{}{
		"name": name, "address": "10.0.0.9:22000", "time": d.startTime.Format(time.RFC3339),
	}
}

// Emit appends an event and returns its id.
func (d *FakeDaemon) Emit(eventType string, data interface{}) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitLocked(eventType, data)
}

// EmitRaw appends a record verbatim apart from its id, which is assigned.
func (d *FakeDaemon) EmitRaw(record map[string]interface{}) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	record["id"] = d.nextID
	d.events = append(d.events, record)
	d.wakeLocked()
	return d.nextID
}

func (d *FakeDaemon) emitLocked(eventType string, data interface{}) int64 {
	d.nextID++
	d.events = append(d.events, map[string]interface{}{
		"id":       d.nextID,
		"globalID": d.nextID,
		"type":     eventType,
		"time":     time.Now().UTC().Format(time.RFC3339Nano),
		"data":     data,
	})
	d.wakeLocked()
	return d.nextID
}

func (d *FakeDaemon) wakeLocked() {
	close(d.notify)
	d.notify = make(chan struct{})
}

// Truncate drops buffered events up to and including id, as a daemon whose
// event buffer overflowed would.
func (d *FakeDaemon) Truncate(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id > d.truncated {
		d.truncated = id
	}
}

// Restart simulates a daemon restart: new start time, event ids from 1.
func (d *FakeDaemon) Restart(start time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startTime = start
	d.events = nil
	d.nextID = 0
	d.truncated = 0
	d.wakeLocked()
}

// StallEvents makes the next n event polls hang until the client gives up.
func (d *FakeDaemon) StallEvents(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stalls = n
}

// LatestEventID returns the id of the newest emitted event. It equals the
// subscription id as long as every emitted type passes the reader's filter.
func (d *FakeDaemon) LatestEventID() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextID
}

// Requests returns the non-GET requests received, as "METHOD /path?query".
func (d *FakeDaemon) Requests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// diskEvents are left out of the feed unless a filter names them.
var diskEvents = map[string]bool{"LocalChangeDetected": true, "RemoteChangeDetected": true}

// eventFilter reports whether a type passes the events= parameter.
func eventFilter(param string) func(string) bool {
	if param == "" {
		return func(t string) bool { return !diskEvents[t] }
	}
	wanted := make(map[string]bool)
	for _, t := range strings.Split(param, ",") {
		wanted[strings.TrimSpace(t)] = true
	}
	return func(t string) bool { return wanted[t] }
}

// handleEvents serves one subscription per filter. Records are renumbered
// from 1 within the subscription, as the daemon does.
func (d *FakeDaemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	timeout, _ := strconv.Atoi(r.URL.Query().Get("timeout"))
	accept := eventFilter(r.URL.Query().Get("events"))

	d.mu.Lock()
	stall := d.stalls > 0
	if stall {
		d.stalls--
	}
	d.mu.Unlock()
	if stall {
		<-r.Context().Done()
		return
	}

	deadline := time.After(time.Duration(timeout) * time.Second)

	for {
		d.mu.Lock()
		var out []map[string]interface{}
		var subID int64
		for _, ev := range d.events {
			evType, _ := ev["type"].(string)
			if !accept(evType) {
				continue
			}
			subID++
			if evID, _ := ev["id"].(int64); evID <= d.truncated || subID <= since {
				continue
			}
			rec := make(map[string]interface{}, len(ev))
			for k, v := range ev {
				rec[k] = v
			}
			rec["globalID"] = ev["id"]
			rec["id"] = subID
			out = append(out, rec)
		}
		wait := d.notify
		d.mu.Unlock()

		if limit > 0 && len(out) > limit {
			out = out[len(out)-limit:]
		}
		if len(out) > 0 || timeout == 0 {
			if out == nil {
				out = []map[string]interface{}{}
			}
			writeJSON(w, out)
			return
		}

		select {
		case <-wait:
		case <-deadline:
			writeJSON(w, []interface{}{})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (d *FakeDaemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	writeJSON(w, map[string]interface{}{
		"myID":      d.myID,
		"startTime": d.startTime.Format(time.RFC3339Nano),
		"uptime":    10,
	})
}

func (d *FakeDaemon) handleConfig(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	devices := append([]map[string]interface{}{{"deviceID": d.myID, "name": "self"}}, d.devices...)
	writeJSON(w, map[string]interface{}{
		"version": 37,
		"devices": devices,
		"folders": d.folders,
	})
}

func (d *FakeDaemon) handleFolderPatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/rest/config/folders/")
	body, _ := io.ReadAll(r.Body)
	var patch map[string]interface{}
	if err := json.Unmarshal(body, &patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.folders {
		if f["id"] != id {
			continue
		}
		if paused, ok := patch["paused"].(bool); ok && f["paused"] != paused {
			f["paused"] = paused
			evType := "FolderResumed"
			if paused {
				evType = "FolderPaused"
			}
			d.emitLocked(evType, map[string]interface{}{"id": id, "label": f["label"]})
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Error(w, "no such folder", http.StatusNotFound)
}

func (d *FakeDaemon) handleConnections(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	writeJSON(w, map[string]interface{}{"connections": d.connections})
}

func (d *FakeDaemon) handleDBStatus(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.folderStatus[r.URL.Query().Get("folder")]
	if !ok {
		http.Error(w, "no such folder", http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

func (d *FakeDaemon) handlePendingDevices(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	writeJSON(w, d.pendingDevs)
}

func (d *FakeDaemon) handlePendingFolders(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	writeJSON(w, d.pendingFlds)
}

func (d *FakeDaemon) handlePause(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		target := r.URL.Query().Get("device")

		d.mu.Lock()
		defer d.mu.Unlock()
		found := target == ""
		for _, dev := range d.devices {
			id, _ := dev["deviceID"].(string)
			if target != "" && id != target {
				continue
			}
			found = true
			if dev["paused"] == pause {
				continue
			}
			dev["paused"] = pause
			if conn, ok := d.connections[id]; ok {
				conn["paused"] = pause
			}
			evType := "DeviceResumed"
			if pause {
				evType = "DevicePaused"
			}
			d.emitLocked(evType, map[string]interface{}{"device": id})
		}
		if !found {
			http.Error(w, "no such device", http.StatusNotFound)
		}
	}
}

func (d *FakeDaemon) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.folderStatus[folder]; !ok {
		http.Error(w, "no such folder", http.StatusNotFound)
	}
}

func (d *FakeDaemon) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"ok": "restarting"})
}
