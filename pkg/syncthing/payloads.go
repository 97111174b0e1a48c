package syncthing

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/grovetools/synctray/errors"
)

// DeviceConnectedData is the payload of DeviceConnected.
type DeviceConnectedData struct {
	ID            string `json:"id"`
	Addr          string `json:"addr"`
	DeviceName    string `json:"deviceName"`
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
}

// DeviceDisconnectedData is the payload of DeviceDisconnected.
type DeviceDisconnectedData struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// DevicePauseData is the payload of DevicePaused and DeviceResumed.
type DevicePauseData struct {
	Device string `json:"device"`
}

// DeviceRejectedData is the payload of DeviceRejected.
type DeviceRejectedData struct {
	Device  string `json:"device"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// PendingDevicesChangedData is the payload of PendingDevicesChanged.
type PendingDevicesChangedData struct {
	Added []struct {
		DeviceID string `json:"deviceID"`
		Name     string `json:"name"`
		Address  string `json:"address"`
	} `json:"added"`
	Removed []struct {
		DeviceID string `json:"deviceID"`
	} `json:"removed"`
}

// FolderRejectedData is the payload of FolderRejected.
type FolderRejectedData struct {
	Device      string `json:"device"`
	Folder      string `json:"folder"`
	FolderLabel string `json:"folderLabel"`
}

// PendingFoldersChangedData is the payload of PendingFoldersChanged.
type PendingFoldersChangedData struct {
	Added []struct {
		DeviceID    string `json:"deviceID"`
		FolderID    string `json:"folderID"`
		FolderLabel string `json:"folderLabel"`
	} `json:"added"`
	Removed []struct {
		DeviceID string `json:"deviceID"`
		FolderID string `json:"folderID"`
	} `json:"removed"`
}

// FolderPauseData is the payload of FolderPaused and FolderResumed.
type FolderPauseData struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// StateChangedData is the payload of StateChanged.
type StateChangedData struct {
	Folder   string  `json:"folder"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

// FolderSummaryData is the payload of FolderSummary.
type FolderSummaryData struct {
	Folder  string       `json:"folder"`
	Summary FolderStatus `json:"summary"`
}

// FolderErrorsData is the payload of FolderErrors.
type FolderErrorsData struct {
	Folder string `json:"folder"`
	Errors []struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	} `json:"errors"`
}

// DownloadProgressEntry is the puller progress of one file.
type DownloadProgressEntry struct {
	Total      int64 `json:"total"`
	Pulled     int64 `json:"pulled"`
	Pulling    int64 `json:"pulling"`
	BytesDone  int64 `json:"bytesDone"`
	BytesTotal int64 `json:"bytesTotal"`
}

// Fraction returns the completed share in 0..1.
func (e DownloadProgressEntry) Fraction() float64 {
	switch {
	case e.BytesTotal > 0:
		return clamp01(float64(e.BytesDone) / float64(e.BytesTotal))
	case e.Total > 0:
		return clamp01(float64(e.Pulled) / float64(e.Total))
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DownloadProgressData maps folder id to file path to progress.
type DownloadProgressData map[string]map[string]DownloadProgressEntry

// ItemData is the payload of ItemStarted and ItemFinished.
type ItemData struct {
	Folder string  `json:"folder"`
	Item   string  `json:"item"`
	Type   string  `json:"type"`
	Action string  `json:"action"`
	Error  *string `json:"error"`
}

// ChangeDetectedData is the payload of LocalChangeDetected and RemoteChangeDetected.
type ChangeDetectedData struct {
	FolderID   string `json:"folderID"`
	Folder     string `json:"folder"`
	Label      string `json:"label"`
	Path       string `json:"path"`
	Type       string `json:"type"`
	Action     string `json:"action"`
	ModifiedBy string `json:"modifiedBy"`
}

// FolderKey returns the folder id, preferring the explicit folderID field.
func (d ChangeDetectedData) FolderKey() string {
	if d.FolderID != "" {
		return d.FolderID
	}
	return d.Folder
}

// DecodeData decodes the generic payload of ev into out.
func DecodeData(ev Event, out interface{}) error {
	if ev.Data == nil {
		return errors.MalformedEvent(ev.Type, ev.ID, errors.New(errors.ErrCodeProtocol, "missing data"))
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return errors.MalformedEvent(ev.Type, ev.ID, err)
	}
	if err := decoder.Decode(ev.Data); err != nil {
		return errors.MalformedEvent(ev.Type, ev.ID, err)
	}
	return nil
}
