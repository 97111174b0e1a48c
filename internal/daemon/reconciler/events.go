package reconciler

import (
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/syncthing"
)

// applyEvent folds one event into s. It reports whether s changed; a
// returned error means the payload could not be decoded.
func (r *Reconciler) applyEvent(s *models.Snapshot, ev syncthing.Event) (bool, error) {
	switch ev.Type {
	case syncthing.EventDeviceConnected:
		var d syncthing.DeviceConnectedData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		dev := device(s, d.ID)
		dev.Connected = true
		if d.Addr != "" {
			dev.Address = d.Addr
		}
		if dev.Name == "" {
			dev.Name = d.DeviceName
		}
		dev.LastSeen = ev.Time
		s.Devices[dev.ID] = dev
		delete(s.PendingDevices, dev.ID)
		return true, nil

	case syncthing.EventDeviceDisconnected:
		var d syncthing.DeviceDisconnectedData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		dev := device(s, d.ID)
		dev.Connected = false
		dev.LastSeen = ev.Time
		s.Devices[dev.ID] = dev
		return true, nil

	case syncthing.EventDevicePaused, syncthing.EventDeviceResumed:
		var d syncthing.DevicePauseData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		dev := device(s, d.Device)
		dev.Paused = ev.Type == syncthing.EventDevicePaused
		if dev.Paused {
			dev.Connected = false
		}
		s.Devices[dev.ID] = dev
		return true, nil

	case syncthing.EventDeviceRejected:
		var d syncthing.DeviceRejectedData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		id := syncthing.NormalizeDeviceID(d.Device)
		if _, known := s.Devices[id]; known {
			return false, nil
		}
		s.PendingDevices[id] = models.PendingDevice{ID: id, Name: d.Name, Address: d.Address, Time: ev.Time}
		return true, nil

	case syncthing.EventPendingDevicesChanged:
		var d syncthing.PendingDevicesChangedData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		for _, rm := range d.Removed {
			delete(s.PendingDevices, syncthing.NormalizeDeviceID(rm.DeviceID))
		}
		for _, add := range d.Added {
			id := syncthing.NormalizeDeviceID(add.DeviceID)
			if _, known := s.Devices[id]; known {
				continue
			}
			s.PendingDevices[id] = models.PendingDevice{ID: id, Name: add.Name, Address: add.Address, Time: ev.Time}
		}
		return len(d.Added)+len(d.Removed) > 0, nil

	case syncthing.EventFolderRejected:
		var d syncthing.FolderRejectedData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		if _, known := s.Folders[d.Folder]; known {
			return false, nil
		}
		by := syncthing.NormalizeDeviceID(d.Device)
		s.PendingFolders[models.PendingFolderKey(d.Folder, by)] = models.PendingFolder{
			ID: d.Folder, Label: d.FolderLabel, OfferedBy: by, Time: ev.Time,
		}
		return true, nil

	case syncthing.EventPendingFoldersChanged:
		var d syncthing.PendingFoldersChangedData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		for _, rm := range d.Removed {
			if rm.DeviceID == "" {
				for key, p := range s.PendingFolders {
					if p.ID == rm.FolderID {
						delete(s.PendingFolders, key)
					}
				}
				continue
			}
			delete(s.PendingFolders, models.PendingFolderKey(rm.FolderID, syncthing.NormalizeDeviceID(rm.DeviceID)))
		}
		for _, add := range d.Added {
			if _, known := s.Folders[add.FolderID]; known {
				continue
			}
			by := syncthing.NormalizeDeviceID(add.DeviceID)
			s.PendingFolders[models.PendingFolderKey(add.FolderID, by)] = models.PendingFolder{
				ID: add.FolderID, Label: add.FolderLabel, OfferedBy: by, Time: ev.Time,
			}
		}
		return len(d.Added)+len(d.Removed) > 0, nil

	case syncthing.EventFolderPaused, syncthing.EventFolderResumed:
		var d syncthing.FolderPauseData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		f := folder(s, d.ID)
		if f.Label == "" {
			f.Label = d.Label
		}
		f.Paused = ev.Type == syncthing.EventFolderPaused
		if f.Paused {
			dropDownloads(s, f.ID)
		}
		s.Folders[f.ID] = f
		return true, nil

	case syncthing.EventStateChanged:
		var d syncthing.StateChangedData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		f := folder(s, d.Folder)
		if !applyScanState(s, &f, syncthing.ParseScanState(d.To), d.Error, ev) {
			return false, nil
		}
		s.Folders[f.ID] = f
		return true, nil

	case syncthing.EventFolderSummary:
		var d syncthing.FolderSummaryData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		f := folder(s, d.Folder)
		f.NeedFiles = d.Summary.NeedFiles
		f.GlobalFiles = d.Summary.GlobalFiles
		f.ItemErrors = d.Summary.Errors + d.Summary.PullErrors
		if d.Summary.State != "" {
			at := ev
			if !d.Summary.StateChanged.IsZero() {
				at.Time = d.Summary.StateChanged
			}
			applyScanState(s, &f, syncthing.ParseScanState(d.Summary.State), d.Summary.Error, at)
		}
		s.Folders[f.ID] = f
		return true, nil

	case syncthing.EventFolderErrors:
		var d syncthing.FolderErrorsData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		f := folder(s, d.Folder)
		f.ItemErrors = len(d.Errors)
		s.Folders[f.ID] = f
		return true, nil

	case syncthing.EventDownloadProgress:
		var d syncthing.DownloadProgressData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		applyDownloadProgress(s, d, ev)
		return true, nil

	case syncthing.EventItemStarted:
		var d syncthing.ItemData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		f, ok := s.Folders[d.Folder]
		if !ok || f.Paused || d.Action != "update" || (d.Type != "" && d.Type != "file") {
			return false, nil
		}
		key := models.DownloadKey(d.Folder, d.Item)
		if _, exists := s.Downloads[key]; exists {
			return false, nil
		}
		s.Downloads[key] = models.DownloadItem{FolderID: d.Folder, Path: d.Item, StartedAt: ev.Time}
		return true, nil

	case syncthing.EventItemFinished:
		var d syncthing.ItemData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		key := models.DownloadKey(d.Folder, d.Item)
		if _, exists := s.Downloads[key]; !exists {
			return false, nil
		}
		delete(s.Downloads, key)
		return true, nil

	case syncthing.EventLocalChangeDetected, syncthing.EventRemoteChangeDetected:
		var d syncthing.ChangeDetectedData
		if err := syncthing.DecodeData(ev, &d); err != nil {
			return false, err
		}
		return r.recordChange(s, d, ev), nil
	}

	// ConfigSaved is acted on by the session; Starting, StartupComplete and
	// unknown types carry nothing for the snapshot.
	return false, nil
}

// device returns the device with id, creating it when unknown.
func device(s *models.Snapshot, id string) models.Device {
	id = syncthing.NormalizeDeviceID(id)
	if d, ok := s.Devices[id]; ok {
		return d
	}
	return models.Device{ID: id, ShortID: syncthing.ShortDeviceID(id)}
}

// folder returns the folder with id, creating it when unknown.
func folder(s *models.Snapshot, id string) models.Folder {
	if f, ok := s.Folders[id]; ok {
		return f
	}
	return models.Folder{ID: id, Type: models.FolderUnknown, ScanState: models.ScanIdle, PathExists: true}
}

// applyScanState moves f to reported. Reports older than the last applied
// state change are ignored.
func applyScanState(s *models.Snapshot, f *models.Folder, reported models.ScanState, reason string, ev syncthing.Event) bool {
	if !ev.Time.IsZero() && ev.Time.Before(f.StateChangedAt) {
		return false
	}
	prev := f.ScanState
	next, viaIdle := models.NextScanState(prev, reported)
	if !ev.Time.IsZero() {
		f.StateChangedAt = ev.Time
	}
	if next == prev {
		return true
	}

	if prev == models.ScanScanning {
		f.LastScan = ev.Time
	}
	if next == models.ScanError {
		f.Error = reason
	} else {
		f.Error = ""
	}
	if prev == models.ScanSyncing && (next == models.ScanIdle || viaIdle) {
		dropDownloads(s, f.ID)
	}
	f.ScanState = next
	return true
}

func applyDownloadProgress(s *models.Snapshot, d syncthing.DownloadProgressData, ev syncthing.Event) {
	downloads := make(map[string]models.DownloadItem)
	for folderID, files := range d {
		f, ok := s.Folders[folderID]
		if !ok || f.Paused {
			continue
		}
		for path, entry := range files {
			key := models.DownloadKey(folderID, path)
			item, exists := s.Downloads[key]
			if !exists {
				item = models.DownloadItem{FolderID: folderID, Path: path, StartedAt: ev.Time}
			}
			item.Progress = entry.Fraction()
			item.BytesDone = entry.BytesDone
			item.BytesTotal = entry.BytesTotal
			downloads[key] = item
		}
	}
	s.Downloads = downloads
}

func dropDownloads(s *models.Snapshot, folderID string) {
	for key, dl := range s.Downloads {
		if dl.FolderID == folderID {
			delete(s.Downloads, key)
		}
	}
}
