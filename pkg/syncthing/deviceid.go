package syncthing

import (
	"github.com/syncthing/syncthing/lib/protocol"
)

// NormalizeDeviceID returns the canonical form of a device id, or the input
// unchanged if it does not parse.
func NormalizeDeviceID(id string) string {
	parsed, err := protocol.DeviceIDFromString(id)
	if err != nil {
		return id
	}
	return parsed.String()
}

// ShortDeviceID returns the short display form of a device id.
func ShortDeviceID(id string) string {
	parsed, err := protocol.DeviceIDFromString(id)
	if err != nil {
		if len(id) > 7 {
			return id[:7]
		}
		return id
	}
	return parsed.Short().String()
}
