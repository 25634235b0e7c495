package mqtt

import "fmt"

// TopicPrefix is the root of every hwreg topic.
const TopicPrefix = "hwreg"

// Topics builds hwreg topic names.
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("block_8_0") // "hwreg/device/block_8_0/state"
type Topics struct{}

// DeviceAdded is published once per committed record.
func (Topics) DeviceAdded() string {
	return TopicPrefix + "/device/added"
}

// DeviceRemoved is published once per removed record.
func (Topics) DeviceRemoved() string {
	return TopicPrefix + "/device/removed"
}

// DeviceState carries the retained snapshot of one record.
func (Topics) DeviceState(id string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, id)
}

// AllDeviceStates matches every DeviceState topic.
func (Topics) AllDeviceStates() string {
	return TopicPrefix + "/device/+/state"
}

// RescanCommand is subscribed to; any message on it triggers a full scan.
func (Topics) RescanCommand() string {
	return TopicPrefix + "/command/rescan"
}

// HotplugCommand is subscribed to; its payload names one node to add or
// remove.
func (Topics) HotplugCommand() string {
	return TopicPrefix + "/command/hotplug"
}

// ScanResult is published after every scan with its statistics.
func (Topics) ScanResult() string {
	return TopicPrefix + "/system/scan"
}

// SystemStatus carries the retained online/offline status and last will.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}
