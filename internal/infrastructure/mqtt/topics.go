package mqtt

import "fmt"

// TopicPrefix is the root of the door lock topic hierarchy.
// Every topic is scoped by device ID so multiple locks can share a broker:
// doorlock/{device_id}/{category}/...
const TopicPrefix = "doorlock"

// Topics builds MQTT topics for a single device.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.NewTopics("front-door")
//	topics.AccessEvent() // "doorlock/front-door/event/access"
type Topics struct {
	deviceID string
}

// NewTopics returns a topic builder scoped to the given device ID.
func NewTopics(deviceID string) Topics {
	return Topics{deviceID: deviceID}
}

// AccessEvent returns the topic for authentication outcome events.
// One message is published per completed or failed session.
//
// Example: doorlock/front-door/event/access
func (t Topics) AccessEvent() string {
	return fmt.Sprintf("%s/%s/event/access", TopicPrefix, t.deviceID)
}

// LockState returns the retained topic for the physical lock state.
//
// Example: doorlock/front-door/state/lock
func (t Topics) LockState() string {
	return fmt.Sprintf("%s/%s/state/lock", TopicPrefix, t.deviceID)
}

// SessionState returns the retained topic for the current session step.
// Published on every step transition so subscribers can render progress.
//
// Example: doorlock/front-door/state/session
func (t Topics) SessionState() string {
	return fmt.Sprintf("%s/%s/state/session", TopicPrefix, t.deviceID)
}

// SystemStatus returns the retained online/offline status topic.
// This is also the LWT topic for unexpected disconnects.
//
// Example: doorlock/front-door/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/%s/system/status", TopicPrefix, t.deviceID)
}

// Command returns the topic for a specific inbound command.
//
// Example: doorlock/front-door/command/sync-model
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/%s/command/%s", TopicPrefix, t.deviceID, name)
}

// AllCommands returns a pattern matching all inbound commands for this device.
//
// Pattern: doorlock/front-door/command/+
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/%s/command/+", TopicPrefix, t.deviceID)
}

// Command names accepted on the command topic.
const (
	// CommandSyncModel asks the device to re-download face encodings
	// from the backend.
	CommandSyncModel = "sync-model"

	// CommandSyncUsers asks the device to refresh its local user cache.
	CommandSyncUsers = "sync-users"
)
