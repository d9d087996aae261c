// Package mqtt wraps paho.mqtt.golang with Door Lock Core specifics.
//
// The device publishes authentication outcomes, lock state changes, and
// session progress so other services on the site (dashboards, alarm
// integrations) can react without polling the device's HTTP API.
//
// Topic hierarchy:
//
//	doorlock/{device_id}/event/access     - one message per auth attempt outcome
//	doorlock/{device_id}/state/lock       - retained lock state (locked/unlocked)
//	doorlock/{device_id}/state/session    - retained current session step
//	doorlock/{device_id}/system/status    - retained online/offline status (LWT)
//	doorlock/{device_id}/command/+        - inbound commands (model sync, remote unlock)
//
// Connection behaviour:
//   - Auto-reconnect with exponential backoff between InitialDelay and MaxDelay.
//   - Subscriptions are tracked and restored after reconnect.
//   - Last Will and Testament marks the device offline on unexpected disconnect.
//   - Graceful shutdown publishes an explicit offline status before disconnecting.
//
// All client methods are safe for concurrent use. Message handlers run in
// goroutines owned by the paho library and are wrapped with panic recovery;
// a handler panic is logged and never takes down the process.
//
// MQTT is optional. When mqtt.enabled is false in config the daemon runs
// without a broker and all publish calls are skipped at the call sites.
package mqtt
