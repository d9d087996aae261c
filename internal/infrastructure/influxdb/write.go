package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSessionOutcome records the final outcome of an authentication session.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - outcome: Terminal result ("granted", "face_timeout", "fingerprint_exhausted", ...)
//   - action: What the session was for ("unlock" or "link_account")
//   - duration: Wall time from session start to terminal state
//
// Example:
//
//	client.WriteSessionOutcome("granted", "unlock", 8200*time.Millisecond)
func (c *Client) WriteSessionOutcome(outcome, action string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"auth_session",
		map[string]string{
			"device_id": c.deviceID,
			"outcome":   outcome,
			"action":    action,
		},
		map[string]interface{}{
			"duration_ms": float64(duration.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStepDuration records how long a single authentication step took.
//
// Parameters:
//   - step: Step name ("code_entry", "face_scan", "fingerprint_scan",
//     "remote_verify", "actuate")
//   - duration: Time spent in the step
//   - succeeded: Whether the step completed successfully
func (c *Client) WriteStepDuration(step string, duration time.Duration, succeeded bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"auth_step",
		map[string]string{
			"device_id": c.deviceID,
			"step":      step,
		},
		map[string]interface{}{
			"duration_ms": float64(duration.Milliseconds()),
			"succeeded":   succeeded,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteFingerprintAttempts records how many scan attempts a session used.
//
// A climbing average signals a dirty or degrading sensor.
func (c *Client) WriteFingerprintAttempts(attempts int, matched bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"fingerprint_attempts",
		map[string]string{
			"device_id": c.deviceID,
		},
		map[string]interface{}{
			"attempts": attempts,
			"matched":  matched,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteFaceDistance records the best match distance from a face scan.
//
// Distances trending towards the threshold suggest the stored encodings
// are stale and a re-enrolment is due.
func (c *Client) WriteFaceDistance(distance float64, matched bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"face_match",
		map[string]string{
			"device_id": c.deviceID,
		},
		map[string]interface{}{
			"distance": distance,
			"matched":  matched,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLockCycle records a physical lock actuation.
//
// Parameters:
//   - holdSeconds: How long the door was held unlocked
func (c *Client) WriteLockCycle(holdSeconds float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lock_cycle",
		map[string]string{
			"device_id": c.deviceID,
		},
		map[string]interface{}{
			"hold_seconds": holdSeconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
// The device_id tag is added automatically.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	merged := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		merged[k] = v
	}
	merged["device_id"] = c.deviceID

	point := write.NewPoint(measurement, merged, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
