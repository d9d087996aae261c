// Package influxdb records authentication timing metrics.
//
// Every completed session writes one point per step (code entry duration,
// face scan duration, fingerprint attempts used, remote verify latency)
// plus an overall outcome point. The data answers questions like "is the
// fingerprint sensor degrading" and "how long do residents wait at the
// door" without grepping logs.
//
// Writes are non-blocking and batched by the underlying client; a slow or
// unreachable InfluxDB server never delays the authentication loop. Async
// write failures surface through the SetOnError callback and are logged.
//
// InfluxDB is optional. When influxdb.enabled is false the daemon runs
// without metrics and callers hold a nil *Client, which every write helper
// tolerates.
package influxdb
