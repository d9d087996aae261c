// Package process provides generic subprocess lifecycle management.
//
// The door controller uses it to supervise the face-encoder helper, a
// long-running child process that loads the recognition model and serves
// encode requests over loopback HTTP. The helper can crash or hang (model
// reloads, OOM on the Pi) and needs restarting without restarting the
// whole controller.
//
// Features:
//   - Start/stop subprocess with graceful shutdown
//   - Automatic restart on failure with configurable backoff
//   - Health monitoring and status reporting
//   - Log capture from subprocess stdout/stderr
//   - Context-based cancellation for clean shutdown
//
// Example usage:
//
//	mgr := process.NewManager(process.EncoderConfig(cfg.Face.Helper, encoder.HealthCheck))
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
package process
