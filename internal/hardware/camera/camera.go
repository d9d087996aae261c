// Package camera captures still frames for face verification.
//
// Frames come from an external capture binary (rpicam-still or a
// compatible tool) writing JPEG to stdout. Shelling out per frame keeps
// the daemon free of libcamera bindings and matches how the Pi camera
// stack is meant to be scripted; at one frame per face-scan poll the
// process overhead is irrelevant.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

// Sentinel errors for capture operations.
var (
	// ErrCaptureFailed wraps capture binary failures.
	ErrCaptureFailed = errors.New("camera: capture failed")

	// ErrEmptyFrame means the binary exited cleanly but produced no data.
	ErrEmptyFrame = errors.New("camera: empty frame")
)

// Device captures one frame per call.
// Implemented by Still; swapped for a fake in tests.
type Device interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Still invokes the configured capture binary for each frame.
type Still struct {
	cfg config.CameraConfig
}

// NewStill returns a capture device using the configured binary.
func NewStill(cfg config.CameraConfig) *Still {
	return &Still{cfg: cfg}
}

// Capture runs the capture binary and returns the JPEG bytes.
//
// The call is bounded by the configured capture timeout on top of any
// deadline already on ctx.
func (s *Still) Capture(ctx context.Context) ([]byte, error) {
	timeout := time.Duration(s.cfg.CaptureTimeout) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// rpicam-still's --timeout is its preview/warmup delay, not a bound
	// on the call; keep it short so captures fit inside one poll cycle.
	args := []string{
		"--output", "-",
		"--width", strconv.Itoa(s.cfg.Width),
		"--height", strconv.Itoa(s.cfg.Height),
		"--timeout", "1",
		"--nopreview",
		"--immediate",
	}

	cmd := exec.CommandContext(ctx, s.cfg.CaptureBinary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w (stderr: %s)",
			ErrCaptureFailed, s.cfg.CaptureBinary, err, bytes.TrimSpace(stderr.Bytes()))
	}

	frame := stdout.Bytes()
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	return frame, nil
}
