package face

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

// Sentinel errors for the encoder helper.
var (
	// ErrNoFace means the helper found no face in the frame. Transient;
	// the scan keeps polling within its window.
	ErrNoFace = errors.New("face: no face in frame")

	// ErrEncoderUnavailable means the helper process is down or broken.
	ErrEncoderUnavailable = errors.New("face: encoder unavailable")
)

// maxEncoderResponse bounds helper response reads.
const maxEncoderResponse = 64 << 10

// Encoder sends frames to the helper process and returns encodings.
type Encoder struct {
	url  string
	http *http.Client
}

// NewEncoder builds a client for the configured helper endpoint.
func NewEncoder(cfg config.FaceHelperConfig) *Encoder {
	return &Encoder{
		url: cfg.URL,
		http: &http.Client{
			Timeout: time.Duration(cfg.EncodeTimeout) * time.Millisecond,
		},
	}
}

// Encode submits one JPEG frame and returns its 128-dimension encoding.
//
// Returns:
//   - []float64: The encoding of the largest face in the frame
//   - error: ErrNoFace when the frame has no face, ErrEncoderUnavailable
//     for helper failures
func (e *Encoder) Encode(ctx context.Context, frame []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/encode", bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEncoderResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrEncoderUnavailable, err)
	}

	var body struct {
		Success  bool      `json:"success"`
		Error    string    `json:"error"`
		Encoding []float64 `json:"encoding"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrEncoderUnavailable, err)
	}

	if !body.Success {
		if body.Error == "no_face" {
			return nil, ErrNoFace
		}
		return nil, fmt.Errorf("%w: %s", ErrEncoderUnavailable, body.Error)
	}
	if len(body.Encoding) != encodingDims {
		return nil, fmt.Errorf("%w: encoding has %d dims", ErrEncoderUnavailable, len(body.Encoding))
	}

	return body.Encoding, nil
}

// HealthCheck verifies the helper answers.
func (e *Encoder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrEncoderUnavailable, resp.StatusCode)
	}
	return nil
}
