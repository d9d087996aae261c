package face

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

func newTestEncoder(url string) *Encoder {
	return NewEncoder(config.FaceHelperConfig{
		URL:           url,
		EncodeTimeout: 2000,
	})
}

func encodeResponse(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestEncodeSuccess(t *testing.T) {
	want := testEncoding(0.3)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/encode" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Content-Type = %s, want image/jpeg", ct)
		}
		encodeResponse(t, w, map[string]any{
			"success":  true,
			"encoding": want,
		})
	}))
	defer srv.Close()

	got, err := newTestEncoder(srv.URL).Encode(context.Background(), []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(got) != encodingDims {
		t.Fatalf("len(encoding) = %d, want %d", len(got), encodingDims)
	}
	if got[0] != want[0] {
		t.Errorf("encoding[0] = %f, want %f", got[0], want[0])
	}
}

func TestEncodeNoFace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encodeResponse(t, w, map[string]any{
			"success": false,
			"error":   "no_face",
		})
	}))
	defer srv.Close()

	_, err := newTestEncoder(srv.URL).Encode(context.Background(), []byte{0xFF, 0xD8})
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("Encode() error = %v, want ErrNoFace", err)
	}
}

func TestEncodeHelperError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encodeResponse(t, w, map[string]any{
			"success": false,
			"error":   "model not loaded",
		})
	}))
	defer srv.Close()

	_, err := newTestEncoder(srv.URL).Encode(context.Background(), []byte{0xFF, 0xD8})
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Errorf("Encode() error = %v, want ErrEncoderUnavailable", err)
	}
}

func TestEncodeMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>proxy error</html>")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestEncoder(srv.URL).Encode(context.Background(), []byte{0xFF, 0xD8})
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Errorf("Encode() error = %v, want ErrEncoderUnavailable", err)
	}
}

func TestEncodeWrongDims(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encodeResponse(t, w, map[string]any{
			"success":  true,
			"encoding": []float64{0.1, 0.2, 0.3},
		})
	}))
	defer srv.Close()

	_, err := newTestEncoder(srv.URL).Encode(context.Background(), []byte{0xFF, 0xD8})
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Errorf("Encode() error = %v, want ErrEncoderUnavailable", err)
	}
}

func TestEncodeHelperDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestEncoder(srv.URL).Encode(context.Background(), []byte{0xFF, 0xD8})
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Errorf("Encode() error = %v, want ErrEncoderUnavailable", err)
	}
}

func TestEncoderHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestEncoder(srv.URL).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestEncoderHealthCheckDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestEncoder(srv.URL).HealthCheck(context.Background())
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Errorf("HealthCheck() error = %v, want ErrEncoderUnavailable", err)
	}
}
