// Package backend is the HTTP client for the credential and user
// service the lock verifies against.
//
// The backend owns the user directory, the canonical access log, and
// the trained face model. The device treats it as authoritative but
// never depends on it being reachable: verification failures surface
// as typed errors the sequencer maps to session outcomes, and
// everything else (log push, user cache, model download) is retried in
// the background.
//
// Error taxonomy matters here. An explicit rejection (the service
// answered and said no) is ErrRejected and ends a session as
// CredentialsRejected. Anything else - network failure, 5xx, malformed
// body - is ErrUnavailable and ends it as RemoteUnavailable. The two
// are never collapsed because only one of them means a human was
// turned away on purpose.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

// Sentinel errors for backend operations.
var (
	// ErrRejected means the backend processed the request and refused it.
	ErrRejected = errors.New("backend: credentials rejected")

	// ErrUnavailable means the backend could not be reached or answered
	// with something unusable.
	ErrUnavailable = errors.New("backend: service unavailable")

	// ErrNotFound is returned for missing resources (e.g., no trained model).
	ErrNotFound = errors.New("backend: not found")
)

// maxResponseBody bounds JSON response reads. The model download has
// its own, larger bound.
const maxResponseBody = 1 << 20

// maxModelBody bounds the trained model download (encodings for a
// household are well under this).
const maxModelBody = 64 << 20

// Logger is the narrow logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// User is one row of the backend's user directory.
type User struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	PinCode       string `json:"pin_code,omitempty"`
	FingerprintID *int   `json:"fingerprint_id,omitempty"`
}

// VerifyRequest carries the collected credentials for remote verification.
type VerifyRequest struct {
	PinCode       string `json:"pin_code"`
	FingerprintID int    `json:"fingerprint_id"`
	FaceMatch     string `json:"face_match,omitempty"`
}

// AccessRecord is the wire shape of one access log entry.
type AccessRecord struct {
	UserID               string   `json:"user_id,omitempty"`
	AccessType           string   `json:"access_type"`
	AuthenticationMethod string   `json:"authentication_method"`
	ConfidenceScore      *float64 `json:"confidence_score,omitempty"`
	Notes                string   `json:"notes,omitempty"`
}

// LinkPIN is a short-lived PIN for linking a messaging account.
type LinkPIN struct {
	TempPIN   string `json:"temp_pin"`
	ExpiresAt string `json:"expires_at"`
}

// ModelInfo describes the backend's active trained face model.
type ModelInfo struct {
	ModelVersion string `json:"model_version"`
	TrainingDate string `json:"training_date"`
	NumFaces     int    `json:"num_faces"`
}

// Client talks to the backend service.
type Client struct {
	baseURL string
	http    *http.Client
	log     Logger
}

// New builds a client with the configured request timeout.
//
// The timeout bounds every call including the sequencer's in-tick
// verify, so it must stay small (default 3s).
func New(cfg config.BackendConfig, log Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		log:     log,
	}
}

// VerifyUser checks the collected credentials against the user directory.
//
// Returns:
//   - *User: The verified identity on success
//   - error: ErrRejected for an explicit refusal, ErrUnavailable otherwise
func (c *Client) VerifyUser(ctx context.Context, req VerifyRequest) (*User, error) {
	var resp struct {
		Success bool  `json:"success"`
		User    *User `json:"user"`
	}

	status, err := c.postJSON(ctx, "/api/verify-user", req, &resp)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK && resp.Success && resp.User != nil:
		return resp.User, nil
	case status == http.StatusUnauthorized || (status == http.StatusOK && !resp.Success):
		return nil, ErrRejected
	default:
		return nil, fmt.Errorf("%w: verify-user status %d", ErrUnavailable, status)
	}
}

// LogAccess pushes one access record to the backend's canonical log.
func (c *Client) LogAccess(ctx context.Context, record AccessRecord) error {
	var resp struct {
		Success bool `json:"success"`
	}

	status, err := c.postJSON(ctx, "/api/log-access", record, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK || !resp.Success {
		return fmt.Errorf("%w: log-access status %d", ErrUnavailable, status)
	}
	return nil
}

// GetUsers fetches all active users for the local cache.
func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	var resp struct {
		Success bool   `json:"success"`
		Users   []User `json:"users"`
	}

	status, err := c.getJSON(ctx, "/api/get-users", &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !resp.Success {
		return nil, fmt.Errorf("%w: get-users status %d", ErrUnavailable, status)
	}
	return resp.Users, nil
}

// AddUser creates a new user in the directory during enrolment.
func (c *Client) AddUser(ctx context.Context, user User) (*User, error) {
	var resp struct {
		Success bool  `json:"success"`
		User    *User `json:"user"`
	}

	status, err := c.postJSON(ctx, "/api/add-user", user, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated || !resp.Success || resp.User == nil {
		return nil, fmt.Errorf("%w: add-user status %d", ErrUnavailable, status)
	}
	return resp.User, nil
}

// UploadFaceImage sends one enrolment photo for a user.
func (c *Client) UploadFaceImage(ctx context.Context, userID string, image []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", "face.jpg")
	if err != nil {
		return fmt.Errorf("%w: build upload: %w", ErrUnavailable, err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("%w: build upload: %w", ErrUnavailable, err)
	}
	if err := mw.WriteField("user_id", userID); err != nil {
		return fmt.Errorf("%w: build upload: %w", ErrUnavailable, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("%w: build upload: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload-face-image", &body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: upload-face-image status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// RetrainModel asks the backend to rebuild the face model from stored photos.
func (c *Client) RetrainModel(ctx context.Context) error {
	var resp struct {
		Success bool `json:"success"`
	}

	status, err := c.postJSON(ctx, "/api/retrain-model", struct{}{}, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK || !resp.Success {
		return fmt.Errorf("%w: retrain-model status %d", ErrUnavailable, status)
	}
	return nil
}

// GetModelInfo returns metadata for the active trained model.
func (c *Client) GetModelInfo(ctx context.Context) (*ModelInfo, error) {
	var resp struct {
		Success bool       `json:"success"`
		Model   *ModelInfo `json:"model"`
	}

	status, err := c.getJSON(ctx, "/api/get-model-info", &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK || !resp.Success || resp.Model == nil {
		return nil, fmt.Errorf("%w: get-model-info status %d", ErrUnavailable, status)
	}
	return resp.Model, nil
}

// DownloadModel fetches the trained face model file.
func (c *Client) DownloadModel(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/trained_model.pkl", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download-model status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read model: %w", ErrUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty model", ErrUnavailable)
	}
	return data, nil
}

// GenerateLinkPIN requests a short-lived PIN for linking a messaging
// account to an existing user.
func (c *Client) GenerateLinkPIN(ctx context.Context, userID string) (*LinkPIN, error) {
	payload := map[string]string{}
	if userID != "" {
		payload["user_id"] = userID
	}

	var resp struct {
		Success   bool   `json:"success"`
		TempPIN   string `json:"temp_pin"`
		ExpiresAt string `json:"expires_at"`
	}

	status, err := c.postJSON(ctx, "/api/generate-telegram-pin", payload, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !resp.Success {
		return nil, fmt.Errorf("%w: generate-telegram-pin status %d", ErrUnavailable, status)
	}
	return &LinkPIN{TempPIN: resp.TempPIN, ExpiresAt: resp.ExpiresAt}, nil
}

// HealthCheck verifies the backend answers its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// postJSON sends a JSON body and decodes a JSON response.
// 4xx statuses are returned for the caller to interpret; transport and
// decode failures become ErrUnavailable.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// getJSON performs a GET and decodes a JSON response.
func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
		}
	}

	return resp.StatusCode, nil
}
