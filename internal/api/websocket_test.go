package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hgarg/doorlock-core/internal/session"
)

// wsDial upgrades a test connection against the harness router.
func wsDial(t *testing.T, h *testHarness) *websocket.Conn {
	t.Helper()

	h.server.hub = NewHub(h.server.wsCfg, h.server.logger)

	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	//nolint:errcheck // Test deadline; failures surface as read errors
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}
	return msg
}

func TestWebSocketSubscribeAndBroadcast(t *testing.T) {
	h := newTestHarness(t)
	conn := wsDial(t, h)

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "m1",
		Payload: WSSubscribePayload{Channels: []string{ChannelSession}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	resp := readMessage(t, conn)
	if resp.Type != WSTypeResponse {
		t.Fatalf("expected response, got %s", resp.Type)
	}

	h.server.OnSessionState(session.Snapshot{
		ID:   "ses-test",
		Step: session.StepFaceScan,
	})

	event := readMessage(t, conn)
	if event.Type != WSTypeEvent {
		t.Fatalf("expected event, got %s", event.Type)
	}
	if event.EventType != ChannelSession {
		t.Errorf("expected channel %s, got %s", ChannelSession, event.EventType)
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		t.Fatalf("failed to re-marshal payload: %v", err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("failed to decode snapshot payload: %v", err)
	}
	if snap.ID != "ses-test" {
		t.Errorf("expected session ses-test, got %s", snap.ID)
	}
	if snap.Step != session.StepFaceScan {
		t.Errorf("expected face_scan step, got %s", snap.Step)
	}
}

func TestWebSocketUnsubscribedClientGetsNothing(t *testing.T) {
	h := newTestHarness(t)
	conn := wsDial(t, h)

	// No subscription: broadcast must not reach the client.
	h.server.OnSessionState(session.Snapshot{ID: "ses-quiet"})

	// Ping still answers, proving the connection is alive and empty.
	ping := WSMessage{Type: WSTypePing, ID: "p1"}
	if err := conn.WriteJSON(ping); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypePong {
		t.Fatalf("expected pong as the only message, got %s", msg.Type)
	}
}

func TestWebSocketRejectsMalformedMessages(t *testing.T) {
	h := newTestHarness(t)
	conn := wsDial(t, h)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("failed to send malformed message: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypeError {
		t.Fatalf("expected error message, got %s", msg.Type)
	}

	unknown := WSMessage{Type: "teleport", ID: "m2"}
	if err := conn.WriteJSON(unknown); err != nil {
		t.Fatalf("failed to send unknown type: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Type != WSTypeError {
		t.Fatalf("expected error for unknown type, got %s", msg.Type)
	}
}
