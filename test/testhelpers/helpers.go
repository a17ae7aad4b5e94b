// Package testhelpers provides common utilities and helper functions for testing the chat server.
//
// This package contains reusable test utilities that are shared across unit and integration tests.
// It provides functions for creating test servers, making HTTP requests, exchanging protocol
// envelopes over WebSocket connections, and asserting response properties to reduce code
// duplication in test files.
package testhelpers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thomas-Heisig/chat-system-sub000/internal/server"
)

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// StartChatServer starts an HTTP test server with the full route set around
// the given hub and points the active configuration at the test server's
// origin. Cleanup restores the default configuration, shuts the hub down, and
// closes the server.
func StartChatServer(t *testing.T, hub *server.Hub) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(server.SetupRoutes(hub))

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{ts.URL}
	server.SetConfig(cfg)

	t.Cleanup(func() {
		if err := hub.Shutdown(5 * time.Second); err != nil {
			t.Logf("hub shutdown: %v", err)
		}
		ts.Close()
		server.SetConfig(nil)
	})
	return ts
}

// WebSocketURL converts a test server's base URL into its WebSocket endpoint.
func WebSocketURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// ReadResponseBody reads and returns the full response body, failing the test
// on read errors. The body is closed before returning.
func ReadResponseBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return string(body)
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL using
// the given Origin header. It returns the connection or an error if the
// handshake fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials the test server's WebSocket endpoint and fails the test
// if the handshake does not succeed. The connection is closed during cleanup.
func MustConnect(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, err := ConnectWebSocket(WebSocketURL(ts), ts.URL)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEnvelope marshals the payload into a protocol envelope of the given
// type and writes it to the connection.
func SendEnvelope(t *testing.T, conn *websocket.Conn, msgType server.MessageType, payload any) {
	t.Helper()

	env := server.Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal %s payload: %v", msgType, err)
		}
		env.Payload = data
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("Failed to send %s envelope: %v", msgType, err)
	}
}

// ReadEnvelope reads the next protocol envelope from the connection, failing
// the test if nothing arrives before the timeout.
func ReadEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) *server.Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}

	var env server.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}
	return &env
}

// ReadEnvelopeOfType reads envelopes until one of the expected type arrives,
// skipping unrelated traffic such as presence announcements. It fails the test
// if the expected type does not arrive before the timeout.
func ReadEnvelopeOfType(t *testing.T, conn *websocket.Conn, msgType server.MessageType, timeout time.Duration) *server.Envelope {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s envelope", msgType)
		}
		env := ReadEnvelope(t, conn, remaining)
		if env.Type == msgType {
			return env
		}
	}
}

// ExpectNoEnvelope asserts that no data frame arrives on the connection
// within the given window.
func ExpectNoEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no envelope, but received: %s", raw)
	}
}

// UnmarshalPayload decodes an envelope payload into out, failing the test on
// decode errors.
func UnmarshalPayload(t *testing.T, env *server.Envelope, out any) {
	t.Helper()
	if err := json.Unmarshal(env.Payload, out); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", env.Type, err)
	}
}
