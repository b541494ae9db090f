package wsrouter

import (
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyperstudy/bridge/internal/bridgestate"
	"github.com/hyperstudy/bridge/internal/events"
	"github.com/hyperstudy/bridge/internal/perf"
	"github.com/hyperstudy/bridge/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *bridgestate.State) {
	t.Helper()
	state := bridgestate.New(perf.New())
	hub := events.NewHub(32)
	store, err := storage.Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	rt := New(state, hub, store, 9000)
	srv := httptest.NewServer(rt)
	t.Cleanup(srv.Close)
	return srv, state
}

func dialTestClient(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	u, err := url.Parse(wsURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResponse(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]any
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return out
}

func TestConnectUnknownDeviceTypeRepliesDeviceError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestClient(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "command", "device": "nope", "action": "connect"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readResponse(t, conn)
	if resp["type"] != "error" || resp["device"] != "nope" || resp["message"] != "Invalid device type" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestConnectMockDeviceThenStatusThenDisconnect(t *testing.T) {
	srv, state := newTestServer(t)
	conn := dialTestClient(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "command", "device": "mock", "action": "connect", "id": "c1"}); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	status := readResponse(t, conn)
	if status["type"] != "status" || status["status"] != "connected" {
		t.Fatalf("unexpected status response: %+v", status)
	}
	ack := readResponse(t, conn)
	if ack["type"] != "ack" || ack["id"] != "c1" || ack["ok"] != true {
		t.Fatalf("unexpected ack response: %+v", ack)
	}

	if _, ok := state.GetDevice("mock"); !ok {
		t.Fatalf("expected device registered in bridge state")
	}

	if err := conn.WriteJSON(map[string]any{"type": "command", "device": "mock", "action": "status", "id": "s1"}); err != nil {
		t.Fatalf("write status: %v", err)
	}
	statusResp := readResponse(t, conn)
	if statusResp["status"] != "connected" {
		t.Fatalf("unexpected status: %+v", statusResp)
	}
	readResponse(t, conn) // ack

	if err := conn.WriteJSON(map[string]any{"type": "command", "device": "mock", "action": "disconnect", "id": "d1"}); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}
	disconnectStatus := readResponse(t, conn)
	if disconnectStatus["status"] != "disconnected" {
		t.Fatalf("unexpected disconnect status: %+v", disconnectStatus)
	}
	readResponse(t, conn) // ack

	if _, ok := state.GetDevice("mock"); ok {
		t.Fatalf("expected device unregistered after disconnect")
	}
}

func TestQueryDevicesAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestClient(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "command", "device": "mock", "action": "connect"}); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	readResponse(t, conn) // status

	if err := conn.WriteJSON(map[string]any{"type": "query", "target": "devices", "id": "q1"}); err != nil {
		t.Fatalf("write query: %v", err)
	}
	resp := readResponse(t, conn)
	if resp["type"] != "query_result" || resp["id"] != "q1" {
		t.Fatalf("unexpected query result: %+v", resp)
	}

	if err := conn.WriteJSON(map[string]any{"type": "query", "target": "status", "id": "q2"}); err != nil {
		t.Fatalf("write query: %v", err)
	}
	resp = readResponse(t, conn)
	data, ok := resp["data"].(map[string]any)
	if !ok || data["server"] != "running" {
		t.Fatalf("unexpected status query result: %+v", resp)
	}
}

func TestQueryStatsReturnsStorageSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestClient(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "query", "target": "stats", "id": "q-stats"}); err != nil {
		t.Fatalf("write query: %v", err)
	}
	resp := readResponse(t, conn)
	if resp["type"] != "query_result" || resp["id"] != "q-stats" {
		t.Fatalf("unexpected stats query result: %+v", resp)
	}
	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected stats data object, got %+v", resp)
	}
	if _, ok := data["session_count"]; !ok {
		t.Fatalf("expected session_count field in stats: %+v", data)
	}
}

func TestSubscribeUnsubscribeAcks(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestClient(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "device": "mock", "events": []string{"status_changed"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	resp := readResponse(t, conn)
	if resp["type"] != "event" || resp["kind"] != "subscribed" {
		t.Fatalf("unexpected subscribe response: %+v", resp)
	}

	if err := conn.WriteJSON(map[string]any{"type": "unsubscribe", "device": "mock", "events": []string{"status_changed"}}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	resp = readResponse(t, conn)
	if resp["type"] != "event" || resp["kind"] != "unsubscribed" {
		t.Fatalf("unexpected unsubscribe response: %+v", resp)
	}
}

func TestBinaryFrameRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestClient(t, srv)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	resp := readResponse(t, conn)
	if resp["type"] != "error" {
		t.Fatalf("unexpected response to binary frame: %+v", resp)
	}
}

func TestMalformedJSONRepliesErrorWithoutDisconnecting(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestClient(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	resp := readResponse(t, conn)
	if resp["type"] != "error" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if err := conn.WriteJSON(map[string]any{"type": "query", "target": "devices", "id": "still-alive"}); err != nil {
		t.Fatalf("connection should remain usable after a parse error: %v", err)
	}
	resp = readResponse(t, conn)
	if resp["type"] != "query_result" {
		t.Fatalf("unexpected response after recovery: %+v", resp)
	}
}

func TestSendToUnknownDeviceRepliesDeviceError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialTestClient(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "command", "device": "mock", "action": "send", "payload": map[string]any{"command": "PING"}}); err != nil {
		t.Fatalf("write send: %v", err)
	}
	resp := readResponse(t, conn)
	if resp["type"] != "error" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
