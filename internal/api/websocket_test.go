package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/nodekeeper/internal/auth"
	"github.com/nerrad567/nodekeeper/internal/node"
)

func wsURL(e *testEnv, query string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/api/v1/ws" + query
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForClients polls until the hub has n registered clients.
func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	return msg
}

func issueTicket(t *testing.T, e *testEnv, bearer string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", bearer, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ws-ticket status = %d (%s)", resp.StatusCode, body)
	}
	got := decode[map[string]any](t, body)
	ticket, _ := got["ticket"].(string)
	if ticket == "" {
		t.Fatalf("no ticket in %s", body)
	}
	return ticket
}

func TestWebSocket_ReceivesNodeEvents(t *testing.T) {
	env := newTestEnv(t, "")
	conn := dial(t, wsURL(env, ""))
	waitForClients(t, env.srv.Hub(), 1)

	env.srv.Hub().HandleEvent(node.Event{Type: node.EventReady, Node: "shinkai-node", Elapsed: 75 * time.Millisecond})

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != EventChannel {
		t.Fatalf("message = %+v", msg)
	}

	payload, _ := msg.Payload.(map[string]any)
	if payload["type"] != "ready" || payload["elapsed_ms"] != float64(75) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	env := newTestEnv(t, "")
	conn := dial(t, wsURL(env, ""))
	waitForClients(t, env.srv.Hub(), 1)

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "u1",
		Payload: WSSubscribePayload{Channels: []string{EventChannel}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp := readMessage(t, conn); resp.Type != WSTypeResponse || resp.ID != "u1" {
		t.Fatalf("response = %+v", resp)
	}

	env.srv.Hub().HandleEvent(node.Event{Type: node.EventKilled, Node: "shinkai-node"})

	// A ping round-trip proves the event was not queued ahead of it
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if resp := readMessage(t, conn); resp.Type != WSTypePong || resp.ID != "p1" {
		t.Errorf("got %+v, want pong after unsubscribe", resp)
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	env := newTestEnv(t, "")
	conn := dial(t, wsURL(env, ""))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	if resp := readMessage(t, conn); resp.Type != WSTypeError {
		t.Errorf("type = %q, want error", resp.Type)
	}
}

func TestWebSocket_TicketAuth(t *testing.T) {
	env := newTestEnv(t, testSecret)

	t.Run("missing ticket", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(env, ""), nil)
		if err == nil {
			t.Fatal("dial succeeded without ticket")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})

	t.Run("ticket requires bearer", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("ticket is single use", func(t *testing.T) {
		ticket := issueTicket(t, env, token(t, auth.RoleViewer))

		dial(t, wsURL(env, "?ticket="+ticket))

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(env, "?ticket="+ticket), nil)
		if err == nil {
			t.Fatal("reused ticket accepted")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})
}

func TestTicketStore_Expiry(t *testing.T) {
	ts := newTicketStore()
	ticket := ts.issue("svc", auth.RoleViewer)

	ts.mu.Lock()
	entry := ts.tickets[ticket]
	entry.expiresAt = time.Now().Add(-time.Second)
	ts.tickets[ticket] = entry
	ts.mu.Unlock()

	if _, ok := ts.consume(ticket); ok {
		t.Error("expired ticket accepted")
	}

	stale := ts.issue("svc", auth.RoleViewer)
	ts.mu.Lock()
	entry = ts.tickets[stale]
	entry.expiresAt = time.Now().Add(-time.Second)
	ts.tickets[stale] = entry
	ts.mu.Unlock()

	ts.cleanExpired()
	if len(ts.tickets) != 0 {
		t.Errorf("%d tickets left after cleanExpired", len(ts.tickets))
	}
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	env := newTestEnv(t, "")
	// Must not panic or block
	env.srv.Hub().HandleEvent(node.Event{Type: node.EventSpawning})
	if env.srv.Hub().ClientCount() != 0 {
		t.Error("unexpected clients")
	}
}
