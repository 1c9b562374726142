package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"live-session-service/internal/app"
	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	service := app.NewSessionService(
		memory.NewActivationStore(),
		memory.NewPointerStore(),
		memory.NewResponseLedger(),
		memory.NewScoreLedger(),
		memory.NewTallyStore(),
		memory.NewTemplateRepository(memory.NewStaticTemplateLoader(sampleTemplates()), time.Minute),
		app.NewBroadcaster(),
	)
	wsHandler := NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSubmitFlow(t *testing.T) {
	server := newTestServer(t)

	host := dial(t, server, "roomId=room-1&participantId=h1&name=Host&role=host")
	// Host connects first and sees an empty room snapshot.
	if typ, _ := readNext(host, t, "snapshot"); typ != "snapshot" {
		t.Fatalf("expected snapshot first")
	}

	participant := dial(t, server, "roomId=room-1&participantId=p1&name=Alice")
	if typ, _ := readNext(participant, t, "snapshot"); typ != "snapshot" {
		t.Fatalf("expected snapshot first")
	}

	if err := host.WriteJSON(map[string]any{
		"type":    "activate",
		"payload": map[string]any{"templateId": "mc-1"},
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// The participant learns about the activation via broadcast.
	activationID := ""
	for i := 0; i < 4 && activationID == ""; i++ {
		typ, payload := readNext(participant, t, "")
		if typ != "event" {
			continue
		}
		var ev app.Event
		decodePayload(t, payload, &ev)
		if ev.Type == app.EventActivationChanged && ev.Activation != nil {
			activationID = ev.Activation.ID
		}
	}
	if activationID == "" {
		t.Fatalf("participant never saw the activation")
	}

	if err := participant.WriteJSON(map[string]any{
		"type":    "submit",
		"payload": map[string]any{"activationId": activationID, "optionId": "B"},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	result := waitForSubmitResult(t, participant)
	if result.Status != "accepted" {
		t.Fatalf("expected acceptance, got %+v", result)
	}
	if result.Response.IsCorrect == nil || !*result.Response.IsCorrect {
		t.Fatalf("expected correct answer, got %+v", result.Response)
	}

	// Duplicate resolves to the original choice, not an error.
	if err := participant.WriteJSON(map[string]any{
		"type":    "submit",
		"payload": map[string]any{"activationId": activationID, "optionId": "A"},
	}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	result = waitForSubmitResult(t, participant)
	if result.Status != "already_responded" {
		t.Fatalf("expected already_responded, got %+v", result)
	}
	if result.Response.OptionID != "B" {
		t.Fatalf("original answer must stand, got %+v", result.Response)
	}
}

func TestWebSocketHostRoleRequired(t *testing.T) {
	server := newTestServer(t)

	participant := dial(t, server, "roomId=room-1&participantId=p1&name=Alice")
	readNext(participant, t, "snapshot")

	if err := participant.WriteJSON(map[string]any{
		"type":    "activate",
		"payload": map[string]any{"templateId": "mc-1"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	typ, payload := readNext(participant, t, "error")
	if typ != "error" {
		t.Fatalf("expected error, got %s", typ)
	}
	var ep errorPayload
	decodePayload(t, payload, &ep)
	if ep.Reason != "forbidden" {
		t.Fatalf("expected forbidden, got %+v", ep)
	}
}

func waitForSubmitResult(t *testing.T, conn *websocket.Conn) submitResult {
	t.Helper()
	for i := 0; i < 6; i++ {
		typ, payload := readNext(conn, t, "")
		if typ != "submit_result" {
			continue
		}
		var result submitResult
		decodePayload(t, payload, &result)
		return result
	}
	t.Fatalf("submit_result never arrived")
	return submitResult{}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, json.RawMessage) {
	t.Helper()
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

func decodePayload(t *testing.T, payload json.RawMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(payload, v); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
}

func sampleTemplates() map[string]domain.Template {
	return map[string]domain.Template{
		"mc-1": {
			ID:     "mc-1",
			Kind:   domain.KindMultipleChoice,
			Prompt: "Pick B",
			Options: []domain.Option{
				{ID: "A", Text: "first"},
				{ID: "B", Text: "second"},
			},
			CorrectAnswer:    "B",
			TimeLimitSeconds: 30,
		},
	}
}
