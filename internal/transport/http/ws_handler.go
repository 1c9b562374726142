package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"live-session-service/internal/app"
	"live-session-service/internal/domain"
)

type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	ActivationID string `json:"activationId"`
	Answer       string `json:"answer,omitempty"`
	OptionID     string `json:"optionId,omitempty"`
}

type activatePayload struct {
	TemplateID string `json:"templateId"`
}

type submitResult struct {
	Status   string           `json:"status"` // accepted | already_responded
	Response *domain.Response `json:"response,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// session engine. Every connection starts with an authoritative snapshot
// (the reconciliation pull); broadcast events are layered on afterwards.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	participantID := r.URL.Query().Get("participantId")
	displayName := r.URL.Query().Get("name")
	role := r.URL.Query().Get("role")
	if roomID == "" || participantID == "" {
		http.Error(w, "missing roomId or participantId", http.StatusBadRequest)
		return
	}
	if displayName == "" {
		displayName = participantID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if role != "host" {
		if _, err := h.service.Join(ctx, roomID, participantID, displayName); err != nil {
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errReason(err)})
			return
		}
	}

	updates, cancel := h.service.Broadcaster().Subscribe(roomID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "event", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// Initial full pull; it supersedes anything the client buffered.
	snap, err := h.service.Snapshot(ctx, roomID, participantID)
	if err != nil {
		send <- outboundMessage[any]{Type: "error", Payload: errReason(err)}
	} else {
		send <- outboundMessage[any]{Type: "snapshot", Payload: snap}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "submit":
			var payload submitPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Reason: "bad_payload", Message: "invalid submit payload"}}
				continue
			}
			resp, err := h.service.Submit(ctx, roomID, participantID, payload.ActivationID, domain.Submission{
				Answer:   payload.Answer,
				OptionID: payload.OptionID,
			})
			switch {
			case err == nil:
				send <- outboundMessage[any]{Type: "submit_result", Payload: submitResult{Status: "accepted", Response: resp}}
			case errors.Is(err, domain.ErrAlreadyResponded):
				// Conflict resolves to "here's what you chose", not an error.
				send <- outboundMessage[any]{Type: "submit_result", Payload: submitResult{Status: "already_responded", Response: resp}}
			default:
				send <- outboundMessage[any]{Type: "error", Payload: errReason(err)}
			}

		case "resync":
			snap, err := h.service.Snapshot(ctx, roomID, participantID)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errReason(err)}
				continue
			}
			send <- outboundMessage[any]{Type: "snapshot", Payload: snap}

		case "activate", "start_voting", "close_poll", "reopen_poll", "reveal", "deactivate":
			if role != "host" {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Reason: "forbidden", Message: "host role required"}}
				continue
			}
			if err := h.hostAction(r, roomID, inbound); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errReason(err)}
				continue
			}
			send <- outboundMessage[any]{Type: "ack", Payload: map[string]string{"action": inbound.Type}}

		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Reason: "bad_type", Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) hostAction(r *http.Request, roomID string, inbound inboundMessage) error {
	ctx := r.Context()
	switch inbound.Type {
	case "activate":
		var payload activatePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.TemplateID == "" {
			return domain.ErrTemplateNotFound
		}
		_, err := h.service.Activate(ctx, roomID, payload.TemplateID)
		return err
	case "start_voting":
		_, err := h.service.StartVoting(ctx, roomID)
		return err
	case "close_poll":
		_, err := h.service.ClosePoll(ctx, roomID)
		return err
	case "reopen_poll":
		_, err := h.service.ReopenPoll(ctx, roomID)
		return err
	case "reveal":
		_, err := h.service.Reveal(ctx, roomID)
		return err
	case "deactivate":
		return h.service.Deactivate(ctx, roomID)
	}
	return nil
}

// errReason maps engine errors to stable reasons so clients can reconcile
// their displayed state instead of showing a generic failure.
func errReason(err error) errorPayload {
	reason := "internal"
	switch {
	case errors.Is(err, domain.ErrNoCurrentActivation):
		reason = "stale_activation"
	case errors.Is(err, domain.ErrNotVoting):
		reason = "not_voting"
	case errors.Is(err, domain.ErrActivationClosed):
		reason = "closed"
	case errors.Is(err, domain.ErrEmptySubmission):
		reason = "bad_payload"
	case errors.Is(err, domain.ErrPointerConflict):
		reason = "conflict"
	case errors.Is(err, domain.ErrInvalidTransition):
		reason = "invalid_transition"
	case errors.Is(err, domain.ErrParticipantNotFound):
		reason = "not_joined"
	case errors.Is(err, domain.ErrTemplateNotFound):
		reason = "template_not_found"
	}
	return errorPayload{Reason: reason, Message: err.Error()}
}
