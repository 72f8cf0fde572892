package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Dosada05/duel-tournament/judge"
	"github.com/Dosada05/duel-tournament/services"
)

// WebhookHandler receives duel completion callbacks. Requests are authenticated by
// middleware.RequireSignature before they get here.
type WebhookHandler struct {
	matchService services.MatchService
	responder
}

func NewWebhookHandler(ms services.MatchService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{matchService: ms, responder: newResponder(logger, "webhook_handler")}
}

// DuelCompletedHandler handles POST /webhooks/duels/completed. Ignored notifications are
// acknowledged with 200 so the duel service stops retrying.
func (h *WebhookHandler) DuelCompletedHandler(w http.ResponseWriter, r *http.Request) {
	var event judge.CompletionEvent
	if err := readJSON(w, r, &event); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}
	event.Ref = strings.TrimSpace(event.Ref)
	if event.Ref == "" {
		h.badRequestResponse(w, r, errors.New("ref is required"))
		return
	}

	result, err := h.matchService.OnMatchCompleted(r.Context(), event.Ref, event.Results)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.writeOK(w, r, http.StatusOK, result)
}
