package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go-livechat/internal/protocol"
	"go-livechat/internal/router"
)

const maxTranscriptLimit = 1000

// ListSessions returns the relay's session list, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.hub.Sessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, sessions)
}

// GetTranscript returns one session's messages as wire message frames,
// oldest first. The archive is consulted when the relay has none in memory.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	limit := h.hub.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTranscriptLimit)
	}

	frames := []protocol.Frame{}
	if conv, ok := h.hub.store.Get(sessionID); ok && len(conv.Messages) > 0 {
		msgs := conv.Messages
		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
		for _, m := range msgs {
			if wire, ok := router.ToWire(m.Sender); ok {
				frames = append(frames, protocol.NewMessage(sessionID, m.ID, wire, m.Text, m.Timestamp))
			}
		}
	} else if h.hub.archive != nil {
		rows, err := h.hub.archive.RecentMessages(r.Context(), sessionID, limit)
		if err != nil {
			h.log.Error("❌ DB Error", "op", "transcript", "session", sessionID, "error", err)
			http.Error(w, "failed to load transcript", http.StatusInternalServerError)
			return
		}
		for _, row := range rows {
			frames = append(frames, protocol.NewMessage(sessionID, row.MessageID, protocol.Sender(row.Sender), row.Content, protocol.FormatTime(row.SentAt)))
		}
	}
	writeJSON(w, frames)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
