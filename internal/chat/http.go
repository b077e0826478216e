package chat

import (
	"encoding/json"
	"net/http"
)

// inboundEvent is what the external transport posts to us: either a plain
// text message or a choice selection.
type inboundEvent struct {
	Type     string `json:"type"` // "text" or "choice"
	UserID   int64  `json:"user_id"`
	ChatID   int64  `json:"chat_id"`
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Text     string `json:"text,omitempty"`
	ChoiceID string `json:"choice_id,omitempty"`
}

// Handler returns the HTTP endpoint the transport delivers inbound events to.
func Handler(f *Flow) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev inboundEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if ev.UserID == 0 {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		if ev.ChatID == 0 {
			ev.ChatID = ev.UserID
		}
		switch ev.Type {
		case "text":
			f.OnTextMessage(r.Context(), ev.UserID, ev.ChatID, ev.Username, ev.FullName, ev.Text)
		case "choice":
			f.OnChoiceSelected(r.Context(), ev.UserID, ev.ChatID, ev.ChoiceID)
		default:
			http.Error(w, "unknown event type", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}
