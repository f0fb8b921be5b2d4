package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storchat/api/internal/database"
	svcerrors "github.com/storchat/api/internal/errors"
	"github.com/storchat/api/internal/httputil"
)

const maxSaveMessages = 500

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))
	if chatID == "" {
		s.writeError(w, r, svcerrors.MissingField("chat_id"))
		return
	}

	messages, err := s.deps.Repo.ListMessagesByChat(r.Context(), chatID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []database.Message{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type updateActionRequest struct {
	MessageID string `json:"message_id"`
	Action    string `json:"action"`
	Value     *bool  `json:"value"`
}

func (s *Server) handleUpdateMessageAction(w http.ResponseWriter, r *http.Request) {
	var req updateActionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.MessageID = strings.TrimSpace(req.MessageID)
	switch {
	case req.MessageID == "":
		s.writeError(w, r, svcerrors.MissingField("message_id"))
		return
	case req.Action == "":
		s.writeError(w, r, svcerrors.MissingField("action"))
		return
	case req.Action != database.MessageActionFavorite && req.Action != database.MessageActionBookmark:
		s.writeError(w, r, svcerrors.InvalidFormat("action", "must be favorite or bookmark"))
		return
	case req.Value == nil:
		s.writeError(w, r, svcerrors.MissingField("value"))
		return
	}

	msg, err := s.deps.Repo.UpdateMessageAction(r.Context(), req.MessageID, req.Action, *req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

type saveMessage struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type saveMessagesRequest struct {
	ChatID   string        `json:"chat_id"`
	Messages []saveMessage `json:"messages"`
}

// handleSaveMessages stores a batch of messages for the authenticated user.
// Messages without a timestamp get consecutive ones so their order survives.
func (s *Server) handleSaveMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	var req saveMessagesRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.ChatID == "" {
		s.writeError(w, r, svcerrors.MissingField("chat_id"))
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, r, svcerrors.MissingField("messages"))
		return
	}
	if len(req.Messages) > maxSaveMessages {
		s.writeError(w, r, svcerrors.BadRequest("too many messages").WithDetails("max", maxSaveMessages))
		return
	}

	now := time.Now().UTC()
	rows := make([]database.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		if strings.TrimSpace(m.Role) == "" || m.Content == "" {
			s.writeError(w, r, svcerrors.BadRequest("each message needs role and content").WithDetails("index", i))
			return
		}
		row := database.Message{
			ID:        strings.TrimSpace(m.ID),
			ChatID:    req.ChatID,
			UserID:    userID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if m.CreatedAt != nil && !m.CreatedAt.IsZero() {
			row.CreatedAt = m.CreatedAt.UTC()
		}
		rows = append(rows, row)
	}

	saved, err := s.deps.Repo.InsertMessages(r.Context(), rows)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log.WithContext(r.Context()).WithFields(map[string]interface{}{
		"chat_id": req.ChatID,
		"count":   len(saved),
	}).Info("messages saved")
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"saved": len(saved), "messages": saved})
}
