package httpapi

import (
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/I0I-I0I/messenger-server/internal/chat"
	"github.com/I0I-I0I/messenger-server/internal/identity"
)

type directConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

type sendMessageRequest struct {
	ClientMessageID string `json:"client_message_id"`
	Content         string `json:"content"`
}

type messageListResponse struct {
	Messages []chat.Message `json:"messages"`
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	conversations, err := h.sync.Conversations(r.Context(), user)
	if err != nil {
		h.fail(w, "conversations.list", err)
		return
	}
	writeData(w, http.StatusOK, conversations)
}

func (h *Handler) handleDirectConversation(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	var req directConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, validationError(err.Error()))
		return
	}

	var fe fieldErrors
	fe.checkLen("other_user_id", req.OtherUserID, 1, 64)
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	if req.OtherUserID == user.ID {
		writeError(w, NewError(http.StatusBadRequest, "invalid_target", "Cannot create direct conversation with yourself"))
		return
	}
	if _, err := h.users.GetUserByID(r.Context(), req.OtherUserID); err != nil {
		h.fail(w, "conversations.direct", err)
		return
	}

	conv, memberIDs, err := h.chats.GetOrCreateDirectConversation(r.Context(), user.ID, req.OtherUserID, time.Now().UTC())
	if err != nil {
		h.fail(w, "conversations.direct", err)
		return
	}

	members, err := h.users.FetchUsersByIDs(r.Context(), user.ID, memberIDs, identity.VisibilityConversationScoped)
	if err != nil {
		h.fail(w, "conversations.direct", err)
		return
	}

	writeData(w, http.StatusOK, chat.ConversationSummary{
		ID:                 conv.ID,
		Type:               conv.Type,
		UpdatedAt:          conv.UpdatedAt,
		LastMessagePreview: conv.LastMessagePreview,
		LastMessageAt:      conv.LastMessageAt,
		MemberIDs:          memberIDs,
		Members:            members,
	})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	var fe fieldErrors
	afterSeq := int64(0)
	if raw := r.URL.Query().Get("after_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			fe.add("after_seq", "must be a non-negative integer")
		} else {
			afterSeq = n
		}
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			fe.add("limit", "must be between 1 and 100")
		} else {
			limit = n
		}
	}
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.chats.RequireMembership(r.Context(), user.ID, conversationID); err != nil {
		h.fail(w, "messages.list", err)
		return
	}

	messages, err := h.chats.ListMessages(r.Context(), conversationID, afterSeq, limit)
	if err != nil {
		h.fail(w, "messages.list", err)
		return
	}
	writeData(w, http.StatusOK, messageListResponse{Messages: messages})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, validationError(err.Error()))
		return
	}

	var fe fieldErrors
	fe.checkLen("client_message_id", req.ClientMessageID, 8, 64)
	if utf8.RuneCountInString(req.Content) < 1 {
		fe.add("content", "too short")
	}
	if utf8.RuneCountInString(req.Content) > h.cfg.MessageMaxLength {
		fe.add("content", "too long")
	}
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.chats.RequireMembership(r.Context(), user.ID, conversationID); err != nil {
		h.fail(w, "messages.send", err)
		return
	}

	message, created, err := h.chats.SendMessage(r.Context(), chat.SendMessageInput{
		ConversationID:  conversationID,
		SenderID:        user.ID,
		ClientMessageID: req.ClientMessageID,
		Content:         req.Content,
		Now:             time.Now().UTC(),
	})
	if err != nil {
		h.fail(w, "messages.send", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.metrics.IncMessagesCreated()
	}
	writeData(w, status, message)
}
