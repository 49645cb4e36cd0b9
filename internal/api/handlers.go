package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"gwi.com/localchat/internal/auth"
	"gwi.com/localchat/internal/core"
	"gwi.com/localchat/internal/store"
)

type ctxKey struct{}

type APIHandler struct {
	chatService *core.ChatService
	hub         *Hub

	mu       sync.Mutex
	sessions map[string]*core.Session
}

func NewAPIHandler(cs *core.ChatService, hub *Hub) *APIHandler {
	return &APIHandler{
		chatService: cs,
		hub:         hub,
		sessions:    make(map[string]*core.Session),
	}
}

// session returns the session bound to id, binding a new one on first use.
// A token carrying a new name or role rebinds the existing session.
func (h *APIHandler) session(id core.Identity) (*core.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[id.ID]
	if ok {
		if cur, bound := sess.CurrentUser(); bound && cur.Name == id.Name && cur.Role == normalizeRole(id.Role) {
			return sess, nil
		}
	} else {
		sess = h.chatService.NewSession()
	}
	if err := sess.SetCurrentUser(id.ID, id.Name, id.Role); err != nil {
		return nil, err
	}
	h.sessions[id.ID] = sess
	return sess, nil
}

func normalizeRole(r store.Role) store.Role {
	if r == store.RoleAdmin {
		return r
	}
	return store.RoleUser
}

func sessionFrom(ctx context.Context) *core.Session {
	sess, _ := ctx.Value(ctxKey{}).(*core.Session)
	return sess
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// JWTAuthMiddleware resolves the token of the request into a bound session.
// Browsers cannot set headers on websocket upgrades, so the token may also
// come in the access_token query parameter.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		identity, err := auth.ValidateJWT(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		sess, err := h.session(identity)
		if err != nil {
			slog.Error("Failed to bind session", "user", identity.ID, "error", err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// writeServiceError maps a service error to a status code.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, core.ErrUserNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		slog.Error("Chat operation failed", "op", op, "error", err)
		http.Error(w, "Failed to "+op, http.StatusInternalServerError)
	}
}

// canView reports whether sess may read roomID. Unknown rooms are open, the
// same way messages may be sent to a room that was never created.
func (h *APIHandler) canView(sess *core.Session, roomID string) bool {
	if _, ok := h.chatService.Room(roomID); !ok {
		return true
	}
	for _, r := range sess.GetRooms() {
		if r.ID == roomID {
			return true
		}
	}
	return false
}

func (h *APIHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r.Context()).GetRooms())
}

type CreateRoomRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        store.RoomKind `json:"type"`
}

func (h *APIHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Room name is required", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = store.RoomPrivate
	}
	if !req.Type.Valid() {
		http.Error(w, "Unknown room type", http.StatusBadRequest)
		return
	}
	id, err := sess.CreateRoom(req.Name, req.Description, req.Type)
	if err != nil {
		writeServiceError(w, "create room", err)
		return
	}
	room, _ := h.chatService.Room(id)
	writeJSON(w, http.StatusCreated, room)
}

func (h *APIHandler) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := sessionFrom(r.Context()).DeleteRoom(chi.URLParam(r, "roomID"))
	if err != nil {
		writeServiceError(w, "delete room", err)
		return
	}
	if !ok {
		http.Error(w, "Room cannot be deleted", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, (*core.Session).JoinRoom, "join room")
}

func (h *APIHandler) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, (*core.Session).LeaveRoom, "leave room")
}

func (h *APIHandler) membership(w http.ResponseWriter, r *http.Request, fn func(*core.Session, string) (bool, error), op string) {
	roomID := chi.URLParam(r, "roomID")
	ok, err := fn(sessionFrom(r.Context()), roomID)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	room, _ := h.chatService.Room(roomID)
	writeJSON(w, http.StatusOK, room)
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	roomID := chi.URLParam(r, "roomID")
	if !h.canView(sess, roomID) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.chatService.GetMessages(roomID, limit))
}

type PostMessageRequest struct {
	Content     string             `json:"content"`
	Type        store.MessageKind  `json:"type,omitempty"`
	ReplyTo     string             `json:"replyTo,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	roomID := chi.URLParam(r, "roomID")
	if !h.canView(sess, roomID) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}

	var opts []core.MessageOption
	if req.Type != "" {
		// system messages are reserved for the service
		if !req.Type.Valid() || req.Type == store.KindSystem {
			http.Error(w, "Unknown message type", http.StatusBadRequest)
			return
		}
		opts = append(opts, core.WithKind(req.Type))
	}
	if req.ReplyTo != "" {
		opts = append(opts, core.WithReplyTo(req.ReplyTo))
	}
	if len(req.Attachments) > 0 {
		opts = append(opts, core.WithAttachments(req.Attachments...))
	}

	id, err := sess.SendMessage(roomID, req.Content, opts...)
	if err != nil {
		writeServiceError(w, "post message", err)
		return
	}
	msg, _ := h.chatService.Message(id)
	writeJSON(w, http.StatusCreated, msg)
}

func (h *APIHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r.Context()).MarkMessagesAsRead(chi.URLParam(r, "roomID")); err != nil {
		writeServiceError(w, "mark messages as read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	n := sessionFrom(r.Context()).UnreadCount(chi.URLParam(r, "roomID"))
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (h *APIHandler) ListTypingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatService.Typing(chi.URLParam(r, "roomID")))
}

func (h *APIHandler) SetTypingHandler(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r.Context()).SetTyping(chi.URLParam(r, "roomID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ClearTypingHandler(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r.Context()).ClearTyping(chi.URLParam(r, "roomID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) SearchMessagesHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	q := r.URL.Query()

	roomID := q.Get("room")
	if roomID != "" && !h.canView(sess, roomID) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	// a blank box lists nothing rather than the whole history
	if strings.TrimSpace(q.Get("q")) == "" {
		writeJSON(w, http.StatusOK, []store.Message{})
		return
	}

	results := h.chatService.SearchMessages(q.Get("q"), roomID)
	if roomID == "" {
		visible := make(map[string]bool)
		for _, room := range sess.GetRooms() {
			visible[room.ID] = true
		}
		filtered := results[:0]
		for _, m := range results {
			if _, known := h.chatService.Room(m.RoomID); !known || visible[m.RoomID] {
				filtered = append(filtered, m)
			}
		}
		results = filtered
	}
	writeJSON(w, http.StatusOK, results)
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

func (h *APIHandler) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}

	ok, err := sessionFrom(r.Context()).EditMessage(messageID, req.Content)
	if err != nil {
		writeServiceError(w, "edit message", err)
		return
	}
	if !ok {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	msg, _ := h.chatService.Message(messageID)
	writeJSON(w, http.StatusOK, msg)
}

func (h *APIHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := sessionFrom(r.Context()).DeleteMessage(chi.URLParam(r, "messageID"))
	if err != nil {
		writeServiceError(w, "delete message", err)
		return
	}
	if !ok {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) AddReactionHandler(w http.ResponseWriter, r *http.Request) {
	h.reaction(w, r, (*core.Session).AddReaction, "add reaction")
}

func (h *APIHandler) RemoveReactionHandler(w http.ResponseWriter, r *http.Request) {
	h.reaction(w, r, (*core.Session).RemoveReaction, "remove reaction")
}

func (h *APIHandler) reaction(w http.ResponseWriter, r *http.Request, fn func(*core.Session, string, string) error, op string) {
	messageID := chi.URLParam(r, "messageID")
	emoji, err := url.PathUnescape(chi.URLParam(r, "emoji"))
	if err != nil || emoji == "" {
		http.Error(w, "Invalid emoji", http.StatusBadRequest)
		return
	}
	if _, ok := h.chatService.Message(messageID); !ok {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}

	if err := fn(sessionFrom(r.Context()), messageID, emoji); err != nil {
		writeServiceError(w, op, err)
		return
	}
	msg, _ := h.chatService.Message(messageID)
	writeJSON(w, http.StatusOK, msg)
}

type UpdateStatusRequest struct {
	Status  store.UserStatus `json:"status"`
	Message string           `json:"message"`
}

func (h *APIHandler) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, "Unknown status", http.StatusBadRequest)
		return
	}

	if err := sessionFrom(r.Context()).UpdateUserStatus(req.Status, req.Message); err != nil {
		writeServiceError(w, "update status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatService.Users())
}

func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatService.GetStats())
}
