package core

import (
	"sort"
	"strings"

	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

type MessageOption func(*store.Message)

// WithKind sets the message kind; the default is text.
func WithKind(kind store.MessageKind) MessageOption {
	return func(m *store.Message) { m.Kind = kind }
}

// WithReplyTo marks the message as a reply. The target id is not checked.
func WithReplyTo(messageID string) MessageOption {
	return func(m *store.Message) { m.ReplyTo = messageID }
}

func WithAttachments(attachments ...store.Attachment) MessageOption {
	return func(m *store.Message) { m.Attachments = append(m.Attachments, attachments...) }
}

// SendMessage appends a message from the bound user to roomID and returns its
// id. The room does not have to exist; when it does, its last-message
// snapshot is updated. The sender's typing indicator for the room is cleared
// and other online viewers of the room are notified asynchronously.
func (sess *Session) SendMessage(roomID, content string, opts ...MessageOption) (string, error) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	if sess.identity == nil {
		s.mu.Unlock()
		return "", ErrUnauthenticated
	}
	ui := s.findUser(sess.identity.ID)
	if ui < 0 {
		s.mu.Unlock()
		return "", ErrUserNotFound
	}
	sender := s.users[ui]

	msg := store.Message{
		ID:         s.newID(),
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Content:    content,
		Kind:       store.KindText,
		CreatedAt:  s.now(),
		Reactions:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(&msg)
	}
	s.messages = append(s.messages, msg)

	ri := s.findRoom(roomID)
	if ri >= 0 {
		s.rooms[ri].LastMessage = lastMessageOf(&msg)
	}

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.messageChanged(&out, events.OpCreated, &msg)
	if ri >= 0 {
		s.roomChanged(&out, events.OpUpdated, &s.rooms[ri])
	}
	s.removeTypingLocked(&out, typingKey{userID: sender.ID, roomID: roomID})
	notices := s.newMessageNotifications(&msg)
	s.mu.Unlock()

	out.flush()
	s.dispatch(notices)
	return msg.ID, nil
}

// EditMessage replaces the content of a message written by the bound user.
// It reports false when the message does not exist or belongs to someone
// else.
func (sess *Session) EditMessage(id, content string) (bool, error) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	i := s.findMessage(id)
	if sess.identity == nil || i < 0 || s.messages[i].SenderID != sess.identity.ID {
		s.mu.Unlock()
		return false, nil
	}

	now := s.now()
	m := &s.messages[i]
	m.Content = content
	m.Edited = true
	m.EditedAt = &now

	roomIdx := -1
	if ri := s.findRoom(m.RoomID); ri >= 0 && s.rooms[ri].LastMessage != nil && s.rooms[ri].LastMessage.ID == id {
		s.rooms[ri].LastMessage.Content = content
		roomIdx = ri
	}

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.messageChanged(&out, events.OpUpdated, m)
	if roomIdx >= 0 {
		s.roomChanged(&out, events.OpUpdated, &s.rooms[roomIdx])
	}
	s.mu.Unlock()

	out.flush()
	return true, nil
}

// DeleteMessage removes a message written by the bound user, under the same
// rules as EditMessage.
func (sess *Session) DeleteMessage(id string) (bool, error) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	i := s.findMessage(id)
	if sess.identity == nil || i < 0 || s.messages[i].SenderID != sess.identity.ID {
		s.mu.Unlock()
		return false, nil
	}

	removed := s.messages[i]
	s.messages = append(s.messages[:i], s.messages[i+1:]...)

	roomIdx := -1
	if ri := s.findRoom(removed.RoomID); ri >= 0 && s.rooms[ri].LastMessage != nil && s.rooms[ri].LastMessage.ID == id {
		s.rooms[ri].LastMessage = s.latestUserMessage(removed.RoomID)
		roomIdx = ri
	}

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.messageChanged(&out, events.OpDeleted, &removed)
	if roomIdx >= 0 {
		s.roomChanged(&out, events.OpUpdated, &s.rooms[roomIdx])
	}
	s.mu.Unlock()

	out.flush()
	return true, nil
}

// latestUserMessage finds the newest non-system message of a room.
func (s *ChatService) latestUserMessage(roomID string) *store.LastMessage {
	var latest *store.Message
	for i := range s.messages {
		m := &s.messages[i]
		if m.RoomID != roomID || m.Kind == store.KindSystem {
			continue
		}
		if latest == nil || !m.CreatedAt.Before(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil
	}
	return lastMessageOf(latest)
}

func lastMessageOf(m *store.Message) *store.LastMessage {
	return &store.LastMessage{
		ID:         m.ID,
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

// sendSystemMessageLocked appends an announcement authored by the service.
// The caller persists.
func (s *ChatService) sendSystemMessageLocked(out *outbox, roomID, content string) {
	msg := store.Message{
		ID:         s.newID(),
		RoomID:     roomID,
		SenderID:   systemSenderID,
		SenderName: systemSenderName,
		SenderRole: store.RoleAdmin,
		Content:    content,
		Kind:       store.KindSystem,
		CreatedAt:  s.now(),
		Reactions:  make(map[string][]string),
	}
	s.messages = append(s.messages, msg)
	s.messageChanged(out, events.OpCreated, &msg)
}

// MarkMessagesAsRead sets the read flag on every message of roomID not
// written by the bound user. The flag is shared by all viewers.
func (sess *Session) MarkMessagesAsRead(roomID string) error {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	if sess.identity == nil {
		s.mu.Unlock()
		return nil
	}

	var marked []int
	for i := range s.messages {
		m := &s.messages[i]
		if m.InRoom(roomID) && m.SenderID != sess.identity.ID && !m.IsRead {
			m.IsRead = true
			marked = append(marked, i)
		}
	}
	if len(marked) == 0 {
		s.mu.Unlock()
		return nil
	}

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, i := range marked {
		s.messageChanged(&out, events.OpUpdated, &s.messages[i])
	}
	s.mu.Unlock()

	out.flush()
	return nil
}

// UnreadCount counts the unread messages of roomID not written by the bound
// user.
func (sess *Session) UnreadCount(roomID string) int {
	s := sess.svc
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.identity == nil {
		return 0
	}
	n := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.InRoom(roomID) && m.SenderID != sess.identity.ID && !m.IsRead {
			n++
		}
	}
	return n
}

// GetMessages returns the newest limit messages of roomID in ascending time
// order. A limit of zero or less uses the configured page size.
func (s *ChatService) GetMessages(roomID string, limit int) []store.Message {
	if limit <= 0 {
		limit = s.pageSize
	}

	s.mu.Lock()
	result := make([]store.Message, 0, len(s.messages))
	for i := range s.messages {
		if s.messages[i].InRoom(roomID) {
			result = append(result, cloneMessage(&s.messages[i]))
		}
	}
	s.mu.Unlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

// SearchMessages matches query case-insensitively as a substring of message
// content or sender name. An empty query matches every message. An empty
// roomID searches every room.
func (s *ChatService) SearchMessages(query, roomID string) []store.Message {
	q := strings.ToLower(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	result := []store.Message{}
	for i := range s.messages {
		m := &s.messages[i]
		if !m.InRoom(roomID) {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), q) || strings.Contains(strings.ToLower(m.SenderName), q) {
			result = append(result, cloneMessage(m))
		}
	}
	return result
}

// Message looks up a single message by id.
func (s *ChatService) Message(id string) (store.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findMessage(id)
	if i < 0 {
		return store.Message{}, false
	}
	return cloneMessage(&s.messages[i]), true
}
