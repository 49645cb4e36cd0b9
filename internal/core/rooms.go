package core

import (
	"fmt"
	"log/slog"

	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

// CreateRoom creates a room with the bound user as its only participant,
// announces it with a system message and returns the room id. Only admins may
// create admin rooms.
func (sess *Session) CreateRoom(name, description string, kind store.RoomKind) (string, error) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	if sess.identity == nil {
		s.mu.Unlock()
		return "", ErrUnauthenticated
	}
	if !mayJoin(sess.identity, kind) {
		s.mu.Unlock()
		return "", ErrForbidden
	}

	room := store.Room{
		ID:           s.newID(),
		Name:         name,
		Description:  description,
		Kind:         kind,
		Participants: []string{sess.identity.ID},
		CreatedBy:    sess.identity.ID,
		CreatedAt:    s.now(),
		IsActive:     true,
		Settings: store.RoomSettings{
			AllowFiles:  true,
			AllowImages: true,
			AdminOnly:   kind == store.RoomAdmin,
		},
	}
	s.rooms = append(s.rooms, room)
	s.roomChanged(&out, events.OpCreated, &room)
	s.sendSystemMessageLocked(&out, room.ID, fmt.Sprintf("Room %q was created by %s", name, sess.identity.Name))

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()

	out.flush()
	slog.Debug("Room created", "room", room.ID, "kind", kind, "by", room.CreatedBy)
	return room.ID, nil
}

// JoinRoom adds the bound user to a room. Joining a room the user is already
// in succeeds without an announcement. It reports false when the room does
// not exist, no identity is bound or the room is an admin room and the user
// is not an admin.
func (sess *Session) JoinRoom(roomID string) (bool, error) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	i := s.findRoom(roomID)
	if sess.identity == nil || i < 0 || !mayJoin(sess.identity, s.rooms[i].Kind) {
		s.mu.Unlock()
		return false, nil
	}
	if !addParticipant(&s.rooms[i], sess.identity.ID) {
		s.mu.Unlock()
		return true, nil
	}
	s.roomChanged(&out, events.OpUpdated, &s.rooms[i])
	s.sendSystemMessageLocked(&out, roomID, fmt.Sprintf("%s joined the room", sess.identity.Name))

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()

	out.flush()
	return true, nil
}

// LeaveRoom removes the bound user from a room and announces it.
func (sess *Session) LeaveRoom(roomID string) (bool, error) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	i := s.findRoom(roomID)
	if sess.identity == nil || i < 0 {
		s.mu.Unlock()
		return false, nil
	}
	if removeParticipant(&s.rooms[i], sess.identity.ID) {
		s.roomChanged(&out, events.OpUpdated, &s.rooms[i])
	}
	s.sendSystemMessageLocked(&out, roomID, fmt.Sprintf("%s left the room", sess.identity.Name))

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()

	out.flush()
	return true, nil
}

// GetRooms lists the rooms visible to the bound user: every general room and
// every room the user participates in, minus admin rooms for non-admins.
func (sess *Session) GetRooms() []store.Room {
	s := sess.svc
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := []store.Room{}
	if sess.identity == nil {
		return rooms
	}
	for i := range s.rooms {
		r := &s.rooms[i]
		if !r.IsActive {
			continue
		}
		if r.Kind == store.RoomAdmin && sess.identity.Role != store.RoleAdmin {
			continue
		}
		if r.Kind == store.RoomGeneral || r.HasParticipant(sess.identity.ID) {
			rooms = append(rooms, cloneRoom(r))
		}
	}
	return rooms
}

// DeleteRoom removes a room and its messages. Only admins may delete, and the
// seeded general and admin rooms cannot be deleted.
func (sess *Session) DeleteRoom(roomID string) (bool, error) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	i := s.findRoom(roomID)
	if sess.identity == nil || sess.identity.Role != store.RoleAdmin || i < 0 ||
		roomID == GeneralRoomID || roomID == AdminRoomID {
		s.mu.Unlock()
		return false, nil
	}

	removed := s.rooms[i]
	s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)

	var dropped []store.Message
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.RoomID == roomID {
			dropped = append(dropped, m)
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept

	var typingKeys []typingKey
	for _, t := range s.typing {
		if t.RoomID == roomID {
			typingKeys = append(typingKeys, typingKey{userID: t.UserID, roomID: roomID})
		}
	}

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.roomChanged(&out, events.OpDeleted, &removed)
	for j := range dropped {
		s.messageChanged(&out, events.OpDeleted, &dropped[j])
	}
	for _, key := range typingKeys {
		s.removeTypingLocked(&out, key)
	}
	by := sess.identity.ID
	s.mu.Unlock()

	out.flush()
	slog.Info("Room deleted", "room", roomID, "by", by, "messages", len(dropped))
	return true, nil
}

// mayJoin keeps admin rooms populated by admins only.
func mayJoin(id *Identity, kind store.RoomKind) bool {
	return kind != store.RoomAdmin || id.Role == store.RoleAdmin
}

// Room looks up a room by id.
func (s *ChatService) Room(id string) (store.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findRoom(id)
	if i < 0 {
		return store.Room{}, false
	}
	return cloneRoom(&s.rooms[i]), true
}
