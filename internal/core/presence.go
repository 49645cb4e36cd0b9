package core

import (
	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

// Identity is what the authentication collaborator supplies for a session.
type Identity struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role store.Role `json:"role"`
}

// Session is one viewer of the chat: the ChatService plus the identity bound
// with SetCurrentUser. Sessions share all state through their ChatService.
type Session struct {
	svc      *ChatService
	identity *Identity // guarded by svc.mu
}

// CurrentUser returns the bound identity, if any.
func (sess *Session) CurrentUser() (Identity, bool) {
	sess.svc.mu.Lock()
	defer sess.svc.mu.Unlock()

	if sess.identity == nil {
		return Identity{}, false
	}
	return *sess.identity, true
}

// SetCurrentUser binds the identity to the session, marks its presence record
// available and fixes up its membership of general and admin rooms. Any role
// other than admin is treated as user.
func (sess *Session) SetCurrentUser(id, name string, role store.Role) error {
	if role != store.RoleAdmin {
		role = store.RoleUser
	}

	s := sess.svc
	var out outbox

	s.mu.Lock()
	sess.identity = &Identity{ID: id, Name: name, Role: role}

	now := s.now()
	op := events.OpUpdated
	i := s.findUser(id)
	if i < 0 {
		s.users = append(s.users, store.ChatUser{ID: id})
		i = len(s.users) - 1
		op = events.OpCreated
	}
	u := &s.users[i]
	u.Name = name
	u.Role = role
	u.IsOnline = true
	u.Status = store.StatusAvailable
	u.LastSeen = now

	var changed []int
	for j := range s.rooms {
		if s.syncMembership(&s.rooms[j], id, role) {
			changed = append(changed, j)
		}
	}

	err := s.persistLocked()
	if err == nil {
		s.userChanged(&out, op, &s.users[i])
		for _, j := range changed {
			s.roomChanged(&out, events.OpUpdated, &s.rooms[j])
		}
	}
	s.mu.Unlock()

	out.flush()
	return err
}

// syncMembership applies the membership rule of general and admin rooms to
// one user and reports whether the participant set changed.
func (s *ChatService) syncMembership(r *store.Room, userID string, role store.Role) bool {
	switch r.Kind {
	case store.RoomGeneral:
		return addParticipant(r, userID)
	case store.RoomAdmin:
		if role == store.RoleAdmin {
			return addParticipant(r, userID)
		}
		return removeParticipant(r, userID)
	}
	return false
}

func addParticipant(r *store.Room, userID string) bool {
	if r.HasParticipant(userID) {
		return false
	}
	r.Participants = append(r.Participants, userID)
	return true
}

func removeParticipant(r *store.Room, userID string) bool {
	for i, id := range r.Participants {
		if id == userID {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateUserStatus changes the presence status of the bound user. A non-empty
// message replaces the status message. Without a bound identity it does
// nothing.
func (sess *Session) UpdateUserStatus(status store.UserStatus, message string) error {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	if sess.identity == nil {
		s.mu.Unlock()
		return nil
	}
	i := s.findUser(sess.identity.ID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}

	u := &s.users[i]
	u.Status = status
	u.IsOnline = status != store.StatusOffline
	u.LastSeen = s.now()
	if message != "" {
		u.StatusMessage = message
	}

	err := s.persistLocked()
	if err == nil {
		s.userChanged(&out, events.OpUpdated, u)
	}
	s.mu.Unlock()

	out.flush()
	return err
}

// Users returns every presence record.
func (s *ChatService) Users() []store.ChatUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.ChatUser{}, s.users...)
}
