package core

import (
	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

// AddReaction records the bound user's emoji on a message. Reacting twice
// with the same emoji, a missing message or no bound identity is a no-op.
func (sess *Session) AddReaction(messageID, emoji string) error {
	return sess.react(messageID, emoji, func(m *store.Message, userID string) bool {
		for _, id := range m.Reactions[emoji] {
			if id == userID {
				return false
			}
		}
		m.Reactions[emoji] = append(m.Reactions[emoji], userID)
		return true
	})
}

// RemoveReaction withdraws the bound user's emoji. The emoji key is dropped
// once nobody reacts with it.
func (sess *Session) RemoveReaction(messageID, emoji string) error {
	return sess.react(messageID, emoji, func(m *store.Message, userID string) bool {
		ids := m.Reactions[emoji]
		for i, id := range ids {
			if id != userID {
				continue
			}
			ids = append(ids[:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = ids
			}
			return true
		}
		return false
	})
}

func (sess *Session) react(messageID, emoji string, apply func(m *store.Message, userID string) bool) error {
	if emoji == "" {
		return nil
	}

	s := sess.svc
	var out outbox

	s.mu.Lock()
	i := s.findMessage(messageID)
	if sess.identity == nil || i < 0 {
		s.mu.Unlock()
		return nil
	}
	m := &s.messages[i]
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	if !apply(m, sess.identity.ID) {
		s.mu.Unlock()
		return nil
	}

	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.messageChanged(&out, events.OpUpdated, m)
	s.mu.Unlock()

	out.flush()
	return nil
}
