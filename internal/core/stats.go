package core

import (
	"time"

	"gwi.com/localchat/internal/store"
)

const statsWindow = 7 * 24 * time.Hour

// GetStats summarizes the store. It does not mutate anything.
func (s *ChatService) GetStats() store.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := store.Stats{
		TotalMessages: len(s.messages),
		TotalRooms:    len(s.rooms),
	}
	for _, u := range s.users {
		if u.IsOnline {
			st.OnlineUsers++
		}
	}
	since := s.now().Add(-statsWindow)
	for i := range s.messages {
		if s.messages[i].CreatedAt.After(since) {
			st.MessagesLastWeek++
		}
	}
	return st
}
