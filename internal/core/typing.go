package core

import (
	"time"

	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

type typingKey struct {
	userID string
	roomID string
}

// SetTyping marks the bound user as typing in roomID. The indicator expires
// on its own after the typing expiry unless SetTyping is called again first.
func (sess *Session) SetTyping(roomID string) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	if sess.identity == nil {
		s.mu.Unlock()
		return
	}
	key := typingKey{userID: sess.identity.ID, roomID: roomID}
	s.dropTypingLocked(key)

	t := store.TypingIndicator{
		UserID:    sess.identity.ID,
		UserName:  sess.identity.Name,
		RoomID:    roomID,
		Timestamp: s.now(),
	}
	s.typing = append(s.typing, t)

	if timer, ok := s.typingTimers[key]; ok {
		timer.Stop()
	}
	s.typingSeq++
	gen := s.typingSeq
	s.typingGen[key] = gen
	s.typingTimers[key] = time.AfterFunc(s.typingExpiry, func() { s.expireTyping(key, gen) })

	s.typingChanged(&out, events.OpCreated, t)
	s.mu.Unlock()

	out.flush()
}

// ClearTyping removes the bound user's indicator for roomID.
func (sess *Session) ClearTyping(roomID string) {
	s := sess.svc
	var out outbox

	s.mu.Lock()
	if sess.identity == nil {
		s.mu.Unlock()
		return
	}
	s.removeTypingLocked(&out, typingKey{userID: sess.identity.ID, roomID: roomID})
	s.mu.Unlock()

	out.flush()
}

// Typing lists the current indicators of roomID, or of every room when
// roomID is empty.
func (s *ChatService) Typing(roomID string) []store.TypingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []store.TypingIndicator{}
	for _, t := range s.typing {
		if roomID == "" || t.RoomID == roomID {
			result = append(result, t)
		}
	}
	return result
}

// expireTyping runs from the indicator's timer. A later SetTyping for the
// same key takes a new generation, which turns this call into a no-op.
// Generations come from one service-wide counter, so a timer that fired late
// cannot match a newer indicator even after the key was removed.
func (s *ChatService) expireTyping(key typingKey, gen uint64) {
	var out outbox

	s.mu.Lock()
	if s.typingGen[key] != gen {
		s.mu.Unlock()
		return
	}
	s.removeTypingLocked(&out, key)
	s.mu.Unlock()

	out.flush()
}

// removeTypingLocked drops the indicator for key with its timer and queues a
// deleted change when one existed.
func (s *ChatService) removeTypingLocked(out *outbox, key typingKey) {
	if timer, ok := s.typingTimers[key]; ok {
		timer.Stop()
		delete(s.typingTimers, key)
	}
	delete(s.typingGen, key)

	if t, ok := s.dropTypingLocked(key); ok {
		s.typingChanged(out, events.OpDeleted, t)
	}
}

func (s *ChatService) dropTypingLocked(key typingKey) (store.TypingIndicator, bool) {
	for i, t := range s.typing {
		if t.UserID == key.userID && t.RoomID == key.roomID {
			s.typing = append(s.typing[:i], s.typing[i+1:]...)
			return t, true
		}
	}
	return store.TypingIndicator{}, false
}

func (s *ChatService) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepTyping()
		case <-s.stop:
			return
		}
	}
}

// sweepTyping discards indicators older than the staleness threshold.
func (s *ChatService) sweepTyping() {
	var out outbox

	s.mu.Lock()
	cutoff := s.now().Add(-s.staleAfter)
	var stale []typingKey
	for _, t := range s.typing {
		if t.Timestamp.Before(cutoff) {
			stale = append(stale, typingKey{userID: t.UserID, roomID: t.RoomID})
		}
	}
	for _, key := range stale {
		s.removeTypingLocked(&out, key)
	}
	s.mu.Unlock()

	out.flush()
}
