package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"gwi.com/localchat/internal/store"
)

const (
	notifyTimeout     = 5 * time.Second
	notifyPreviewSize = 100
)

// Notifier receives a notice for each recipient of a new message. Delivery is
// best effort: errors are logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, n store.Notification) error
}

type NotifierFunc func(ctx context.Context, n store.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n store.Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to the default logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n store.Notification) error {
	slog.Info("Chat notification",
		"recipient", n.RecipientID,
		"title", n.Title,
		"room", n.Metadata.RoomID,
		"message_id", n.Metadata.MessageID)
	return nil
}

// newMessageNotifications builds one notice per online user, other than the
// sender, that can see the room. Must be called with s.mu held.
func (s *ChatService) newMessageNotifications(m *store.Message) []store.Notification {
	if s.notifier == nil {
		return nil
	}

	var room *store.Room
	if i := s.findRoom(m.RoomID); i >= 0 {
		room = &s.rooms[i]
	}

	var out []store.Notification
	for _, u := range s.users {
		if !u.IsOnline || u.ID == m.SenderID {
			continue
		}
		if room != nil && room.Kind != store.RoomGeneral && !room.HasParticipant(u.ID) {
			continue
		}
		out = append(out, store.Notification{
			Type:        "message",
			Title:       fmt.Sprintf("New message from %s", m.SenderName),
			Message:     preview(m.Content),
			RecipientID: u.ID,
			Metadata:    store.NotificationMetadata{RoomID: m.RoomID, MessageID: m.ID},
		})
	}
	return out
}

// dispatch hands notices to the notifier on its own goroutine; the caller
// never waits for delivery. Close waits for it.
func (s *ChatService) dispatch(ns []store.Notification) {
	if s.notifier == nil || len(ns) == 0 {
		return
	}
	s.notifying.Add(1)
	go func() {
		defer s.notifying.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		for _, n := range ns {
			if err := s.notifier.Notify(ctx, n); err != nil {
				slog.Warn("Failed to deliver chat notification",
					"recipient", n.RecipientID, "message_id", n.Metadata.MessageID, "error", err)
			}
		}
	}()
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= notifyPreviewSize {
		return content
	}
	r := []rune(content)
	return string(r[:notifyPreviewSize]) + "…"
}
