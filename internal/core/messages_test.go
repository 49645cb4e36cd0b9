package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

func TestSendMessage_Unauthenticated(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())

	_, err := svc.NewSession().SendMessage(GeneralRoomID, "hola")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, svc.GetMessages(GeneralRoomID, 0))
}

func TestSendMessage_UserNotFound(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ana := login(t, svc, "u1", "Ana", store.RoleUser)

	svc.mu.Lock()
	svc.users = svc.users[:0]
	svc.mu.Unlock()

	_, err := ana.SendMessage(GeneralRoomID, "hola")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSendMessage(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, store.NewMemoryStore(), WithClock(clock.Now))
	ana := login(t, svc, "u1", "Ana", store.RoleUser)

	id, err := ana.SendMessage(GeneralRoomID, "hola")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := svc.GetMessages(GeneralRoomID, 0)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "hola", m.Content)
	assert.Equal(t, "Ana", m.SenderName)
	assert.Equal(t, store.RoleUser, m.SenderRole)
	assert.Equal(t, store.KindText, m.Kind)
	assert.Equal(t, clock.Now(), m.CreatedAt)
	assert.False(t, m.IsRead)
	assert.Empty(t, m.Reactions)

	room, ok := svc.Room(GeneralRoomID)
	require.True(t, ok)
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, id, room.LastMessage.ID)
	assert.Equal(t, "hola", room.LastMessage.Content)
}

func TestSendMessage_Options(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ana := login(t, svc, "u1", "Ana", store.RoleUser)

	first, err := ana.SendMessage(GeneralRoomID, "see attached")
	require.NoError(t, err)
	id, err := ana.SendMessage(GeneralRoomID, "photo.png",
		WithKind(store.KindImage),
		WithReplyTo(first),
		WithAttachments(store.Attachment{Name: "photo.png", URL: "blob:1", MimeType: "image/png", Size: 42}))
	require.NoError(t, err)

	m, ok := svc.Message(id)
	require.True(t, ok)
	assert.Equal(t, store.KindImage, m.Kind)
	assert.Equal(t, first, m.ReplyTo)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, int64(42), m.Attachments[0].Size)
}

func TestSendMessage_UnknownRoom(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ana := login(t, svc, "u1", "Ana", store.RoleUser)

	_, err := ana.SendMessage("nowhere", "hello?")
	require.NoError(t, err)
	assert.Len(t, svc.GetMessages("nowhere", 0), 1)
	assert.Empty(t, svc.GetMessages(GeneralRoomID, 0))
}

func TestSendMessage_PersistFailure(t *testing.T) {
	kv := store.NewMemoryStore()
	svc := newTestService(t, kv)
	ana := login(t, svc, "u1", "Ana", store.RoleUser)

	var published int
	svc.SubscribeMessages(func(events.Change[store.Message]) { published++ })

	boom := errors.New("quota exceeded")
	kv.FailWrites(boom)
	_, err := ana.SendMessage(GeneralRoomID, "hola")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, published)

	kv.FailWrites(nil)
	_, err = ana.SendMessage(GeneralRoomID, "again")
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestSendMessage_Notifications(t *testing.T) {
	var (
		mu  sync.Mutex
		got []store.Notification
	)
	notifier := NotifierFunc(func(_ context.Context, n store.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
		return nil
	})
	received := func() []store.Notification {
		mu.Lock()
		defer mu.Unlock()
		return append([]store.Notification(nil), got...)
	}

	svc := newTestService(t, store.NewMemoryStore(), WithNotifier(notifier))
	ana := login(t, svc, "u1", "Ana", store.RoleUser)
	login(t, svc, "u2", "Ben", store.RoleUser)
	cy := login(t, svc, "u3", "Cy", store.RoleUser)
	require.NoError(t, cy.UpdateUserStatus(store.StatusOffline, ""))

	long := strings.Repeat("a", 150)
	id, err := ana.SendMessage(GeneralRoomID, long)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(received()) == 1 }, time.Second, 5*time.Millisecond)
	n := received()[0]
	assert.Equal(t, "message", n.Type)
	assert.Equal(t, "u2", n.RecipientID)
	assert.Equal(t, "New message from Ana", n.Title)
	assert.Equal(t, strings.Repeat("a", 100)+"…", n.Message)
	assert.Equal(t, store.NotificationMetadata{RoomID: GeneralRoomID, MessageID: id}, n.Metadata)

	private, err := ana.CreateRoom("Secret", "", store.RoomPrivate)
	require.NoError(t, err)
	_, err = ana.SendMessage(private, "just me")
	require.NoError(t, err)
	assert.Never(t, func() bool { return len(received()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSendMessage_NotifierErrorIsDropped(t *testing.T) {
	calls := make(chan struct{}, 1)
	notifier := NotifierFunc(func(context.Context, store.Notification) error {
		calls <- struct{}{}
		return errors.New("unreachable")
	})
	svc := newTestService(t, store.NewMemoryStore(), WithNotifier(notifier))
	ana := login(t, svc, "u1", "Ana", store.RoleUser)
	login(t, svc, "u2", "Ben", store.RoleUser)

	_, err := ana.SendMessage(GeneralRoomID, "hola")
	require.NoError(t, err)

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("notifier was not called")
	}
}

func TestClose_WaitsForNotifications(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []string
	)
	notifier := NotifierFunc(func(_ context.Context, n store.Notification) error {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, n.RecipientID)
		return nil
	})
	svc, err := NewChatService(store.NewMemoryStore(), WithNotifier(notifier))
	require.NoError(t, err)
	ana := login(t, svc, "u1", "Ana", store.RoleUser)
	login(t, svc, "u2", "Ben", store.RoleUser)

	_, err = ana.SendMessage(GeneralRoomID, "last words")
	require.NoError(t, err)
	svc.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"u2"}, delivered)
}

func TestEditMessage(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, store.NewMemoryStore(), WithClock(clock.Now))
	ana := login(t, svc, "u1", "Ana", store.RoleUser)
	ben := login(t, svc, "u2", "Ben", store.RoleUser)

	id, err := ana.SendMessage(GeneralRoomID, "helo")
	require.NoError(t, err)

	ok, err := ben.EditMessage(id, "hijacked")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ana.EditMessage("missing", "x")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Minute)
	ok, err = ana.EditMessage(id, "hello")
	require.NoError(t, err)
	assert.True(t, ok)

	m, _ := svc.Message(id)
	assert.Equal(t, "hello", m.Content)
	assert.True(t, m.Edited)
	require.NotNil(t, m.EditedAt)
	assert.Equal(t, clock.Now(), *m.EditedAt)

	room, _ := svc.Room(GeneralRoomID)
	assert.Equal(t, "hello", room.LastMessage.Content)
}

func TestDeleteMessage(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, store.NewMemoryStore(), WithClock(clock.Now))
	ana := login(t, svc, "u1", "Ana", store.RoleUser)
	ben := login(t, svc, "u2", "Ben", store.RoleUser)

	first, err := ana.SendMessage(GeneralRoomID, "first")
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := ana.SendMessage(GeneralRoomID, "second")
	require.NoError(t, err)

	ok, err := ben.DeleteMessage(second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, svc.GetMessages(GeneralRoomID, 0), 2)

	ok, err = ana.DeleteMessage(second)
	require.NoError(t, err)
	assert.True(t, ok)

	msgs := svc.GetMessages(GeneralRoomID, 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, first, msgs[0].ID)

	room, _ := svc.Room(GeneralRoomID)
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, first, room.LastMessage.ID)

	ok, err = ana.DeleteMessage(first)
	require.NoError(t, err)
	assert.True(t, ok)
	room, _ = svc.Room(GeneralRoomID)
	assert.Nil(t, room.LastMessage)
}

func TestMarkMessagesAsRead(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ana := login(t, svc, "u1", "Ana", store.RoleUser)
	ben := login(t, svc, "u2", "Ben", store.RoleUser)

	_, err := ana.SendMessage(GeneralRoomID, "one")
	require.NoError(t, err)
	_, err = ana.SendMessage(GeneralRoomID, "two")
	require.NoError(t, err)
	_, err = ben.SendMessage(GeneralRoomID, "three")
	require.NoError(t, err)
	_, err = ana.SendMessage("elsewhere", "four")
	require.NoError(t, err)

	assert.Equal(t, 2, ben.UnreadCount(GeneralRoomID))
	assert.Equal(t, 1, ana.UnreadCount(GeneralRoomID))

	var updates int
	svc.SubscribeMessages(func(c events.Change[store.Message]) {
		if c.Op == events.OpUpdated {
			updates++
		}
	})

	require.NoError(t, ben.MarkMessagesAsRead(GeneralRoomID))
	assert.Equal(t, 2, updates)
	assert.Zero(t, ben.UnreadCount(GeneralRoomID))
	assert.Equal(t, 1, ben.UnreadCount("elsewhere"))

	require.NoError(t, ben.MarkMessagesAsRead(GeneralRoomID))
	assert.Equal(t, 2, updates)

	for _, m := range svc.GetMessages(GeneralRoomID, 0) {
		assert.Equal(t, m.SenderID == "u1", m.IsRead, m.Content)
	}
}

func TestGetMessages_Limit(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, store.NewMemoryStore(), WithClock(clock.Now), WithPageSize(3))
	ana := login(t, svc, "u1", "Ana", store.RoleUser)

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		_, err := ana.SendMessage(GeneralRoomID, text)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	contents := func(ms []store.Message) []string {
		out := make([]string, len(ms))
		for i, m := range ms {
			out[i] = m.Content
		}
		return out
	}
	assert.Equal(t, []string{"c", "d", "e"}, contents(svc.GetMessages(GeneralRoomID, 0)))
	assert.Equal(t, []string{"d", "e"}, contents(svc.GetMessages(GeneralRoomID, 2)))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, contents(svc.GetMessages(GeneralRoomID, 10)))
}

func TestGetMessages_ReturnsCopies(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ana := login(t, svc, "u1", "Ana", store.RoleUser)

	id, err := ana.SendMessage(GeneralRoomID, "hola")
	require.NoError(t, err)

	msgs := svc.GetMessages(GeneralRoomID, 0)
	msgs[0].Content = "changed"
	msgs[0].Reactions["x"] = []string{"u9"}

	m, _ := svc.Message(id)
	assert.Equal(t, "hola", m.Content)
	assert.Empty(t, m.Reactions)
}

func TestSearchMessages(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ana := login(t, svc, "u1", "Ana", store.RoleUser)
	ben := login(t, svc, "u2", "Benito", store.RoleUser)

	_, err := ana.SendMessage(GeneralRoomID, "Deploy is done")
	require.NoError(t, err)
	_, err = ben.SendMessage(GeneralRoomID, "lunch?")
	require.NoError(t, err)
	_, err = ben.SendMessage("ops", "deploy failed")
	require.NoError(t, err)

	assert.Len(t, svc.SearchMessages("DEPLOY", ""), 2)
	assert.Len(t, svc.SearchMessages("deploy", GeneralRoomID), 1)
	assert.Len(t, svc.SearchMessages("benito", ""), 2)
	assert.Len(t, svc.SearchMessages("", ""), 3)
	assert.Len(t, svc.SearchMessages("", GeneralRoomID), 2)
	assert.Empty(t, svc.SearchMessages("nothing like it", ""))
}

func TestSearchMessages_KeepsSpaces(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ana := login(t, svc, "u1", "Ana", store.RoleUser)

	_, err := ana.SendMessage(GeneralRoomID, "xhola")
	require.NoError(t, err)
	_, err = ana.SendMessage(GeneralRoomID, "hola mundo")
	require.NoError(t, err)

	assert.Empty(t, svc.SearchMessages(" hola", ""))
	results := svc.SearchMessages("a m", "")
	require.Len(t, results, 1)
	assert.Equal(t, "hola mundo", results[0].Content)
}
