package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

// Ids of the rooms seeded into an empty store.
const (
	GeneralRoomID = "general"
	AdminRoomID   = "admin"

	systemSenderID   = "system"
	systemSenderName = "System"
)

// ChatService owns the chat state: it mutates the collections, mirrors them
// to the KV after every change and publishes the change to subscribers.
// All methods are safe for concurrent use.
type ChatService struct {
	kv       store.KV
	notifier Notifier

	now           func() time.Time
	newID         func() string
	pageSize      int
	typingExpiry  time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration

	mu           sync.Mutex
	messages     []store.Message
	rooms        []store.Room
	users        []store.ChatUser
	typing       []store.TypingIndicator
	typingTimers map[typingKey]*time.Timer
	typingGen    map[typingKey]uint64
	typingSeq    uint64

	messageFeed *events.Feed[store.Message]
	roomFeed    *events.Feed[store.Room]
	typingFeed  *events.Feed[store.TypingIndicator]
	userFeed    *events.Feed[store.ChatUser]

	notifying sync.WaitGroup

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewChatService loads the persisted state from kv, seeds the default rooms
// when there are none and starts the typing sweep. Close stops the sweep; the
// caller keeps ownership of kv.
func NewChatService(kv store.KV, opts ...Option) (*ChatService, error) {
	s := &ChatService{
		kv:           kv,
		typingTimers: make(map[typingKey]*time.Timer),
		typingGen:    make(map[typingKey]uint64),
		messageFeed:  events.NewFeed[store.Message](),
		roomFeed:     events.NewFeed[store.Room](),
		typingFeed:   events.NewFeed[store.TypingIndicator](),
		userFeed:     events.NewFeed[store.ChatUser](),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	defaultOptions(s)
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load chat state: %w", err)
	}
	if len(s.rooms) == 0 {
		s.seedDefaultRooms()
		if err := s.persistLocked(); err != nil {
			return nil, fmt.Errorf("failed to persist default rooms: %w", err)
		}
		slog.Info("Seeded default chat rooms", "rooms", len(s.rooms))
	}
	slog.Debug("Chat state loaded",
		"messages", len(s.messages), "rooms", len(s.rooms), "users", len(s.users))

	go s.sweepLoop()
	return s, nil
}

// Close stops the typing sweep and any pending typing expiry, then waits for
// notifications already handed to the notifier.
func (s *ChatService) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done

		s.mu.Lock()
		for key, t := range s.typingTimers {
			t.Stop()
			delete(s.typingTimers, key)
		}
		s.mu.Unlock()

		s.notifying.Wait()
	})
}

// NewSession returns a session with no identity bound.
func (s *ChatService) NewSession() *Session {
	return &Session{svc: s}
}

func (s *ChatService) load() error {
	if err := loadKey(s.kv, store.KeyMessages, &s.messages); err != nil {
		return err
	}
	if err := loadKey(s.kv, store.KeyRooms, &s.rooms); err != nil {
		return err
	}
	if err := loadKey(s.kv, store.KeyUsers, &s.users); err != nil {
		return err
	}
	for i := range s.messages {
		if s.messages[i].Reactions == nil {
			s.messages[i].Reactions = make(map[string][]string)
		}
	}
	return nil
}

func loadKey[T any](kv store.KV, key string, dst *[]T) error {
	data, err := kv.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			*dst = []T{}
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if items == nil {
		items = []T{}
	}
	*dst = items
	return nil
}

func (s *ChatService) seedDefaultRooms() {
	now := s.now()
	s.rooms = append(s.rooms,
		store.Room{
			ID:           GeneralRoomID,
			Name:         "General",
			Description:  "Conversation open to everyone",
			Kind:         store.RoomGeneral,
			Participants: []string{},
			CreatedBy:    systemSenderID,
			CreatedAt:    now,
			IsActive:     true,
			Settings:     store.RoomSettings{AllowFiles: true, AllowImages: true},
		},
		store.Room{
			ID:           AdminRoomID,
			Name:         "Administrators",
			Description:  "Private room for administrators",
			Kind:         store.RoomAdmin,
			Participants: []string{},
			CreatedBy:    systemSenderID,
			CreatedAt:    now,
			IsActive:     true,
			Settings:     store.RoomSettings{AllowFiles: true, AllowImages: true, AdminOnly: true},
		},
	)
}

// persistLocked serializes the three persisted collections and writes them in
// one call. Typing indicators are never persisted.
func (s *ChatService) persistLocked() error {
	values := map[string]any{
		store.KeyMessages: s.messages,
		store.KeyRooms:    s.rooms,
		store.KeyUsers:    s.users,
	}
	entries := make(map[string][]byte, len(values))
	for key, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		entries[key] = b
	}
	if err := s.kv.PutAll(entries); err != nil {
		return fmt.Errorf("failed to persist chat state: %w", err)
	}
	return nil
}

// outbox collects publications while the lock is held so they can run after
// it is released.
type outbox struct {
	fns []func()
}

func (o *outbox) add(fn func()) { o.fns = append(o.fns, fn) }

func (o *outbox) flush() {
	for _, fn := range o.fns {
		fn()
	}
}

func (s *ChatService) messageChanged(out *outbox, op events.Op, m *store.Message) {
	snapshot := make([]store.Message, len(s.messages))
	for i := range s.messages {
		snapshot[i] = cloneMessage(&s.messages[i])
	}
	c := s.messageFeed.Stamp(events.Change[store.Message]{Op: op, Item: cloneMessage(m), Snapshot: snapshot})
	out.add(func() { s.messageFeed.Publish(c) })
}

func (s *ChatService) roomChanged(out *outbox, op events.Op, r *store.Room) {
	snapshot := make([]store.Room, len(s.rooms))
	for i := range s.rooms {
		snapshot[i] = cloneRoom(&s.rooms[i])
	}
	c := s.roomFeed.Stamp(events.Change[store.Room]{Op: op, Item: cloneRoom(r), Snapshot: snapshot})
	out.add(func() { s.roomFeed.Publish(c) })
}

func (s *ChatService) userChanged(out *outbox, op events.Op, u *store.ChatUser) {
	snapshot := append([]store.ChatUser(nil), s.users...)
	c := s.userFeed.Stamp(events.Change[store.ChatUser]{Op: op, Item: *u, Snapshot: snapshot})
	out.add(func() { s.userFeed.Publish(c) })
}

func (s *ChatService) typingChanged(out *outbox, op events.Op, t store.TypingIndicator) {
	snapshot := append([]store.TypingIndicator(nil), s.typing...)
	c := s.typingFeed.Stamp(events.Change[store.TypingIndicator]{Op: op, Item: t, Snapshot: snapshot})
	out.add(func() { s.typingFeed.Publish(c) })
}

// SubscribeMessages registers fn for message changes and returns the
// function that unregisters it. fn runs on the goroutine of the mutation.
func (s *ChatService) SubscribeMessages(fn func(events.Change[store.Message])) func() {
	return s.messageFeed.Subscribe(fn)
}

func (s *ChatService) SubscribeRooms(fn func(events.Change[store.Room])) func() {
	return s.roomFeed.Subscribe(fn)
}

func (s *ChatService) SubscribeTyping(fn func(events.Change[store.TypingIndicator])) func() {
	return s.typingFeed.Subscribe(fn)
}

func (s *ChatService) SubscribeUsers(fn func(events.Change[store.ChatUser])) func() {
	return s.userFeed.Subscribe(fn)
}

func (s *ChatService) findMessage(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ChatService) findRoom(id string) int {
	for i := range s.rooms {
		if s.rooms[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ChatService) findUser(id string) int {
	for i := range s.users {
		if s.users[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessage(m *store.Message) store.Message {
	c := *m
	c.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, ids := range m.Reactions {
		c.Reactions[emoji] = append([]string(nil), ids...)
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.Attachments != nil {
		c.Attachments = append([]store.Attachment(nil), m.Attachments...)
	}
	return c
}

func cloneRoom(r *store.Room) store.Room {
	c := *r
	c.Participants = append([]string{}, r.Participants...)
	if r.LastMessage != nil {
		lm := *r.LastMessage
		c.LastMessage = &lm
	}
	return c
}
