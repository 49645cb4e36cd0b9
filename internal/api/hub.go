package api

import (
	"context"
	"log/slog"
	"sync"

	"gwi.com/localchat/internal/core"
	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

// Envelope types pushed to websocket clients.
const (
	TypeState        = "state"
	TypeMessage      = "message"
	TypeRoom         = "room"
	TypeUser         = "user"
	TypeTyping       = "typing"
	TypeNotification = "notification"
	TypeError        = "error"
)

type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ChangePayload is a feed change without its snapshot.
type ChangePayload[T any] struct {
	Seq  uint64    `json:"seq"`
	Op   events.Op `json:"op"`
	Item T         `json:"item"`
}

func changePayload[T any](c events.Change[T]) ChangePayload[T] {
	return ChangePayload[T]{Seq: c.Seq, Op: c.Op, Item: c.Item}
}

type Conn interface {
	Send(msg Envelope) error
	Close() error
	UserID() string
}

// Hub tracks the websocket connections of every user and routes chat changes
// to the connections allowed to see them. It is also the notifier of the
// chat service.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[Conn]struct{} // userID -> set of connections

	svc    *core.ChatService
	unsubs []func()

	// receives notifications for users with no open connection
	fallback core.Notifier
}

func NewHub() *Hub {
	return &Hub{
		users:    make(map[string]map[Conn]struct{}),
		fallback: core.LogNotifier{},
	}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.users[c.UserID()]
	if !ok {
		cs = make(map[Conn]struct{})
		h.users[c.UserID()] = cs
	}
	cs[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cs, ok := h.users[c.UserID()]; ok {
		delete(cs, c)
		if len(cs) == 0 {
			delete(h.users, c.UserID())
		}
	}
}

// Connections counts the open connections of a user.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) SendTo(userID string, msg Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.users[userID] {
		h.send(c, msg)
	}
}

func (h *Hub) Broadcast(msg Envelope) {
	h.broadcastWhere(msg, func(string) bool { return true })
}

func (h *Hub) broadcastWhere(msg Envelope, keep func(userID string) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID, cs := range h.users {
		if !keep(userID) {
			continue
		}
		for c := range cs {
			h.send(c, msg)
		}
	}
}

func (h *Hub) send(c Conn, msg Envelope) {
	if err := c.Send(msg); err != nil {
		slog.Debug("Dropping websocket message", "user", c.UserID(), "type", msg.Type, "error", err)
	}
}

// Notify delivers a notification to the recipient's open connections, or to
// the fallback notifier when there are none.
func (h *Hub) Notify(ctx context.Context, n store.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.Connections(n.RecipientID) == 0 {
		return h.fallback.Notify(ctx, n)
	}
	h.SendTo(n.RecipientID, Envelope{Type: TypeNotification, Payload: n})
	return nil
}

// Attach subscribes the hub to the feeds of svc. Detach undoes it.
func (h *Hub) Attach(svc *core.ChatService) {
	h.svc = svc
	h.unsubs = append(h.unsubs,
		svc.SubscribeMessages(h.onMessage),
		svc.SubscribeRooms(h.onRoom),
		svc.SubscribeUsers(h.onUser),
		svc.SubscribeTyping(h.onTyping),
	)
}

func (h *Hub) Detach() {
	for _, unsubscribe := range h.unsubs {
		unsubscribe()
	}
	h.unsubs = nil
}

func (h *Hub) onMessage(c events.Change[store.Message]) {
	room, ok := h.svc.Room(c.Item.RoomID)
	if !ok {
		p := changePayload(c)
		if c.Op == events.OpDeleted {
			// the room may have gone with it; only say what went away
			p.Item = store.Message{ID: c.Item.ID, RoomID: c.Item.RoomID}
		}
		h.Broadcast(Envelope{Type: TypeMessage, Payload: p})
		return
	}
	h.broadcastWhere(Envelope{Type: TypeMessage, Payload: changePayload(c)}, audience(room))
}

func (h *Hub) onRoom(c events.Change[store.Room]) {
	h.broadcastWhere(Envelope{Type: TypeRoom, Payload: changePayload(c)}, audience(c.Item))
}

func (h *Hub) onUser(c events.Change[store.ChatUser]) {
	h.Broadcast(Envelope{Type: TypeUser, Payload: changePayload(c)})
}

func (h *Hub) onTyping(c events.Change[store.TypingIndicator]) {
	msg := Envelope{Type: TypeTyping, Payload: changePayload(c)}
	room, ok := h.svc.Room(c.Item.RoomID)
	if !ok {
		h.Broadcast(msg)
		return
	}
	h.broadcastWhere(msg, audience(room))
}

func audience(room store.Room) func(userID string) bool {
	return func(userID string) bool {
		return room.Kind == store.RoomGeneral || room.HasParticipant(userID)
	}
}
