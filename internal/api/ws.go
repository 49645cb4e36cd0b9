package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gwi.com/localchat/internal/core"
	"gwi.com/localchat/internal/store"
)

// Frame types accepted from websocket clients.
const (
	FrameChat       = "chat"
	FrameTyping     = "typing"
	FrameTypingStop = "typing_stop"
	FrameRead       = "read"
)

const (
	pingEvery      = 15 * time.Second
	writeWait      = 5 * time.Second
	maxFrameSize   = 1 << 16
	sendQueueDepth = 64
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("send queue full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type clientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type clientPayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// StatePayload is the first envelope of every connection.
type StatePayload struct {
	User   core.Identity           `json:"user"`
	Rooms  []store.Room            `json:"rooms"`
	Users  []store.ChatUser        `json:"users"`
	Typing []store.TypingIndicator `json:"typing"`
}

// WebSocketHandler upgrades an authenticated request and streams chat
// changes to it. Clients may send chat, typing, typing_stop and read frames.
func (h *APIHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	id, _ := sess.CurrentUser()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		slog.Warn("Websocket upgrade failed", "user", id.ID, "error", err)
		return
	}

	c := newWsConn(conn, id.ID)
	h.hub.Add(c)
	slog.Debug("Websocket connected", "user", id.ID, "connections", h.hub.Connections(id.ID))

	if err := c.Send(Envelope{Type: TypeState, Payload: h.state(sess, id)}); err != nil {
		slog.Warn("Failed to send initial state", "user", id.ID, "error", err)
	}

	go c.writeLoop()
	h.readLoop(sess, c)

	h.hub.Remove(c)
	if err := c.Close(); err != nil {
		slog.Debug("Websocket close failed", "user", id.ID, "error", err)
	}
	slog.Debug("Websocket disconnected", "user", id.ID)
}

func (h *APIHandler) state(sess *core.Session, id core.Identity) StatePayload {
	rooms := sess.GetRooms()
	visible := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		visible[r.ID] = true
	}
	typing := []store.TypingIndicator{}
	for _, t := range h.chatService.Typing("") {
		if visible[t.RoomID] {
			typing = append(typing, t)
		}
	}
	return StatePayload{User: id, Rooms: rooms, Users: h.chatService.Users(), Typing: typing}
}

func (h *APIHandler) readLoop(sess *core.Session, c *wsConn) {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Websocket read failed", "user", c.userID, "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		var p clientPayload
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				continue
			}
		}
		if p.RoomID == "" || !h.canView(sess, p.RoomID) {
			continue
		}

		switch frame.Type {
		case FrameChat:
			text := strings.TrimSpace(p.Content)
			if text == "" {
				continue
			}
			var opts []core.MessageOption
			if p.ReplyTo != "" {
				opts = append(opts, core.WithReplyTo(p.ReplyTo))
			}
			if _, err := sess.SendMessage(p.RoomID, text, opts...); err != nil {
				slog.Warn("Websocket chat failed", "user", c.userID, "room", p.RoomID, "error", err)
				_ = c.Send(Envelope{Type: TypeError, Payload: map[string]string{"error": err.Error()}})
			}
		case FrameTyping:
			sess.SetTyping(p.RoomID)
		case FrameTypingStop:
			sess.ClearTyping(p.RoomID)
		case FrameRead:
			if err := sess.MarkMessagesAsRead(p.RoomID); err != nil {
				slog.Warn("Websocket read receipt failed", "user", c.userID, "room", p.RoomID, "error", err)
			}
		}
	}
}

// wsConn queues outgoing envelopes; writeLoop is the only writer of conn.
type wsConn struct {
	conn      *websocket.Conn
	userID    string
	send      chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(conn *websocket.Conn, userID string) *wsConn {
	return &wsConn{
		conn:   conn,
		userID: userID,
		send:   make(chan Envelope, sendQueueDepth),
		closed: make(chan struct{}),
	}
}

// Send never blocks: a connection that cannot keep up loses the message.
func (c *wsConn) Send(msg Envelope) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSlowConsumer
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) UserID() string { return c.userID }
