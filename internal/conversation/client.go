package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"capsules/internal/logger"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum frame size allowed from peer.
)

// Frame is one server-to-client push: the bootstrap snapshot first, then one
// frame per merged event, plus the message lists answering an open command.
type Frame struct {
	Type      string        `json:"type"`
	Snapshot  *Snapshot     `json:"snapshot,omitempty"`
	Message   *Message      `json:"message,omitempty"`
	Capsule   *Capsule      `json:"capsule,omitempty"`
	Moment    *SharedMoment `json:"moment,omitempty"`
	Messages  []Message     `json:"messages,omitempty"`
	CapsuleID string        `json:"capsule_id,omitempty"`
	ThreadID  string        `json:"thread_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

const (
	FrameSnapshot        = "snapshot"
	FrameMessage         = "message"
	FrameCapsule         = "capsule"
	FrameMoment          = "moment"
	FrameCapsuleMessages = "capsule_messages"
	FrameThreadMessages  = "thread_messages"
	FrameError           = "error"
)

// FrameFor renders a merged event for the wire.
func FrameFor(ev Event) Frame {
	switch e := ev.(type) {
	case PlainMessage:
		return Frame{Type: FrameMessage, Message: &e.Message}
	case CapsuleMessage:
		return Frame{Type: FrameMessage, Message: &e.Message}
	case ThreadMessage:
		return Frame{Type: FrameMessage, Message: &e.Message}
	case MomentAttachment:
		return Frame{Type: FrameMessage, Message: &e.Message, Moment: e.Moment}
	case CapsuleCreated:
		return Frame{Type: FrameCapsule, Capsule: &e.Capsule}
	case MomentShared:
		return Frame{Type: FrameMoment, Moment: &e.Moment}
	}
	return Frame{}
}

// command is what the client sends over the socket.
type command struct {
	Type      string  `json:"type"`
	Content   string  `json:"content,omitempty"`
	CapsuleID *string `json:"capsule_id,omitempty"`
	ThreadID  *string `json:"thread_id,omitempty"`
}

// Client is the middleman between one websocket viewer and their session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *Session
	service *Service
	log     *logger.Logger

	userID       string
	friendshipID string

	send chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, session *Session, service *Service,
	log *logger.Logger, userID, friendshipID string) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		session:      session,
		service:      service,
		log:          log,
		userID:       userID,
		friendshipID: friendshipID,
		send:         make(chan []byte, 256),
	}
}

// Push queues a frame for the peer. Called from the session goroutine; a
// viewer that cannot drain fast enough loses frames rather than stalling the
// merge loop.
func (c *Client) Push(frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("marshalling frame failed", "err", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		c.log.Warn("viewer too slow, dropping frame", "type", frame.Type)
	}
}

// ReadPump pumps commands from the websocket into the service.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.session.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "err", err)
			}
			break
		}

		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.log.Warn("dropping malformed command", "err", err)
			continue
		}
		c.dispatch(cmd)
	}
}

func (c *Client) dispatch(cmd command) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd.Type {
	case "send":
		_, err := c.service.SendMessage(ctx, SendMessageInput{
			SenderID:     c.userID,
			FriendshipID: c.friendshipID,
			Content:      cmd.Content,
			CapsuleID:    cmd.CapsuleID,
			ThreadID:     cmd.ThreadID,
		})
		if err != nil {
			// The sender keeps their draft; nothing is retried for them.
			c.log.Warn("send over socket failed", "err", err)
			c.Push(Frame{Type: FrameError, Error: err.Error()})
		}

	case "open_capsule":
		if cmd.CapsuleID == nil {
			c.Push(Frame{Type: FrameError, Error: "capsule_id is required"})
			return
		}
		msgs, err := c.session.OpenCapsule(ctx, *cmd.CapsuleID)
		if err != nil {
			c.log.Warn("opening capsule over socket failed", "err", err)
			c.Push(Frame{Type: FrameError, Error: err.Error()})
			return
		}
		c.Push(Frame{Type: FrameCapsuleMessages, CapsuleID: *cmd.CapsuleID, Messages: msgs})

	case "close_capsule":
		c.session.CloseCapsule()

	case "open_thread":
		if cmd.ThreadID == nil {
			c.Push(Frame{Type: FrameError, Error: "thread_id is required"})
			return
		}
		msgs, err := c.session.OpenThread(ctx, *cmd.ThreadID)
		if err != nil {
			c.log.Warn("opening thread over socket failed", "err", err)
			c.Push(Frame{Type: FrameError, Error: err.Error()})
			return
		}
		c.Push(Frame{Type: FrameThreadMessages, ThreadID: *cmd.ThreadID, Messages: msgs})

	case "close_thread":
		c.session.CloseThread()

	default:
		c.log.Warn("unknown command", "type", cmd.Type)
	}
}

// WritePump pumps queued frames to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)

			// Drain queued frames in one write to cut syscalls.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
