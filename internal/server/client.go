package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-livechat/internal/types"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

type sessionState int

const (
	stateUnidentified sessionState = iota
	stateIdentified
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnidentified:
		return "unidentified"
	case stateIdentified:
		return "identified"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Client is one websocket connection. Events read from the connection are
// handled one at a time by Read; Write drains the outbound queue.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *zap.SugaredLogger
	// user is the account the connection authenticated as.
	user     types.User
	state    sessionState
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
	// tracked is set when the hub counts this connection's read pump.
	tracked bool
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *zap.SugaredLogger) *Client {
	id := shortid.MustGenerate()
	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With("conn_id", id, "user_id", user.Id),
		user:       user,
		state:      stateUnidentified,
		send:       make(chan *ServerMessage, sendQueueSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Errorw("failed to serialize message", "error", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		if c.tracked {
			c.chatServer.pumps.Done()
		}
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warnw("ws: read", "error", err)
			}
			break
		}

		c.handleRaw(raw)
	}
}

func (c *Client) handleRaw(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debugw("error parsing message", "error", err)
		c.queueMessage(ErrInvalidMessage(0))
		return
	}

	msg.Timestamp = Now()
	c.dispatch(&msg)
}

func (c *Client) dispatch(msg *ClientMessage) {
	kind := msg.kind()
	if kind == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}
	c.log.Debugw("received event", "event", kind, "state", c.state)

	ctx := c.chatServer.ctx
	switch {
	case msg.Online != nil:
		c.announceOnline(ctx, msg.Online)
		return
	case msg.Offline != nil:
		c.announceOffline(msg.Offline)
		return
	case msg.LeaveRoom != nil:
		c.leaveRoom(msg)
		return
	case msg.LeaveDirect != nil:
		c.leaveDirect(msg)
		return
	}

	if c.state != stateIdentified {
		c.queueMessage(ErrResponse(msg.Id, ErrUnidentified))
		return
	}

	switch {
	case msg.JoinRoom != nil:
		c.joinRoom(ctx, msg)
	case msg.Publish != nil:
		if _, err := c.chatServer.router.PostRoomMessage(ctx, c.user, *msg.Publish); err != nil {
			c.log.Infow("room message rejected", "room_id", msg.Publish.RoomId, "error", err)
			c.queueMessage(ErrResponse(msg.Id, err))
		}
	case msg.JoinDirect != nil:
		c.joinDirect(msg)
	case msg.Direct != nil:
		if _, err := c.chatServer.router.PostDirectMessage(ctx, c.user, *msg.Direct); err != nil {
			c.log.Infow("direct message rejected", "receiver_id", msg.Direct.ReceiverId, "error", err)
			c.queueMessage(ErrResponse(msg.Id, err))
		}
	}
}

// announceOnline identifies the session. Failures are logged and
// otherwise ignored.
func (c *Client) announceOnline(ctx context.Context, o *Online) {
	if err := ValidatePayload(o); err != nil {
		c.log.Warnw("invalid online announcement", "error", err)
		return
	}
	if o.UserId != c.user.Id {
		c.log.Warnw("online announcement for another user", "announced_user_id", o.UserId)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.chatServer.sendTimeout)
	defer cancel()

	if c.chatServer.presence.RecordOnline(ctx, c.id, o.UserId) {
		c.state = stateIdentified
	}
}

func (c *Client) announceOffline(o *Offline) {
	if o.UserId != 0 && o.UserId != c.user.Id {
		c.log.Warnw("offline announcement for another user", "announced_user_id", o.UserId)
	}

	c.chatServer.presence.RecordOffline(c.id)
	c.state = stateUnidentified
}

func (c *Client) joinRoom(ctx context.Context, msg *ClientMessage) {
	if err := ValidatePayload(msg.JoinRoom); err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.chatServer.sendTimeout)
	defer cancel()

	room, err := c.chatServer.gate.AuthorizeSubscribe(ctx, msg.JoinRoom.RoomName, c.user.Id, msg.JoinRoom.Password)
	if err != nil {
		err = deadlineError(ctx, err)
		c.log.Infow("room join rejected", "room_name", msg.JoinRoom.RoomName, "error", err)
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	if c.chatServer.subscribe(room.Name, c) {
		c.chatServer.channels.Publish(room.Name, roomEntryMessage(room.Id, room.Name, c.user), c)
	}

	c.queueMessage(NoErrOK(msg.Id, types.Room{
		Id:              room.Id,
		Name:            room.Name,
		Description:     room.Description,
		IsPrivate:       room.IsPrivate,
		CreatorId:       room.CreatorId,
		CreatorUsername: room.CreatorUsername,
		CreatedAt:       room.CreatedAt,
	}))
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	if err := ValidatePayload(msg.LeaveRoom); err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	c.chatServer.unsubscribe(msg.LeaveRoom.RoomName, c)
}

func (c *Client) joinDirect(msg *ClientMessage) {
	if err := ValidatePayload(msg.JoinDirect); err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	a, b, err := ParseDirectChannelKey(msg.JoinDirect.Channel)
	if err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}
	if c.user.Id != a && c.user.Id != b {
		c.queueMessage(ErrResponse(msg.Id, ErrForbidden))
		return
	}

	c.chatServer.subscribe(DirectChannelKey(a, b), c)
}

func (c *Client) leaveDirect(msg *ClientMessage) {
	if err := ValidatePayload(msg.LeaveDirect); err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	key := msg.LeaveDirect.Channel
	if a, b, err := ParseDirectChannelKey(key); err == nil {
		key = DirectChannelKey(a, b)
	}
	c.chatServer.unsubscribe(key, c)
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warnw("write message", "error", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup runs once the connection is gone: the client is dropped from the
// hub, its presence entry and subscriptions are discarded, and no leave
// notices are sent.
func (c *Client) cleanup() {
	c.state = stateClosed
	c.chatServer.deregister(c)
	c.chatServer.unsubscribeAll(c)
	c.chatServer.presence.RecordOffline(c.id)
	c.stopClient()
}
