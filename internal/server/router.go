package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/stats"
	"github.com/npezzotti/go-livechat/internal/types"
	"go.uber.org/zap"
)

// BroadcastRouter persists chat messages and then fans them out to the
// subscribers of their channel. Nothing is published unless the write
// succeeded.
type BroadcastRouter struct {
	db          database.GoChatRepository
	gate        *MembershipGate
	channels    *ChannelTable
	stats       stats.StatsProvider
	sendTimeout time.Duration
	log         *zap.SugaredLogger
}

func NewBroadcastRouter(db database.GoChatRepository, gate *MembershipGate, channels *ChannelTable,
	sp stats.StatsProvider, sendTimeout time.Duration, l *zap.SugaredLogger) *BroadcastRouter {
	return &BroadcastRouter{
		db:          db,
		gate:        gate,
		channels:    channels,
		stats:       sp,
		sendTimeout: sendTimeout,
		log:         l,
	}
}

// PostRoomMessage stores p on behalf of sender and delivers it to every
// subscriber of the room channel, the sender's connections included.
func (r *BroadcastRouter) PostRoomMessage(ctx context.Context, sender types.User, p Publish) (*types.RoomMessage, error) {
	if err := ValidatePayload(p); err != nil {
		return nil, err
	}
	if p.UserId != sender.Id {
		return nil, fmt.Errorf("%w: cannot post as user %d", ErrForbidden, p.UserId)
	}

	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	room, err := r.gate.AuthorizePost(ctx, p.RoomId, sender.Id)
	if err != nil {
		return nil, deadlineError(ctx, err)
	}
	if room.Name != p.RoomName {
		return nil, fmt.Errorf("%w: room_name does not match room %d", ErrInvalidPayload, room.Id)
	}

	msg, err := r.db.CreateRoomMessage(ctx, database.CreateRoomMessageParams{
		RoomId:      room.Id,
		UserId:      sender.Id,
		Username:    sender.Username,
		Content:     p.Content,
		MessageType: p.MessageType,
	})
	if err != nil {
		return nil, deadlineError(ctx, fmt.Errorf("create room message: %w", err))
	}

	out := &types.RoomMessage{
		Id:          msg.Id,
		RoomId:      msg.RoomId,
		UserId:      msg.UserId,
		Username:    sender.Username,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		CreatedAt:   msg.CreatedAt,
		SenderId:    sender.Id,
	}

	sm := newServerMessage(0)
	sm.RoomMessage = out
	n := r.channels.Publish(room.Name, sm, nil)
	r.stats.Incr(stats.NumMessagesPublished)
	r.log.Debugw("room message published", "room_id", room.Id, "message_id", out.Id, "recipients", n)

	return out, nil
}

// PostDirectMessage stores p and delivers it on the direct channel of the
// two participants.
func (r *BroadcastRouter) PostDirectMessage(ctx context.Context, sender types.User, p DirectPublish) (*types.DirectMessage, error) {
	if err := ValidatePayload(p); err != nil {
		return nil, err
	}
	if p.SenderId != sender.Id {
		return nil, fmt.Errorf("%w: cannot send as user %d", ErrForbidden, p.SenderId)
	}

	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	if _, err := r.db.GetUserById(ctx, p.ReceiverId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, deadlineError(ctx, fmt.Errorf("get receiver: %w", err))
	}

	msg, err := r.db.CreateDirectMessage(ctx, database.CreateDirectMessageParams{
		SenderId:    sender.Id,
		ReceiverId:  p.ReceiverId,
		Content:     p.Content,
		MessageType: p.MessageType,
	})
	if err != nil {
		return nil, deadlineError(ctx, fmt.Errorf("create direct message: %w", err))
	}

	out := &types.DirectMessage{
		Id:             msg.Id,
		SenderId:       msg.SenderId,
		ReceiverId:     msg.ReceiverId,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		CreatedAt:      msg.CreatedAt,
		SenderUsername: p.SenderUsername,
	}

	key := DirectChannelKey(out.SenderId, out.ReceiverId)
	sm := newServerMessage(0)
	sm.DirectMessage = out
	n := r.channels.Publish(key, sm, nil)
	r.stats.Incr(stats.NumMessagesPublished)
	r.log.Debugw("direct message published", "channel", key, "message_id", out.Id, "recipients", n)

	return out, nil
}
