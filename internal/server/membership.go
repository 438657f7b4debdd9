package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/passwd"
	"go.uber.org/zap"
)

// MembershipGate decides who may join, leave and post to a room.
type MembershipGate struct {
	db  database.GoChatRepository
	log *zap.SugaredLogger
}

func NewMembershipGate(db database.GoChatRepository, l *zap.SugaredLogger) *MembershipGate {
	return &MembershipGate{db: db, log: l}
}

func (g *MembershipGate) room(ctx context.Context, roomId int) (database.Room, error) {
	room, err := g.db.GetRoomById(ctx, roomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Room{}, ErrRoomNotFound
		}
		return database.Room{}, fmt.Errorf("get room %d: %w", roomId, err)
	}
	return room, nil
}

// AuthorizeJoin checks the room password, if any, and makes userId a member.
// created is false when the user already belonged to the room.
func (g *MembershipGate) AuthorizeJoin(ctx context.Context, roomId, userId int, password string) (database.Room, bool, error) {
	room, err := g.room(ctx, roomId)
	if err != nil {
		return database.Room{}, false, err
	}

	if room.IsPrivate {
		if !room.HasPassword() {
			g.log.Errorw("private room has no password hash", "room_id", room.Id)
			return database.Room{}, false, ErrMissingPassword
		}
		if password == "" {
			return database.Room{}, false, ErrPasswordRequired
		}
		if !passwd.Verify(room.PasswordHash, password) {
			return database.Room{}, false, ErrInvalidCredentials
		}
	}

	created, err := g.db.AddRoomMember(ctx, room.Id, userId)
	if err != nil {
		// a concurrent join won the insert
		if errors.Is(err, database.ErrConflict) {
			return room, false, nil
		}
		return database.Room{}, false, fmt.Errorf("add member: %w", err)
	}

	g.log.Debugw("room join authorized", "room_id", room.Id, "user_id", userId, "created", created)
	return room, created, nil
}

// AuthorizeLeave removes userId from the room. Creators cannot leave their
// own room.
func (g *MembershipGate) AuthorizeLeave(ctx context.Context, roomId, userId int) error {
	room, err := g.room(ctx, roomId)
	if err != nil {
		return err
	}

	if room.CreatorId == userId {
		return fmt.Errorf("%w: the creator cannot leave the room", ErrForbidden)
	}

	removed, err := g.db.RemoveRoomMember(ctx, room.Id, userId)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if !removed {
		return ErrNotAMember
	}

	return nil
}

// AuthorizePost checks that userId is a member of the room.
func (g *MembershipGate) AuthorizePost(ctx context.Context, roomId, userId int) (database.Room, error) {
	room, err := g.room(ctx, roomId)
	if err != nil {
		return database.Room{}, err
	}

	isMember, err := g.db.IsRoomMember(ctx, room.Id, userId)
	if err != nil {
		return database.Room{}, fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return database.Room{}, ErrNotAMember
	}

	return room, nil
}

// AuthorizeSubscribe resolves a room channel by name for a live connection.
// Members are admitted directly and everyone else goes through AuthorizeJoin,
// so a subscribed connection can always post to the room.
func (g *MembershipGate) AuthorizeSubscribe(ctx context.Context, roomName string, userId int, password string) (database.Room, error) {
	room, err := g.db.GetRoomByName(ctx, roomName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Room{}, ErrRoomNotFound
		}
		return database.Room{}, fmt.Errorf("get room %q: %w", roomName, err)
	}

	isMember, err := g.db.IsRoomMember(ctx, room.Id, userId)
	if err != nil {
		return database.Room{}, fmt.Errorf("check membership: %w", err)
	}
	if isMember {
		return room, nil
	}

	room, _, err = g.AuthorizeJoin(ctx, room.Id, userId, password)
	return room, err
}
