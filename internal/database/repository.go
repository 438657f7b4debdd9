package database

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type GoChatRepository interface {
	Ping() error
	Close() error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, userId int) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)

	GetRoomById(ctx context.Context, roomId int) (Room, error)
	GetRoomByName(ctx context.Context, name string) (Room, error)
	ListVisibleRooms(ctx context.Context, userId int) ([]Room, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error)
	DeleteRoom(ctx context.Context, roomId int) error

	AddRoomMember(ctx context.Context, roomId, userId int) (bool, error)
	RemoveRoomMember(ctx context.Context, roomId, userId int) (bool, error)
	IsRoomMember(ctx context.Context, roomId, userId int) (bool, error)
	ListRoomMembers(ctx context.Context, roomId int) ([]User, error)

	CreateRoomMessage(ctx context.Context, params CreateRoomMessageParams) (RoomMessage, error)
	GetRoomMessages(ctx context.Context, roomId, limit, offset int) ([]RoomMessage, error)
	CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error)
	GetConversation(ctx context.Context, userA, userB, limit, offset int) ([]DirectMessage, error)
	GetRecentConversations(ctx context.Context, userId int) ([]Conversation, error)
}
