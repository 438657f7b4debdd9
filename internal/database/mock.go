package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) ListUsers(ctx context.Context) ([]User, error) {
	args := m.Called(ctx)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) ListVisibleRooms(ctx context.Context, userId int) ([]Room, error) {
	args := m.Called(ctx, userId)
	if rooms, ok := args.Get(0).([]Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) DeleteRoom(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockGoChatRepository) AddRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) IsRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) ListRoomMembers(ctx context.Context, roomId int) ([]User, error) {
	args := m.Called(ctx, roomId)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) CreateRoomMessage(ctx context.Context, params CreateRoomMessageParams) (RoomMessage, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(RoomMessage), args.Error(1)
}
func (m *MockGoChatRepository) GetRoomMessages(ctx context.Context, roomId, limit, offset int) ([]RoomMessage, error) {
	args := m.Called(ctx, roomId, limit, offset)
	if msgs, ok := args.Get(0).([]RoomMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(DirectMessage), args.Error(1)
}
func (m *MockGoChatRepository) GetConversation(ctx context.Context, userA, userB, limit, offset int) ([]DirectMessage, error) {
	args := m.Called(ctx, userA, userB, limit, offset)
	if msgs, ok := args.Get(0).([]DirectMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetRecentConversations(ctx context.Context, userId int) ([]Conversation, error) {
	args := m.Called(ctx, userId)
	if convs, ok := args.Get(0).([]Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}
