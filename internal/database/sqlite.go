package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userRecord struct {
	Id           int    `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null;default:user"`
	CreatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

func (u userRecord) toUser() User {
	return User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		CreatedAt:    u.CreatedAt,
	}
}

type roomRecord struct {
	Id           int    `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"uniqueIndex;not null"`
	Description  string `gorm:"not null;default:''"`
	CreatorId    *int
	IsPrivate    bool `gorm:"not null;default:false"`
	PasswordHash *string
	CreatedAt    time.Time
}

func (roomRecord) TableName() string { return "rooms" }

type roomMemberRecord struct {
	RoomId   int       `gorm:"primaryKey;autoIncrement:false"`
	UserId   int       `gorm:"primaryKey;autoIncrement:false"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

func (roomMemberRecord) TableName() string { return "room_members" }

type messageRecord struct {
	Id          int       `gorm:"primaryKey;autoIncrement"`
	RoomId      int       `gorm:"index:messages_room_created_idx,priority:1;not null"`
	UserId      int       `gorm:"not null"`
	Content     string    `gorm:"not null"`
	MessageType string    `gorm:"not null;default:text"`
	CreatedAt   time.Time `gorm:"index:messages_room_created_idx,priority:2"`
}

func (messageRecord) TableName() string { return "messages" }

type privateMessageRecord struct {
	Id          int    `gorm:"primaryKey;autoIncrement"`
	SenderId    int    `gorm:"index;not null"`
	ReceiverId  int    `gorm:"index;not null"`
	Content     string `gorm:"not null"`
	MessageType string `gorm:"not null;default:text"`
	CreatedAt   time.Time
}

func (privateMessageRecord) TableName() string { return "private_messages" }

func (m privateMessageRecord) toDirectMessage() DirectMessage {
	return DirectMessage{
		Id:          m.Id,
		SenderId:    m.SenderId,
		ReceiverId:  m.ReceiverId,
		Content:     m.Content,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
	}
}

// GormGoChatRepository is a GoChatRepository backed by an embedded SQLite
// database. It is meant for local development and tests.
type GormGoChatRepository struct {
	db *gorm.DB
}

func NewGormGoChatRepository(dsn string) (*GormGoChatRepository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers, and each in-memory connection is its own database
	sqlDB.SetMaxOpenConns(1)

	return &GormGoChatRepository{db: db}, nil
}

// Migrate creates or updates the schema.
func (r *GormGoChatRepository) Migrate() error {
	return r.db.AutoMigrate(
		&userRecord{},
		&roomRecord{},
		&roomMemberRecord{},
		&messageRecord{},
		&privateMessageRecord{},
	)
}

func (r *GormGoChatRepository) Ping() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (r *GormGoChatRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	}
	return err
}

func (r *GormGoChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	rec := userRecord{
		Username:     params.Username,
		Email:        params.EmailAddress,
		PasswordHash: params.PasswordHash,
		Role:         RoleUser,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return User{}, gormError(err)
	}

	u := rec.toUser()
	u.PasswordHash = ""
	return u, nil
}

func (r *GormGoChatRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	var rec userRecord
	if err := r.db.WithContext(ctx).First(&rec, userId).Error; err != nil {
		return User{}, gormError(err)
	}

	u := rec.toUser()
	u.PasswordHash = ""
	return u, nil
}

func (r *GormGoChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var rec userRecord
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&rec).Error; err != nil {
		return User{}, gormError(err)
	}
	return rec.toUser(), nil
}

func (r *GormGoChatRepository) ListUsers(ctx context.Context) ([]User, error) {
	var recs []userRecord
	if err := r.db.WithContext(ctx).Order("username ASC").Find(&recs).Error; err != nil {
		return nil, err
	}

	users := make([]User, 0, len(recs))
	for _, rec := range recs {
		u := rec.toUser()
		u.PasswordHash = ""
		users = append(users, u)
	}
	return users, nil
}

type roomRow struct {
	roomRecord
	CreatorUsername string
}

func (r roomRow) toRoom() Room {
	room := Room{
		Id:              r.Id,
		Name:            r.Name,
		Description:     r.Description,
		IsPrivate:       r.IsPrivate,
		CreatorUsername: r.CreatorUsername,
		CreatedAt:       r.CreatedAt,
	}
	if r.CreatorId != nil {
		room.CreatorId = *r.CreatorId
	}
	if r.PasswordHash != nil {
		room.PasswordHash = *r.PasswordHash
	}
	return room
}

func (r *GormGoChatRepository) roomQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("rooms").
		Select("rooms.*, COALESCE(users.username, '') AS creator_username").
		Joins("LEFT JOIN users ON users.id = rooms.creator_id")
}

func (r *GormGoChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	var row roomRow
	if err := r.roomQuery(ctx).Where("rooms.id = ?", roomId).Take(&row).Error; err != nil {
		return Room{}, gormError(err)
	}
	return row.toRoom(), nil
}

func (r *GormGoChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	var row roomRow
	if err := r.roomQuery(ctx).Where("rooms.name = ?", name).Take(&row).Error; err != nil {
		return Room{}, gormError(err)
	}
	return row.toRoom(), nil
}

func (r *GormGoChatRepository) ListVisibleRooms(ctx context.Context, userId int) ([]Room, error) {
	var rows []roomRow
	err := r.roomQuery(ctx).
		Joins("LEFT JOIN room_members ON room_members.room_id = rooms.id AND room_members.user_id = ?", userId).
		Where("rooms.is_private = ? OR room_members.user_id IS NOT NULL", false).
		Order("rooms.name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	rooms := make([]Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toRoom())
	}
	return rooms, nil
}

func optionalHash(isPrivate bool, hash string) *string {
	if !isPrivate || hash == "" {
		return nil
	}
	return &hash
}

func (r *GormGoChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	creatorId := params.CreatorId
	rec := roomRecord{
		Name:         params.Name,
		Description:  params.Description,
		CreatorId:    &creatorId,
		IsPrivate:    params.IsPrivate,
		PasswordHash: optionalHash(params.IsPrivate, params.PasswordHash),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&roomMemberRecord{RoomId: rec.Id, UserId: params.CreatorId}).Error
	})
	if err != nil {
		return Room{}, gormError(err)
	}

	return r.GetRoomById(ctx, rec.Id)
}

func (r *GormGoChatRepository) UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error) {
	res := r.db.WithContext(ctx).
		Model(&roomRecord{}).
		Where("id = ?", params.RoomId).
		Updates(map[string]any{
			"name":          params.Name,
			"description":   params.Description,
			"is_private":    params.IsPrivate,
			"password_hash": optionalHash(params.IsPrivate, params.PasswordHash),
		})
	if res.Error != nil {
		return Room{}, gormError(res.Error)
	}
	if res.RowsAffected == 0 {
		return Room{}, ErrNotFound
	}

	return r.GetRoomById(ctx, params.RoomId)
}

func (r *GormGoChatRepository) DeleteRoom(ctx context.Context, roomId int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomId).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomId).Delete(&roomMemberRecord{}).Error; err != nil {
			return err
		}

		res := tx.Delete(&roomRecord{}, roomId)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *GormGoChatRepository) AddRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&roomMemberRecord{RoomId: roomId, UserId: userId})
	if res.Error != nil {
		return false, gormError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomId, userId).
		Delete(&roomMemberRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormGoChatRepository) IsRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&roomMemberRecord{}).
		Where("room_id = ? AND user_id = ?", roomId, userId).
		Count(&count).Error
	return count > 0, err
}

func (r *GormGoChatRepository) ListRoomMembers(ctx context.Context, roomId int) ([]User, error) {
	var recs []userRecord
	err := r.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.user_id = users.id").
		Where("room_members.room_id = ?", roomId).
		Order("room_members.joined_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	users := make([]User, 0, len(recs))
	for _, rec := range recs {
		u := rec.toUser()
		u.PasswordHash = ""
		users = append(users, u)
	}
	return users, nil
}

func (r *GormGoChatRepository) CreateRoomMessage(ctx context.Context, params CreateRoomMessageParams) (RoomMessage, error) {
	rec := messageRecord{
		RoomId:      params.RoomId,
		UserId:      params.UserId,
		Content:     params.Content,
		MessageType: messageType(params.MessageType),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return RoomMessage{}, gormError(err)
	}

	return RoomMessage{
		Id:          rec.Id,
		RoomId:      rec.RoomId,
		UserId:      rec.UserId,
		Username:    params.Username,
		Content:     rec.Content,
		MessageType: rec.MessageType,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func (r *GormGoChatRepository) GetRoomMessages(ctx context.Context, roomId, limit, offset int) ([]RoomMessage, error) {
	limit, offset = pageBounds(limit, offset)

	var msgs []RoomMessage
	err := r.db.WithContext(ctx).
		Table("messages").
		Select("messages.id, messages.room_id, messages.user_id, COALESCE(users.username, '') AS username, " +
			"messages.content, messages.message_type, messages.created_at").
		Joins("LEFT JOIN users ON users.id = messages.user_id").
		Where("messages.room_id = ?", roomId).
		Order("messages.created_at ASC, messages.id ASC").
		Limit(limit).
		Offset(offset).
		Scan(&msgs).Error
	if err != nil {
		return nil, err
	}

	if msgs == nil {
		msgs = make([]RoomMessage, 0)
	}
	return msgs, nil
}

func (r *GormGoChatRepository) CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error) {
	rec := privateMessageRecord{
		SenderId:    params.SenderId,
		ReceiverId:  params.ReceiverId,
		Content:     params.Content,
		MessageType: messageType(params.MessageType),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return DirectMessage{}, gormError(err)
	}
	return rec.toDirectMessage(), nil
}

func (r *GormGoChatRepository) GetConversation(ctx context.Context, userA, userB, limit, offset int) ([]DirectMessage, error) {
	limit, offset = pageBounds(limit, offset)

	var recs []privateMessageRecord
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	msgs := make([]DirectMessage, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, rec.toDirectMessage())
	}
	return msgs, nil
}

func (r *GormGoChatRepository) GetRecentConversations(ctx context.Context, userId int) ([]Conversation, error) {
	type row struct {
		privateMessageRecord
		ContactUsername string
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Table("private_messages").
		Select("private_messages.*, users.username AS contact_username").
		Joins("JOIN users ON users.id = CASE WHEN private_messages.sender_id = ? "+
			"THEN private_messages.receiver_id ELSE private_messages.sender_id END", userId).
		Where("private_messages.sender_id = ? OR private_messages.receiver_id = ?", userId, userId).
		Order("private_messages.created_at DESC, private_messages.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent conversations: %w", err)
	}

	// rows are newest first, so the first row seen per contact wins
	seen := make(map[int]struct{})
	conversations := make([]Conversation, 0)
	for _, m := range rows {
		contact := m.SenderId
		if contact == userId {
			contact = m.ReceiverId
		}
		if _, ok := seen[contact]; ok {
			continue
		}
		seen[contact] = struct{}{}

		conversations = append(conversations, Conversation{
			ContactId:       contact,
			ContactUsername: m.ContactUsername,
			LastMessage:     m.Content,
			LastMessageType: m.MessageType,
			LastMessageTime: m.CreatedAt,
			SenderId:        m.SenderId,
		})
	}

	return conversations, nil
}
