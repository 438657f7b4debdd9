package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
)

const (
	addMemberQuery = "INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT (room_id, user_id) DO NOTHING"

	roomColumns = "r.id, r.name, r.description, r.is_private, r.password_hash, r.creator_id, COALESCE(u.username, ''), r.created_at"
	roomFrom    = "FROM rooms r LEFT JOIN users u ON r.creator_id = u.id"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var (
		room      Room
		pwdHash   sql.NullString
		creatorId sql.NullInt64
	)

	err := row.Scan(
		&room.Id,
		&room.Name,
		&room.Description,
		&room.IsPrivate,
		&pwdHash,
		&creatorId,
		&room.CreatorUsername,
		&room.CreatedAt,
	)

	room.PasswordHash = pwdHash.String
	room.CreatorId = int(creatorId.Int64)
	return room, err
}

func nullableHash(isPrivate bool, hash string) sql.NullString {
	// public rooms never carry a password hash
	if !isPrivate || hash == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: hash, Valid: true}
}

func (db *PgGoChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (username, email, password_hash) "+
			"VALUES ($1, $2, $3) RETURNING id, username, email, role, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.Role,
		&u.CreatedAt,
	)

	return u, pgError(err)
}

func (db *PgGoChatRepository) GetUserById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, role, created_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.Role,
		&user.CreatedAt,
	)

	return user, pgError(err)
}

func (db *PgGoChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, created_at FROM users "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)

	return user, pgError(err)
}

func (db *PgGoChatRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, username, email, role, created_at FROM users ORDER BY username ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgGoChatRepository) GetRoomById(ctx context.Context, id int) (Room, error) {
	room, err := scanRoom(db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" "+roomFrom+" WHERE r.id = $1 LIMIT 1", id))
	return room, pgError(err)
}

func (db *PgGoChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	room, err := scanRoom(db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" "+roomFrom+" WHERE r.name = $1 LIMIT 1", name))
	return room, pgError(err)
}

func (db *PgGoChatRepository) ListVisibleRooms(ctx context.Context, userId int) ([]Room, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+roomColumns+" "+roomFrom+
			" LEFT JOIN room_members rm ON rm.room_id = r.id AND rm.user_id = $1"+
			" WHERE r.is_private = FALSE OR rm.user_id IS NOT NULL ORDER BY r.name ASC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgGoChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var roomId int
	err = tx.QueryRowContext(ctx,
		"INSERT INTO rooms (name, description, creator_id, is_private, password_hash) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		params.Name,
		params.Description,
		params.CreatorId,
		params.IsPrivate,
		nullableHash(params.IsPrivate, params.PasswordHash),
	).Scan(&roomId)
	if err != nil {
		return Room{}, pgError(err)
	}

	// the creator is always a member of their room
	if _, err = tx.ExecContext(ctx, addMemberQuery, roomId, params.CreatorId); err != nil {
		return Room{}, err
	}

	var room Room
	room, err = scanRoom(tx.QueryRowContext(ctx,
		"SELECT "+roomColumns+" "+roomFrom+" WHERE r.id = $1", roomId))
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgGoChatRepository) UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET name = $2, description = $3, is_private = $4, password_hash = $5 WHERE id = $1",
		params.RoomId,
		params.Name,
		params.Description,
		params.IsPrivate,
		nullableHash(params.IsPrivate, params.PasswordHash),
	)
	if err != nil {
		return Room{}, pgError(err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Room{}, ErrNotFound
	}

	return db.GetRoomById(ctx, params.RoomId)
}

func (db *PgGoChatRepository) DeleteRoom(ctx context.Context, id int) error {
	// members and messages are removed by ON DELETE CASCADE
	res, err := db.conn.ExecContext(ctx, "DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgGoChatRepository) AddRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx, addMemberQuery, roomId, userId)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgGoChatRepository) IsRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)",
		roomId,
		userId,
	).Scan(&exists)

	return exists, err
}

func (db *PgGoChatRepository) ListRoomMembers(ctx context.Context, roomId int) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT u.id, u.username, u.email, u.role, u.created_at FROM room_members rm "+
			"JOIN users u ON rm.user_id = u.id WHERE rm.room_id = $1 ORDER BY rm.joined_at ASC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, u)
	}

	return members, rows.Err()
}

func (db *PgGoChatRepository) CreateRoomMessage(ctx context.Context, params CreateRoomMessageParams) (RoomMessage, error) {
	msg := RoomMessage{
		RoomId:      params.RoomId,
		UserId:      params.UserId,
		Username:    params.Username,
		Content:     params.Content,
		MessageType: messageType(params.MessageType),
	}

	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (room_id, user_id, content, message_type) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		msg.RoomId,
		msg.UserId,
		msg.Content,
		msg.MessageType,
	).Scan(&msg.Id, &msg.CreatedAt)
	if err != nil {
		return RoomMessage{}, err
	}

	return msg, nil
}

func (db *PgGoChatRepository) GetRoomMessages(ctx context.Context, roomId, limit, offset int) ([]RoomMessage, error) {
	limit, offset = pageBounds(limit, offset)

	rows, err := db.conn.QueryContext(ctx,
		"SELECT m.id, m.room_id, m.user_id, COALESCE(u.username, ''), m.content, m.message_type, m.created_at "+
			"FROM messages m LEFT JOIN users u ON m.user_id = u.id "+
			"WHERE m.room_id = $1 ORDER BY m.created_at ASC, m.id ASC LIMIT $2 OFFSET $3",
		roomId,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]RoomMessage, 0, limit)
	for rows.Next() {
		var msg RoomMessage
		if err := rows.Scan(&msg.Id, &msg.RoomId, &msg.UserId, &msg.Username, &msg.Content, &msg.MessageType, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgGoChatRepository) CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error) {
	msg := DirectMessage{
		SenderId:    params.SenderId,
		ReceiverId:  params.ReceiverId,
		Content:     params.Content,
		MessageType: messageType(params.MessageType),
	}

	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO private_messages (sender_id, receiver_id, content, message_type) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		msg.SenderId,
		msg.ReceiverId,
		msg.Content,
		msg.MessageType,
	).Scan(&msg.Id, &msg.CreatedAt)
	if err != nil {
		return DirectMessage{}, err
	}

	return msg, nil
}

func (db *PgGoChatRepository) GetConversation(ctx context.Context, userA, userB, limit, offset int) ([]DirectMessage, error) {
	limit, offset = pageBounds(limit, offset)

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, sender_id, receiver_id, content, message_type, created_at FROM private_messages "+
			"WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1) "+
			"ORDER BY created_at ASC, id ASC LIMIT $3 OFFSET $4",
		userA,
		userB,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]DirectMessage, 0, limit)
	for rows.Next() {
		var msg DirectMessage
		if err := rows.Scan(&msg.Id, &msg.SenderId, &msg.ReceiverId, &msg.Content, &msg.MessageType, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan direct message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgGoChatRepository) GetRecentConversations(ctx context.Context, userId int) ([]Conversation, error) {
	query := `
		SELECT DISTINCT ON (pm.contact_id)
				pm.contact_id,
				u.username,
				pm.content,
				pm.message_type,
				pm.created_at,
				pm.sender_id
		FROM (
				SELECT *,
						CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS contact_id
				FROM private_messages
				WHERE sender_id = $1 OR receiver_id = $1
		) pm
		JOIN users u ON u.id = pm.contact_id
		ORDER BY pm.contact_id, pm.created_at DESC, pm.id DESC;
`

	rows, err := db.conn.QueryContext(ctx, query, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ContactId, &c.ContactUsername, &c.LastMessage, &c.LastMessageType, &c.LastMessageTime, &c.SenderId); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		conversations = append(conversations, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	sortConversations(conversations)
	return conversations, nil
}

// sortConversations orders conversations newest first.
func sortConversations(c []Conversation) {
	slices.SortStableFunc(c, func(a, b Conversation) int {
		return b.LastMessageTime.Compare(a.LastMessageTime)
	})
}
