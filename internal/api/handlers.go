package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/passwd"
	"github.com/npezzotti/go-livechat/internal/server"
	"github.com/npezzotti/go-livechat/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,min=6"`
}

type CreateRoomRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	IsPrivate   bool   `json:"is_private"`
	Password    string `json:"password,omitempty" validate:"required_if=IsPrivate true"`
}

// UpdateRoomRequest replaces the room's settings. Password may be omitted
// when a private room keeps its current password.
type UpdateRoomRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	IsPrivate   bool   `json:"is_private"`
	Password    string `json:"password,omitempty"`
}

type JoinRoomRequest struct {
	Password string `json:"password,omitempty"`
}

type JoinRoomResponse struct {
	Room    types.Room `json:"room"`
	Created bool       `json:"created"`
}

type MembershipResponse struct {
	IsMember bool `json:"is_member"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("json encode", "error", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := apiErrorFrom(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "path", r.URL.Path, "error", err, "request_id", RequestId(r.Context()))
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decodeRequest reads a JSON body into v and checks its validate tags.
func decodeRequest(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError()
	}

	return server.ValidatePayload(v)
}

func pathId(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, NewBadRequestError()
	}

	return id, nil
}

// pagination parses the optional limit and offset query parameters. Zero
// values select the repository defaults.
func pagination(r *http.Request) (int, int, error) {
	var limit, offset int
	var err error

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, NewBadRequestError()
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, NewBadRequestError()
		}
	}

	return limit, offset, nil
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		Role:         u.Role,
		CreatedAt:    u.CreatedAt,
	}
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		Id:              r.Id,
		Name:            r.Name,
		Description:     r.Description,
		IsPrivate:       r.IsPrivate,
		CreatorId:       r.CreatorId,
		CreatorUsername: r.CreatorUsername,
		CreatedAt:       r.CreatedAt,
	}
}

func (s *GoChatApp) currentUser(r *http.Request) (database.User, error) {
	userId, ok := UserId(r.Context())
	if !ok {
		return database.User{}, NewUnauthorizedError()
	}

	user, err := s.db.GetUserById(r.Context(), userId)
	if err != nil {
		return database.User{}, fmt.Errorf("get user %d: %w", userId, err)
	}
	return user, nil
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Errorw("health check failed", "error", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pwdHash, err := passwd.Hash(req.Password)
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateUser(r.Context(), database.CreateUserParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, toUser(newUser))
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	dbUser, err := s.db.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = NewUnauthorizedError()
		}
		s.writeError(w, r, err)
		return
	}

	if !passwd.Verify(dbUser.PasswordHash, req.Password) {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	u := toUser(dbUser)
	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, LoginResponse{Token: token, User: u})
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	cookie := createJwtCookie("", 0)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]types.User, 0, len(users))
	for _, u := range users {
		out = append(out, types.User{Id: u.Id, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt})
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *GoChatApp) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.db.GetUserById(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{Id: u.Id, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt})
}

func (s *GoChatApp) onlineUsers(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, s.cs.ListOnlineUsers())
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	rooms, err := s.db.ListVisibleRooms(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]types.Room, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, toRoom(room))
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	var req CreateRoomRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var pwdHash string
	if req.IsPrivate {
		var err error
		if pwdHash, err = passwd.Hash(req.Password); err != nil {
			s.writeError(w, r, NewInternalServerError(err))
			return
		}
	}

	room, err := s.db.CreateRoom(r.Context(), database.CreateRoomParams{
		Name:         req.Name,
		Description:  req.Description,
		CreatorId:    userId,
		IsPrivate:    req.IsPrivate,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log.Infow("room created", "room_id", room.Id, "room_name", room.Name, "creator_id", userId)
	s.writeJson(w, http.StatusCreated, toRoom(room))
}

// roomFromPath loads the room named by the roomId path value.
func (s *GoChatApp) roomFromPath(r *http.Request) (database.Room, error) {
	roomId, err := pathId(r, "roomId")
	if err != nil {
		return database.Room{}, err
	}

	room, err := s.db.GetRoomById(r.Context(), roomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Room{}, server.ErrRoomNotFound
		}
		return database.Room{}, fmt.Errorf("get room %d: %w", roomId, err)
	}
	return room, nil
}

func (s *GoChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, toRoom(room))
}

func (s *GoChatApp) updateRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	room, err := s.roomFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if room.CreatorId != userId {
		s.writeError(w, r, NewForbiddenError())
		return
	}

	var req UpdateRoomRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	// a public room never keeps a hash
	var pwdHash string
	switch {
	case req.IsPrivate && req.Password != "":
		if pwdHash, err = passwd.Hash(req.Password); err != nil {
			s.writeError(w, r, NewInternalServerError(err))
			return
		}
	case req.IsPrivate:
		if !room.HasPassword() {
			s.writeError(w, r, server.ErrPasswordRequired)
			return
		}
		pwdHash = room.PasswordHash
	}

	updated, err := s.db.UpdateRoom(r.Context(), database.UpdateRoomParams{
		RoomId:       room.Id,
		Name:         req.Name,
		Description:  req.Description,
		IsPrivate:    req.IsPrivate,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if updated.Name != room.Name {
		s.cs.RoomRenamed(room.Name, updated.Name)
	}

	s.writeJson(w, http.StatusOK, toRoom(updated))
}

func (s *GoChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	room, err := s.roomFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if room.CreatorId != userId {
		s.writeError(w, r, NewForbiddenError())
		return
	}

	if err := s.db.DeleteRoom(r.Context(), room.Id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.cs.RoomDeleted(room.Id, room.Name)
	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *GoChatApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	roomId, err := pathId(r, "roomId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// the body is optional for public rooms
	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, NewBadRequestError())
		return
	}

	room, created, err := s.cs.Gate().AuthorizeJoin(r.Context(), roomId, userId, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, JoinRoomResponse{Room: toRoom(room), Created: created})
}

func (s *GoChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	roomId, err := pathId(r, "roomId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.cs.Gate().AuthorizeLeave(r.Context(), roomId, userId); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *GoChatApp) roomMembers(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	members, err := s.db.ListRoomMembers(r.Context(), room.Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]types.User, 0, len(members))
	for _, m := range members {
		out = append(out, types.User{Id: m.Id, Username: m.Username, Role: m.Role})
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *GoChatApp) membership(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	roomId, err := pathId(r, "roomId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	isMember, err := s.db.IsRoomMember(r.Context(), roomId, userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, MembershipResponse{IsMember: isMember})
}

func (s *GoChatApp) roomMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	limit, offset, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	room, err := s.roomFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if room.IsPrivate {
		isMember, err := s.db.IsRoomMember(r.Context(), room.Id, userId)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !isMember {
			s.writeError(w, r, server.ErrNotAMember)
			return
		}
	}

	messages, err := s.db.GetRoomMessages(r.Context(), room.Id, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]types.RoomMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, types.RoomMessage{
			Id:          m.Id,
			RoomId:      m.RoomId,
			UserId:      m.UserId,
			Username:    m.Username,
			Content:     m.Content,
			MessageType: m.MessageType,
			CreatedAt:   m.CreatedAt,
			SenderId:    m.UserId,
		})
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *GoChatApp) privateMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	otherId, err := pathId(r, "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.db.GetUserById(r.Context(), otherId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = server.ErrUserNotFound
		}
		s.writeError(w, r, err)
		return
	}

	messages, err := s.db.GetConversation(r.Context(), userId, otherId, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]types.DirectMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, types.DirectMessage{
			Id:          m.Id,
			SenderId:    m.SenderId,
			ReceiverId:  m.ReceiverId,
			Content:     m.Content,
			MessageType: m.MessageType,
			CreatedAt:   m.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *GoChatApp) recentConversations(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	convs, err := s.db.GetRecentConversations(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]types.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, types.Conversation{
			ContactId:       c.ContactId,
			ContactUsername: c.ContactUsername,
			LastMessage:     c.LastMessage,
			LastMessageType: c.LastMessageType,
			LastMessageTime: c.LastMessageTime,
			SenderId:        c.SenderId,
		})
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *GoChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Infow("error upgrading connection", "error", err, "request_id", RequestId(r.Context()))
		return
	}

	client := server.NewClient(types.User{
		Id:       user.Id,
		Username: user.Username,
		Role:     user.Role,
	}, conn, s.cs, s.log.Named("client"))

	if !s.cs.RegisterClient(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
