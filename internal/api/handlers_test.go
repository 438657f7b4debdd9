package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-livechat/internal/config"
	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/passwd"
	"github.com/npezzotti/go-livechat/internal/server"
	"github.com/npezzotti/go-livechat/internal/stats"
	"github.com/npezzotti/go-livechat/internal/testutil"
	"github.com/npezzotti/go-livechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testConfig = &config.Config{
	ServerAddr:     "localhost:0",
	SigningKey:     []byte("test-signing-key"),
	AllowedOrigins: []string{"http://localhost:3000"},
	SendTimeout:    time.Second,
}

// findCookie is a helper function to find a cookie by name in the response recorder.
// It returns the cookie if found, or nil if not found.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()

	var e ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e), "failed to decode ApiError response")
	assert.Equal(t, e.StatusCode, rr.Code, "expected status code to match")
	return e
}

func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()
	su.On("Set", mock.Anything, mock.Anything).Return().Maybe()
	return su
}

// newTestApp wires an app and a running chat server around db.
func newTestApp(t *testing.T, db database.GoChatRepository) *GoChatApp {
	t.Helper()

	l := testutil.TestLogger(t)
	cs, err := server.NewChatServer(l, db, newTestStats(), testConfig.SendTimeout)
	require.NoError(t, err, "failed to create chat server")

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return NewGoChatApp(http.NewServeMux(), l, cs, db, testConfig)
}

// do sends a request through the full handler chain. A positive userId
// authenticates the request with a bearer token.
func (s *GoChatApp) do(t *testing.T, method, target string, body any, userId int) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, r)
	if userId > 0 {
		token, err := s.createJwtForSession(types.User{Id: userId}, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, mockRepo)
			rr := app.do(t, http.MethodGet, "/healthz", nil, 0)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestCreateAccountHandler(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	newUser := database.User{
		Id:           1,
		Username:     "newuser",
		EmailAddress: "newuser@example.com",
		Role:         database.RoleUser,
		CreatedAt:    created,
	}

	t.Run("successfully creates a new account", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("CreateUser", mock.Anything, mock.MatchedBy(func(p database.CreateUserParams) bool {
			return p.Username == "newuser" && p.EmailAddress == "newuser@example.com" && passwd.Verify(p.PasswordHash, "password")
		})).Return(newUser, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodPost, "/api/auth/register", RegisterRequest{
			Username: "newuser",
			Email:    "newuser@example.com",
			Password: "password",
		}, 0)

		require.Equal(t, http.StatusCreated, rr.Code)
		var u types.User
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
		assert.Equal(t, types.User{
			Id:           1,
			Username:     "newuser",
			EmailAddress: "newuser@example.com",
			Role:         database.RoleUser,
			CreatedAt:    created,
		}, u)
	})

	tcases := []struct {
		name    string
		body    any
		mockErr error
		code    int
		message string
	}{
		{
			name:    "fails with invalid json body",
			body:    "invalid json",
			code:    http.StatusBadRequest,
			message: "bad request",
		},
		{
			name:    "fails with missing username",
			body:    RegisterRequest{Email: "newuser@example.com", Password: "password"},
			code:    http.StatusBadRequest,
			message: "invalid payload: Username failed on required",
		},
		{
			name:    "fails with malformed email",
			body:    RegisterRequest{Username: "newuser", Email: "newuser", Password: "password"},
			code:    http.StatusBadRequest,
			message: "invalid payload: Email failed on email",
		},
		{
			name:    "fails with short password",
			body:    RegisterRequest{Username: "newuser", Email: "newuser@example.com", Password: "pw"},
			code:    http.StatusBadRequest,
			message: "invalid payload: Password failed on min",
		},
		{
			name:    "fails with duplicate email",
			body:    RegisterRequest{Username: "newuser", Email: "newuser@example.com", Password: "password"},
			mockErr: database.ErrConflict,
			code:    http.StatusConflict,
			message: "conflict",
		},
		{
			name:    "fails with db error",
			body:    RegisterRequest{Username: "newuser", Email: "newuser@example.com", Password: "password"},
			mockErr: errors.New("db error"),
			code:    http.StatusInternalServerError,
			message: "internal server error",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.mockErr != nil {
				mockRepo.On("CreateUser", mock.Anything, mock.Anything).Return(database.User{}, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := app.do(t, http.MethodPost, "/api/auth/register", tc.body, 0)

			e := decodeApiError(t, rr)
			assert.Equal(t, tc.code, e.StatusCode)
			assert.Equal(t, tc.message, e.Message)
		})
	}
}

func Test_login(t *testing.T) {
	hash, err := passwd.Hash("password123")
	require.NoError(t, err)

	mockUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
		PasswordHash: hash,
		Role:         database.RoleUser,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	testCases := []struct {
		name        string
		body        any
		mockUser    database.User
		mockErr     error
		success     bool
		expectError *ApiError
	}{
		{
			name:     "successful login",
			body:     LoginRequest{Email: "testuser@example.com", Password: "password123"},
			mockUser: mockUser,
			success:  true,
		},
		{
			name:        "fails with invalid json body",
			body:        "invalid json",
			expectError: NewBadRequestError(),
		},
		{
			name:        "fails with unknown email",
			body:        LoginRequest{Email: "nobody@example.com", Password: "password123"},
			mockErr:     database.ErrNotFound,
			expectError: NewUnauthorizedError(),
		},
		{
			name:        "fails with db error",
			body:        LoginRequest{Email: "testuser@example.com", Password: "password123"},
			mockErr:     errors.New("db error"),
			expectError: &ApiError{StatusCode: http.StatusInternalServerError, Message: "internal server error"},
		},
		{
			name:        "fails with incorrect password",
			body:        LoginRequest{Email: "testuser@example.com", Password: "wrong-password"},
			mockUser:    mockUser,
			expectError: NewUnauthorizedError(),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.mockUser != (database.User{}) || tc.mockErr != nil {
				req, ok := tc.body.(LoginRequest)
				require.Truef(t, ok, "expected body to be of type LoginRequest, got %T", tc.body)
				mockRepo.On("GetUserByEmail", mock.Anything, req.Email).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := app.do(t, http.MethodPost, "/api/auth/login", tc.body, 0)

			if !tc.success {
				assert.Equal(t, *tc.expectError, decodeApiError(t, rr), "expected ApiError response")
				assert.Nil(t, findCookie(rr, tokenCookieKey), "no cookie on failure")
				return
			}

			require.Equal(t, http.StatusOK, rr.Code)
			token := findCookie(rr, tokenCookieKey)
			require.NotNil(t, token, "expected token cookie to be set")
			assert.NotEmpty(t, token.Value, "expected token value to be set")
			assert.WithinDuration(t, time.Now().Add(defaultJwtExpiration), token.Expires, 2*time.Second, "expected token expiration to be set correctly")

			var resp LoginResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, token.Value, resp.Token, "body and cookie carry the same token")
			assert.Equal(t, toUser(mockUser), resp.User)

			userId, err := app.extractUserIdFromToken(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, mockUser.Id, userId)
		})
	}
}

func Test_session(t *testing.T) {
	mockRepo := &database.MockGoChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("GetUserById", mock.Anything, 1).Return(database.User{Id: 1, Username: "alice", EmailAddress: "alice@example.com"}, nil).Once()
	mockRepo.On("GetUserById", mock.Anything, 2).Return(database.User{}, database.ErrNotFound).Once()

	app := newTestApp(t, mockRepo)

	rr := app.do(t, http.MethodGet, "/api/auth/session", nil, 1)
	require.Equal(t, http.StatusOK, rr.Code)
	var u types.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
	assert.Equal(t, "alice", u.Username)

	rr = app.do(t, http.MethodGet, "/api/auth/session", nil, 2)
	assert.Equal(t, *NewNotFoundError(), decodeApiError(t, rr), "deleted accounts have no session")

	rr = app.do(t, http.MethodGet, "/api/auth/session", nil, 0)
	assert.Equal(t, *NewUnauthorizedError(), decodeApiError(t, rr))
}

func Test_logout(t *testing.T) {
	app := newTestApp(t, &database.MockGoChatRepository{})

	rr := app.do(t, http.MethodGet, "/api/auth/logout", nil, 1)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	// Check if the token cookie is set to expire
	token := findCookie(rr, tokenCookieKey)
	require.NotNil(t, token, "expected token cookie to be set")
	assert.Equal(t, "", token.Value, "expected token value to be empty")
	assert.Equal(t, -1, token.MaxAge, "expected cookie to be expired")
}

func Test_users(t *testing.T) {
	mockRepo := &database.MockGoChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListUsers", mock.Anything).Return([]database.User{
		{Id: 1, Username: "alice", EmailAddress: "alice@example.com"},
		{Id: 2, Username: "bob", EmailAddress: "bob@example.com"},
	}, nil).Once()
	mockRepo.On("GetUserById", mock.Anything, 2).Return(database.User{Id: 2, Username: "bob", EmailAddress: "bob@example.com"}, nil).Once()
	mockRepo.On("GetUserById", mock.Anything, 9).Return(database.User{}, database.ErrNotFound).Once()

	app := newTestApp(t, mockRepo)

	rr := app.do(t, http.MethodGet, "/api/users", nil, 1)
	require.Equal(t, http.StatusOK, rr.Code)
	var users []types.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&users))
	assert.Equal(t, []types.User{{Id: 1, Username: "alice"}, {Id: 2, Username: "bob"}}, users, "the directory hides email addresses")

	rr = app.do(t, http.MethodGet, "/api/users/2", nil, 1)
	require.Equal(t, http.StatusOK, rr.Code)
	var u types.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
	assert.Equal(t, types.User{Id: 2, Username: "bob"}, u)

	rr = app.do(t, http.MethodGet, "/api/users/9", nil, 1)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = app.do(t, http.MethodGet, "/api/users/abc", nil, 1)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func Test_onlineUsers(t *testing.T) {
	app := newTestApp(t, &database.MockGoChatRepository{})

	rr := app.do(t, http.MethodGet, "/api/online-users", nil, 1)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String(), "an empty list, not null")
}

func Test_listRooms(t *testing.T) {
	mockRepo := &database.MockGoChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListVisibleRooms", mock.Anything, 1).Return([]database.Room{
		{Id: 1, Name: "lobby", CreatorId: 2, CreatorUsername: "bob"},
		{Id: 2, Name: "vip", IsPrivate: true, PasswordHash: "secret-hash", CreatorId: 1},
	}, nil).Once()

	app := newTestApp(t, mockRepo)
	rr := app.do(t, http.MethodGet, "/api/rooms", nil, 1)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret-hash", "password hashes are never returned")

	var rooms []types.Room
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rooms))
	assert.Equal(t, []types.Room{
		{Id: 1, Name: "lobby", CreatorId: 2, CreatorUsername: "bob"},
		{Id: 2, Name: "vip", IsPrivate: true, CreatorId: 1},
	}, rooms)
}

func Test_createRoom(t *testing.T) {
	t.Run("public room", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("CreateRoom", mock.Anything, database.CreateRoomParams{
			Name:        "lobby",
			Description: "general chat",
			CreatorId:   1,
		}).Return(database.Room{Id: 3, Name: "lobby", Description: "general chat", CreatorId: 1, CreatorUsername: "alice"}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "lobby", Description: "general chat", Password: "ignored"}, 1)

		require.Equal(t, http.StatusCreated, rr.Code)
		var room types.Room
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&room))
		assert.Equal(t, types.Room{Id: 3, Name: "lobby", Description: "general chat", CreatorId: 1, CreatorUsername: "alice"}, room)
	})

	t.Run("private room stores a hash", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("CreateRoom", mock.Anything, mock.MatchedBy(func(p database.CreateRoomParams) bool {
			return p.IsPrivate && p.PasswordHash != "secret" && passwd.Verify(p.PasswordHash, "secret")
		})).Return(database.Room{Id: 4, Name: "vip", IsPrivate: true, PasswordHash: "hash", CreatorId: 1}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "vip", IsPrivate: true, Password: "secret"}, 1)

		require.Equal(t, http.StatusCreated, rr.Code)
		assert.NotContains(t, rr.Body.String(), "hash")
	})

	tcases := []struct {
		name    string
		body    any
		mockErr error
		code    int
	}{
		{name: "private room without password", body: CreateRoomRequest{Name: "vip", IsPrivate: true}, code: http.StatusBadRequest},
		{name: "missing name", body: CreateRoomRequest{Description: "x"}, code: http.StatusBadRequest},
		{name: "invalid json", body: "{", code: http.StatusBadRequest},
		{name: "duplicate name", body: CreateRoomRequest{Name: "lobby"}, mockErr: database.ErrConflict, code: http.StatusConflict},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.mockErr != nil {
				mockRepo.On("CreateRoom", mock.Anything, mock.Anything).Return(database.Room{}, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := app.do(t, http.MethodPost, "/api/rooms", tc.body, 1)
			assert.Equal(t, tc.code, decodeApiError(t, rr).StatusCode)
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		app := newTestApp(t, &database.MockGoChatRepository{})
		rr := app.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "lobby"}, 0)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_getRoom(t *testing.T) {
	mockRepo := &database.MockGoChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("GetRoomById", mock.Anything, 3).Return(database.Room{Id: 3, Name: "vip", IsPrivate: true, PasswordHash: "hash", CreatorId: 1}, nil).Once()
	mockRepo.On("GetRoomById", mock.Anything, 4).Return(database.Room{}, database.ErrNotFound).Once()

	app := newTestApp(t, mockRepo)

	rr := app.do(t, http.MethodGet, "/api/rooms/3", nil, 2)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "hash")

	rr = app.do(t, http.MethodGet, "/api/rooms/4", nil, 2)
	assert.Equal(t, ApiError{StatusCode: http.StatusNotFound, Message: "room not found"}, decodeApiError(t, rr))

	rr = app.do(t, http.MethodGet, "/api/rooms/0", nil, 2)
	assert.Equal(t, *NewBadRequestError(), decodeApiError(t, rr))
}

func Test_updateRoom(t *testing.T) {
	private := database.Room{Id: 3, Name: "vip", IsPrivate: true, PasswordHash: "old-hash", CreatorId: 1}
	public := database.Room{Id: 3, Name: "lobby", CreatorId: 1}

	tcases := []struct {
		name   string
		room   database.Room
		body   any
		userId int
		params any
		code   int
	}{
		{
			name:   "private to public clears the hash",
			room:   private,
			body:   UpdateRoomRequest{Name: "vip", Description: "open now"},
			userId: 1,
			params: database.UpdateRoomParams{RoomId: 3, Name: "vip", Description: "open now"},
			code:   http.StatusOK,
		},
		{
			name:   "private keeps its password when none is given",
			room:   private,
			body:   UpdateRoomRequest{Name: "vip", IsPrivate: true},
			userId: 1,
			params: database.UpdateRoomParams{RoomId: 3, Name: "vip", IsPrivate: true, PasswordHash: "old-hash"},
			code:   http.StatusOK,
		},
		{
			name:   "new password is hashed",
			room:   private,
			body:   UpdateRoomRequest{Name: "vip", IsPrivate: true, Password: "new-secret"},
			userId: 1,
			params: mock.MatchedBy(func(p database.UpdateRoomParams) bool {
				return p.IsPrivate && passwd.Verify(p.PasswordHash, "new-secret")
			}),
			code: http.StatusOK,
		},
		{
			name:   "public to private requires a password",
			room:   public,
			body:   UpdateRoomRequest{Name: "lobby", IsPrivate: true},
			userId: 1,
			code:   http.StatusBadRequest,
		},
		{
			name:   "only the creator may update",
			room:   public,
			body:   UpdateRoomRequest{Name: "mine now"},
			userId: 2,
			code:   http.StatusForbidden,
		},
		{
			name:   "name is required",
			room:   public,
			body:   UpdateRoomRequest{Description: "no name"},
			userId: 1,
			code:   http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("GetRoomById", mock.Anything, 3).Return(tc.room, nil).Once()
			if tc.params != nil {
				mockRepo.On("UpdateRoom", mock.Anything, tc.params).Return(database.Room{Id: 3, Name: tc.room.Name, CreatorId: 1}, nil).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := app.do(t, http.MethodPut, "/api/rooms/3", tc.body, tc.userId)
			assert.Equal(t, tc.code, rr.Code)
			assert.NotContains(t, rr.Body.String(), "hash")
		})
	}

	t.Run("unknown room", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", mock.Anything, 3).Return(database.Room{}, database.ErrNotFound).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodPut, "/api/rooms/3", UpdateRoomRequest{Name: "x"}, 1)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_deleteRoom(t *testing.T) {
	room := database.Room{Id: 3, Name: "lobby", CreatorId: 1}

	t.Run("creator deletes the room", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", mock.Anything, 3).Return(room, nil).Once()
		mockRepo.On("DeleteRoom", mock.Anything, 3).Return(nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodDelete, "/api/rooms/3", nil, 1)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("others are forbidden", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", mock.Anything, 3).Return(room, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodDelete, "/api/rooms/3", nil, 2)
		assert.Equal(t, *NewForbiddenError(), decodeApiError(t, rr))
		mockRepo.AssertNotCalled(t, "DeleteRoom", mock.Anything, mock.Anything)
	})

	t.Run("storage failure", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", mock.Anything, 3).Return(room, nil).Once()
		mockRepo.On("DeleteRoom", mock.Anything, 3).Return(errors.New("db error")).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodDelete, "/api/rooms/3", nil, 1)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func Test_joinRoom(t *testing.T) {
	hash, err := passwd.Hash("secret")
	require.NoError(t, err)

	public := database.Room{Id: 3, Name: "lobby", CreatorId: 1}
	private := database.Room{Id: 4, Name: "vip", IsPrivate: true, PasswordHash: hash, CreatorId: 1}

	tcases := []struct {
		name    string
		room    database.Room
		body    any
		added   *bool
		code    int
		message string
		created bool
	}{
		{name: "public room without a body", room: public, added: ptr(true), code: http.StatusOK, created: true},
		{name: "already a member", room: public, body: JoinRoomRequest{}, added: ptr(false), code: http.StatusOK},
		{name: "private room with the password", room: private, body: JoinRoomRequest{Password: "secret"}, added: ptr(true), code: http.StatusOK, created: true},
		{name: "private room with a wrong password", room: private, body: JoinRoomRequest{Password: "nope"}, code: http.StatusUnauthorized, message: "invalid credentials"},
		{name: "private room without a password", room: private, body: JoinRoomRequest{}, code: http.StatusBadRequest, message: "password required"},
		{name: "malformed body", room: public, body: "{", code: http.StatusBadRequest, message: "bad request"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.message != "bad request" {
				mockRepo.On("GetRoomById", mock.Anything, tc.room.Id).Return(tc.room, nil).Once()
			}
			if tc.added != nil {
				mockRepo.On("AddRoomMember", mock.Anything, tc.room.Id, 2).Return(*tc.added, nil).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := app.do(t, http.MethodPost, fmt.Sprintf("/api/rooms/%d/join", tc.room.Id), tc.body, 2)

			if tc.code != http.StatusOK {
				e := decodeApiError(t, rr)
				assert.Equal(t, tc.code, e.StatusCode)
				assert.Equal(t, tc.message, e.Message)
				mockRepo.AssertNotCalled(t, "AddRoomMember", mock.Anything, mock.Anything, mock.Anything)
				return
			}

			require.Equal(t, http.StatusOK, rr.Code)
			var resp JoinRoomResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tc.created, resp.Created)
			assert.Equal(t, tc.room.Name, resp.Room.Name)
		})
	}

	t.Run("unknown room", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", mock.Anything, 9).Return(database.Room{}, database.ErrNotFound).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodPost, "/api/rooms/9/join", nil, 2)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func ptr[T any](v T) *T {
	return &v
}

func Test_leaveRoom(t *testing.T) {
	room := database.Room{Id: 3, Name: "lobby", CreatorId: 1}

	tcases := []struct {
		name    string
		userId  int
		removed *bool
		code    int
	}{
		{name: "member leaves", userId: 2, removed: ptr(true), code: http.StatusNoContent},
		{name: "non-member", userId: 2, removed: ptr(false), code: http.StatusForbidden},
		{name: "creator cannot leave", userId: 1, code: http.StatusForbidden},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("GetRoomById", mock.Anything, 3).Return(room, nil).Once()
			if tc.removed != nil {
				mockRepo.On("RemoveRoomMember", mock.Anything, 3, tc.userId).Return(*tc.removed, nil).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := app.do(t, http.MethodPost, "/api/rooms/3/leave", nil, tc.userId)
			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

func Test_roomMembers(t *testing.T) {
	mockRepo := &database.MockGoChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("GetRoomById", mock.Anything, 3).Return(database.Room{Id: 3, Name: "lobby", CreatorId: 1}, nil).Once()
	mockRepo.On("ListRoomMembers", mock.Anything, 3).Return([]database.User{
		{Id: 1, Username: "alice", EmailAddress: "alice@example.com"},
		{Id: 2, Username: "bob"},
	}, nil).Once()
	mockRepo.On("IsRoomMember", mock.Anything, 3, 2).Return(true, nil).Once()

	app := newTestApp(t, mockRepo)

	rr := app.do(t, http.MethodGet, "/api/rooms/3/members", nil, 2)
	require.Equal(t, http.StatusOK, rr.Code)
	var members []types.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&members))
	assert.Equal(t, []types.User{{Id: 1, Username: "alice"}, {Id: 2, Username: "bob"}}, members)

	rr = app.do(t, http.MethodGet, "/api/rooms/3/membership", nil, 2)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"is_member":true}`, rr.Body.String())
}

func Test_roomMessages(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []database.RoomMessage{
		{Id: 1, RoomId: 3, UserId: 1, Username: "alice", Content: "hi", MessageType: "text", CreatedAt: created},
		{Id: 2, RoomId: 3, UserId: 2, Username: "bob", Content: "hey", MessageType: "text", CreatedAt: created.Add(time.Second)},
	}

	t.Run("pagination is forwarded", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", mock.Anything, 3).Return(database.Room{Id: 3, Name: "lobby", CreatorId: 1}, nil).Once()
		mockRepo.On("GetRoomMessages", mock.Anything, 3, 10, 5).Return(history, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodGet, "/api/rooms/3/messages?limit=10&offset=5", nil, 2)

		require.Equal(t, http.StatusOK, rr.Code)
		var msgs []types.RoomMessage
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
		require.Len(t, msgs, 2)
		assert.Equal(t, types.RoomMessage{Id: 1, RoomId: 3, UserId: 1, Username: "alice", Content: "hi", MessageType: "text", CreatedAt: created, SenderId: 1}, msgs[0])
		assert.Equal(t, "hey", msgs[1].Content)
	})

	t.Run("defaults", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", mock.Anything, 3).Return(database.Room{Id: 3, Name: "lobby", CreatorId: 1}, nil).Once()
		mockRepo.On("GetRoomMessages", mock.Anything, 3, 0, 0).Return([]database.RoomMessage{}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodGet, "/api/rooms/3/messages", nil, 2)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("bad pagination", func(t *testing.T) {
		app := newTestApp(t, &database.MockGoChatRepository{})
		for _, q := range []string{"limit=abc", "limit=-1", "offset=-3"} {
			rr := app.do(t, http.MethodGet, "/api/rooms/3/messages?"+q, nil, 2)
			assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		}
	})

	t.Run("private history is for members", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", mock.Anything, 4).Return(database.Room{Id: 4, Name: "vip", IsPrivate: true, PasswordHash: "h", CreatorId: 1}, nil).Once()
		mockRepo.On("IsRoomMember", mock.Anything, 4, 2).Return(false, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodGet, "/api/rooms/4/messages", nil, 2)
		assert.Equal(t, ApiError{StatusCode: http.StatusForbidden, Message: "not a member of this room"}, decodeApiError(t, rr))
		mockRepo.AssertNotCalled(t, "GetRoomMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func Test_privateMessages(t *testing.T) {
	t.Run("conversation with the caller", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetUserById", mock.Anything, 5).Return(database.User{Id: 5, Username: "eve"}, nil).Once()
		mockRepo.On("GetConversation", mock.Anything, 2, 5, 20, 0).Return([]database.DirectMessage{
			{Id: 1, SenderId: 5, ReceiverId: 2, Content: "psst", MessageType: "text"},
		}, nil).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodGet, "/api/private-messages/5?limit=20", nil, 2)

		require.Equal(t, http.StatusOK, rr.Code)
		var msgs []types.DirectMessage
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
		assert.Equal(t, []types.DirectMessage{{Id: 1, SenderId: 5, ReceiverId: 2, Content: "psst", MessageType: "text"}}, msgs)
	})

	t.Run("unknown user", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetUserById", mock.Anything, 9).Return(database.User{}, database.ErrNotFound).Once()

		app := newTestApp(t, mockRepo)
		rr := app.do(t, http.MethodGet, "/api/private-messages/9", nil, 2)
		assert.Equal(t, ApiError{StatusCode: http.StatusNotFound, Message: "user not found"}, decodeApiError(t, rr))
	})
}

func Test_recentConversations(t *testing.T) {
	last := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mockRepo := &database.MockGoChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("GetRecentConversations", mock.Anything, 2).Return([]database.Conversation{
		{ContactId: 5, ContactUsername: "eve", LastMessage: "psst", LastMessageType: "text", LastMessageTime: last, SenderId: 5},
	}, nil).Once()

	app := newTestApp(t, mockRepo)
	rr := app.do(t, http.MethodGet, "/api/conversations/recent", nil, 2)

	require.Equal(t, http.StatusOK, rr.Code)
	var convs []types.Conversation
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&convs))
	assert.Equal(t, []types.Conversation{
		{ContactId: 5, ContactUsername: "eve", LastMessage: "psst", LastMessageType: "text", LastMessageTime: last, SenderId: 5},
	}, convs)
}

func Test_serveWs(t *testing.T) {
	mockUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
	}

	t.Run("successful websocket upgrade and client registration", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		mockRepo.On("GetUserById", mock.Anything, mockUser.Id).Return(mockUser, nil)

		app := newTestApp(t, mockRepo)
		srv := httptest.NewServer(app.srv.Handler)
		defer srv.Close()

		token, err := app.createJwtForSession(types.User{Id: mockUser.Id}, time.Hour)
		require.NoError(t, err)

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		mockRepo := &database.MockGoChatRepository{}
		mockRepo.On("GetUserById", mock.Anything, mockUser.Id).Return(mockUser, nil)

		app := newTestApp(t, mockRepo)
		srv := httptest.NewServer(app.srv.Handler)
		defer srv.Close()

		token, err := app.createJwtForSession(types.User{Id: mockUser.Id}, time.Hour)
		require.NoError(t, err)

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		header.Set("Origin", "http://evil.example.com")

		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	errorTestCases := []struct {
		name        string
		userId      int
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:        "unauthorized user",
			userId:      0,
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "user not found",
			userId:      1,
			mockErr:     database.ErrNotFound,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "db error",
			userId:      1,
			mockErr:     errors.New("db error"),
			expectedErr: &ApiError{StatusCode: http.StatusInternalServerError, Message: "internal server error"},
		},
	}

	for _, tc := range errorTestCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGoChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.mockErr != nil {
				mockRepo.On("GetUserById", mock.Anything, tc.userId).Return(database.User{}, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo)
			rr := app.do(t, http.MethodGet, "/ws", nil, tc.userId)

			assert.Equal(t, *tc.expectedErr, decodeApiError(t, rr), "expected ApiError to match")
		})
	}
}
