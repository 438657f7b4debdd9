package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-livechat/internal/config"
	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/server"
	"go.uber.org/zap"
)

type GoChatApp struct {
	log            *zap.SugaredLogger
	db             database.GoChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

// NewGoChatApp registers the HTTP and websocket routes on mux. mux may
// already carry other handlers, such as the stats endpoint.
func NewGoChatApp(mux *http.ServeMux, logger *zap.SugaredLogger, cs *server.ChatServer, db database.GoChatRepository, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))

	mux.HandleFunc("GET /api/users", s.authMiddleware(s.listUsers))
	mux.HandleFunc("GET /api/users/{id}", s.authMiddleware(s.getUser))
	mux.HandleFunc("GET /api/online-users", s.authMiddleware(s.onlineUsers))

	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/rooms/{roomId}", s.authMiddleware(s.getRoom))
	mux.HandleFunc("PUT /api/rooms/{roomId}", s.authMiddleware(s.updateRoom))
	mux.HandleFunc("DELETE /api/rooms/{roomId}", s.authMiddleware(s.deleteRoom))
	mux.HandleFunc("POST /api/rooms/{roomId}/join", s.authMiddleware(s.joinRoom))
	mux.HandleFunc("POST /api/rooms/{roomId}/leave", s.authMiddleware(s.leaveRoom))
	mux.HandleFunc("GET /api/rooms/{roomId}/members", s.authMiddleware(s.roomMembers))
	mux.HandleFunc("GET /api/rooms/{roomId}/membership", s.authMiddleware(s.membership))
	mux.HandleFunc("GET /api/rooms/{roomId}/messages", s.authMiddleware(s.roomMessages))

	mux.HandleFunc("GET /api/private-messages/{userId}", s.authMiddleware(s.privateMessages))
	mux.HandleFunc("GET /api/conversations/recent", s.authMiddleware(s.recentConversations))

	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization", requestIdHeader}),
		handlers.ExposedHeaders([]string{requestIdHeader}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.requestIdMiddleware(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Start() error {
	s.log.Infow("starting server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
