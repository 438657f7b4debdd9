package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/types"
	"go.uber.org/zap"
)

// IdentityResolver maps a user id to the user's public identity.
type IdentityResolver interface {
	ResolveUser(ctx context.Context, userId int) (types.User, error)
}

type RepositoryResolver struct {
	db database.GoChatRepository
}

func NewRepositoryResolver(db database.GoChatRepository) *RepositoryResolver {
	return &RepositoryResolver{db: db}
}

func (r *RepositoryResolver) ResolveUser(ctx context.Context, userId int) (types.User, error) {
	u, err := r.db.GetUserById(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, fmt.Errorf("get user %d: %w", userId, err)
	}

	return types.User{
		Id:       u.Id,
		Username: u.Username,
		Role:     u.Role,
	}, nil
}

type presenceEntry struct {
	userId   int
	username string
}

// PresenceRegistry tracks which user each live connection belongs to.
// A user with several connections is listed once.
type PresenceRegistry struct {
	log      *zap.SugaredLogger
	resolver IdentityResolver
	onChange func()

	mu      sync.RWMutex
	order   []string
	entries map[string]presenceEntry
}

// NewPresenceRegistry returns an empty registry. onChange is invoked after
// every mutation and must not block.
func NewPresenceRegistry(l *zap.SugaredLogger, resolver IdentityResolver, onChange func()) *PresenceRegistry {
	return &PresenceRegistry{
		log:      l,
		resolver: resolver,
		onChange: onChange,
		entries:  make(map[string]presenceEntry),
	}
}

// RecordOnline binds connId to userId. It reports false, without changing
// anything, when userId is not positive or cannot be resolved.
func (p *PresenceRegistry) RecordOnline(ctx context.Context, connId string, userId int) bool {
	if userId <= 0 {
		p.log.Warnw("ignoring online announcement with invalid user id", "conn_id", connId, "user_id", userId)
		return false
	}

	user, err := p.resolver.ResolveUser(ctx, userId)
	if err != nil {
		p.log.Warnw("failed to resolve user for presence", "conn_id", connId, "user_id", userId, "error", err)
		return false
	}

	p.mu.Lock()
	if _, ok := p.entries[connId]; !ok {
		p.order = append(p.order, connId)
	}
	p.entries[connId] = presenceEntry{userId: user.Id, username: user.Username}
	p.mu.Unlock()

	p.log.Debugw("user online", "conn_id", connId, "user_id", user.Id)
	p.notify()
	return true
}

// RecordOffline removes the entry for connId. A change notification is
// emitted even if no entry existed.
func (p *PresenceRegistry) RecordOffline(connId string) {
	p.mu.Lock()
	if _, ok := p.entries[connId]; ok {
		delete(p.entries, connId)
		if i := slices.Index(p.order, connId); i >= 0 {
			p.order = slices.Delete(p.order, i, i+1)
		}
	}
	p.mu.Unlock()

	p.log.Debugw("connection offline", "conn_id", connId)
	p.notify()
}

// ListOnlineUsers returns one entry per online user, in the order their
// first live connection was recorded.
func (p *PresenceRegistry) ListOnlineUsers() []types.OnlineUser {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[int]struct{}, len(p.entries))
	users := make([]types.OnlineUser, 0, len(p.entries))
	for _, connId := range p.order {
		e := p.entries[connId]
		if _, ok := seen[e.userId]; ok {
			continue
		}
		seen[e.userId] = struct{}{}
		users = append(users, types.OnlineUser{Id: e.userId, Username: e.username})
	}

	return users
}

// IsOnline reports whether connId has a presence entry.
func (p *PresenceRegistry) IsOnline(connId string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[connId]
	return ok
}

// Len returns the number of connections with a presence entry.
func (p *PresenceRegistry) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// CountUsers returns the number of distinct online users.
func (p *PresenceRegistry) CountUsers() int {
	return len(p.ListOnlineUsers())
}

func (p *PresenceRegistry) notify() {
	if p.onChange != nil {
		p.onChange()
	}
}
