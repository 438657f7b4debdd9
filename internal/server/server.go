package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/stats"
	"github.com/npezzotti/go-livechat/internal/types"
	"go.uber.org/zap"
)

const presenceQueueSize = 256

// ChatServer owns the live state of the chat: connected clients, presence,
// channel subscriptions, and the components that act on them.
type ChatServer struct {
	log         *zap.SugaredLogger
	db          database.GoChatRepository
	stats       stats.StatsProvider
	sendTimeout time.Duration

	presence *PresenceRegistry
	channels *ChannelTable
	gate     *MembershipGate
	router   *BroadcastRouter

	clients        map[*Client]struct{}
	clientsLock    sync.RWMutex
	registerChan   chan *Client
	deRegisterChan chan *Client
	presenceChan   chan struct{}
	stop           chan struct{}
	stopOnce       sync.Once
	done           chan struct{}

	// pumps counts registered connections until their read pump has
	// cleaned up. Shutdown waits for it.
	pumps     sync.WaitGroup
	pumpsLock sync.Mutex
	draining  bool

	// subsLock orders channel table changes with their stats updates.
	subsLock sync.Mutex

	// ctx is cancelled on shutdown and bounds every event handler.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewChatServer(logger *zap.SugaredLogger, db database.GoChatRepository, sp stats.StatsProvider, sendTimeout time.Duration) (*ChatServer, error) {
	if sendTimeout <= 0 {
		return nil, fmt.Errorf("send timeout must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          sp,
		sendTimeout:    sendTimeout,
		channels:       NewChannelTable(),
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		presenceChan:   make(chan struct{}, presenceQueueSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}

	cs.presence = NewPresenceRegistry(logger.Named("presence"), NewRepositoryResolver(db), cs.presenceChanged)
	cs.gate = NewMembershipGate(db, logger.Named("membership"))
	cs.router = NewBroadcastRouter(db, cs.gate, cs.channels, sp, sendTimeout, logger.Named("router"))

	for _, name := range []string{
		stats.NumActiveClients,
		stats.NumOnlineUsers,
		stats.NumSubscriptions,
		stats.NumMessagesPublished,
	} {
		sp.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.registerChan:
			cs.log.Debugw("adding connection", "conn_id", client.id, "user_id", client.user.Id)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Debugw("removing connection", "conn_id", client.id, "user_id", client.user.Id)
			cs.removeClient(client)
		case <-cs.presenceChan:
			cs.broadcastPresence()
		case <-cs.stop:
			cs.log.Info("shutting down clients")
			cs.cancel()

			cs.clientsLock.RLock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.RUnlock()

			close(cs.done)
			return
		}
	}
}

// presenceChanged is the presence registry's change hook. Every call
// results in exactly one presence broadcast from Run.
func (cs *ChatServer) presenceChanged() {
	select {
	case cs.presenceChan <- struct{}{}:
	default:
		go func() {
			select {
			case cs.presenceChan <- struct{}{}:
			case <-cs.done:
			}
		}()
	}
}

func (cs *ChatServer) broadcastPresence() {
	users := cs.presence.ListOnlineUsers()
	cs.stats.Set(stats.NumOnlineUsers, len(users))

	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	msg := presenceMessage(users)
	for c := range cs.clients {
		c.queueMessage(msg)
	}
}

// RegisterClient hands a new connection to the hub. It reports false once
// the server has shut down. A registered connection's Read pump must run,
// since Shutdown waits for it.
func (cs *ChatServer) RegisterClient(c *Client) bool {
	tracked := false
	if c.conn != nil && !c.tracked {
		if !cs.trackPump() {
			return false
		}
		c.tracked, tracked = true, true
	}

	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		if tracked {
			c.tracked = false
			cs.pumps.Done()
		}
		return false
	}
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		cs.clients[c] = struct{}{}
		cs.stats.Incr(stats.NumActiveClients)
	}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(stats.NumActiveClients)
	}
}

// trackPump counts a connection whose read pump is about to start. It
// reports false once Shutdown has started draining.
func (cs *ChatServer) trackPump() bool {
	cs.pumpsLock.Lock()
	defer cs.pumpsLock.Unlock()

	if cs.draining {
		return false
	}
	cs.pumps.Add(1)
	return true
}

// updateSubscriptions applies fn to the channel table and, when it reports a
// change, publishes the new subscription count before any later change can.
func (cs *ChatServer) updateSubscriptions(fn func() bool) bool {
	cs.subsLock.Lock()
	defer cs.subsLock.Unlock()

	changed := fn()
	if changed {
		cs.stats.Set(stats.NumSubscriptions, cs.channels.Count())
	}
	return changed
}

func (cs *ChatServer) subscribe(name string, c *Client) bool {
	return cs.updateSubscriptions(func() bool {
		return cs.channels.Subscribe(name, c)
	})
}

func (cs *ChatServer) unsubscribe(name string, c *Client) bool {
	return cs.updateSubscriptions(func() bool {
		return cs.channels.Unsubscribe(name, c)
	})
}

func (cs *ChatServer) unsubscribeAll(c *Client) {
	cs.updateSubscriptions(func() bool {
		return len(cs.channels.UnsubscribeAll(c)) > 0
	})
}

// ListOnlineUsers returns the current de-duplicated online users.
func (cs *ChatServer) ListOnlineUsers() []types.OnlineUser {
	return cs.presence.ListOnlineUsers()
}

// Gate returns the membership gate shared with the HTTP handlers.
func (cs *ChatServer) Gate() *MembershipGate {
	return cs.gate
}

// RoomDeleted tells every subscriber of the room's channel that the room is
// gone and drops their subscriptions.
func (cs *ChatServer) RoomDeleted(roomId int, roomName string) {
	var subs []*Client
	cs.updateSubscriptions(func() bool {
		subs = cs.channels.Close(roomName)
		return len(subs) > 0
	})

	msg := roomDeletedMessage(roomId, roomName)
	for _, c := range subs {
		c.queueMessage(msg)
	}
	cs.log.Infow("room channel closed", "room_id", roomId, "room_name", roomName, "subscribers", len(subs))
}

// RoomRenamed moves live subscribers to the room's new channel name.
func (cs *ChatServer) RoomRenamed(oldName, newName string) {
	cs.updateSubscriptions(func() bool {
		cs.channels.Rename(oldName, newName)
		return true
	})
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("received shutdown signal")
	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	cs.pumpsLock.Lock()
	cs.draining = true
	cs.pumpsLock.Unlock()

	drained := make(chan struct{})
	go func() {
		cs.pumps.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
