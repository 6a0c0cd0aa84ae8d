package server

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chatrelay/internal/config"
	"github.com/npezzotti/chatrelay/internal/database"
	"github.com/npezzotti/chatrelay/internal/stats"
)

const (
	// persistTimeout bounds store calls made after the requesting
	// connection is already gone.
	persistTimeout      = 5 * time.Second
	reactionLockStripes = 64
)

type ChatServer struct {
	log           *log.Logger
	db            database.ChatRepository
	stats         stats.StatsProvider
	cfg           *config.Config
	registry      *Registry
	router        *Router
	typing        *typingTracker
	reactionLocks [reactionLockStripes]sync.Mutex
	clients       map[*Client]struct{}
	clientsLock   sync.Mutex
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	for _, m := range stats.Metrics {
		su.RegisterMetric(m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry()
	return &ChatServer{
		log:      logger,
		db:       db,
		stats:    su,
		cfg:      cfg,
		registry: registry,
		router:   NewRouter(registry, logger),
		typing:   newTypingTracker(),
		clients:  make(map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Serve starts the read and write pumps for a freshly upgraded connection.
func (cs *ChatServer) Serve(conn *websocket.Conn) *Client {
	c := NewClient(conn, cs, cs.log)
	cs.addClient(c)

	cs.wg.Add(2)
	go func() {
		defer cs.wg.Done()
		c.Write()
	}()
	go func() {
		defer cs.wg.Done()
		c.Read()
	}()

	return c
}

// OnlineCount returns the number of logged in connections.
func (cs *ChatServer) OnlineCount() int {
	return cs.registry.Count()
}

// Registry exposes the connection registry for read-only inspection.
func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumConnections)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(stats.NumConnections)
	}
}

func (cs *ChatServer) reactionLock(messageId string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(messageId))
	return &cs.reactionLocks[h.Sum32()%reactionLockStripes]
}

type SendResult struct {
	MessageId string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// handleMessage executes one inbound request and returns the reply for the
// requester, or nil when the event has no reply.
func (cs *ChatServer) handleMessage(ctx context.Context, msg *ClientMessage) *ServerMessage {
	c := msg.client

	switch msg.Event() {
	case EventLogin:
		res, err := cs.Login(ctx, c, msg.Login.Username)
		if err != nil {
			return ErrorResponse(msg.Id, err)
		}
		return NoErrOK(msg.Id, res)
	case EventSendMessage:
		m, err := cs.SendMessage(ctx, c, *msg.Send)
		if err != nil {
			return ErrorResponse(msg.Id, err)
		}
		return NoErrOK(msg.Id, SendResult{MessageId: m.Id, Timestamp: m.CreatedAt})
	case EventFileUpload:
		m, err := cs.SendFile(ctx, c, *msg.FileUpload)
		if err != nil {
			return ErrorResponse(msg.Id, err)
		}
		return NoErrOK(msg.Id, SendResult{MessageId: m.Id, Timestamp: m.CreatedAt})
	case EventTypingStart:
		if err := cs.StartTyping(c, *msg.TypingStart); err != nil {
			return ErrorResponse(msg.Id, err)
		}
	case EventTypingStop:
		if err := cs.StopTyping(c); err != nil {
			return ErrorResponse(msg.Id, err)
		}
	case EventJoinRoom:
		if err := cs.JoinRoom(c, msg.JoinRoom.Room); err != nil {
			return ErrorResponse(msg.Id, err)
		}
	case EventLeaveRoom:
		if err := cs.LeaveRoom(c, msg.LeaveRoom.Room); err != nil {
			return ErrorResponse(msg.Id, err)
		}
	case EventAddReaction:
		if _, err := cs.AddReaction(ctx, c, *msg.AddReaction); err != nil {
			if KindOf(err) == KindNotFound {
				cs.log.Printf("reaction from %q ignored: %v", c.id, err)
				return nil
			}
			return ErrorResponse(msg.Id, err)
		}
	default:
		return ErrorResponse(msg.Id, ErrInvalidMessage)
	}

	return nil
}

// Shutdown closes every connection and waits for their pumps and cleanup to
// finish or for ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cs.cancel()
		return nil
	case <-ctx.Done():
		cs.cancel()
		return ctx.Err()
	}
}
