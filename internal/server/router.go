package server

import (
	"hash/fnv"
	"log"
	"sync"
)

const roomLockStripes = 64

// Router delivers outbound events to the connections selected from the
// registry at the time of the call.
type Router struct {
	registry *Registry
	log      *log.Logger
	// roomLocks serializes fan-out per room so members observe broadcasts to
	// a room in the order they were submitted.
	roomLocks [roomLockStripes]sync.Mutex
	allLock   sync.Mutex
}

func NewRouter(registry *Registry, logger *log.Logger) *Router {
	return &Router{
		registry: registry,
		log:      logger,
	}
}

func (rt *Router) roomLock(room string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(room))
	return &rt.roomLocks[h.Sum32()%roomLockStripes]
}

// BroadcastToRoom queues msg for every current member of room except exclude
// and returns the number of connections it was queued for.
func (rt *Router) BroadcastToRoom(room string, msg *ServerMessage, exclude *Client) int {
	lock := rt.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	return rt.deliver(rt.registry.MembersOf(room), msg, exclude)
}

// BroadcastToAll queues msg for every registered connection except exclude.
func (rt *Router) BroadcastToAll(msg *ServerMessage, exclude *Client) int {
	rt.allLock.Lock()
	defer rt.allLock.Unlock()

	return rt.deliver(rt.registry.Clients(), msg, exclude)
}

// UnicastByName queues msg for the connection registered under name. An
// unknown or offline name is not an error; delivered is false.
func (rt *Router) UnicastByName(name string, msg *ServerMessage) bool {
	c, ok := rt.registry.LookupByName(name)
	if !ok {
		return false
	}

	return c.queueMessage(msg)
}

// DeliverPrivate queues msg once for each online participant of a private
// room. It takes the room's lock so private conversations keep the same
// ordering guarantee as rooms.
func (rt *Router) DeliverPrivate(room string, msg *ServerMessage, names ...string) int {
	lock := rt.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	var (
		n    int
		seen = make(map[*Client]struct{}, len(names))
	)
	for _, name := range names {
		c, ok := rt.registry.LookupByName(name)
		if !ok {
			continue
		}

		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}

		if c.queueMessage(msg) {
			n++
		}
	}

	return n
}

func (rt *Router) Unicast(c *Client, msg *ServerMessage) bool {
	return c.queueMessage(msg)
}

func (rt *Router) deliver(clients []*Client, msg *ServerMessage, exclude *Client) int {
	var n int
	for _, c := range clients {
		if c == exclude {
			continue
		}

		if c.queueMessage(msg) {
			n++
		}
	}

	return n
}
