package server

import (
	"slices"
	"sync"

	"github.com/npezzotti/chatrelay/internal/types"
)

type registration struct {
	client *Client
	user   types.User
	rooms  map[string]struct{}
}

// Registry tracks authenticated connections, their identity and the rooms
// they have joined. All membership reads and writes go through it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*registration
	names map[string]*registration
	rooms map[string]map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*registration),
		names: make(map[string]*registration),
		rooms: make(map[string]map[string]*Client),
	}
}

// Register binds user to the connection. The name check and the insert happen
// under one lock so only one of several concurrent logins for a name succeeds.
func (r *Registry) Register(c *Client, user types.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; ok {
		return ErrAlreadyLoggedIn
	}

	if _, ok := r.names[user.Username]; ok {
		return ErrNameTaken
	}

	reg := &registration{
		client: c,
		user:   user,
		rooms:  make(map[string]struct{}),
	}
	r.conns[c.id] = reg
	r.names[user.Username] = reg

	return nil
}

// Unregister removes the connection and all of its room memberships. ok is
// false when the connection was not registered.
func (r *Registry) Unregister(connId string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[connId]
	if !ok {
		return types.User{}, false
	}

	for room := range reg.rooms {
		r.removeMember(room, connId)
	}

	delete(r.conns, connId)
	delete(r.names, reg.user.Username)

	return reg.user, true
}

func (r *Registry) removeMember(room, connId string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}

	delete(members, connId)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func (r *Registry) Identity(connId string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.conns[connId]
	if !ok {
		return types.User{}, false
	}
	return reg.user, true
}

func (r *Registry) LookupByName(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.names[name]
	if !ok {
		return nil, false
	}
	return reg.client, true
}

// IdentityByName returns the identity registered under name.
func (r *Registry) IdentityByName(name string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.names[name]
	if !ok {
		return types.User{}, false
	}
	return reg.user, true
}

// AllNames returns the sorted display names of every registered connection.
func (r *Registry) AllNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}

	slices.Sort(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

func (r *Registry) JoinRoom(connId, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[connId]
	if !ok {
		return ErrUnauthenticated
	}

	reg.rooms[room] = struct{}{}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]*Client)
	}
	r.rooms[room][connId] = reg.client

	return nil
}

func (r *Registry) LeaveRoom(connId, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[connId]
	if !ok {
		return ErrUnauthenticated
	}

	delete(reg.rooms, room)
	r.removeMember(room, connId)

	return nil
}

// InRoom reports whether the connection is a member of room.
func (r *Registry) InRoom(connId, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[room][connId]
	return ok
}

// MembersOf returns a snapshot of the connections currently joined to room.
func (r *Registry) MembersOf(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Client, 0, len(r.rooms[room]))
	for _, c := range r.rooms[room] {
		members = append(members, c)
	}
	return members
}

// MemberNames returns the sorted display names of the members of room.
func (r *Registry) MemberNames(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rooms[room]))
	for connId := range r.rooms[room] {
		names = append(names, r.conns[connId].user.Username)
	}

	slices.Sort(names)
	return names
}

// Clients returns a snapshot of every registered connection.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.conns))
	for _, reg := range r.conns {
		clients = append(clients, reg.client)
	}
	return clients
}
