package server

import (
	"strings"
	"sync"
)

// typingTarget is where a typing indicator is shown: a room, or a single
// receiver when receiver is set.
type typingTarget struct {
	room     string
	receiver string
}

type typingTracker struct {
	mu     sync.Mutex
	active map[string]typingTarget
}

func newTypingTracker() *typingTracker {
	return &typingTracker{
		active: make(map[string]typingTarget),
	}
}

// start records target for connId. started is false when connId was already
// typing at target. prev is set when a different target was replaced.
func (t *typingTracker) start(connId string, target typingTarget) (prev typingTarget, replaced, started bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.active[connId]
	if ok && cur == target {
		return typingTarget{}, false, false
	}

	t.active[connId] = target
	return cur, ok, true
}

func (t *typingTracker) stop(connId string) (typingTarget, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.active[connId]
	if ok {
		delete(t.active, connId)
	}
	return cur, ok
}

func (t *typingTracker) isTyping(connId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.active[connId]
	return ok
}

func (cs *ChatServer) typingTargetFor(req Typing) typingTarget {
	if req.Receiver != nil {
		if name := strings.TrimSpace(req.Receiver.Username); name != "" {
			return typingTarget{receiver: name}
		}
	}

	room := strings.TrimSpace(req.Room)
	if room == "" {
		room = cs.cfg.DefaultRoom
	}
	return typingTarget{room: room}
}

// StartTyping marks the connection as typing at the requested target.
// Repeating a start for the same target announces nothing.
func (cs *ChatServer) StartTyping(c *Client, req Typing) error {
	user, ok := cs.registry.Identity(c.id)
	if !ok {
		return ErrUnauthenticated
	}

	target := cs.typingTargetFor(req)
	prev, replaced, started := cs.typing.start(c.id, target)
	if replaced {
		cs.announceTyping(c, user.Username, prev, false)
	}
	if started {
		cs.announceTyping(c, user.Username, target, true)
	}

	return nil
}

// StopTyping clears the connection's typing indicator wherever it was shown.
func (cs *ChatServer) StopTyping(c *Client) error {
	user, ok := cs.registry.Identity(c.id)
	if !ok {
		return ErrUnauthenticated
	}

	if target, ok := cs.typing.stop(c.id); ok {
		cs.announceTyping(c, user.Username, target, false)
	}

	return nil
}

func (cs *ChatServer) announceTyping(c *Client, name string, target typingTarget, typing bool) {
	notice := &TypingNotice{
		DisplayName: name,
		IsTyping:    typing,
		Room:        target.room,
	}

	n := &Notification{}
	if typing {
		n.TypingStart = notice
	} else {
		n.TypingStop = notice
	}

	if target.receiver != "" {
		cs.router.UnicastByName(target.receiver, notification(n))
		return
	}
	cs.router.BroadcastToRoom(target.room, notification(n), c)
}
