package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBuffer   = 256
	// frameOverhead leaves room for the JSON envelope around a file payload.
	frameOverhead = 64 * 1024
	// hardLimitFactor scales the frame limit to the size at which the
	// transport gives up on the connection instead of replying.
	hardLimitFactor = 4
	tailSize        = 256
)

var requestIdPattern = regexp.MustCompile(`"id"\s*:\s*(\d+)`)

// Client is a single WebSocket connection. Its read pump executes the
// connection's requests one at a time; its write pump drains send.
type Client struct {
	id          string
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         *log.Logger
	send        chan *ServerMessage
	limiter     *rate.Limiter
	ctx         context.Context
	cancel      context.CancelFunc
	stop        chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	ctx, cancel := context.WithCancel(cs.ctx)
	return &Client{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, sendBuffer),
		limiter:    rate.NewLimiter(rate.Every(cs.cfg.RateLimit.Interval), cs.cfg.RateLimit.Burst),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
	}
}

// Id returns the connection identifier.
func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	frameLimit := c.chatServer.cfg.MaxFileSize*4/3 + frameOverhead
	c.conn.SetReadLimit(frameLimit * hardLimitFactor)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			c.logReadError(err)
			break
		}

		raw, err := io.ReadAll(io.LimitReader(r, frameLimit+1))
		if err != nil {
			c.logReadError(err)
			break
		}

		if int64(len(raw)) > frameLimit {
			tail := &tailBuffer{}
			if _, err := io.Copy(tail, r); err != nil {
				c.logReadError(err)
				break
			}

			c.log.Printf("client %q sent a %d+ byte frame, limit is %d", c.id, len(raw), frameLimit)
			c.queueMessage(ErrorResponse(oversizedRequestId(raw, tail.bytes()), ErrFileTooLarge))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrorResponse(0, ErrInvalidMessage))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		if !c.limiter.Allow() {
			c.queueMessage(ErrorResponse(msg.Id, ErrRateLimited))
			continue
		}

		if reply := c.chatServer.handleMessage(c.ctx, &msg); reply != nil {
			c.queueMessage(reply)
		}
	}
}

func (c *Client) logReadError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
		websocket.CloseNormalClosure) {
		c.log.Printf("ws: read: %v", err)
	}
}

// tailBuffer keeps the last tailSize bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= tailSize {
		t.buf = append(t.buf[:0], p[n-tailSize:]...)
		return n, nil
	}

	t.buf = append(t.buf, p...)
	if len(t.buf) > tailSize {
		t.buf = t.buf[len(t.buf)-tailSize:]
	}
	return n, nil
}

func (t *tailBuffer) bytes() []byte {
	return t.buf
}

// oversizedRequestId recovers the request id of a frame that was not decoded.
// The id may precede the payload or follow it, depending on key order.
func oversizedRequestId(head, tail []byte) int {
	for _, b := range [][]byte{head, tail} {
		if m := requestIdPattern.FindSubmatch(b); m != nil {
			if id, err := strconv.Atoi(string(m[1])); err == nil {
				return id
			}
		}
	}
	return 0
}

// queueMessage hands msg to the write pump without blocking. A full queue
// drops the message for this connection only.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to send message to client %q, channel is full", c.id)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs the disconnect transition exactly once, whatever closed the
// connection.
func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.cancel()
		c.chatServer.Disconnect(c)
		c.chatServer.removeClient(c)
		c.stopClient()
	})
}
