package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chatrelay/internal/config"
	"github.com/npezzotti/chatrelay/internal/database"
	"github.com/npezzotti/chatrelay/internal/server"
	"github.com/npezzotti/chatrelay/internal/stats"
	"github.com/npezzotti/chatrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:3000"

// newTestApp serves a chat server backed by db over an httptest server.
func newTestApp(t *testing.T, db database.ChatRepository) (*httptest.Server, *server.ChatServer) {
	t.Helper()
	cfg, err := config.NewConfig("localhost:0", config.StoreMemory, "", []string{testOrigin})
	require.NoError(t, err)

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return(nil)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, su, cfg)
	require.NoError(t, err)

	app := NewGoChatApp(http.NewServeMux(), logger, cs, cfg)
	srv := httptest.NewServer(app.mux.Handler)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return srv, cs
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*wsClient, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, resp, err
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}, resp, nil
}

func mustDial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	c, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	return c
}

// request sends event with payload and returns the request id.
func (c *wsClient) request(event string, payload any) int {
	c.t.Helper()
	c.seq++
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{
		"id":  c.seq,
		event: payload,
	}))
	return c.seq
}

func (c *wsClient) next(match func(*server.ServerMessage) bool) *server.ServerMessage {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg server.ServerMessage
		require.NoError(c.t, c.conn.ReadJSON(&msg))
		if match(&msg) {
			return &msg
		}
	}
}

func (c *wsClient) response(id int) *server.Response {
	c.t.Helper()
	return c.next(func(m *server.ServerMessage) bool { return m.Response != nil && m.Id == id }).Response
}

func (c *wsClient) login(name string) {
	c.t.Helper()
	resp := c.response(c.request(server.EventLogin, map[string]string{"username": name}))
	require.True(c.t, resp.Success, "login %q: %s", name, resp.Error)
}

func isMessage(m *server.ServerMessage) bool { return m.Message != nil }

func Test_healthCheck(t *testing.T) {
	t.Run("store reachable", func(t *testing.T) {
		srv, _ := newTestApp(t, database.NewMemoryChatRepository())

		resp, err := http.Get(srv.URL + "/api/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "no-store, no-cache, must-revalidate, private", resp.Header.Get("Cache-Control"))

		var body HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "OK", body.Status)
		assert.Equal(t, 0, body.OnlineUsers)
		assert.False(t, body.Timestamp.IsZero())
		assert.GreaterOrEqual(t, body.Uptime, 0.0)
	})

	t.Run("counts online users", func(t *testing.T) {
		srv, _ := newTestApp(t, database.NewMemoryChatRepository())
		mustDial(t, srv).login("alice")

		resp, err := http.Get(srv.URL + "/api/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 1, body.OnlineUsers)
	})

	t.Run("store unreachable", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("Ping", mock.Anything).Return(errors.New("db error")).Once()
		defer db.AssertExpectations(t)
		srv, _ := newTestApp(t, db)

		resp, err := http.Get(srv.URL + "/api/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		var body HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "UNAVAILABLE", body.Status)
	})
}

func Test_getRoomMessages(t *testing.T) {
	db := database.NewMemoryChatRepository()
	base := time.Now().UTC().Add(-time.Hour)
	for i, room := range []string{"global", "global", "dev", "private_alice_bob", "global"} {
		require.NoError(t, db.InsertMessage(context.Background(), database.Message{
			Id:          fmt.Sprintf("m%d", i),
			Content:     fmt.Sprintf("message %d", i),
			Room:        room,
			Sender:      database.Participant{Username: "alice"},
			MessageType: "text",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	srv, _ := newTestApp(t, db)

	get := func(path string) (*http.Response, RoomMessagesResponse) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()

		var body RoomMessagesResponse
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		}
		return resp, body
	}

	t.Run("room history oldest first", func(t *testing.T) {
		resp, body := get("/api/rooms/global/messages")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "global", body.Room)
		require.Len(t, body.Messages, 3)
		assert.Equal(t, "m0", body.Messages[0].Id)
		assert.Equal(t, "m4", body.Messages[2].Id)
	})

	t.Run("limit and before", func(t *testing.T) {
		before := base.Add(4 * time.Minute).Format(time.RFC3339Nano)
		resp, body := get("/api/rooms/global/messages?limit=1&before=" + before)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "m1", body.Messages[0].Id)
	})

	t.Run("private rooms are hidden", func(t *testing.T) {
		resp, _ := get("/api/rooms/private_alice_bob/messages")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		resp, _ := get("/api/rooms/global/messages?limit=abc")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = get("/api/rooms/global/messages?before=yesterday")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown room is empty", func(t *testing.T) {
		resp, body := get("/api/rooms/nowhere/messages")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, body.Messages)
	})
}

func Test_serveWs_origin(t *testing.T) {
	srv, _ := newTestApp(t, database.NewMemoryChatRepository())

	_, _, err := dial(t, srv, http.Header{"Origin": []string{testOrigin}})
	assert.NoError(t, err, "expected allowed origin to connect")

	_, _, err = dial(t, srv, nil)
	assert.NoError(t, err, "expected request without origin to connect")

	_, resp, err := dial(t, srv, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatSession(t *testing.T) {
	srv, cs := newTestApp(t, database.NewMemoryChatRepository())
	alice := mustDial(t, srv)
	bob := mustDial(t, srv)

	t.Run("short name is rejected", func(t *testing.T) {
		resp := alice.response(alice.request(server.EventLogin, map[string]string{"username": "ab"}))
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusBadRequest, resp.ResponseCode)
		assert.Equal(t, 0, cs.OnlineCount())
	})

	alice.login("alice")
	bob.login("bob")

	joined := alice.next(func(m *server.ServerMessage) bool {
		return m.Notification != nil && m.Notification.UserJoined != nil
	})
	assert.Equal(t, "bob", joined.Notification.UserJoined.DisplayName)
	assert.Equal(t, 2, joined.Notification.UserJoined.OnlineCount)

	t.Run("duplicate name is rejected", func(t *testing.T) {
		carol := mustDial(t, srv)
		resp := carol.response(carol.request(server.EventLogin, map[string]string{"username": "alice"}))
		assert.False(t, resp.Success)
		assert.Equal(t, "name_taken", resp.Kind)
	})

	var msgId string
	t.Run("room message", func(t *testing.T) {
		id := alice.request(server.EventSendMessage, map[string]string{"content": "hello"})
		resp := alice.response(id)
		require.True(t, resp.Success)

		for _, c := range []*wsClient{alice, bob} {
			msg := c.next(isMessage)
			assert.Equal(t, "hello", msg.Message.Content)
			assert.Equal(t, "global", msg.Message.Room)
			msgId = msg.Message.Id
		}
	})

	t.Run("private message", func(t *testing.T) {
		bob.request(server.EventSendMessage, map[string]any{
			"content":  "hi alice",
			"receiver": map[string]string{"username": "alice"},
		})

		for _, c := range []*wsClient{alice, bob} {
			msg := c.next(isMessage)
			assert.Equal(t, "private_alice_bob", msg.Message.Room)
			require.NotNil(t, msg.Message.Receiver)
			assert.Equal(t, "alice", msg.Message.Receiver.Username)
		}
	})

	t.Run("oversized file", func(t *testing.T) {
		id := alice.request(server.EventFileUpload, map[string]any{
			"fileName": "big.bin",
			"fileSize": 6 * 1024 * 1024,
			"data":     "AAAA",
		})
		resp := alice.response(id)
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.ResponseCode)
	})

	t.Run("oversized frame keeps the connection", func(t *testing.T) {
		id := alice.request(server.EventFileUpload, map[string]any{
			"fileName": "big.bin",
			"fileSize": 6 * 1024 * 1024,
			"data":     strings.Repeat("A", 8*1024*1024),
		})
		resp := alice.response(id)
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.ResponseCode)
		assert.Equal(t, "validation_error", resp.Kind)
		assert.Equal(t, 2, cs.OnlineCount())
	})

	t.Run("overlong receiver is rejected", func(t *testing.T) {
		resp := alice.response(alice.request(server.EventSendMessage, map[string]any{
			"content":  "hi",
			"receiver": map[string]string{"username": strings.Repeat("x", 40)},
		}))
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusBadRequest, resp.ResponseCode)
		assert.Equal(t, "validation_error", resp.Kind)
	})

	t.Run("typing", func(t *testing.T) {
		alice.request(server.EventTypingStart, map[string]string{})
		msg := bob.next(func(m *server.ServerMessage) bool {
			return m.Notification != nil && m.Notification.TypingStart != nil
		})
		assert.Equal(t, "alice", msg.Notification.TypingStart.DisplayName)
	})

	t.Run("reaction", func(t *testing.T) {
		bob.request(server.EventAddReaction, map[string]string{"messageId": msgId, "emoji": "👍"})

		for _, c := range []*wsClient{alice, bob} {
			msg := c.next(isMessage)
			assert.Equal(t, msgId, msg.Message.Id)
			require.Len(t, msg.Message.Reactions, 1)
			assert.Equal(t, "bob", msg.Message.Reactions[0].Username)
		}
	})

	t.Run("departure", func(t *testing.T) {
		bob.conn.Close()

		msg := alice.next(func(m *server.ServerMessage) bool {
			return m.Notification != nil && m.Notification.UserLeft != nil
		})
		assert.Equal(t, "bob", msg.Notification.UserLeft.DisplayName)
		assert.Equal(t, 1, msg.Notification.UserLeft.OnlineCount)
	})
}
