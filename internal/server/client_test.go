package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chatrelay/internal/database"
	"github.com/npezzotti/chatrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Response: &Response{
			Success:      true,
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"success":true,"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

// dialTestServer serves cs over a real WebSocket and returns a connected client.
func dialTestServer(t *testing.T, cs *ChatServer) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		cs.Serve(conn)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(*ServerMessage) bool) *ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(&msg) {
			return &msg
		}
	}
}

func TestClientReadWrite(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryChatRepository())
	conn := dialTestServer(t, cs)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	msg := readUntil(t, conn, func(m *ServerMessage) bool { return m.Response != nil })
	assert.False(t, msg.Response.Success)
	assert.Equal(t, ErrInvalidMessage.Message, msg.Response.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"login":{"username":"alice"}}`)))
	msg = readUntil(t, conn, func(m *ServerMessage) bool { return m.Response != nil })
	assert.Equal(t, 1, msg.Id)
	assert.True(t, msg.Response.Success)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":2,"message.send":{"content":"hi"}}`)))
	msg = readUntil(t, conn, func(m *ServerMessage) bool { return m.Message != nil })
	assert.Equal(t, "hi", msg.Message.Content)
	assert.Equal(t, "alice", msg.Message.Sender.Username)

	assert.Eventually(t, func() bool { return cs.OnlineCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return cs.OnlineCount() == 0 }, 2*time.Second, 10*time.Millisecond,
		"expected disconnect to unregister the user")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx))
}

func TestClientRateLimit(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryChatRepository())
	cs.cfg.RateLimit.Burst = 1
	cs.cfg.RateLimit.Interval = time.Hour
	conn := dialTestServer(t, cs)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"typing.stop":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":2,"typing.stop":{}}`)))

	// the first request is answered with unauthenticated, the second is throttled
	msg := readUntil(t, conn, func(m *ServerMessage) bool { return m.Response != nil })
	assert.Equal(t, 1, msg.Id)
	assert.Equal(t, KindUnauthenticated.String(), msg.Response.Kind)

	msg = readUntil(t, conn, func(m *ServerMessage) bool { return m.Response != nil })
	assert.Equal(t, 2, msg.Id)
	assert.Equal(t, KindRateLimited.String(), msg.Response.Kind)
}

func Test_oversizedRequestId(t *testing.T) {
	assert.Equal(t, 7, oversizedRequestId([]byte(`{"id":7,"file.upload":{"data":"AAAA`), nil))
	assert.Equal(t, 9, oversizedRequestId([]byte(`{"file.upload":{"data":"AAAA`), []byte(`AAAA"},"id": 9}`)))
	assert.Equal(t, 0, oversizedRequestId([]byte(`{"file.upload":{"data":"AAAA`), []byte(`AAAA"}}`)))
}

func Test_tailBuffer(t *testing.T) {
	tail := &tailBuffer{}
	tail.Write([]byte(strings.Repeat("a", tailSize)))
	tail.Write([]byte("xyz"))
	assert.Len(t, tail.bytes(), tailSize)
	assert.True(t, strings.HasSuffix(string(tail.bytes()), "axyz"))

	tail.Write([]byte(strings.Repeat("b", 2*tailSize)))
	assert.Equal(t, strings.Repeat("b", tailSize), string(tail.bytes()))
}

func TestClientOversizedFrame(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryChatRepository())
	cs.cfg.MaxFileSize = 1024
	conn := dialTestServer(t, cs)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"login":{"username":"alice"}}`)))
	msg := readUntil(t, conn, func(m *ServerMessage) bool { return m.Response != nil })
	require.True(t, msg.Response.Success)

	data := strings.Repeat("A", 200*1024)
	frames := []struct {
		id  int
		raw string
	}{
		{id: 2, raw: `{"id":2,"file.upload":{"fileName":"big.bin","fileSize":1000,"data":"` + data + `"}}`},
		{id: 3, raw: `{"file.upload":{"fileName":"big.bin","fileSize":1000,"data":"` + data + `"},"id":3}`},
	}

	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f.raw)))
		msg = readUntil(t, conn, func(m *ServerMessage) bool { return m.Response != nil })
		assert.Equal(t, f.id, msg.Id)
		assert.Equal(t, http.StatusRequestEntityTooLarge, msg.Response.ResponseCode)
		assert.Equal(t, ErrFileTooLarge.Message, msg.Response.Error)
	}

	// the connection and the login survive
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":4,"message.send":{"content":"still here"}}`)))
	msg = readUntil(t, conn, func(m *ServerMessage) bool { return m.Response != nil })
	assert.Equal(t, 4, msg.Id)
	assert.True(t, msg.Response.Success)
	assert.Equal(t, 1, cs.OnlineCount())
}
