package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chatrelay/internal/types"
)

const (
	healthOK          = "OK"
	healthUnavailable = "UNAVAILABLE"
	healthPingTimeout = 2 * time.Second
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	OnlineUsers int       `json:"onlineUsers"`
	Uptime      float64   `json:"uptime"`
}

type RoomMessagesResponse struct {
	Room     string          `json:"room"`
	Messages []types.Message `json:"messages"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:      healthOK,
		Timestamp:   time.Now().UTC(),
		OnlineUsers: s.cs.OnlineCount(),
		Uptime:      time.Since(s.started).Seconds(),
	}

	status := http.StatusOK
	if err := s.cs.Ping(ctx); err != nil {
		s.log.Printf("health check: %v", err)
		resp.Status = healthUnavailable
		status = http.StatusServiceUnavailable
	}

	s.writeJson(w, status, resp)
}

func (s *GoChatApp) getRoomMessages(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = n
	}

	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		before = t
	}

	msgs, err := s.cs.RoomHistory(r.Context(), room, before, limit)
	if err != nil {
		errResp := fromChatError(err)
		if errResp.StatusCode == http.StatusInternalServerError {
			s.log.Printf("room history %q: %v", room, err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, RoomMessagesResponse{
		Room:     room,
		Messages: msgs,
	})
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	c := s.cs.Serve(conn)
	s.log.Printf("client %q connected from %s", c.Id(), r.RemoteAddr)
}
