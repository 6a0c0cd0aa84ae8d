package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/chatrelay/internal/types"
)

const (
	EventLogin       = "login"
	EventSendMessage = "message.send"
	EventFileUpload  = "file.upload"
	EventTypingStart = "typing.start"
	EventTypingStop  = "typing.stop"
	EventJoinRoom    = "room.join"
	EventLeaveRoom   = "room.leave"
	EventAddReaction = "reaction.add"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a single inbound frame. Exactly one event field is set.
type ClientMessage struct {
	BaseMessage
	Login       *Login       `json:"login,omitempty"`
	Send        *Send        `json:"message.send,omitempty"`
	FileUpload  *FileUpload  `json:"file.upload,omitempty"`
	TypingStart *Typing      `json:"typing.start,omitempty"`
	TypingStop  *Typing      `json:"typing.stop,omitempty"`
	JoinRoom    *RoomRequest `json:"room.join,omitempty"`
	LeaveRoom   *RoomRequest `json:"room.leave,omitempty"`
	AddReaction *AddReaction `json:"reaction.add,omitempty"`
	client      *Client      `json:"-"`
}

// Event returns the name of the event carried by the message, or "" when the
// message carries no event or more than one.
func (m *ClientMessage) Event() string {
	var (
		event string
		n     int
	)

	set := func(ok bool, name string) {
		if ok {
			event = name
			n++
		}
	}

	set(m.Login != nil, EventLogin)
	set(m.Send != nil, EventSendMessage)
	set(m.FileUpload != nil, EventFileUpload)
	set(m.TypingStart != nil, EventTypingStart)
	set(m.TypingStop != nil, EventTypingStop)
	set(m.JoinRoom != nil, EventJoinRoom)
	set(m.LeaveRoom != nil, EventLeaveRoom)
	set(m.AddReaction != nil, EventAddReaction)

	if n != 1 {
		return ""
	}
	return event
}

type Login struct {
	Username string `json:"username"`
}

type Recipient struct {
	Username string `json:"username"`
}

type Send struct {
	Content  string     `json:"content"`
	Room     string     `json:"room,omitempty"`
	Receiver *Recipient `json:"receiver,omitempty"`
}

type FileUpload struct {
	FileName string     `json:"fileName"`
	FileType string     `json:"fileType"`
	FileSize int64      `json:"fileSize"`
	Data     string     `json:"data"`
	Room     string     `json:"room,omitempty"`
	Receiver *Recipient `json:"receiver,omitempty"`
}

type Typing struct {
	Room     string     `json:"room,omitempty"`
	Receiver *Recipient `json:"receiver,omitempty"`
}

type RoomRequest struct {
	Room string `json:"room"`
}

type AddReaction struct {
	MessageId string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message.receive,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
}

type Response struct {
	Success      bool   `json:"success"`
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	UserJoined  *PresenceChange `json:"user.joined,omitempty"`
	UserLeft    *PresenceChange `json:"user.left,omitempty"`
	RoomUsers   *RoomUsers      `json:"room.users,omitempty"`
	TypingStart *TypingNotice   `json:"typing.start,omitempty"`
	TypingStop  *TypingNotice   `json:"typing.stop,omitempty"`
}

type PresenceChange struct {
	DisplayName string    `json:"displayName"`
	OnlineCount int       `json:"onlineCount"`
	Timestamp   time.Time `json:"timestamp"`
}

type RoomUsers struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type TypingNotice struct {
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
	Room        string `json:"room,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			Success:      true,
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

// ErrorResponse builds the reply for a failed request. Errors that are not
// chat errors are reported as internal errors without their details.
func ErrorResponse(id int, err error) *ServerMessage {
	resp := &Response{
		ResponseCode: http.StatusInternalServerError,
		Error:        "internal server error",
	}

	var chatErr *Error
	if errors.As(err, &chatErr) {
		resp.ResponseCode = chatErr.Status
		resp.Kind = chatErr.Kind.String()
		if chatErr.Message != "" {
			resp.Error = chatErr.Message
		}
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: resp,
	}
}

func notification(n *Notification) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: n,
	}
}

func messageReceive(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Message: &msg,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
