package types

import (
	"time"
)

const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

type User struct {
	Id       string    `json:"userId"`
	Username string    `json:"username"`
	Online   bool      `json:"online,omitempty"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// Participant identifies the sender or receiver of a message.
type Participant struct {
	Username string `json:"username"`
	UserId   string `json:"userId,omitempty"`
}

type FileData struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	Data     string `json:"data"`
}

type Reaction struct {
	Emoji    string `json:"emoji"`
	UserId   string `json:"userId"`
	Username string `json:"username"`
}

type Message struct {
	Id          string       `json:"id"`
	Content     string       `json:"content"`
	Sender      Participant  `json:"sender"`
	Receiver    *Participant `json:"receiver,omitempty"`
	Room        string       `json:"room"`
	MessageType string       `json:"messageType"`
	FileData    *FileData    `json:"fileData,omitempty"`
	Reactions   []Reaction   `json:"reactions"`
	IsDeleted   bool         `json:"isDeleted"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// IsPrivate reports whether the message is addressed to a single receiver.
func (m Message) IsPrivate() bool {
	return m.Receiver != nil && m.Receiver.Username != ""
}
