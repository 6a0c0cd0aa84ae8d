package database

import "time"

type User struct {
	Id        string    `bson:"_id"`
	Username  string    `bson:"username"`
	Online    bool      `bson:"online"`
	LastSeen  time.Time `bson:"lastSeen"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type Participant struct {
	Username string `bson:"username" json:"username"`
	UserId   string `bson:"userId,omitempty" json:"userId,omitempty"`
}

type FileData struct {
	FileName string `bson:"fileName"`
	FileType string `bson:"fileType"`
	FileSize int64  `bson:"fileSize"`
	Data     string `bson:"data"`
}

type Reaction struct {
	Emoji    string `bson:"emoji" json:"emoji"`
	UserId   string `bson:"userId" json:"userId"`
	Username string `bson:"username" json:"username"`
}

type Message struct {
	Id          string       `bson:"_id"`
	Content     string       `bson:"content"`
	Sender      Participant  `bson:"sender"`
	Receiver    *Participant `bson:"receiver,omitempty"`
	Room        string       `bson:"room"`
	MessageType string       `bson:"messageType"`
	FileData    *FileData    `bson:"fileData,omitempty"`
	Reactions   []Reaction   `bson:"reactions"`
	IsDeleted   bool         `bson:"isDeleted"`
	CreatedAt   time.Time    `bson:"createdAt"`
	UpdatedAt   time.Time    `bson:"updatedAt"`
}

// MessageQuery selects non-deleted messages posted to Room or sent by or to
// Participant, newest first up to Limit, then returned oldest first.
type MessageQuery struct {
	Room        string
	Participant string
	Before      time.Time
	Limit       int
}

const defaultHistoryLimit = 50

func (q MessageQuery) normalize() MessageQuery {
	if q.Limit <= 0 {
		q.Limit = defaultHistoryLimit
	}

	if q.Before.IsZero() {
		q.Before = time.Now().UTC().Add(time.Second)
	}

	return q
}
