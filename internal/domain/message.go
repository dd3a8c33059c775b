package domain

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Message is one inbound chat event as seen by the dispatch engine.
type Message struct {
	Room        string
	RoomName    string
	Sender      string
	SenderID    string
	Role        Role
	IsGroupChat bool
	Text        string
	Timestamp   time.Time
}

func NewMessage(room, roomName, sender, text string, isGroupChat bool) *Message {
	return &Message{
		Room:        room,
		RoomName:    roomName,
		Sender:      sender,
		Role:        RoleMember,
		IsGroupChat: isGroupChat,
		Text:        text,
		Timestamp:   time.Now(),
	}
}
