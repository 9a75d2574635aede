package ragent

import "time"

// Session represents a conversation.
type Session struct {
	ID       string
	Title    string
	LastTime time.Time
	Messages []Message
}

// Clone returns a copy of s whose Messages slice is not shared.
func (s Session) Clone() Session {
	if s.Messages != nil {
		s.Messages = append([]Message(nil), s.Messages...)
	}
	return s
}

// User is the account returned by a successful login.
type User struct {
	ID       string
	Username string
	Avatar   string
	Token    string
}
