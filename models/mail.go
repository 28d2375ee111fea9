package models

import "time"

// Party is one end of a conversation as shown in list views
type Party struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Thread represents a conversation and its messages
type Thread struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Unread       bool      `json:"unread"`
	From         *Party    `json:"from,omitempty"`
	To           *Party    `json:"to,omitempty"`
	Preview      string    `json:"preview"`
	Date         time.Time `json:"date"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"`
}

// Message is a single chat message inside a thread
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Text       string    `json:"text,omitempty"`
	HTML       string    `json:"html,omitempty"`
	Date       time.Time `json:"date"`
	IsOutgoing bool      `json:"isOutgoing"`
	Subject    string    `json:"subject,omitempty"`
}

// HasBody reports whether the message carries text or html content
func (m *Message) HasBody() bool {
	return m.Text != "" || m.HTML != ""
}

// HasParticipant reports whether addr already appears in the thread
func (t *Thread) HasParticipant(addr string) bool {
	for _, p := range t.Participants {
		if p == addr {
			return true
		}
	}
	return false
}

// AddParticipants appends addresses not yet present, skipping empty ones
func (t *Thread) AddParticipants(addrs ...string) {
	for _, addr := range addrs {
		if addr == "" || t.HasParticipant(addr) {
			continue
		}
		t.Participants = append(t.Participants, addr)
	}
}
