package message

import "time"

// Message is one persisted chat line.
//
// ID is the insertion-order sequence assigned by the store and is the only
// authoritative ordering; it is never sent to clients.
type Message struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
