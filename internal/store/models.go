package store

import "time"

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Author is the denormalized slice of a User carried on every returned Message.
type Author struct {
	Username string `json:"username"`
}

type Message struct {
	ID        string    `json:"id"` // Using UUID for external ID
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl"`
	AuthorID  int64     `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
	Author    Author    `json:"author"`
}

// HasImage reports whether the message carries an attached image.
func (m Message) HasImage() bool {
	return m.ImageURL != ""
}
