package models

import "time"

// FeedbackRecord is a user rating of a completion.
type FeedbackRecord struct {
	ID         int64     `json:"id"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Rating     int       `json:"rating"`
	Correction string    `json:"correction,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentRecord is an ingested knowledge-base document.
type DocumentRecord struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// JournalQueryOpts filters journal listings.
type JournalQueryOpts struct {
	Domain string
	Limit  int
}
