package domain

import "time"

// Notification is one user-targeted inbox item. The pipeline creates it once;
// afterwards only mark-read operations scoped to the owner change it.
type Notification struct {
	ID        string
	UserID    string
	Content   string
	Read      bool
	DedupeKey string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotificationPage is one page of a user's inbox, newest first.
type NotificationPage struct {
	Notifications []*Notification
	Total         int
	Page          int
	Size          int
}
