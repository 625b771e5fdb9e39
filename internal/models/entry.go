package models

import "time"

// Entry is one holder's ticket in a queue. Position is assigned once at join
// time and never changes.
type Entry struct {
	EntryID       string     `json:"entry_id"`
	QueueID       string     `json:"queue_id"`
	HolderName    string     `json:"holder_name"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	Position      int        `json:"position"`
	Status        string     `json:"status"`
	EstimatedWait int        `json:"estimated_wait"`
	Notes         string     `json:"notes,omitempty"`
	JoinedAt      time.Time  `json:"joined_at"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	ServedAt      *time.Time `json:"served_at,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusServed    = "served"
	StatusMissed    = "missed"
	StatusCancelled = "cancelled"
)

// Active reports whether the entry still holds a place in line.
func (e Entry) Active() bool {
	return e.Status == StatusWaiting || e.Status == StatusCalled
}
