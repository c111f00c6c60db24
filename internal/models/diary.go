package models

import "time"

type EntryType string

const (
	EntryDiary     EntryType = "diary"
	EntryBestPart  EntryType = "best_part"
	EntryWorstPart EntryType = "worst_part"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDiary, EntryBestPart, EntryWorstPart:
		return true
	}
	return false
}

type DiaryEntry struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	EntryType         EntryType `json:"entry_type"`
	Content           string    `json:"content"`
	EntryDate         string    `json:"entry_date"`
	MaaReply          *string   `json:"maa_reply"`
	MaaReplyRequested bool      `json:"maa_reply_requested"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Task struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	TaskDate      string    `json:"task_date"`
	ScheduledTime *string   `json:"scheduled_time"`
	IsCompleted   bool      `json:"is_completed"`
	CreatedAt     time.Time `json:"created_at"`
}

type Prayer struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"prayer_content"`
	CreatedAt time.Time `json:"created_at"`
}
