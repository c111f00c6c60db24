package models

import "time"

// Role marks who authored a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mood is the emotional label attached to assistant turns.
type Mood string

const (
	MoodHappy   Mood = "happy"
	MoodSad     Mood = "sad"
	MoodAngry   Mood = "angry"
	MoodAnxious Mood = "anxious"
	MoodNeutral Mood = "neutral"
)

// ChatMessage is one persisted turn of the conversation with Maa.
type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Mood        *Mood     `json:"mood_detected"`
	IsNightMode *bool     `json:"is_night_mode"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyMessage is the greeting cached for a user and calendar day.
type DailyMessage struct {
	UserID      string    `json:"user_id"`
	MessageDate string    `json:"message_date"`
	Content     string    `json:"message_content"`
	ContextType string    `json:"context_type"`
	CreatedAt   time.Time `json:"created_at"`
}
