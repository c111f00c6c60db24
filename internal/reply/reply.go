// Package reply produces Maa's answers to chat turns and diary entries.
package reply

import (
	"context"
	"errors"

	"maaspace/internal/models"
)

var (
	ErrRateLimited     = errors.New("rate limit exceeded, please try again later")
	ErrPaymentRequired = errors.New("payment required")
	ErrEmptyReply      = errors.New("empty reply")
)

type ChatRequest struct {
	Message  string      `json:"message"`
	Nickname string      `json:"nickname"`
	Mood     models.Mood `json:"mood"`
}

type ChatReply struct {
	Reply string      `json:"reply"`
	Mood  models.Mood `json:"mood"`
}

type DiaryRequest struct {
	EntryType models.EntryType `json:"entryType"`
	Content   string           `json:"content"`
	Nickname  string           `json:"nickname"`
}

type DiaryReply struct {
	Reply string `json:"reply"`
}

// ChatProvider answers a single chat message.
type ChatProvider interface {
	Reply(ctx context.Context, req ChatRequest) (*ChatReply, error)
}

// DiaryProvider answers a diary entry.
type DiaryProvider interface {
	DiaryReply(ctx context.Context, req DiaryRequest) (*DiaryReply, error)
}

// Provider serves both chat and diary replies.
type Provider interface {
	ChatProvider
	DiaryProvider
}

const (
	fallbackChatReply  = "Beta, kuch problem ho gayi. Phir se try karo, meri jaan. 💕"
	fallbackDiaryReply = "Beta, mummy ne padha jo tune likha. Bahut pyaar! 💕"
)

func nicknameOrDefault(nickname string) string {
	if nickname == "" {
		return models.DefaultNickname
	}
	return nickname
}
