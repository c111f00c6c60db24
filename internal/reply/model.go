package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"maaspace/internal/config"
	"maaspace/internal/logger"
	"maaspace/internal/mood"
)

const (
	temperature    float32 = 0.8
	chatMaxTokens          = 500
	diaryMaxTokens         = 300
)

// NewChatModel builds the chat model for a configured provider.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: chatMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

// ModelProvider talks to a chat model in process using Maa's persona.
type ModelProvider struct {
	chatModel model.BaseChatModel
	moods     mood.Table
	log       *logger.Logger
}

// NewModelProvider wraps chatModel. A nil table uses mood.Default.
func NewModelProvider(chatModel model.BaseChatModel, moods mood.Table, log *logger.Logger) *ModelProvider {
	if moods == nil {
		moods = mood.Default
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ModelProvider{chatModel: chatModel, moods: moods, log: log.With("service", "reply")}
}

// Reply answers a chat message. The returned mood is classified from the
// user's message, not from the model output.
func (p *ModelProvider) Reply(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	messages := []*schema.Message{
		schema.SystemMessage(chatSystemPrompt(req.Nickname, req.Mood)),
		schema.UserMessage(req.Message),
	}
	resp, err := p.chatModel.Generate(ctx, messages,
		model.WithTemperature(temperature),
		model.WithMaxTokens(chatMaxTokens),
	)
	if err != nil {
		p.log.Error("chat completion failed", "error", err)
		return nil, fmt.Errorf("generate chat reply: %w", classifyGatewayError(err))
	}
	content := ""
	if resp != nil {
		content = strings.TrimSpace(resp.Content)
	}
	if content == "" {
		content = fallbackChatReply
	}
	return &ChatReply{Reply: content, Mood: p.moods.Classify(req.Message)}, nil
}

// DiaryReply answers a diary entry.
func (p *ModelProvider) DiaryReply(ctx context.Context, req DiaryRequest) (*DiaryReply, error) {
	messages := []*schema.Message{
		schema.SystemMessage(diarySystemPrompt(req.Nickname, req.EntryType)),
		schema.UserMessage(diaryUserPrompt(req.EntryType, req.Content)),
	}
	resp, err := p.chatModel.Generate(ctx, messages,
		model.WithTemperature(temperature),
		model.WithMaxTokens(diaryMaxTokens),
	)
	if err != nil {
		p.log.Error("diary completion failed", "error", err)
		return nil, fmt.Errorf("generate diary reply: %w", classifyGatewayError(err))
	}
	content := ""
	if resp != nil {
		content = strings.TrimSpace(resp.Content)
	}
	if content == "" {
		content = fallbackDiaryReply
	}
	return &DiaryReply{Reply: content}, nil
}

// classifyGatewayError maps quota and billing failures onto sentinels. The
// model SDKs only surface the status code in their error text.
func classifyGatewayError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "402") || strings.Contains(msg, "payment required"):
		return fmt.Errorf("%w: %v", ErrPaymentRequired, err)
	}
	return err
}
