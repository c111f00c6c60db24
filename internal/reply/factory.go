package reply

import (
	"context"
	"fmt"
	"time"

	"maaspace/internal/config"
	"maaspace/internal/logger"
	"maaspace/internal/mood"
)

// New selects the provider described by cfg.Reply.
func New(ctx context.Context, cfg *config.Config, moods mood.Table, log *logger.Logger) (Provider, error) {
	timeout := time.Duration(cfg.BasicConfig.ReplyTimeout) * time.Second
	switch cfg.Reply.Kind {
	case "remote":
		if cfg.Reply.RemoteURL == "" {
			return nil, fmt.Errorf("reply.remote_url required for remote replies")
		}
		return NewRemoteProvider(cfg.Reply.RemoteURL, cfg.Reply.RemoteKey, timeout, nil), nil
	case "model", "":
		provCfg, ok := cfg.Providers[cfg.Reply.Provider]
		if !ok {
			return nil, fmt.Errorf("provider %s not configured", cfg.Reply.Provider)
		}
		chatModel, err := NewChatModel(ctx, cfg.Reply.Provider, provCfg)
		if err != nil {
			return nil, err
		}
		return NewModelProvider(chatModel, moods, log), nil
	default:
		return nil, fmt.Errorf("unknown reply kind: %s", cfg.Reply.Kind)
	}
}
