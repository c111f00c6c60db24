package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"maaspace/internal/mood"
)

// RemoteProvider calls hosted mummy-chat and maa-diary-reply functions.
type RemoteProvider struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewRemoteProvider targets baseURL. client may be nil.
func NewRemoteProvider(baseURL, apiKey string, timeout time.Duration, client *http.Client) *RemoteProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client:  client,
	}
}

type remoteChatReply struct {
	Reply string `json:"reply"`
	Mood  string `json:"mood"`
}

func (p *RemoteProvider) Reply(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	req.Nickname = nicknameOrDefault(req.Nickname)
	var out remoteChatReply
	if err := p.post(ctx, "/mummy-chat", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Reply) == "" {
		return nil, fmt.Errorf("mummy-chat: %w", ErrEmptyReply)
	}
	return &ChatReply{Reply: out.Reply, Mood: mood.Parse(out.Mood)}, nil
}

func (p *RemoteProvider) DiaryReply(ctx context.Context, req DiaryRequest) (*DiaryReply, error) {
	req.Nickname = nicknameOrDefault(req.Nickname)
	var out DiaryReply
	if err := p.post(ctx, "/maa-diary-reply", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Reply) == "" {
		return nil, fmt.Errorf("maa-diary-reply: %w", ErrEmptyReply)
	}
	return &out, nil
}

func (p *RemoteProvider) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("call %s: %w", path, ErrRateLimited)
	case resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("call %s: %w", path, ErrPaymentRequired)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
