package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"maaspace/internal/config"
	"maaspace/internal/logger"
	"maaspace/internal/storage"
)

const redisTokenPrefix = "auth:token:"

const (
	DefaultCookieName     = "maa_session"
	DefaultCSRFCookieName = "maa_csrf"
	DefaultCSRFHeader     = "X-CSRF-Token"
)

// DefaultCSRFExempt lets a cookie session always log out, even when the
// browser lost its CSRF cookie.
var DefaultCSRFExempt = []string{"/api/me/logout"}

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
)

// TokenCache is the read-through cache in front of user_tokens.
// *redis.Client satisfies it, including a nil one.
type TokenCache interface {
	Enabled() bool
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Options configures token lifetime and the cookie session.
type Options struct {
	TokenTTL       time.Duration
	CookieName     string
	CSRFCookieName string
	CSRFHeader     string
	// CSRFExempt lists path prefixes that skip the double-submit check.
	CSRFExempt []string
}

// OptionsFromConfig reads the auth section and the token lifetime.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TokenTTL:       time.Duration(cfg.BasicConfig.TokenTTL) * time.Hour,
		CookieName:     cfg.Auth.CookieName,
		CSRFCookieName: cfg.Auth.CSRFCookieName,
		CSRFHeader:     cfg.Auth.CSRFHeader,
		CSRFExempt:     cfg.Auth.CSRFExempt,
	}
}

func (o *Options) applyDefaults() {
	if o.TokenTTL <= 0 {
		o.TokenTTL = 24 * time.Hour
	}
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.CSRFCookieName == "" {
		o.CSRFCookieName = DefaultCSRFCookieName
	}
	if o.CSRFHeader == "" {
		o.CSRFHeader = DefaultCSRFHeader
	}
	if o.CSRFExempt == nil {
		o.CSRFExempt = DefaultCSRFExempt
	}
}

// Service issues, validates, and revokes user authentication tokens.
type Service struct {
	db    *storage.DB
	cache TokenCache
	opts  Options
	log   *logger.Logger
}

// NewService constructs an auth service. cache may be nil, in which case
// every lookup goes to the database.
func NewService(db *storage.DB, cache TokenCache, opts Options, log *logger.Logger) *Service {
	opts.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		db:    db,
		cache: cache,
		opts:  opts,
		log:   log.With("service", "auth"),
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cache.Enabled()
}

func (s *Service) cacheToken(ctx context.Context, token, userID string, ttl time.Duration) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Set(ctx, redisTokenPrefix+token, userID, ttl); err != nil {
		s.log.Warn("cache token failed", "user_id", userID, "error", err)
	}
}

// IssueToken mints a new random token for the user and persists it.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("invalid user id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.opts.TokenTTL)
	var lastErr error
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, lastErr = s.db.ExecContext(ctx,
			`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, userID, now, expiresAt,
		)
		if lastErr == nil {
			s.cacheToken(ctx, token, userID, s.opts.TokenTTL)
			return token, nil
		}
	}
	return "", fmt.Errorf("issue token: %w", lastErr)
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token exists and has not expired, returning the user id.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", ErrTokenRequired
	}
	if s.cacheEnabled() {
		if userID, err := s.cache.Get(ctx, redisTokenPrefix+authToken); err == nil && userID != "" {
			return userID, nil
		}
	}

	var userID string
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_tokens WHERE token = ?`, authToken,
	).Scan(&userID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
			s.log.Warn("purge expired token failed", "user_id", userID, "error", err)
		}
		return "", ErrTokenExpired
	}
	s.cacheToken(ctx, authToken, userID, remaining)
	return userID, nil
}

// RevokeToken deletes a single token. The row goes first so a concurrent
// lookup cannot put it back into the cache.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return s.evict(ctx, redisTokenPrefix+authToken)
}

// RevokeUserTokens removes all tokens belonging to the user.
func (s *Service) RevokeUserTokens(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	var keys []string
	if s.cacheEnabled() {
		rows, err := s.db.QueryContext(ctx, `SELECT token FROM user_tokens WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("list user tokens: %w", err)
		}
		for rows.Next() {
			var token string
			if err := rows.Scan(&token); err != nil {
				rows.Close()
				return fmt.Errorf("scan user token: %w", err)
			}
			keys = append(keys, redisTokenPrefix+token)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate user tokens: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return s.evict(ctx, keys...)
}

func (s *Service) evict(ctx context.Context, keys ...string) error {
	if len(keys) == 0 || !s.cacheEnabled() {
		return nil
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.log.Error("evict cached tokens failed", "count", len(keys), "error", err)
		return fmt.Errorf("evict cached tokens: %w", err)
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.opts.CookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.opts.CSRFCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.opts.CSRFHeader
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.opts.TokenTTL
}
