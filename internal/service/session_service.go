package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"timecapsule/internal/domain"
	"timecapsule/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrAuthNotConfigured = errors.New("session sign-in is not configured (AUTH_JWT_SECRET unset)")
	ErrInvalidToken      = errors.New("invalid access token")
)

// accessClaims claims of the hosted auth provider's access token
type accessClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SignInResult session plus the outcome of the anonymous data migration
type SignInResult struct {
	Session   domain.Session  `json:"session"`
	Migration MigrationResult `json:"migration"`
}

// AccessTokenSink receives the signed-in account's access token; an empty
// token means signed out. The REST repository implements it.
type AccessTokenSink interface {
	SetAccessToken(token string)
}

// SessionService authenticated account session persisted on-device
type SessionService struct {
	kv       store.KV
	resolver *IdentityResolver
	secret   []byte
	tokens   AccessTokenSink
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionService(kv store.KV, resolver *IdentityResolver, jwtSecret string, logger *zap.Logger) *SessionService {
	return &SessionService{
		kv:       kv,
		resolver: resolver,
		secret:   []byte(jwtSecret),
		logger:   logger,
		now:      time.Now,
	}
}

// UseAccessTokenSink forwards the session's access token to sink on sign-in,
// sign-out and RestoreAccessToken
func (s *SessionService) UseAccessTokenSink(sink AccessTokenSink) {
	s.tokens = sink
}

func (s *SessionService) forwardToken(token string) {
	if s.tokens != nil {
		s.tokens.SetAccessToken(token)
	}
}

// RestoreAccessToken forwards the stored token of a live session to the sink.
// Expired or missing sessions leave the sink on the anon key.
func (s *SessionService) RestoreAccessToken(ctx context.Context) error {
	if s.tokens == nil {
		return nil
	}
	sess, err := loadSession(ctx, s.kv, s.now(), s.logger)
	if err != nil || sess == nil {
		s.forwardToken("")
		return err
	}
	token, err := s.kv.Get(ctx, SessionTokenKey)
	if errors.Is(err, store.ErrMiss) {
		s.forwardToken("")
		return nil
	}
	if err != nil {
		s.forwardToken("")
		return fmt.Errorf("failed to read session token: %w", err)
	}
	s.forwardToken(token)
	return nil
}

// SignIn verifies an HS256 access token, persists the account session, then
// migrates the anonymous writer's remote rows to the account. A failed
// migration does not fail the sign-in.
func (s *SessionService) SignIn(ctx context.Context, token string) (*SignInResult, error) {
	if len(s.secret) == 0 {
		return nil, ErrAuthNotConfigured
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	sess := domain.Session{UserID: claims.Subject, Email: claims.Email}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.kv.Set(ctx, SessionKey, string(raw), 0); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	if err := s.kv.Set(ctx, SessionTokenKey, token, 0); err != nil {
		s.logger.Warn("Failed to persist session token", zap.Error(err))
	}
	// migration runs under the account's token
	s.forwardToken(token)
	s.logger.Info("Signed in", zap.String("user_id", sess.UserID))

	migration := s.resolver.MigrateAnonymousData(ctx)
	return &SignInResult{Session: sess, Migration: migration}, nil
}

// SignOut removes the account session
func (s *SessionService) SignOut(ctx context.Context) error {
	if err := s.kv.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if err := s.kv.Delete(ctx, SessionTokenKey); err != nil {
		s.logger.Warn("Failed to clear session token", zap.Error(err))
	}
	s.forwardToken("")
	s.logger.Info("Signed out")
	return nil
}

// CurrentSession returns the unexpired session, or nil
func (s *SessionService) CurrentSession(ctx context.Context) (*domain.Session, error) {
	return loadSession(ctx, s.kv, s.now(), s.logger)
}

// CurrentUser demo profile or account, nil for anonymous writers
func (s *SessionService) CurrentUser(ctx context.Context) *domain.User {
	return s.resolver.CurrentUser(ctx)
}

// IsAuthenticated true for a selected demo profile or a live session
func (s *SessionService) IsAuthenticated(ctx context.Context) bool {
	return s.resolver.CurrentUser(ctx) != nil
}

// loadSession reads the persisted session. Expired and malformed records
// read as no session.
func loadSession(ctx context.Context, kv store.KV, now time.Time, logger *zap.Logger) (*domain.Session, error) {
	raw, err := kv.Get(ctx, SessionKey)
	if errors.Is(err, store.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.UserID == "" {
		logger.Warn("Ignoring malformed session record", zap.Error(err))
		return nil, nil
	}
	if sess.Expired(now) {
		return nil, nil
	}
	return &sess, nil
}
