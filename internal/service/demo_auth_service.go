package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"timecapsule/internal/domain"
	"timecapsule/internal/store"

	"go.uber.org/zap"
)

// On-device keys shared by the identity services
const (
	AnonUserIDKey = "@hip_hop_anon_user_id"
	DemoModeKey   = "@hip_hop_demo_mode"
	DemoUserKey   = "@hip_hop_demo_user"
	SessionKey    = "@hip_hop_session"

	// SessionTokenKey access token of the persisted session
	SessionTokenKey = "@hip_hop_session_token"
)

var (
	ErrDemoUnavailable  = errors.New("demo profiles are not available in this build")
	ErrDemoModeDisabled = errors.New("demo mode is disabled")
)

// DemoAuthService built-in demo profiles for development builds.
// When the build does not allow demo profiles every read reports demo mode
// off and every write fails with ErrDemoUnavailable.
type DemoAuthService struct {
	kv        store.KV
	demoBuild bool
	users     []domain.DemoUser
	logger    *zap.Logger
}

// NewDemoAuthService creates the demo service; profile creation dates are
// stamped once at construction
func NewDemoAuthService(kv store.KV, demoBuild bool, logger *zap.Logger) *DemoAuthService {
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	return &DemoAuthService{
		kv:        kv,
		demoBuild: demoBuild,
		logger:    logger,
		users: []domain.DemoUser{
			{ID: "demo_user_1", Email: "john@example.com", Name: "John Doe", CreatedAt: createdAt},
			{ID: "demo_user_2", Email: "jane@example.com", Name: "Jane Smith", CreatedAt: createdAt},
			{ID: "demo_user_3", Email: "alex@example.com", Name: "Alex Johnson", CreatedAt: createdAt},
		},
	}
}

// Available reports whether the build allows demo profiles
func (s *DemoAuthService) Available() bool {
	return s != nil && s.demoBuild
}

// IsDemoMode reports the persisted flag. An unset flag counts as enabled;
// only the stored value "false" turns demo mode off.
func (s *DemoAuthService) IsDemoMode(ctx context.Context) bool {
	if !s.Available() {
		return false
	}
	mode, err := s.kv.Get(ctx, DemoModeKey)
	if errors.Is(err, store.ErrMiss) {
		return true
	}
	if err != nil {
		s.logger.Warn("Failed to read demo mode flag", zap.Error(err))
		return false
	}
	return mode != "false"
}

func (s *DemoAuthService) EnableDemoMode(ctx context.Context) error {
	return s.setMode(ctx, true)
}

func (s *DemoAuthService) DisableDemoMode(ctx context.Context) error {
	return s.setMode(ctx, false)
}

func (s *DemoAuthService) setMode(ctx context.Context, on bool) error {
	if !s.Available() {
		return ErrDemoUnavailable
	}
	value := "false"
	if on {
		value = "true"
	}
	if err := s.kv.Set(ctx, DemoModeKey, value, 0); err != nil {
		return fmt.Errorf("failed to persist demo mode: %w", err)
	}
	return nil
}

// ToggleDemoMode flips the flag and returns the new state. Turning demo
// mode off also signs the demo profile out.
func (s *DemoAuthService) ToggleDemoMode(ctx context.Context) (bool, error) {
	if !s.Available() {
		return false, ErrDemoUnavailable
	}
	if s.IsDemoMode(ctx) {
		if err := s.DisableDemoMode(ctx); err != nil {
			return true, err
		}
		if err := s.SignOutDemoUser(ctx); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := s.EnableDemoMode(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// SignInWithDemoUser selects the profile with id; an empty or unknown id
// selects the first profile
func (s *DemoAuthService) SignInWithDemoUser(ctx context.Context, id string) (*domain.DemoUser, error) {
	if !s.Available() {
		return nil, ErrDemoUnavailable
	}
	if !s.IsDemoMode(ctx) {
		return nil, ErrDemoModeDisabled
	}

	user := s.users[0]
	for _, u := range s.users {
		if u.ID == id {
			user = u
			break
		}
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("failed to encode demo user: %w", err)
	}
	if err := s.kv.Set(ctx, DemoUserKey, string(raw), 0); err != nil {
		return nil, fmt.Errorf("failed to persist demo user: %w", err)
	}

	s.logger.Info("Signed in with demo user", zap.String("user_id", user.ID), zap.String("email", user.Email))
	return &user, nil
}

// CurrentDemoUser returns the selected profile, or nil when demo mode is off
// or nothing is selected. A record without an id counts as nothing selected.
func (s *DemoAuthService) CurrentDemoUser(ctx context.Context) (*domain.DemoUser, error) {
	if !s.IsDemoMode(ctx) {
		return nil, nil
	}
	raw, err := s.kv.Get(ctx, DemoUserKey)
	if errors.Is(err, store.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read demo user: %w", err)
	}

	var user domain.DemoUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == "" {
		s.logger.Warn("Ignoring malformed demo user record", zap.String("key", DemoUserKey), zap.Error(err))
		return nil, nil
	}
	return &user, nil
}

// SignOutDemoUser clears the selected profile
func (s *DemoAuthService) SignOutDemoUser(ctx context.Context) error {
	if !s.Available() {
		return ErrDemoUnavailable
	}
	if err := s.kv.Delete(ctx, DemoUserKey); err != nil {
		return fmt.Errorf("failed to clear demo user: %w", err)
	}
	s.logger.Info("Demo user signed out")
	return nil
}

// DemoUsers lists the built-in profiles
func (s *DemoAuthService) DemoUsers() []domain.DemoUser {
	out := make([]domain.DemoUser, len(s.users))
	copy(out, s.users)
	return out
}
