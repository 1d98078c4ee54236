package kill_switch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("invalid API key")

// AttemptStore persists keys and recent attempts so the threshold survives
// restarts and is shared by every replica on the same database.
type AttemptStore interface {
	GetCredential(key string) (string, error)
	RecordKillSwitchAttempt(attemptType string) error
	GetRecentKillSwitchAttempts(attemptType string, duration time.Duration) (int, error)
	CleanupOldKillSwitchAttempts(olderThan time.Duration) error
}

// Config holds the kill switch configuration.
type Config struct {
	Action        string        // attempt type recorded in the store
	CredentialKey string        // store key of the bcrypt hash of the API key
	Threshold     int           // requests within Window needed to trigger
	Window        time.Duration // how far back requests count
	Retention     time.Duration // attempts older than this are removed
}

// Result describes the state after a registered request.
type Result struct {
	Attempts  int
	Remaining int
	Triggered bool
}

type KillSwitch struct {
	cfg     Config
	store   AttemptStore
	trigger func() error
}

// New creates a KillSwitch that calls trigger once Threshold authorised
// requests arrive within Window.
func New(cfg Config, store AttemptStore, trigger func() error) *KillSwitch {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * time.Minute
	}
	return &KillSwitch{cfg: cfg, store: store, trigger: trigger}
}

// HashKey returns the bcrypt hash stored for an API key.
func HashKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// RegisterRequest checks key and records the attempt. When the threshold is
// met the trigger runs.
func (k *KillSwitch) RegisterRequest(key string) (Result, error) {
	if key == "" {
		return Result{}, ErrUnauthorized
	}
	stored, err := k.store.GetCredential(k.cfg.CredentialKey)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get %s: %w", k.cfg.CredentialKey, err)
	}
	if stored == "" || bcrypt.CompareHashAndPassword([]byte(stored), []byte(key)) != nil {
		return Result{}, ErrUnauthorized
	}

	if err := k.store.RecordKillSwitchAttempt(k.cfg.Action); err != nil {
		slog.Error("error recording kill switch attempt", "action", k.cfg.Action, "err", err)
	}
	if err := k.store.CleanupOldKillSwitchAttempts(k.cfg.Retention); err != nil {
		slog.Error("error cleaning up old kill switch attempts", "err", err)
	}

	count, err := k.store.GetRecentKillSwitchAttempts(k.cfg.Action, k.cfg.Window)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check recent attempts: %w", err)
	}

	if count < k.cfg.Threshold {
		return Result{Attempts: count, Remaining: k.cfg.Threshold - count}, nil
	}

	if err := k.trigger(); err != nil {
		return Result{Attempts: count}, fmt.Errorf("failed to %s: %w", k.cfg.Action, err)
	}
	slog.Info("kill switch triggered", "action", k.cfg.Action, "attempts", count)
	return Result{Attempts: count, Triggered: true}, nil
}

// Window returns how far back attempts count.
func (k *KillSwitch) Window() time.Duration {
	return k.cfg.Window
}
