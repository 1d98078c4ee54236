package kill_switch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu          sync.Mutex
	credentials map[string]string
	attempts    map[string][]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{credentials: map[string]string{}, attempts: map[string][]time.Time{}}
}

func (m *memoryStore) GetCredential(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentials[key], nil
}

func (m *memoryStore) RecordKillSwitchAttempt(attemptType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[attemptType] = append(m.attempts[attemptType], time.Now())
	return nil
}

func (m *memoryStore) GetRecentKillSwitchAttempts(attemptType string, duration time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-duration)
	count := 0
	for _, t := range m.attempts[attemptType] {
		if !t.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) CleanupOldKillSwitchAttempts(olderThan time.Duration) error {
	return nil
}

func Test_KillSwitch(t *testing.T) {
	store := newMemoryStore()
	hashed, err := HashKey("operator-secret")
	require.NoError(t, err)
	store.credentials["pause_api_key"] = hashed

	triggered := 0
	ks := New(Config{Action: "pause", CredentialKey: "pause_api_key"}, store, func() error {
		triggered++
		return nil
	})

	var tests = []struct {
		name      string
		key       string
		wantErr   error
		remaining int
		triggered bool
	}{
		{name: "missing key", key: "", wantErr: ErrUnauthorized},
		{name: "wrong key", key: "guess", wantErr: ErrUnauthorized},
		{name: "first", key: "operator-secret", remaining: 2},
		{name: "second", key: "operator-secret", remaining: 1},
		{name: "third triggers", key: "operator-secret", triggered: true},
	}

	// order matters: attempts accumulate
	for _, tt := range tests {
		res, err := ks.RegisterRequest(tt.key)
		if tt.wantErr != nil {
			require.ErrorIs(t, err, tt.wantErr, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.remaining, res.Remaining, tt.name)
		assert.Equal(t, tt.triggered, res.Triggered, tt.name)
	}
	assert.Equal(t, 1, triggered)
	assert.Equal(t, time.Minute, ks.Window())
}

func Test_KillSwitchWithoutStoredKey(t *testing.T) {
	ks := New(Config{Action: "resume", CredentialKey: "resume_api_key"}, newMemoryStore(), func() error { return nil })
	_, err := ks.RegisterRequest("anything")
	require.ErrorIs(t, err, ErrUnauthorized)
}
