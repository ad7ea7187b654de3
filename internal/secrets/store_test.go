package secrets

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"actcore/internal/metrics"
	"actcore/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	enc, err := NewEncryptor(key)
	require.NoError(t, err)
	return enc
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := NewStore(filepath.Join(t.TempDir(), "secrets.db"), newTestEncryptor(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func storeValue(t *testing.T, s *Store, value string, sens Sensitivity) *SecretRecord {
	t.Helper()
	rec, err := s.StoreSecret(context.Background(), DetectedSecret{
		OriginalValue: value,
		Pattern:       "api_key",
		Description:   "API Key",
		Sensitivity:   sens,
	}, "msg-1")
	require.NoError(t, err)
	return rec
}

func TestStoreRetrieveDecryptRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := storeValue(t, s, "sk-live-0123456789abcdef", SensitivityHigh)
	assert.NotEqual(t, []byte("sk-live-0123456789abcdef"), rec.EncryptedValue)
	assert.Len(t, rec.Salt, 16)
	assert.Len(t, rec.Nonce, 12)
	assert.Equal(t, s.KeyRef(), rec.KeyRef)

	got, err := s.Retrieve(ctx, rec.ID, "tool-handler", "test", true)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	require.NotNil(t, got.LastAccessed)

	plaintext, ok := s.DecryptSecretValue(got)
	require.True(t, ok)
	assert.Equal(t, "sk-live-0123456789abcdef", plaintext)

	logs, err := s.AccessLogs(ctx, rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, AccessDecrypt, logs[0].Action)
	assert.Equal(t, AccessStore, logs[1].Action)
}

func TestDefaultPolicyAssignment(t *testing.T) {
	s, _ := newTestStore(t)

	tests := []struct {
		sens Sensitivity
		want []types.ActionType
	}{
		{SensitivityCritical, []types.ActionType{}},
		{SensitivityHigh, []types.ActionType{types.ActionTool}},
		{SensitivityMedium, []types.ActionType{types.ActionTool, types.ActionSpeak}},
		{SensitivityLow, []types.ActionType{types.ActionTool, types.ActionSpeak, types.ActionMemorize}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sens), func(t *testing.T) {
			rec := storeValue(t, s, "value-"+string(tt.sens), tt.sens)
			info, err := s.Info(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.AutoDecapsulateFor)
			assert.Equal(t, tt.sens == SensitivityCritical, info.ManualAccessOnly)
		})
	}
}

func TestRetrieve_RateLimitedOnEleventhCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s, clock := newTestStore(t, WithMetrics(m))
	ctx := context.Background()

	rec := storeValue(t, s, "hunter22", SensitivityLow)

	for i := 0; i < 10; i++ {
		_, err := s.Retrieve(ctx, rec.ID, "agent", "test", false)
		require.NoError(t, err, "call %d", i+1)
		clock.Advance(time.Second)
	}

	_, err := s.Retrieve(ctx, rec.ID, "agent", "test", false)
	require.ErrorIs(t, err, ErrRateLimited)

	logs, err := s.AccessLogs(ctx, rec.ID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, AccessView, logs[0].Action)
	assert.False(t, logs[0].Success)
	assert.Equal(t, "rate limit exceeded", logs[0].FailureReason)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SecretsAccess.WithLabelValues("view", "rate_limited")))

	// Storage was not consulted for the denied call
	info, err := s.Info(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, info.AccessCount)

	// Other accessors are unaffected
	_, err = s.Retrieve(ctx, rec.ID, "someone-else", "test", false)
	require.NoError(t, err)

	// The minute window slides
	clock.Advance(time.Minute)
	_, err = s.Retrieve(ctx, rec.ID, "agent", "test", false)
	require.NoError(t, err)
}

func TestRetrieve_HourlyLimit(t *testing.T) {
	s, clock := newTestStore(t, WithRateLimits(100, 3))
	ctx := context.Background()
	rec := storeValue(t, s, "abcdef", SensitivityLow)

	for i := 0; i < 3; i++ {
		_, err := s.Retrieve(ctx, rec.ID, "agent", "", false)
		require.NoError(t, err)
		clock.Advance(5 * time.Minute)
	}
	_, err := s.Retrieve(ctx, rec.ID, "agent", "", false)
	require.ErrorIs(t, err, ErrRateLimited)

	clock.Advance(time.Hour)
	_, err = s.Retrieve(ctx, rec.ID, "agent", "", false)
	require.NoError(t, err)
}

func TestRetrieve_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Retrieve(context.Background(), "missing", "agent", "", true)
	require.ErrorIs(t, err, ErrNotFound)

	_, ok := s.DecryptSecretValue(nil)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	rec := storeValue(t, s, "to-delete", SensitivityMedium)

	deleted, err := s.Delete(ctx, rec.ID, "admin")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, rec.ID, "admin")
	require.NoError(t, err)
	assert.False(t, deleted)

	logs, err := s.AccessLogs(ctx, rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, AccessDelete, logs[0].Action)
	assert.False(t, logs[0].Success)
	assert.True(t, logs[1].Success)
}

func TestList_MetadataNewestFirst(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	first := storeValue(t, s, "one", SensitivityLow)
	clock.Advance(time.Second)
	second := storeValue(t, s, "two", SensitivityHigh)

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	high, err := s.List(ctx, ListFilter{Sensitivity: SensitivityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, second.ID, high[0].ID)

	none, err := s.List(ctx, ListFilter{Pattern: "password"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestList_SubSecondOrdering(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	// .1s then .12s: variable-width fractions would sort ".1Z" after ".12Z".
	clock.Advance(100 * time.Millisecond)
	older := storeValue(t, s, "one", SensitivityLow)
	clock.Advance(20 * time.Millisecond)
	newer := storeValue(t, s, "two", SensitivityLow)

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, older.ID, all[1].ID)
	assert.True(t, all[0].CreatedAt.Equal(clock.Now()))
}

func TestReencryptAll(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	values := map[string]string{}
	for _, v := range []string{"alpha-secret", "beta-secret", "gamma-secret"} {
		rec := storeValue(t, s, v, SensitivityLow)
		values[rec.ID] = v
	}

	newEnc := newTestEncryptor(t)
	require.NoError(t, s.ReencryptAll(ctx, newEnc))
	assert.Equal(t, newEnc.KeyRef(), s.KeyRef())

	for id, want := range values {
		rec, err := s.Retrieve(ctx, id, "rotation-check", "", true)
		require.NoError(t, err)
		assert.Equal(t, newEnc.KeyRef(), rec.KeyRef)
		got, ok := s.DecryptSecretValue(rec)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestReencryptAll_AllOrNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	good := storeValue(t, s, "good-secret", SensitivityLow)
	bad := storeValue(t, s, "bad-secret", SensitivityLow)
	oldRef := s.KeyRef()

	_, err := s.db.Exec(`UPDATE secrets SET encrypted_value = ? WHERE secret_id = ?`, []byte("garbage"), bad.ID)
	require.NoError(t, err)

	err = s.ReencryptAll(ctx, newTestEncryptor(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad.ID)
	assert.Equal(t, oldRef, s.KeyRef())

	rec, err := s.Retrieve(ctx, good.ID, "check", "", true)
	require.NoError(t, err)
	assert.Equal(t, oldRef, rec.KeyRef)
	assert.Equal(t, good.EncryptedValue, rec.EncryptedValue)
	plaintext, ok := s.DecryptSecretValue(rec)
	require.True(t, ok)
	assert.Equal(t, "good-secret", plaintext)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	storeValue(t, s, "a", SensitivityLow)
	storeValue(t, s, "b", SensitivityLow)
	storeValue(t, s, "c", SensitivityCritical)
	_, _ = s.Retrieve(ctx, "missing", "x", "", false)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.BySensitivity[SensitivityLow])
	assert.Equal(t, 4, stats.AccessLogSize)
	assert.Equal(t, 1, stats.FailedAccess)
}

func TestEncryptor(t *testing.T) {
	_, err := NewEncryptor("")
	assert.Error(t, err)
	_, err = NewEncryptor("not-hex")
	assert.Error(t, err)
	_, err = NewEncryptor("abcd")
	assert.Error(t, err)

	enc := newTestEncryptor(t)
	ct1, salt1, nonce1, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	ct2, salt2, _, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2)
	assert.NotEqual(t, salt1, salt2)

	_, err = newTestEncryptor(t).Decrypt(ct1, salt1, nonce1)
	assert.Error(t, err, "a different master key must not decrypt")
}
