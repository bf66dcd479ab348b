package session

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/store"
)

type memBackend struct {
	rows map[string][]byte
}

func (m *memBackend) SetSessionCiphertext(_ context.Context, userID string, ct []byte) error {
	if _, ok := m.rows[userID]; !ok {
		return store.ErrNotFound
	}
	m.rows[userID] = ct
	return nil
}

func (m *memBackend) SessionCiphertext(_ context.Context, userID string) ([]byte, error) {
	ct, ok := m.rows[userID]
	if !ok || len(ct) == 0 {
		return nil, store.ErrNotFound
	}
	return ct, nil
}

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestVaultRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{rows: map[string][]byte{"alice": nil}}
	v, err := NewVault(b, testKey)
	require.NoError(t, err)

	_, err = v.Credential(ctx, "alice")
	require.Equal(t, models.ErrCodeSessionMissing, models.CodeOf(err))

	require.NoError(t, v.Put(ctx, "alice", "  AQEDAR-cookie  "))
	require.False(t, bytes.Contains(b.rows["alice"], []byte("AQEDAR-cookie")), "stored in clear")

	got, err := v.Credential(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "AQEDAR-cookie", got)

	require.NoError(t, v.Clear(ctx, "alice"))
	_, err = v.Credential(ctx, "alice")
	require.Equal(t, models.ErrCodeSessionMissing, models.CodeOf(err))
}

func TestVaultRejects(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{rows: map[string][]byte{"alice": nil}}
	v, err := NewVault(b, testKey)
	require.NoError(t, err)

	require.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(v.Put(ctx, "alice", "   ")))
	require.Equal(t, models.ErrCodeNotFound, models.CodeOf(v.Put(ctx, "ghost", "c")))

	_, err = NewVault(b, "abcd")
	require.Error(t, err)
	_, err = NewVault(b, "zz")
	require.Error(t, err)
}

func TestVaultKeyRotation(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{rows: map[string][]byte{"alice": nil}}
	v1, err := NewVault(b, testKey)
	require.NoError(t, err)
	require.NoError(t, v1.Put(ctx, "alice", "cookie"))

	v2, err := NewVault(b, strings.Repeat("ff", 32))
	require.NoError(t, err)
	_, err = v2.Credential(ctx, "alice")
	require.Equal(t, models.ErrCodeSessionMissing, models.CodeOf(err))

	eph, err := NewVault(b, "")
	require.NoError(t, err)
	require.NoError(t, eph.Put(ctx, "alice", "other"))
	got, err := eph.Credential(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "other", got)
}
