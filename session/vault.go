// Package session keeps each user's target-site session credential,
// encrypted at rest with NaCl secretbox.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/store"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Backend is the ciphertext storage the vault writes through.
type Backend interface {
	SetSessionCiphertext(ctx context.Context, userID string, ciphertext []byte) error
	SessionCiphertext(ctx context.Context, userID string) ([]byte, error)
}

// Vault encrypts and decrypts session credentials.
type Vault struct {
	backend Backend
	key     [keySize]byte
}

// NewVault builds a vault from a hex-encoded 32-byte key. An empty key
// generates a random one, so stored sessions do not survive a restart.
func NewVault(backend Backend, hexKey string) (*Vault, error) {
	v := &Vault{backend: backend}
	if hexKey == "" {
		if _, err := io.ReadFull(rand.Reader, v.key[:]); err != nil {
			return nil, fmt.Errorf("session: generate key: %w", err)
		}
		slog.Warn("LEADSCOUT_SESSION_KEY not set, using an ephemeral session key")
		return v, nil
	}
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("session: decode key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("session: key must be %d bytes, got %d", keySize, len(raw))
	}
	copy(v.key[:], raw)
	return v, nil
}

// Put encrypts and stores the user's credential, replacing any previous one.
func (v *Vault) Put(ctx context.Context, userID, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "session cookie is empty", nil)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("session: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(credential), &nonce, &v.key)

	if err := v.backend.SetSessionCiphertext(ctx, userID, sealed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.NewScrapeError(models.ErrCodeNotFound, "unknown user", err)
		}
		return err
	}
	slog.Info("session stored", "user_id", userID)
	return nil
}

// Clear removes the user's credential.
func (v *Vault) Clear(ctx context.Context, userID string) error {
	err := v.backend.SetSessionCiphertext(ctx, userID, nil)
	if errors.Is(err, store.ErrNotFound) {
		return models.NewScrapeError(models.ErrCodeNotFound, "unknown user", err)
	}
	return err
}

// Credential returns the user's decrypted credential. A user without one,
// or whose ciphertext no longer opens under the current key, gets
// SESSION_MISSING.
func (v *Vault) Credential(ctx context.Context, userID string) (string, error) {
	sealed, err := v.backend.SessionCiphertext(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", models.NewScrapeError(models.ErrCodeSessionMissing,
			"no session cookie stored for this user", nil)
	}
	if err != nil {
		return "", err
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", models.NewScrapeError(models.ErrCodeSessionMissing, "stored session is corrupt", nil)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return "", models.NewScrapeError(models.ErrCodeSessionMissing,
			"stored session cannot be decrypted, store it again", nil)
	}
	return string(plain), nil
}
