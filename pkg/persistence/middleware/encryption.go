package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/ports"
)

// envelopeKey marks a checkpoint state as an encrypted envelope.
const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new checkpoints.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.CheckpointStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts checkpoint
// state with AES-GCM before it reaches the backend. The session status
// stays plaintext in the envelope so monitoring tools keep working; the
// estimation content does not.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &encryptionMiddleware{next: next, config: config}
	}
}

func (m *encryptionMiddleware) Append(ctx context.Context, sessionID, stageName string, state domain.State) (int64, error) {
	plainText, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal state: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt state: %w", err)
	}

	envelope := domain.State{
		envelopeKey:      base64.StdEncoding.EncodeToString(ciphertext),
		domain.KeyStatus: state[domain.KeyStatus],
	}
	return m.next.Append(ctx, sessionID, stageName, envelope)
}

func (m *encryptionMiddleware) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	cp, err := m.next.Latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.open(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (m *encryptionMiddleware) History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	history, err := m.next.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range history {
		if err := m.open(&history[i]); err != nil {
			return nil, err
		}
	}
	return history, nil
}

func (m *encryptionMiddleware) Purge(ctx context.Context, sessionID string) error {
	return m.next.Purge(ctx, sessionID)
}

// open decrypts a checkpoint envelope in place. A checkpoint without an
// envelope fails: once encryption is configured, plaintext checkpoints
// are treated as corruption, not as a migration path.
func (m *encryptionMiddleware) open(cp *domain.Checkpoint) error {
	encryptedStr, ok := cp.State[envelopeKey].(string)
	if !ok {
		return errors.New("checkpoint is missing the encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return fmt.Errorf("failed to decrypt checkpoint %d: %w", cp.Seq, err)
	}

	var state domain.State
	if err := json.Unmarshal(plainText, &state); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted state: %w", err)
	}
	cp.State = state
	return nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
