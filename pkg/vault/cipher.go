package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hutchhq/hutch/pkg/data"
)

// DefaultKeyEnv is the environment variable holding the master key
// passphrase for cipher vaults without an explicit keyEnv property.
const DefaultKeyEnv = "HUTCH_VAULT_KEY"

// CipherVault stores secrets encrypted with AES-256-GCM. The
// ciphertexts are safe to keep in storage objects; the master key is
// derived from a passphrase supplied through the environment.
type CipherVault struct {
	id  string
	key []byte

	mu     sync.RWMutex
	values map[string]string
}

// NewCipherVault creates a cipher vault with a key derived from the
// passphrase via SHA-256. The values dictionary maps keys to base64
// ciphertexts and may be nil for an empty vault.
func NewCipherVault(id, passphrase string, values *data.Dict) (*CipherVault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("failed to create vault %s: empty passphrase", id)
	}
	key := sha256.Sum256([]byte(passphrase))
	v := &CipherVault{
		id:     id,
		key:    key[:],
		values: make(map[string]string),
	}
	if values != nil {
		for _, k := range values.Keys() {
			v.values[k] = values.GetString(k, "")
		}
	}
	return v, nil
}

// NewCipherVaultFromDict creates a cipher vault from its stored
// configuration. The passphrase is read from the environment variable
// named by the keyEnv property and the encrypted values from the data
// property.
func NewCipherVaultFromDict(id string, d *data.Dict) (*CipherVault, error) {
	keyEnv := d.GetString("keyEnv", DefaultKeyEnv)
	passphrase := os.Getenv(keyEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("failed to create vault %s: %s not set", id, keyEnv)
	}
	return NewCipherVault(id, passphrase, d.GetDict("data"))
}

// ID returns the vault identifier.
func (v *CipherVault) ID() string {
	return v.id
}

// Lookup decrypts the value stored under key. Undecryptable values
// are treated as missing.
func (v *CipherVault) Lookup(key string) (string, bool) {
	v.mu.RLock()
	encrypted, ok := v.values[key]
	v.mu.RUnlock()
	if !ok || encrypted == "" {
		return "", false
	}
	plaintext, err := v.Decrypt(encrypted)
	if err != nil {
		return "", false
	}
	return plaintext, true
}

// Set encrypts and stores a value under key.
func (v *CipherVault) Set(key, plaintext string) error {
	encrypted, err := v.Encrypt(plaintext)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.values[key] = encrypted
	v.mu.Unlock()
	return nil
}

// Values returns the encrypted key-value pairs for persistence.
func (v *CipherVault) Values() *data.Dict {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := data.NewDict()
	for k, enc := range v.values {
		out.Set(k, enc)
	}
	return out
}

// Encrypt seals a plaintext with AES-256-GCM and returns the base64
// encoded result with the nonce prepended.
func (v *CipherVault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("cannot encrypt empty value")
	}
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (v *CipherVault) Decrypt(encrypted string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (v *CipherVault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
