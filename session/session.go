// Package session describes the remote sync session the jobs run under:
// whether a usable credential is present and which tenant it belongs to.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ridoystarlord/dbdocsync/config"
	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrNoCredential means no token is configured or it could not be decrypted.
	ErrNoCredential = errors.New("no sync credential")
	// ErrInvalidCiphertext is returned by Open for malformed or tampered tokens.
	ErrInvalidCiphertext = errors.New("invalid credential ciphertext")
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 100_000
)

// Identity is the tenant the remote session acts for.
type Identity struct {
	Tenant  string
	BaseURL string
}

// Session is passed explicitly into the orchestrator and the drain.
type Session interface {
	IsConnected() bool
	CurrentTenant() Identity
}

// Credentialed is a Session that can also hand out its bearer token.
type Credentialed interface {
	Session
	Token() (string, error)
}

// Remote is the session built from the remote.* configuration.
type Remote struct {
	identity Identity
	token    string
}

// FromConfig decrypts cfg.Token with cfg.Secret. A token that fails to
// decrypt is logged and treated as absent; the session then reports
// not connected.
func FromConfig(cfg config.RemoteConfig, log *slog.Logger) *Remote {
	r := &Remote{identity: Identity{Tenant: cfg.Tenant, BaseURL: strings.TrimRight(cfg.BaseURL, "/")}}
	if cfg.Token == "" {
		return r
	}

	token, err := Open(cfg.Token, cfg.Secret)
	if err != nil {
		log.Warn("sync credential could not be decrypted, treating as missing", "tenant", cfg.Tenant, "error", err)
		return r
	}
	r.token = token
	return r
}

func (r *Remote) IsConnected() bool {
	return r.token != "" && r.identity.BaseURL != ""
}

func (r *Remote) CurrentTenant() Identity {
	return r.identity
}

func (r *Remote) Token() (string, error) {
	if r.token == "" {
		return "", ErrNoCredential
	}
	return r.token, nil
}

// Static is a fixed Session, for tests and one-off tooling.
type Static struct {
	Connected bool
	Identity  Identity
	Bearer    string
}

func (s Static) IsConnected() bool       { return s.Connected }
func (s Static) CurrentTenant() Identity { return s.Identity }

func (s Static) Token() (string, error) {
	if s.Bearer == "" {
		return "", ErrNoCredential
	}
	return s.Bearer, nil
}

func deriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, iterations, keySize, sha256.New)
}

// Seal encrypts a bearer token with AES-256-GCM under a key derived from
// secret. The result is base64(salt | nonce | ciphertext).
func Seal(token, secret string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(secret, salt))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := append(salt, nonce...)
	out = gcm.Seal(out, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func Open(sealed, secret string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(data) < saltSize {
		return "", ErrInvalidCiphertext
	}

	salt, rest := data[:saltSize], data[saltSize:]
	gcm, err := newGCM(deriveKey(secret, salt))
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
