package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrMalformedCredential = errors.New("malformed credential")
	ErrCredentialDisabled  = errors.New("credential disabled")
	ErrCredentialExpired   = errors.New("credential expired")
	ErrRequesterDisabled   = errors.New("requester disabled")
)

// Token prefixes disambiguate the two halves of a credential at a glance
// without revealing anything about either.
const (
	keyIDPrefix  = "ck_"
	secretPrefix = "cs_"
)

// DefaultBcryptCost is the hash work factor used when none is configured.
// It is deliberately tunable so the cost can rise as hardware improves.
const DefaultBcryptCost = 10

// Credential is a well-formed "<keyId>.<secret>" pair after strict parsing.
type Credential struct {
	KeyID  string
	Secret string
}

// ParseCredential splits a composite credential string into its typed parts.
// Anything other than exactly two non-empty dot-separated parts is rejected
// with ErrMalformedCredential.
func ParseCredential(s string) (Credential, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Credential{}, ErrMalformedCredential
	}
	return Credential{KeyID: parts[0], Secret: parts[1]}, nil
}

// CredentialStore is the narrow persistence surface the authenticator needs.
// *store.Store satisfies it.
type CredentialStore interface {
	GetAPIKeyByKeyID(ctx context.Context, keyID string) (*model.APIKey, error)
	GetRequester(ctx context.Context, id string) (*model.Requester, error)
	UpdateAPIKeyLastUsed(ctx context.Context, keyID string) error
}

// APIKeyAuthenticator mints and validates service-to-service API key
// credentials. Secrets exist in plaintext only between generation and the
// response that delivers them; storage sees nothing but bcrypt hashes.
type APIKeyAuthenticator struct {
	store  CredentialStore
	logger *slog.Logger
	cost   int
	now    func() time.Time
}

// NewAPIKeyAuthenticator creates an authenticator. cost <= 0 selects
// DefaultBcryptCost.
func NewAPIKeyAuthenticator(store CredentialStore, logger *slog.Logger, cost int) *APIKeyAuthenticator {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	return &APIKeyAuthenticator{
		store:  store,
		logger: logger,
		cost:   cost,
		now:    time.Now,
	}
}

// GenerateKeyPair returns a fresh (keyId, secret) pair. The key ID carries
// 128 bits of randomness, the secret 256. Pure generation: nothing is
// persisted and the secret is never seen again after the caller lets go.
func (a *APIKeyAuthenticator) GenerateKeyPair() (keyID, secret string, err error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	return keyIDPrefix + hex.EncodeToString(idBytes), secretPrefix + hex.EncodeToString(secretBytes), nil
}

// HashSecret returns the bcrypt hash of a secret. Verification via
// VerifySecret is the only supported check; the hash is not invertible.
func (a *APIKeyAuthenticator) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches the stored hash.
func (a *APIKeyAuthenticator) VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// Validate checks a composite "<keyId>.<secret>" credential and returns the
// owning requester. Each check short-circuits: malformed input, unknown key,
// disabled or expired credential, disabled requester, then hash mismatch.
// On success the last-used timestamp is updated in a detached goroutine;
// that update is best-effort and cannot affect the result.
func (a *APIKeyAuthenticator) Validate(ctx context.Context, credentialString string) (*model.Requester, error) {
	cred, err := ParseCredential(credentialString)
	if err != nil {
		return nil, err
	}

	key, err := a.store.GetAPIKeyByKeyID(ctx, cred.KeyID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !key.Enabled {
		return nil, ErrCredentialDisabled
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(a.now()) {
		return nil, ErrCredentialExpired
	}

	requester, err := a.store.GetRequester(ctx, key.RequesterID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !requester.Enabled {
		return nil, ErrRequesterDisabled
	}

	if !a.VerifySecret(key.SecretHash, cred.Secret) {
		return nil, ErrInvalidCredentials
	}

	// Fire-and-forget last-used update. Detached from the request context so
	// a caller disconnect cannot cancel it; failures are observed in the log
	// and nowhere else.
	go func(detached context.Context) {
		if err := a.store.UpdateAPIKeyLastUsed(detached, key.KeyID); err != nil {
			a.logger.Warn("last-used update failed", "key_id", key.KeyID, "error", err)
		}
	}(context.WithoutCancel(ctx))

	return requester, nil
}
