// Package secrets resolves secret references used in loop configurations,
// typically inside API trigger header values. A reference takes one of
// three forms, checked in this order:
//
//	vault:NAME    — encrypted vault (.loopclaw.vault, AES-256-GCM + Argon2id)
//	keyring:NAME  — OS keyring (Secret Service / Keychain / Credential Manager)
//	${NAME}       — process environment (optionally loaded from .env)
//
// Anything else passes through verbatim, so plain header values keep
// working without ceremony.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "loopclaw"

	vaultPrefix   = "vault:"
	keyringPrefix = "keyring:"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns empty string
// when not found.
func GetKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(name string) error {
	return keyring.Delete(keyringService, name)
}

// KeyringAvailable checks whether the OS keyring is usable by doing a
// write+delete cycle with a throwaway key.
func KeyringAvailable() bool {
	testKey := "__loopclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// LoadDotenv loads .env into the process environment when present. Missing
// files are not an error.
func LoadDotenv() {
	_ = godotenv.Load()
}

// Resolver expands secret references against the vault, the OS keyring, and
// the environment. The zero-value-free constructor is NewResolver.
type Resolver struct {
	vault  *Vault
	logger *slog.Logger
}

// NewResolver creates a resolver. vault may be nil when no vault file
// exists or it could not be unlocked; vault: references then fail.
func NewResolver(vault *Vault, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{vault: vault, logger: logger.With("component", "secrets")}
}

// OpenVault unlocks the default vault if one exists, trying the
// LOOPCLAW_VAULT_PASSWORD environment variable first and falling back to an
// interactive prompt when stdin is a terminal. Returns nil (no error) when
// no vault file exists.
func OpenVault(logger *slog.Logger) (*Vault, error) {
	v := NewVault(VaultFile)
	if !v.Exists() {
		return nil, nil
	}

	if pass := os.Getenv("LOOPCLAW_VAULT_PASSWORD"); pass != "" {
		if err := v.Unlock(pass); err != nil {
			return nil, fmt.Errorf("unlocking vault with LOOPCLAW_VAULT_PASSWORD: %w", err)
		}
		logger.Info("vault unlocked via LOOPCLAW_VAULT_PASSWORD")
		return v, nil
	}

	pass, err := ReadPassword("Vault password: ")
	if err != nil {
		return nil, fmt.Errorf("reading vault password: %w", err)
	}
	if err := v.Unlock(pass); err != nil {
		return nil, fmt.Errorf("unlocking vault: %w", err)
	}
	return v, nil
}

// Resolve expands a single reference. Unresolvable references are errors:
// a loop must not silently poll with an empty Authorization header.
func (r *Resolver) Resolve(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, vaultPrefix):
		name := strings.TrimPrefix(value, vaultPrefix)
		if r.vault == nil {
			return "", fmt.Errorf("secret %q requires a vault but none is unlocked", name)
		}
		val, err := r.vault.Get(name)
		if err != nil {
			return "", err
		}
		if val == "" {
			return "", fmt.Errorf("secret %q not found in vault", name)
		}
		return val, nil

	case strings.HasPrefix(value, keyringPrefix):
		name := strings.TrimPrefix(value, keyringPrefix)
		val := GetKeyring(name)
		if val == "" {
			return "", fmt.Errorf("secret %q not found in OS keyring", name)
		}
		return val, nil

	case isEnvReference(value):
		name := value[2 : len(value)-1]
		val := os.Getenv(name)
		if val == "" {
			return "", fmt.Errorf("environment variable %q is not set", name)
		}
		return val, nil
	}
	return value, nil
}

// isEnvReference reports whether the whole value is a ${NAME} reference.
func isEnvReference(value string) bool {
	return strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") && len(value) > 3
}
