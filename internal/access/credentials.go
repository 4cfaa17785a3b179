package access

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"

	"github.com/elys-network/pegvault/internal/types"
)

// Credential binds an API token to the account it acts for. Only the hex SHA-256 of the token is configured.
type Credential struct {
	Account     string `yaml:"account"`
	TokenSHA256 string `yaml:"token_sha256"`
}

// Authenticator resolves API tokens to accounts.
type Authenticator struct {
	accounts map[[sha256.Size]byte]string
}

// NewAuthenticator indexes creds. Every account and every token hash must be unique.
func NewAuthenticator(creds []Credential) (*Authenticator, error) {
	a := &Authenticator{accounts: make(map[[sha256.Size]byte]string, len(creds))}
	seen := make(map[string]bool, len(creds))
	for i, c := range creds {
		if c.Account == "" {
			return nil, fmt.Errorf("credential %d: account is empty", i)
		}
		if seen[c.Account] {
			return nil, fmt.Errorf("credential %d: duplicate account %s", i, c.Account)
		}
		raw, err := hex.DecodeString(strings.TrimSpace(c.TokenSHA256))
		if err != nil || len(raw) != sha256.Size {
			return nil, fmt.Errorf("credential %d (%s): token_sha256 must be %d hex bytes", i, c.Account, sha256.Size)
		}
		var key [sha256.Size]byte
		copy(key[:], raw)
		if _, dup := a.accounts[key]; dup {
			return nil, fmt.Errorf("credential %d (%s): token is already bound to another account", i, c.Account)
		}
		a.accounts[key] = c.Account
		seen[c.Account] = true
	}
	return a, nil
}

// Authenticate returns the account token acts for, or ErrUnauthorized.
func (a *Authenticator) Authenticate(token string) (string, error) {
	if token == "" {
		return "", errorsmod.Wrap(types.ErrUnauthorized, "missing API token")
	}
	account, ok := a.accounts[sha256.Sum256([]byte(token))]
	if !ok {
		return "", errorsmod.Wrap(types.ErrUnauthorized, "unknown API token")
	}
	return account, nil
}

// HashToken returns the value to configure as TokenSHA256 for token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
