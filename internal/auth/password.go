package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost is the default bcrypt cost factor
	DefaultBcryptCost = 12

	// MinPasswordLength is the minimum password length
	MinPasswordLength = 8

	// bcrypt ignores everything past 72 bytes
	MaxPasswordLength = 72
)

// ErrInvalidCredentials is returned for an unknown operator or a wrong password
var ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid operator or password"}

// HashPassword hashes a password using bcrypt
func HashPassword(password string, cost int) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return "", fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	if cost < bcrypt.MinCost {
		cost = DefaultBcryptCost
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// Account is an operator allowed to log in with a password
type Account struct {
	Operator     string
	Role         string
	PasswordHash string
}

// Accounts maps operator name to account
type Accounts map[string]Account

// ParseAccounts reads "name:role:bcrypt-hash" entries separated by commas.
// bcrypt hashes never contain ':' or ','.
func ParseAccounts(s string) (Accounts, error) {
	accounts := make(Accounts)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("malformed account entry %q", entry)
		}
		if !ValidRole(parts[1]) {
			return nil, fmt.Errorf("account %s: %w", parts[0], ErrInvalidRole)
		}
		if _, err := bcrypt.Cost([]byte(parts[2])); err != nil {
			return nil, fmt.Errorf("account %s: bad password hash: %w", parts[0], err)
		}
		if _, dup := accounts[parts[0]]; dup {
			return nil, fmt.Errorf("duplicate account %s", parts[0])
		}
		accounts[parts[0]] = Account{Operator: parts[0], Role: parts[1], PasswordHash: parts[2]}
	}
	return accounts, nil
}

// Authenticate checks the password and returns the claims to sign
func (a Accounts) Authenticate(operator, password string) (OperatorClaims, error) {
	acc, ok := a[operator]
	if !ok || len(password) > MaxPasswordLength {
		return OperatorClaims{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return OperatorClaims{}, ErrInvalidCredentials
	}
	return OperatorClaims{Operator: acc.Operator, Role: acc.Role}, nil
}
