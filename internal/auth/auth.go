// Package auth implements account registration and token-based sessions.
// Passwords are stored as bcrypt hashes; wallet addresses are bech32 strings
// under the jefe1 prefix. Each account holds at most one live session token.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/bcrypt"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

// addressHRP is the human-readable prefix of wallet addresses.
const addressHRP = "jefe"

var usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{3,32}$`)

// Service handles registration, login, and token authentication.
type Service struct {
	accounts   store.AccountStore
	sessions   store.SessionStore
	logger     *log.Logger
	bcryptCost int
	sessionTTL time.Duration
}

// NewService creates an auth service.
func NewService(accounts store.AccountStore, sessions store.SessionStore, logger *log.Logger, bcryptCost int, sessionTTL time.Duration) *Service {
	return &Service{
		accounts:   accounts,
		sessions:   sessions,
		logger:     logger.WithComponent("auth"),
		bcryptCost: bcryptCost,
		sessionTTL: sessionTTL,
	}
}

// Register creates a new account with a zero balance and a fresh wallet
// address.
func (s *Service) Register(ctx context.Context, username, password string) (*store.Account, error) {
	if !usernamePattern.MatchString(username) {
		return nil, errors.New(errors.ErrorTypeValidation, "auth_register",
			"username must be 3-32 characters of a-z, 0-9, underscore, or hyphen")
	}
	if len(password) < 6 {
		return nil, errors.New(errors.ErrorTypeValidation, "auth_register",
			"password must be at least 6 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "auth_register", "failed to hash password")
	}

	address, err := NewAddress()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "auth_register", "failed to generate address")
	}

	acct := &store.Account{
		Name:           username,
		Address:        address,
		HashedPassword: string(hashed),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.accounts.CreateAccount(ctx, acct); err != nil {
		if err == store.ErrAlreadyExists {
			return nil, errors.New(errors.ErrorTypeConflict, "auth_register", "username already taken").
				WithContext("username", username)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "auth_register", "failed to create account")
	}

	s.logger.WithAccount(username).Info("account registered", "address", address)
	return acct, nil
}

// Login verifies credentials and issues a session token, invalidating any
// previous token for the account.
func (s *Service) Login(ctx context.Context, username, password string) (string, *store.Account, error) {
	acct, err := s.accounts.GetAccount(ctx, username)
	if err != nil {
		if err == store.ErrNotFound {
			return "", nil, invalidCredentials()
		}
		return "", nil, errors.Wrap(err, errors.ErrorTypeDatabase, "auth_login", "failed to load account")
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.HashedPassword), []byte(password)) != nil {
		return "", nil, invalidCredentials()
	}

	token, err := newToken()
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeInternal, "auth_login", "failed to generate token")
	}
	if err := s.sessions.PutSession(ctx, token, username, s.sessionTTL); err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeDatabase, "auth_login", "failed to store session")
	}

	s.logger.WithAccount(username).Info("session opened")
	return token, acct, nil
}

// Logout invalidates the session token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, token); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "auth_logout", "failed to delete session")
	}
	return nil
}

// Authenticate resolves a bearer token to the account name it belongs to.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New(errors.ErrorTypeAuth, "auth_token", "missing token")
	}
	name, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		if err == store.ErrNotFound {
			return "", errors.New(errors.ErrorTypeAuth, "auth_token", "invalid or expired token")
		}
		return "", errors.Wrap(err, errors.ErrorTypeDatabase, "auth_token", "failed to look up session")
	}
	return name, nil
}

// NewAddress generates a fresh bech32 wallet address under the jefe1 prefix.
func NewAddress() (string, error) {
	payload := make([]byte, 20)
	if _, err := rand.Read(payload); err != nil {
		return "", err
	}
	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(addressHRP, converted)
}

// ValidAddress reports whether address decodes as a jefe1 bech32 address.
func ValidAddress(address string) bool {
	hrp, _, err := bech32.Decode(address)
	return err == nil && hrp == addressHRP
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func invalidCredentials() error {
	return errors.New(errors.ErrorTypeAuth, "auth_login", "invalid username or password")
}
