// Package auth verifies user passwords stored as credentials and issues
// signed login tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/maruel/uds/internal/backend"
	"github.com/maruel/uds/internal/uds"
	"golang.org/x/crypto/bcrypt"
)

// KindPassword is the "kind" of a password credential.
const KindPassword = "password"

var (
	// ErrInvalidCredentials is returned for an unknown user or a wrong
	// password. The two are not distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrThrottled is returned when a username exceeded its login attempts.
	ErrThrottled = errors.New("too many login attempts")
	// ErrInvalidToken is returned for a token that is malformed, expired or
	// not signed by this authenticator.
	ErrInvalidToken = errors.New("invalid token")
)

// passwordCost is the bcrypt cost of new password hashes.
var passwordCost = bcrypt.DefaultCost

// dummyHash is compared against when no stored hash was, so that unknown
// users and users without a password take as long as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("uds"), bcrypt.DefaultCost)

var compareHash = bcrypt.CompareHashAndPassword

// SetPassword turns c into a password credential for password.
func SetPassword(c *uds.Credential, password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", uds.ErrInvalidArgument)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := c.Set("kind", KindPassword); err != nil {
		return err
	}
	return c.Set("secret", string(hash))
}

// Options configures New.
type Options struct {
	// Secret signs the tokens.
	Secret string
	// TTL is the token lifetime. Defaults to 24h.
	TTL time.Duration
	// Attempts per Window are allowed per username, with Burst capacity.
	Attempts int
	Window   time.Duration
	Burst    int
}

// Claims are the claims of a login token. The subject is the user
// identifier.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator logs users in against a Store.
type Authenticator struct {
	store    *uds.Store
	log      *slog.Logger
	secret   []byte
	ttl      time.Duration
	throttle *throttle
}

// New returns an Authenticator. Close it to stop its background cleanup.
func New(store *uds.Store, opts Options, logger *slog.Logger) (*Authenticator, error) {
	if opts.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.Attempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:    store,
		log:      logger,
		secret:   []byte(opts.Secret),
		ttl:      opts.TTL,
		throttle: newThrottle(opts.Attempts, opts.Window, opts.Burst),
	}, nil
}

// Close stops the throttle cleanup.
func (a *Authenticator) Close() {
	a.throttle.close()
}

// Login checks password against the password credentials of username and
// returns a signed token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *uds.User, error) {
	if ok, wait := a.throttle.allow(username); !ok {
		a.log.WarnContext(ctx, "Login throttled", "username", username, "retry_after", wait)
		return "", nil, fmt.Errorf("%w: retry in %s", ErrThrottled, wait.Round(time.Second))
	}
	users, err := a.store.FindUsers(ctx, backend.Document{uds.FieldUsername: username})
	if err != nil {
		return "", nil, err
	}
	if len(users) == 0 {
		_ = compareHash(dummyHash, []byte(password))
		return "", nil, ErrInvalidCredentials
	}
	u := users[0]
	creds, err := a.store.FindCredentials(ctx, backend.Document{uds.FieldUsername: username, "kind": KindPassword})
	if err != nil {
		return "", nil, err
	}
	var match *uds.Credential
	compared := false
	for _, c := range creds {
		v, err := c.Get("secret")
		if err != nil {
			continue
		}
		hash, ok := v.(string)
		if !ok {
			continue
		}
		compared = true
		if compareHash([]byte(hash), []byte(password)) == nil {
			match = c
			break
		}
	}
	if !compared {
		_ = compareHash(dummyHash, []byte(password))
	}
	if match == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := match.Set("last_used", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", nil, err
	}
	if _, err := match.Commit(ctx); err != nil {
		a.log.WarnContext(ctx, "Failed to record credential use", "username", username, "err", err)
	}
	token, err := a.issue(u)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

func (a *Authenticator) issue(u *uds.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: u.Username(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}

// Verify checks token and returns the user it was issued to. A token whose
// user was deleted or renamed since is rejected.
func (a *Authenticator) Verify(ctx context.Context, token string) (*uds.User, *Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	users, err := a.store.FindUsers(ctx, backend.Document{uds.IDField: claims.Subject, uds.FieldUsername: claims.Username})
	if err != nil {
		return nil, nil, err
	}
	if len(users) == 0 {
		return nil, nil, ErrInvalidCredentials
	}
	return users[0], claims, nil
}
