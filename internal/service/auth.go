package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/store"
)

var (
	// ErrInvalidCredentials covers unknown email, deactivated account, and
	// wrong password alike, so login failures can't be used to enumerate
	// accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidKey covers unknown, malformed, and revoked API keys alike.
	// Validation fails closed and never tells the caller which case applied.
	ErrInvalidKey = errors.New("invalid api key")
)

// keyBytes is the entropy of a generated API key secret.
const keyBytes = 32

// prefixLen is "sk_" plus the first 8 hex characters, stored for display.
const prefixLen = 11

// Principal is the resolved identity behind a validated API key: the key
// record itself and the user who owns it, with the user's current quota
// snapshot.
type Principal struct {
	Key  *model.APIKey
	User *model.User
}

// AuthService owns credentials: user registration and login, API key
// issuance, revocation, and validation, and JWT session tokens for the
// account-management surface.
type AuthService struct {
	store      *store.Store
	jwtSecret  []byte
	dailyLimit int
	keyRPM     int
}

// NewAuthService creates an AuthService. dailyLimit and keyRPM are the
// defaults stamped on new users and keys.
func NewAuthService(st *store.Store, jwtSecret string, dailyLimit, keyRPM int) *AuthService {
	return &AuthService{
		store:      st,
		jwtSecret:  []byte(jwtSecret),
		dailyLimit: dailyLimit,
		keyRPM:     keyRPM,
	}
}

// Register creates a new user account. The password is bcrypt-hashed before
// storage; the plaintext is never persisted. Returns store.ErrDuplicate when
// the username or email is already taken, whether by an active or a
// deactivated account.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		IsActive:     true,
		DailyLimit:   s.dailyLimit,
		QuotaDate:    store.Today(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies an email/password pair. bcrypt's comparison is constant
// time, and every failure mode maps to ErrInvalidCredentials. On success the
// last-login timestamp is stamped and a session JWT is issued.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !u.IsActive {
		return nil, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := s.store.UpdateUserLastLogin(ctx, u.ID); err != nil {
		return nil, "", fmt.Errorf("stamp last login: %w", err)
	}

	token, err := s.IssueJWT(ctx, u.ID, u.Email, 24*time.Hour)
	if err != nil {
		return nil, "", fmt.Errorf("issue session token: %w", err)
	}
	return u, token, nil
}

// IssueKey generates a new API key for a user and returns the record along
// with the plaintext secret. The plaintext is shown exactly once; only its
// SHA-256 hash and display prefix are stored.
func (s *AuthService) IssueKey(ctx context.Context, userID int64, name string) (*model.APIKey, string, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	plaintext := "sk_" + hex.EncodeToString(raw)

	key := &model.APIKey{
		UserID:             userID,
		KeyHash:            store.HashAPIKey(plaintext),
		KeyPrefix:          plaintext[:prefixLen],
		Name:               name,
		RateLimitPerMinute: s.keyRPM,
		IsActive:           true,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, plaintext, nil
}

// RevokeKey deactivates one of the user's own active keys. Returns
// store.ErrNotFound when no active key with that id belongs to the user;
// the record itself is retained with revoked_at set.
func (s *AuthService) RevokeKey(ctx context.Context, keyID, userID int64) error {
	return s.store.RevokeAPIKey(ctx, keyID, userID)
}

// ValidateKey checks a presented API key and resolves its principal. The
// lookup is by SHA-256 hash over an indexed column, a single read rather
// than a scan over all stored keys. Any mismatch, revoked key, or
// deactivated owner returns ErrInvalidKey with no further detail.
//
// On success the key's last-used timestamp and cumulative usage counter are
// updated before the principal is returned, so the bookkeeping is durable by
// the time the caller proceeds.
func (s *AuthService) ValidateKey(ctx context.Context, presented string) (*Principal, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, store.HashAPIKey(presented))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}
	if !key.IsActive {
		return nil, ErrInvalidKey
	}

	u, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidKey
	}

	if err := s.store.TouchAPIKey(ctx, key.ID); err != nil {
		return nil, fmt.Errorf("touch api key: %w", err)
	}

	return &Principal{Key: key, User: u}, nil
}

// IssueJWT creates a signed HS256 session token for a user.
func (s *AuthService) IssueJWT(ctx context.Context, userID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "snaplink",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateJWT verifies a bearer token and returns the associated user.
// Expired, malformed, and foreign tokens and deactivated accounts all map
// to ErrInvalidCredentials.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*model.User, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	u, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

type jwtClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
