// Package token выпускает и проверяет токены сервера документов.
//
// Access token - JWT (HS256), subject которого равен идентификатору пользователя
// и задаёт корень users/{uid}/ его документов. Refresh token - случайная строка,
// в хранилище попадает только её хеш.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iudanet/docsync/internal/crypto"
)

// Issuer значение claim iss
const Issuer = "docsync"

// ErrInvalidToken возвращается для любого непрошедшего проверку access token
var ErrInvalidToken = errors.New("invalid access token")

// Claims представляет JWT claims access token
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserID возвращает идентификатор пользователя (subject)
func (c *Claims) UserID() string {
	return c.Subject
}

// Config содержит конфигурацию для токенов
type Config struct {
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Manager выпускает и валидирует токены
type Manager struct {
	now func() time.Time
	cfg Config
}

// NewManager создает Manager
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, now: time.Now}
}

// GenerateAccessToken создает новый JWT access token.
// Возвращает токен и время жизни в секундах.
func (m *Manager) GenerateAccessToken(userID, username string) (string, int64, error) {
	now := m.now()

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, int64(m.cfg.AccessTokenTTL.Seconds()), nil
}

// ValidateAccessToken валидирует и парсит JWT access token
func (m *Manager) ValidateAccessToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return m.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GenerateRefreshToken создает новый случайный refresh token и время его истечения
func (m *Manager) GenerateRefreshToken() (string, time.Time, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(tokenBytes), m.now().Add(m.cfg.RefreshTokenTTL), nil
}

// HashRefreshToken возвращает значение, под которым refresh token хранится в БД
func HashRefreshToken(refreshToken string) string {
	return crypto.DigestBytes([]byte(refreshToken))
}
