// Package auth keeps the client session: credentials exchange with the
// server, token persistence and transparent access token refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/iudanet/docsync/internal/client/storage"
	"github.com/iudanet/docsync/internal/crypto"
	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/internal/validation"
	pkgapi "github.com/iudanet/docsync/pkg/api"
)

// DefaultRefreshMargin access token обновляется заранее, за это время до истечения
const DefaultRefreshMargin = 30 * time.Second

// Session implements the token source of the HTTP client and the user
// identity of the replication engine.
type Session struct {
	api       API
	store     storage.AuthStorage
	logger    *slog.Logger
	now       func() time.Time
	refreshes singleflight.Group
	serverURL string
	margin    time.Duration
	mu        sync.Mutex // сериализует запись сессии
}

// NewSession creates a session bound to serverURL.
func NewSession(store storage.AuthStorage, api API, serverURL string, logger *slog.Logger) *Session {
	return &Session{
		api:       api,
		store:     store,
		logger:    logger,
		now:       time.Now,
		serverURL: serverURL,
		margin:    DefaultRefreshMargin,
	}
}

// Register создает пользователя и сразу открывает сессию
func (s *Session) Register(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	// 1. Генерируем публичную соль
	salt, err := crypto.GenerateSaltBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// 2. Только хеш auth key уходит на сервер
	authKeyHash, err := authKeyHash(password, username, salt)
	if err != nil {
		return nil, err
	}

	resp, err := s.api.Register(ctx, pkgapi.RegisterRequest{
		Username:    username,
		AuthKeyHash: authKeyHash,
		PublicSalt:  salt,
	})
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	s.logger.InfoContext(ctx, "user registered", slog.String("username", username), slog.String("user_id", resp.UserID))

	return s.login(ctx, username, authKeyHash)
}

// Login выполняет аутентификацию и сохраняет сессию
func (s *Session) Login(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if password == "" {
		return nil, errors.New("invalid password: password cannot be empty")
	}

	saltResp, err := s.api.GetSalt(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get salt: %w", err)
	}

	authKeyHash, err := authKeyHash(password, username, saltResp.PublicSalt)
	if err != nil {
		return nil, err
	}
	return s.login(ctx, username, authKeyHash)
}

func (s *Session) login(ctx context.Context, username, authKeyHash string) (*storage.AuthData, error) {
	tokens, err := s.api.Login(ctx, pkgapi.LoginRequest{
		Username:    username,
		AuthKeyHash: authKeyHash,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	auth, err := s.sessionFromTokens(username, tokens)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SaveAuth(ctx, auth); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.InfoContext(ctx, "logged in", slog.String("username", username), slog.String("user_id", auth.UserID))
	return auth, nil
}

// Current returns the stored session or an ErrNotAuthenticated error.
func (s *Session) Current(ctx context.Context) (*storage.AuthData, error) {
	auth, err := s.store.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, syncerr.ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return auth, nil
}

// Token возвращает действующий access token, при необходимости обновляя его.
// Параллельные вызовы разделяют один запрос refresh.
func (s *Session) Token(ctx context.Context) (string, error) {
	auth, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	if s.now().Add(s.margin).Unix() < auth.ExpiresAt {
		return auth.AccessToken, nil
	}
	if auth.RefreshToken == "" {
		return "", fmt.Errorf("%w: access token expired", syncerr.ErrNotAuthenticated)
	}

	refreshed, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh обменивает refresh token на новую пару токенов
func (s *Session) Refresh(ctx context.Context) error {
	_, err := s.refresh(ctx)
	return err
}

func (s *Session) refresh(ctx context.Context) (*storage.AuthData, error) {
	v, err, _ := s.refreshes.Do("refresh", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		auth, err := s.Current(ctx)
		if err != nil {
			return nil, err
		}
		// Пока ждали блокировку, токен мог обновить другой вызов
		if s.now().Add(s.margin).Unix() < auth.ExpiresAt {
			return auth, nil
		}

		tokens, err := s.api.Refresh(ctx, auth.RefreshToken)
		if err != nil {
			s.logger.WarnContext(ctx, "token refresh failed", slog.Any("error", err))
			return nil, fmt.Errorf("failed to refresh token: %w", err)
		}

		next, err := s.sessionFromTokens(auth.Username, tokens)
		if err != nil {
			return nil, err
		}
		if err := s.store.SaveAuth(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to save session: %w", err)
		}
		s.logger.DebugContext(ctx, "access token refreshed", slog.String("user_id", next.UserID))
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*storage.AuthData), nil
}

// UserID returns the subject of the current session.
func (s *Session) UserID(ctx context.Context) (string, error) {
	auth, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	if auth.UserID == "" {
		return "", fmt.Errorf("%w: session has no user id", syncerr.ErrNotAuthenticated)
	}
	return auth.UserID, nil
}

// IsAuthenticated сообщает, можно ли авторизовать запрос (refresh token есть
// или access token еще действует)
func (s *Session) IsAuthenticated(ctx context.Context) (bool, error) {
	auth, err := s.Current(ctx)
	if err != nil {
		if errors.Is(err, syncerr.ErrNotAuthenticated) {
			return false, nil
		}
		return false, err
	}
	return auth.Usable(s.now()), nil
}

// Logout отменяет ожидающие операции, отзывает токены на сервере и удаляет
// локальную сессию. Недоступность сервера не мешает локальному выходу.
func (s *Session) Logout(ctx context.Context, pending Canceller) error {
	auth, err := s.Current(ctx)
	if err != nil {
		return err
	}

	if pending != nil {
		if err := pending.CancelPendingOperations(ctx); err != nil {
			return fmt.Errorf("failed to cancel pending operations: %w", err)
		}
	}

	if token, err := s.Token(ctx); err == nil {
		if err := s.api.Logout(ctx, token); err != nil {
			s.logger.WarnContext(ctx, "server logout failed", slog.Any("error", err))
		}
	} else {
		s.logger.WarnContext(ctx, "skipping server logout", slog.Any("error", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteAuth(ctx); err != nil && !errors.Is(err, storage.ErrAuthNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.InfoContext(ctx, "logged out", slog.String("username", auth.Username))
	return nil
}

func (s *Session) sessionFromTokens(username string, tokens *pkgapi.TokenResponse) (*storage.AuthData, error) {
	subject, expiresAt, err := parseAccessToken(tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if expiresAt == 0 {
		expiresAt = s.now().Add(time.Duration(tokens.ExpiresIn) * time.Second).Unix()
	}
	return &storage.AuthData{
		Username:     username,
		UserID:       subject,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ServerURL:    s.serverURL,
		ExpiresAt:    expiresAt,
	}, nil
}

// parseAccessToken читает subject и срок действия без проверки подписи:
// подпись проверяет сервер, клиенту нужны только метаданные.
func parseAccessToken(accessToken string) (string, int64, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", 0, fmt.Errorf("malformed access token: %w", err)
	}
	if claims.Subject == "" {
		return "", 0, errors.New("malformed access token: missing subject")
	}
	var expiresAt int64
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Unix()
	}
	return claims.Subject, expiresAt, nil
}

func authKeyHash(password, username, saltBase64 string) (string, error) {
	authKey, err := crypto.DeriveAuthKeyFromBase64Salt(password, username, saltBase64)
	if err != nil {
		return "", fmt.Errorf("failed to derive auth key: %w", err)
	}
	return crypto.HashAuthKey(authKey), nil
}
