package models

import "time"

// User представляет пользователя сервера документов
type User struct {
	CreatedAt   time.Time  `json:"created_at"`           // время создания
	LastLogin   *time.Time `json:"last_login,omitempty"` // время последнего входа
	ID          string     `json:"id"`                   // UUID пользователя, он же сегмент users/{uid}
	Username    string     `json:"username"`             // уникальный username
	AuthKeyHash string     `json:"auth_key_hash"`        // хеш auth_key, присланный клиентом
	PublicSalt  string     `json:"public_salt"`          // base64 encoded salt (32 bytes)
}

// RefreshToken представляет refresh token пользователя.
// Token хранит хеш, а не сам токен.
type RefreshToken struct {
	ExpiresAt time.Time `json:"expires_at"` // время истечения
	CreatedAt time.Time `json:"created_at"` // время создания
	Token     string    `json:"token"`      // хеш токена
	UserID    string    `json:"user_id"`    // ID пользователя
}
