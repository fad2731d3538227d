package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// KeyPattern определяет допустимый формат ключа синхронизации.
// Ключ становится сегментом удалённого пути, поэтому '/' запрещён.
var KeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{1,128}$`)

// NamePattern формат имени документа и идентификатора пользователя
var NamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,64}$`)

// ReservedPrefix префикс служебных ключей локального хранилища
const ReservedPrefix = "__"

// UsernamePattern формат имени пользователя: латиница, цифры и '_', 3-32 символа
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

// MinPasswordLen минимальная длина пароля
const MinPasswordLen = 12

// ValidateKey проверяет, что ключ можно синхронизировать
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	if strings.HasPrefix(key, ReservedPrefix) {
		return fmt.Errorf("key %q uses reserved prefix %q", key, ReservedPrefix)
	}

	if key == "." || key == ".." {
		return fmt.Errorf("key %q is not a valid path segment", key)
	}

	if !KeyPattern.MatchString(key) {
		return fmt.Errorf("key %q can only contain letters, numbers, '.', '-' and '_' (max 128)", key)
	}

	return nil
}

// ValidateName проверяет имя документа или идентификатор пользователя
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("name %q can only contain letters, numbers, '-' and '_' (max 64)", name)
	}

	return nil
}

// ValidateUsername проверяет имя пользователя.
// Оно же используется в качестве контекста при деривации ключа.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if !UsernamePattern.MatchString(username) {
		return fmt.Errorf("username can only contain letters, numbers and underscores (3-32 characters)")
	}

	return nil
}

// ValidatePassword проверяет минимальные требования к паролю
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}

	return nil
}
