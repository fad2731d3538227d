package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid key - lowercase", key: "profile", wantErr: false},
		{name: "valid key - dots and dashes", key: "user.settings-v2", wantErr: false},
		{name: "valid key - underscore inside", key: "app_state", wantErr: false},
		{name: "invalid - empty", key: "", wantErr: true},
		{name: "invalid - reserved prefix", key: "__sync_meta", wantErr: true},
		{name: "invalid - slash", key: "a/b", wantErr: true},
		{name: "invalid - dot dot", key: "..", wantErr: true},
		{name: "invalid - too long", key: strings.Repeat("k", 129), wantErr: true},
		{name: "invalid - space", key: "my key", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: "main", wantErr: false},
		{name: "valid uuid", input: "3f1c2a9e-8d3b-4c1e-9f7a-1b2c3d4e5f60", wantErr: false},
		{name: "invalid - empty", input: "", wantErr: true},
		{name: "invalid - dot", input: "a.b", wantErr: true},
		{name: "invalid - too long", input: strings.Repeat("n", 65), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{name: "lowercase", username: "alice", wantErr: false},
		{name: "mixed with digits", username: "Bob_42", wantErr: false},
		{name: "empty", username: "", wantErr: true},
		{name: "too short", username: "ab", wantErr: true},
		{name: "too long", username: strings.Repeat("a", 33), wantErr: true},
		{name: "dash not allowed", username: "al-ice", wantErr: true},
		{name: "cyrillic", username: "алиса", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePassword(t *testing.T) {
	assert.Error(t, ValidatePassword(""))
	assert.Error(t, ValidatePassword("short"))
	assert.NoError(t, ValidatePassword(strings.Repeat("x", MinPasswordLen)))
}
