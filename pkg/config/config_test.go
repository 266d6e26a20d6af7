package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMemoryJWT(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUTH_PROVIDER", "jwt")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "marketchat:events", cfg.Redis.Channel)
	assert.True(t, cfg.RateLimitEnabled)
	assert.False(t, cfg.UsesFirebase())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "postgres without url",
			cfg:     Config{StoreDriver: StorePostgres, AuthProvider: AuthJWT, JWTSecret: "x"},
			wantErr: true,
		},
		{
			name:    "jwt without secret",
			cfg:     Config{StoreDriver: StoreMemory, AuthProvider: AuthJWT},
			wantErr: true,
		},
		{
			name:    "firestore without project",
			cfg:     Config{StoreDriver: StoreFirestore, AuthProvider: AuthJWT, JWTSecret: "x"},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			cfg:     Config{StoreDriver: "cassandra", AuthProvider: AuthJWT, JWTSecret: "x"},
			wantErr: true,
		},
		{
			name: "postgres with jwt",
			cfg:  Config{StoreDriver: StorePostgres, DatabaseURL: "postgres://x", AuthProvider: AuthJWT, JWTSecret: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("MARKETCHAT_TOKEN", "tok")
	t.Setenv("TYPING_IDLE_TIMEOUT", "3s")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 3*time.Second, cfg.TypingIdleTimeout)
	assert.NoError(t, cfg.Validate())

	cfg.TypingIdleTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg.TypingIdleTimeout = time.Second
	cfg.Token = ""
	assert.Error(t, cfg.Validate(), "needs a token or a dev user")

	cfg.UserID = "bob"
	assert.NoError(t, cfg.Validate())
}
