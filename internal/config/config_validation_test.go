package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *StructuredConfig {
	return &StructuredConfig{
		App: App{PasswordHashKey: "secret"},
		Storage: Storage{
			DB:    DB{DSN: "/var/lib/cardsync/server.db"},
			Files: Files{DataRoot: "/var/lib/cardsync/collections"},
		},
		Server: Server{
			HTTPAddress:  ":27701",
			BaseURL:      "/sync",
			BaseMediaURL: "/msync",
		},
	}
}

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*StructuredConfig)
		wantAddress   string
		wantBaseURL   string
		wantMediaURL  string
	}{
		{
			name:         "empty fields get stock client defaults",
			mutate:       func(c *StructuredConfig) { c.Server = Server{} },
			wantAddress:  ":27701",
			wantBaseURL:  "/sync",
			wantMediaURL: "/msync",
		},
		{
			name: "prefixes are normalized to /prefix form",
			mutate: func(c *StructuredConfig) {
				c.Server.BaseURL = "sync/"
				c.Server.BaseMediaURL = "/msync/"
			},
			wantAddress:  ":27701",
			wantBaseURL:  "/sync",
			wantMediaURL: "/msync",
		},
		{
			name:         "set fields are left alone",
			mutate:       func(c *StructuredConfig) { c.Server.HTTPAddress = "127.0.0.1:9000" },
			wantAddress:  "127.0.0.1:9000",
			wantBaseURL:  "/sync",
			wantMediaURL: "/msync",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			cfg.applyDefaults()

			assert.Equal(t, tt.wantAddress, cfg.Server.HTTPAddress)
			assert.Equal(t, tt.wantBaseURL, cfg.Server.BaseURL)
			assert.Equal(t, tt.wantMediaURL, cfg.Server.BaseMediaURL)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StructuredConfig)
		wantErr error
	}{
		{
			name:   "complete config passes",
			mutate: func(c *StructuredConfig) {},
		},
		{
			name:    "missing data root",
			mutate:  func(c *StructuredConfig) { c.Storage.Files.DataRoot = "" },
			wantErr: ErrInvalidStorageConfigs,
		},
		{
			name:    "missing database DSN",
			mutate:  func(c *StructuredConfig) { c.Storage.DB.DSN = "" },
			wantErr: ErrInvalidStorageConfigs,
		},
		{
			name:    "missing password hash key",
			mutate:  func(c *StructuredConfig) { c.App.PasswordHashKey = "" },
			wantErr: ErrInvalidAppConfigs,
		},
		{
			name: "identical URL prefixes",
			mutate: func(c *StructuredConfig) {
				c.Server.BaseMediaURL = c.Server.BaseURL
			},
			wantErr: ErrInvalidServerConfigs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
