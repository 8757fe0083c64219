package config

import "strings"

// Defaults applied after merging all sources. The listen port and URL
// prefixes match what stock clients are configured with out of the box.
const (
	defaultHTTPAddress  = ":27701"
	defaultBaseURL      = "/sync"
	defaultBaseMediaURL = "/msync"
)

// applyDefaults fills zero-valued fields that have sensible defaults and
// normalizes the URL prefixes to "/prefix" form (leading slash, no
// trailing slash).
func (cfg *StructuredConfig) applyDefaults() {
	if cfg.Server.HTTPAddress == "" {
		cfg.Server.HTTPAddress = defaultHTTPAddress
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = defaultBaseURL
	}
	if cfg.Server.BaseMediaURL == "" {
		cfg.Server.BaseMediaURL = defaultBaseMediaURL
	}

	cfg.Server.BaseURL = normalizePrefix(cfg.Server.BaseURL)
	cfg.Server.BaseMediaURL = normalizePrefix(cfg.Server.BaseMediaURL)
}

func normalizePrefix(p string) string {
	p = strings.TrimSuffix(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// validate checks that the final merged [StructuredConfig] satisfies all
// application invariants before it is used at startup.
func (cfg *StructuredConfig) validate() error {
	if cfg.Storage.Files.DataRoot == "" {
		return ErrInvalidStorageConfigs
	}

	if cfg.Storage.DB.DSN == "" {
		return ErrInvalidStorageConfigs
	}

	if cfg.App.PasswordHashKey == "" {
		return ErrInvalidAppConfigs
	}

	if cfg.Server.BaseURL == cfg.Server.BaseMediaURL {
		return ErrInvalidServerConfigs
	}

	return nil
}
