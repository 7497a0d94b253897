// Package config resolves the server's startup configuration from an
// optional TOML file merged with the environment variables spec §6 lists.
// An env var always wins over the file, which always wins over the
// built-in default — the same "layered override" shape the teacher's
// internal/parser/toml package uses for schema files, applied here to
// process configuration instead.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the process-wide, immutable-after-startup configuration spec
// §9's Design Notes calls out as the one piece of global state the server
// keeps, alongside the KV client pool.
type Config struct {
	// PDEndpoints lists the placement service addresses of the KV cluster
	// (PD_ENDPOINTS), comma-separated in the environment or a TOML array
	// in the file.
	PDEndpoints []string `toml:"pd_endpoints"`

	// Port is the TCP listen port (PG_PORT), default 5433.
	Port int `toml:"pg_port"`

	// Keyspace is the default keyspace bound to a bare (tenant-less)
	// username (PG_KEYSPACE).
	Keyspace string `toml:"pg_keyspace"`

	// Namespace is an additional intra-keyspace key prefix (PG_NAMESPACE).
	Namespace string `toml:"pg_namespace"`

	// DebugPassword is the fallback password auth.Manager.Authenticate
	// accepts (PG_PASSWORD): any login-enabled user whose supplied password
	// equals it is admitted, in addition to that user's stored password.
	// For development only, never set in production.
	DebugPassword string `toml:"pg_password"`

	// TLSCert and TLSKey enable TLS on the listener when both are set
	// (PG_TLS_CERT, PG_TLS_KEY).
	TLSCert string `toml:"pg_tls_cert"`
	TLSKey  string `toml:"pg_tls_key"`
}

// Default returns the built-in configuration before any file or
// environment overrides are applied.
func Default() Config {
	return Config{Port: 5433}
}

// Load resolves the configuration for one server process: start from
// Default, merge in path's TOML file if path is non-empty, then apply
// every recognized environment variable on top. path may be empty, in
// which case only defaults and the environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment variables spec §6 lists,
// each one winning over whatever Default/the TOML file set.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PD_ENDPOINTS"); ok {
		cfg.PDEndpoints = splitNonEmpty(v, ",")
	}
	if v, ok := os.LookupEnv("PG_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PG_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v, ok := os.LookupEnv("PG_KEYSPACE"); ok {
		cfg.Keyspace = v
	}
	if v, ok := os.LookupEnv("PG_NAMESPACE"); ok {
		cfg.Namespace = v
	}
	if v, ok := os.LookupEnv("PG_PASSWORD"); ok {
		cfg.DebugPassword = v
	}
	if v, ok := os.LookupEnv("PG_TLS_CERT"); ok {
		cfg.TLSCert = v
	}
	if v, ok := os.LookupEnv("PG_TLS_KEY"); ok {
		cfg.TLSKey = v
	}
	return nil
}

// TLSEnabled reports whether both halves of a TLS keypair are configured.
func (c Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SplitUsername implements spec §6's username routing: a startup username
// of the form "tenant.user" or "tenant:user" binds the connection to
// keyspace tenant with DB user user; a bare name binds to fallbackKeyspace.
func SplitUsername(raw, fallbackKeyspace string) (keyspace, user string) {
	if i := strings.IndexAny(raw, ".:"); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return fallbackKeyspace, raw
}
