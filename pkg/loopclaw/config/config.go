// Package config loads the LoopClaw daemon configuration from YAML with
// environment variable expansion and .env support.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/loopclaw/pkg/loopclaw/agent"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/notify"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, and ${VAR:?error}
// references in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// GatewayConfig configures the HTTP control surface.
type GatewayConfig struct {
	// Address is the listen address, e.g. "127.0.0.1:8077".
	Address string `yaml:"address"`

	// AuthToken protects all /api routes via bearer auth. A reference like
	// ${LOOPCLAW_TOKEN} is expanded at load time.
	AuthToken string `yaml:"auth_token"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Config is the daemon configuration.
type Config struct {
	// DataDir holds the SQLite database and other runtime state.
	DataDir string `yaml:"data_dir"`

	Log     LogConfig            `yaml:"log"`
	Gateway GatewayConfig        `yaml:"gateway"`
	Agent   agent.CommandConfig  `yaml:"agent"`
	Notify  notify.DiscordConfig `yaml:"notify"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".loopclaw",
		Log:     LogConfig{Level: "info", Format: "text"},
		Gateway: GatewayConfig{Address: "127.0.0.1:8077"},
	}
}

// DatabasePath returns the SQLite database location under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "loopclaw.db")
}

// LoadFromFile reads and parses a YAML configuration file. .env files are
// loaded first (without overwriting existing variables), then ${VAR}
// references in the YAML are expanded before parsing. A missing config file
// yields the defaults.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	checkFilePermissions(path)
	return cfg, nil
}

// LogLevel maps the configured level name to slog.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandEnvVars replaces ${VAR} references. ${VAR:-default} substitutes the
// default when unset; ${VAR:?message} fails the load when unset.
func expandEnvVars(input string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, modifier, arg := groups[1], groups[2], groups[3]

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		switch modifier {
		case "-":
			return arg
		case "?":
			msg := arg
			if msg == "" {
				msg = "required but not set"
			}
			missing = append(missing, fmt.Sprintf("%s: %s", name, msg))
		}
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, "; "))
	}
	return out, nil
}

// checkFilePermissions warns when the config file is readable by others.
// The auth token may be inlined there.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o044 != 0 {
		slog.Warn("config file is readable by other users, consider chmod 600",
			"path", path, "mode", info.Mode().Perm().String())
	}
}
