package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration. The directory defaults match
// the container layout the service ships with.
const (
	DefaultHTTPPort   = 5000
	DefaultGRPCPort   = 50051
	DefaultUploadDir  = "/app/uploads"
	DefaultLogDir     = "/app/logs"
	DefaultTokenFile  = "/app/config/tokens.txt"
	DefaultMasterEnv  = "MASTER_TOKEN"
	DefaultMaxUploads = 0
)

// Environment variables that override the file settings.
const (
	EnvUploadDir = "UPLOAD_FOLDER"
	EnvLogDir    = "LOG_FOLDER"
	EnvTokenFile = "TOKEN_FILE_PATH"
	EnvHTTPPort  = "PORT"
)

// Config holds the configuration parsed from the `server:` section of the
// config file.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the upload and admin API listen on (default 5000).
	HTTPPort int `yaml:"http_port"`

	// GRPCPort is the port for the token-guarded gRPC health service.
	// 0 disables the listener.
	GRPCPort int `yaml:"grpc_port"`

	// TrustProxy makes the server take the client address from the last
	// X-Forwarded-For entry, trusting exactly one reverse proxy.
	TrustProxy bool `yaml:"trust_proxy"`

	// MaxUploadBytes caps request bodies on /upload. 0 means unlimited.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// UploadDir is the root every upload is written under.
	UploadDir string `yaml:"upload_dir"`

	// LogDir receives server.log in addition to stdout.
	LogDir string `yaml:"log_dir"`

	// Tokens configures the bearer token file.
	Tokens TokensConfig `yaml:"tokens"`

	// Admin configures the master credential for the reload endpoint.
	Admin AdminConfig `yaml:"admin"`
}

// TokensConfig configures where bearer tokens are read from.
type TokensConfig struct {
	// File is the line-delimited token file.
	File string `yaml:"file"`

	// Watch reloads the file automatically when it changes on disk.
	Watch bool `yaml:"watch"`
}

// AdminConfig controls the master credential.
type AdminConfig struct {
	// MasterTokenEnv is the name of the environment variable that holds the
	// master token. Defaults to MASTER_TOKEN.
	MasterTokenEnv string `yaml:"master_token_env"`
}

// MasterToken returns the master credential resolved from the environment.
// An empty result means the placeholder applies.
func (a AdminConfig) MasterToken() string {
	env := a.MasterTokenEnv
	if env == "" {
		env = DefaultMasterEnv
	}
	return os.Getenv(env)
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. An empty path skips the file and uses defaults plus
// environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("server config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("server config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       DefaultHTTPPort,
			GRPCPort:       DefaultGRPCPort,
			TrustProxy:     true,
			MaxUploadBytes: DefaultMaxUploads,
			UploadDir:      DefaultUploadDir,
			LogDir:         DefaultLogDir,
			Tokens: TokensConfig{
				File:  DefaultTokenFile,
				Watch: true,
			},
			Admin: AdminConfig{
				MasterTokenEnv: DefaultMasterEnv,
			},
		},
	}
}

// applyEnv overrides file settings with the deployment environment.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvUploadDir); v != "" {
		cfg.Server.UploadDir = v
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		cfg.Server.LogDir = v
	}
	if v := os.Getenv(EnvTokenFile); v != "" {
		cfg.Server.Tokens.File = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q is not a number", EnvHTTPPort, v)
		}
		cfg.Server.HTTPPort = port
	}
	return nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.GRPCPort != 0 && cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		return fmt.Errorf("server.grpc_port must differ from server.http_port")
	}
	if cfg.Server.UploadDir == "" {
		return fmt.Errorf("server.upload_dir is required")
	}
	if cfg.Server.Tokens.File == "" {
		return fmt.Errorf("server.tokens.file is required")
	}
	if cfg.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes must not be negative")
	}
	return nil
}
