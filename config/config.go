package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/static-server/core"
	"github.com/searchktools/static-server/core/http"
)

// EnvPrefix is the prefix of environment variables that override flag
// defaults, e.g. STATIC_PORT or STATIC_MAX_CLIENTS
const EnvPrefix = "STATIC"

// Validation errors
var (
	ErrInvalidPort     = errors.New("port must be in 1025-65535")
	ErrInvalidPath     = errors.New("path must be an existing directory")
	ErrInvalidWorkers  = errors.New("too few workers")
	ErrInvalidLimit    = errors.New("invalid limit")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidEnv      = errors.New("env must be development or production")
)

// Config holds all application configuration.
type Config struct {
	Host        string
	Port        int
	Path        string
	Workers     int
	MaxClients  int
	BufferSize  int
	URIMax      int
	MaxHeaders  int
	WaitTimeout time.Duration
	ServerName  string
	LogLevel    string
	Env         string
}

// Load parses args (without the program name) on top of defaults taken
// from STATIC_* environment variables, then validates the result.
func Load(args []string) (*Config, error) {
	env := NewManager()
	env.LoadFromEnv(EnvPrefix)
	return load(args, env)
}

func load(args []string, env *Manager) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("static-server", flag.ContinueOnError)

	fs.StringVar(&cfg.Host, "host", env.GetString("host", core.DefaultHost), "IPv4 address to listen on")
	fs.IntVar(&cfg.Port, "port", env.GetInt("port"), "TCP port to listen on (1025-65535, required)")
	fs.StringVar(&cfg.Path, "path", env.GetString("path"), "resource root directory (required)")
	fs.IntVar(&cfg.Workers, "workers", env.GetInt("workers", core.DefaultWorkers),
		fmt.Sprintf("worker threads; two are held by the accept and dispatch loops (min %d)", core.MinWorkers))
	fs.IntVar(&cfg.MaxClients, "max-clients", env.GetInt("max.clients", core.DefaultMaxClients), "maximum open connections")
	fs.IntVar(&cfg.BufferSize, "buffer-size", env.GetInt("buffer.size", http.DefaultBufferSize), "per-connection read buffer in bytes")
	fs.IntVar(&cfg.URIMax, "uri-max", env.GetInt("uri.max", http.DefaultMaxURILength), "maximum request URI length")
	fs.IntVar(&cfg.MaxHeaders, "max-headers", env.GetInt("max.headers", http.DefaultMaxHeaders), "maximum request header count")
	fs.DurationVar(&cfg.WaitTimeout, "wait-timeout", env.GetDuration("wait.timeout", core.DefaultWaitTimeout), "readiness wait timeout")
	fs.StringVar(&cfg.ServerName, "server-name", env.GetString("server.name", http.DefaultServerName), "Server response header")
	fs.StringVar(&cfg.LogLevel, "log-level", env.GetString("log.level", "info"), "log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.Env, "env", env.GetString("env", "development"), "Environment (development/production)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and returns the first problem found
func (c *Config) Validate() error {
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.Path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if st, err := os.Stat(c.Path); err != nil || !st.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidPath, c.Path)
	}
	if c.Workers < core.MinWorkers {
		return fmt.Errorf("%w: %d, need at least %d", ErrInvalidWorkers, c.Workers, core.MinWorkers)
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("%w: max-clients %d", ErrInvalidLimit, c.MaxClients)
	}
	if c.URIMax <= 0 {
		return fmt.Errorf("%w: uri-max %d", ErrInvalidLimit, c.URIMax)
	}
	limits := http.NewSettings(c.Path)
	limits.MaxURILength = c.URIMax
	if need := limits.MinBufferSize(); c.BufferSize < need {
		return fmt.Errorf("%w: buffer-size %d is below %d for uri-max %d", ErrInvalidLimit, c.BufferSize, need, c.URIMax)
	}
	if c.MaxHeaders <= 0 {
		return fmt.Errorf("%w: max-headers %d", ErrInvalidLimit, c.MaxHeaders)
	}
	if c.WaitTimeout < time.Millisecond {
		return fmt.Errorf("%w: wait-timeout %s", ErrInvalidLimit, c.WaitTimeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("%w: %s", ErrInvalidEnv, c.Env)
	}
	return nil
}

// Production reports whether the process runs in the production environment
func (c *Config) Production() bool {
	return c.Env == "production"
}
