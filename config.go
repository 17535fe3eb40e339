package kdb

import (
	"fmt"
	"net"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/st-keller/kdb-client/ipc"
	"github.com/st-keller/kdb-client/transport"
)

// DefaultBufferSize is the read buffer size used when Config.BufferSize is zero.
const DefaultBufferSize = 4096

// Config holds client configuration. LoadConfig fills it from KDB_* environment variables.
type Config struct {
	Host     string `env:"KDB_HOST" envDefault:"localhost"` // q process host
	Port     int    `env:"KDB_PORT" envDefault:"5010"`      // q process port
	Username string `env:"KDB_USERNAME"`                    // defaults to the OS user
	Password string `env:"KDB_PASSWORD"`

	Compress       bool   `env:"KDB_COMPRESS"`                          // compress large messages to remote hosts
	Encoding       string `env:"KDB_ENCODING" envDefault:"ISO-8859-1"` // IANA charset for symbols and strings
	BufferSize     int    `env:"KDB_BUFFER_SIZE" envDefault:"4096"`
	MaxMessageSize int    `env:"KDB_MAX_MESSAGE_SIZE"` // 0 = unlimited

	DialTimeout  time.Duration `env:"KDB_DIAL_TIMEOUT" envDefault:"10s"`
	DialAttempts int           `env:"KDB_DIAL_ATTEMPTS" envDefault:"1"`
	Reconnect    bool          `env:"KDB_RECONNECT"`

	Proxy string              `env:"KDB_PROXY"` // socks5:// or socks5h:// URL
	TLS   transport.TLSConfig `envPrefix:"KDB_TLS_"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills zero values that have a sensible default.
func (c Config) withDefaults() Config {
	if c.Username == "" {
		c.Username = currentUser()
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.DialAttempts == 0 {
		c.DialAttempts = 1
	}
	return c
}

// Validate checks the configuration for missing or invalid fields.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("Host required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("Port required (must be 1-65535)")
	}
	if strings.Contains(c.Username, ":") {
		return fmt.Errorf("Username must not contain ':'")
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("BufferSize must be >= 0")
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("MaxMessageSize must be >= 0")
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("DialTimeout must be >= 0")
	}
	if c.DialAttempts < 0 {
		return fmt.Errorf("DialAttempts must be >= 0")
	}
	if _, err := ipc.LookupCharset(c.Encoding); err != nil {
		return fmt.Errorf("Encoding invalid: %w", err)
	}
	if c.Proxy != "" {
		if _, err := transport.ParseProxy(c.Proxy); err != nil {
			return fmt.Errorf("Proxy invalid: %w", err)
		}
	}
	if (c.TLS.CertPath == "") != (c.TLS.KeyPath == "") {
		return fmt.Errorf("TLS CertPath and KeyPath must be set together")
	}
	return nil
}

// Address returns the "host:port" dial address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// currentUser returns the OS user name, or "" when it cannot be determined.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
