// Copyright 2024 dbsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/go-sql-driver/mysql"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/security"
)

// Default tunables.
const (
	DefaultSyncInterval = 30 * time.Second
	DefaultIOTimeout    = 10 * time.Second
	DefaultMaxFrameSize = "1MB"
	DefaultKeyColumn    = "id"
	DefaultDataDir      = "."

	minFrameSize = 1024
)

// TomlDuration is a duration with a custom toml marshaller, so config files
// can say "30s" instead of nanosecond counts.
type TomlDuration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *TomlDuration) UnmarshalText(text []byte) error {
	internal, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TomlDuration(internal)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d TomlDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DBConfig identifies one MySQL-protocol database and the replicated table
// inside it.
type DBConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	User      string `toml:"user"`
	Password  string `toml:"password"`
	Database  string `toml:"database"`
	Table     string `toml:"table"`
	KeyColumn string `toml:"key-column"`
}

// DSN builds the driver connection string. parseTime is required so
// timestamp columns scan into time.Time instead of raw bytes.
func (c *DBConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func (c *DBConfig) validate(section string) error {
	if c.Host == "" || c.Port == 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs(section + " host/port not set")
	}
	if c.Database == "" || c.Table == "" {
		return cerror.ErrInvalidConfig.GenWithStackByArgs(section + " database/table not set")
	}
	if c.KeyColumn == "" {
		c.KeyColumn = DefaultKeyColumn
	}
	return nil
}

// ClientConfig configures the pushing side: the sync loop, the transfer
// session and the source database.
type ClientConfig struct {
	// Addr is the remote server address to connect to.
	Addr         string       `toml:"addr"`
	SyncInterval TomlDuration `toml:"sync-interval"`
	IOTimeout    TomlDuration `toml:"io-timeout"`
	// MaxFrameSize bounds the encoded size of a single wire frame. Accepts
	// human-readable strings such as "512KB" or "4MB".
	MaxFrameSize string `toml:"max-frame-size"`
	// FetchLimit caps rows fetched per cycle, 0 means unlimited. The
	// remainder of a large backlog arrives on subsequent cycles.
	FetchLimit int    `toml:"fetch-limit"`
	DataDir    string `toml:"data-dir"`
	LogFile    string `toml:"log-file"`
	LogLevel   string `toml:"log-level"`
	// StatusAddr exposes prometheus metrics over HTTP when set.
	StatusAddr string `toml:"status-addr"`

	Source   DBConfig             `toml:"source"`
	Security *security.Credential `toml:"security"`

	maxFrameBytes int
}

// GetDefaultClientConfig returns the default client configuration.
func GetDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		SyncInterval: TomlDuration(DefaultSyncInterval),
		IOTimeout:    TomlDuration(DefaultIOTimeout),
		MaxFrameSize: DefaultMaxFrameSize,
		DataDir:      DefaultDataDir,
		LogLevel:     "info",
		Source:       DBConfig{Port: 3306, KeyColumn: DefaultKeyColumn},
		Security:     &security.Credential{},
	}
}

// ValidateAndAdjust verifies the configuration and fills derived fields.
func (c *ClientConfig) ValidateAndAdjust() error {
	if c.Addr == "" {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("remote addr not set")
	}
	if time.Duration(c.SyncInterval) <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("sync-interval must be positive")
	}
	if time.Duration(c.IOTimeout) <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("io-timeout must be positive")
	}
	n, err := units.RAMInBytes(c.MaxFrameSize)
	if err != nil || n < minFrameSize {
		return cerror.ErrInvalidConfig.GenWithStackByArgs(
			fmt.Sprintf("max-frame-size %q invalid or below %d bytes", c.MaxFrameSize, minFrameSize))
	}
	c.maxFrameBytes = int(n)
	if c.FetchLimit < 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("fetch-limit must not be negative")
	}
	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if c.Security == nil || !c.Security.IsTLSEnabled() {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("transport requires TLS, set security ca/cert/key paths")
	}
	return nil
}

// MaxFrameBytes returns the parsed frame byte limit. Only valid after
// ValidateAndAdjust.
func (c *ClientConfig) MaxFrameBytes() int { return c.maxFrameBytes }

// ServerConfig configures the receiving side: the listener and the target
// database.
type ServerConfig struct {
	// Addr is the address to listen on.
	Addr      string       `toml:"addr"`
	IOTimeout TomlDuration `toml:"io-timeout"`
	// MaxFrameSize bounds accepted frame sizes; keep in sync with the
	// client's value.
	MaxFrameSize string `toml:"max-frame-size"`
	DataDir      string `toml:"data-dir"`
	LogFile      string `toml:"log-file"`
	LogLevel     string `toml:"log-level"`
	StatusAddr   string `toml:"status-addr"`

	Target   DBConfig             `toml:"target"`
	Security *security.Credential `toml:"security"`

	maxFrameBytes int
}

// GetDefaultServerConfig returns the default server configuration.
func GetDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:         "0.0.0.0:8261",
		IOTimeout:    TomlDuration(DefaultIOTimeout),
		MaxFrameSize: DefaultMaxFrameSize,
		DataDir:      DefaultDataDir,
		LogLevel:     "info",
		Target:       DBConfig{Port: 3306, KeyColumn: DefaultKeyColumn},
		Security:     &security.Credential{},
	}
}

// ValidateAndAdjust verifies the configuration and fills derived fields.
func (c *ServerConfig) ValidateAndAdjust() error {
	if c.Addr == "" {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("listen addr not set")
	}
	if time.Duration(c.IOTimeout) <= 0 {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("io-timeout must be positive")
	}
	n, err := units.RAMInBytes(c.MaxFrameSize)
	if err != nil || n < minFrameSize {
		return cerror.ErrInvalidConfig.GenWithStackByArgs(
			fmt.Sprintf("max-frame-size %q invalid or below %d bytes", c.MaxFrameSize, minFrameSize))
	}
	c.maxFrameBytes = int(n)
	if err := c.Target.validate("target"); err != nil {
		return err
	}
	if c.Security == nil || !c.Security.IsTLSEnabled() {
		return cerror.ErrInvalidConfig.GenWithStackByArgs("transport requires TLS, set security ca/cert/key paths")
	}
	return nil
}

// MaxFrameBytes returns the parsed frame byte limit. Only valid after
// ValidateAndAdjust.
func (c *ServerConfig) MaxFrameBytes() int { return c.maxFrameBytes }
