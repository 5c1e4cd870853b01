// Package config handles movasm.toml host configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "movasm.toml"

// Config represents a movasm.toml host configuration.
type Config struct {
	Server  Server  `toml:"server" json:"server"`
	Mods    Mods    `toml:"mods" json:"mods"`
	Exec    Exec    `toml:"exec" json:"exec"`
	Journal Journal `toml:"journal" json:"journal"`
	Log     Log     `toml:"log" json:"log"`

	// Dir is the directory containing the movasm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Server configures the status listener.
type Server struct {
	Protocol   int    `toml:"protocol" json:"protocol"`
	Address    string `toml:"address" json:"address"`
	Port       int    `toml:"port" json:"port"`
	Name       string `toml:"name" json:"name"`
	MOTD       string `toml:"motd" json:"motd"`
	MaxPlayers int    `toml:"max-players" json:"maxPlayers"`
}

// Mods configures mod initialization.
type Mods struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// Exec configures the remote execution service.
type Exec struct {
	Address   string `toml:"address" json:"address"`
	Workers   int    `toml:"workers" json:"workers"`
	StepLimit int64  `toml:"step-limit" json:"stepLimit"`
	TimeoutMs int64  `toml:"timeout-ms" json:"timeoutMs"`
}

// Journal configures the run journal. An empty path disables it.
type Journal struct {
	Path string `toml:"path" json:"path"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	Path      string `toml:"path" json:"path"`
}

// Default returns the built-in configuration used when no file is present
// and as the base that a file overrides.
func Default() *Config {
	return &Config{
		Server: Server{
			Protocol:   340,
			Address:    "0.0.0.0",
			Port:       25565,
			Name:       "ULE",
			MOTD:       "&a&lHello!",
			MaxPlayers: 10,
		},
		Mods: Mods{
			Enabled: true,
			Path:    "mods.conf",
		},
		Exec: Exec{
			Address:   "127.0.0.1:8340",
			Workers:   4,
			StepLimit: 0,
			TimeoutMs: 5000,
		},
		Log: Log{
			Verbosity: 1,
		},
	}
}

// Load parses a movasm.toml file from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration at path on top of Default and
// validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a movasm.toml file, then
// loads and returns it. When no file is found it returns Default with Dir
// set to startDir.
func FindAndLoad(startDir string) (*Config, error) {
	start, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	dir := start
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			c := Default()
			c.Dir = start
			return c, nil
		}
		dir = parent
	}
}

// ModsPath returns the mods list path, resolved against Dir when relative.
func (c *Config) ModsPath() string {
	return c.resolve(c.Mods.Path)
}

// JournalPath returns the journal database path, or "" when disabled.
func (c *Config) JournalPath() string {
	if c.Journal.Path == "" {
		return ""
	}
	return c.resolve(c.Journal.Path)
}

// ListenAddr returns the status listener's host:port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
