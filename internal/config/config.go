package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/vmware/govmomi/vim25/soap"
)

// Config holds the vSphere connection settings.
type Config struct {
	VSphereURL      string
	VSphereUsername string
	VSpherePassword string
	VSphereInsecure bool
}

// Load loads configuration from environment variables only.
func Load() (*Config, error) {
	return LoadWithFile("", "")
}

// LoadWithFile loads configuration from an optional .env file and environment
// variables. A non-empty server of the form user[:password]@host overrides
// the URL and credentials found there.
func LoadWithFile(envFile, server string) (*Config, error) {
	// Attempt to load .env file if provided, but don't fail if it doesn't exist.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		VSphereURL:      os.Getenv("VSPHERE_URL"),
		VSphereUsername: os.Getenv("VSPHERE_USERNAME"),
		VSpherePassword: os.Getenv("VSPHERE_PASSWORD"),
		VSphereInsecure: parseInsecure(os.Getenv("VSPHERE_INSECURE")),
	}

	if server != "" {
		if err := cfg.ApplyServer(server); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyServer overrides the endpoint with a user[:password]@host string.
// Credentials embedded in it replace the configured ones; a bare host keeps
// them.
func (c *Config) ApplyServer(server string) error {
	u, err := soap.ParseURL(server)
	if err != nil {
		return fmt.Errorf("failed to parse server %q: %w", server, err)
	}
	if u == nil || u.Host == "" {
		return fmt.Errorf("server %q has no host", server)
	}

	// soap.ParseURL always sets User, with empty credentials for a bare host.
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			c.VSphereUsername = name
		}
		if pw, ok := u.User.Password(); ok && pw != "" {
			c.VSpherePassword = pw
		}
		u.User = nil
	}
	c.VSphereURL = u.String()
	return nil
}

// Validate checks if all required fields are set. Username and password may
// be left empty and asked for interactively.
func (c *Config) Validate() error {
	if c.VSphereURL == "" {
		return fmt.Errorf("VSPHERE_URL is required")
	}
	return nil
}

// NeedsUsername reports whether the username still has to be supplied.
func (c *Config) NeedsUsername() bool {
	return c.VSphereUsername == ""
}

// NeedsPassword reports whether the password still has to be supplied.
func (c *Config) NeedsPassword() bool {
	return c.VSpherePassword == ""
}

// URL returns the SDK endpoint with the credentials attached.
func (c *Config) URL() (*url.URL, error) {
	u, err := soap.ParseURL(c.VSphereURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("VSPHERE_URL is required")
	}
	u.User = url.UserPassword(c.VSphereUsername, c.VSpherePassword)
	return u, nil
}

// parseInsecure converts a string to a boolean, defaulting to false.
func parseInsecure(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
