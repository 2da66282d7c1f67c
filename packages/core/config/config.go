package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/hitwire/packages/certs"
	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
	"github.com/abdul-hamid-achik/hitwire/packages/proxy"
)

// CACertificate selects a custom CA bundle.
type CACertificate struct {
	Enabled  bool   `json:"enabled"`
	FilePath string `json:"filePath,omitempty"`
}

// Config represents the hitwire configuration
type Config struct {
	VerifyTLS                 *bool             `json:"verifyTls,omitempty"`
	CustomCACertificate       *CACertificate    `json:"customCaCertificate,omitempty"`
	KeepDefaultCACertificates *bool             `json:"keepDefaultCaCertificates,omitempty"`
	NoProxy                   *bool             `json:"noProxy,omitempty"`
	Timeout                   int               `json:"timeout,omitempty"` // milliseconds
	MaxRedirects              *int              `json:"maxRedirects,omitempty"`
	StoreCookies              *bool             `json:"storeCookies,omitempty"`
	SendCookies               *bool             `json:"sendCookies,omitempty"`
	PreferIPv6Loopback        *bool             `json:"preferIPv6Loopback,omitempty"`
	ProbeTTL                  int               `json:"probeTtl,omitempty"` // milliseconds, 0 caches forever
	UserAgent                 string            `json:"userAgent,omitempty"`
	Headers                   map[string]string `json:"headers,omitempty"`
	LogLevel                  string            `json:"logLevel,omitempty"`
	Verbose                   *bool             `json:"verbose,omitempty"`
	NoColor                   *bool             `json:"noColor,omitempty"`

	// Proxy is the global proxy in any accepted shape; see proxy.ParseGlobal.
	Proxy json.RawMessage `json:"proxy,omitempty"`
	// CollectionProxy is the collection proxy; see proxy.ParseCollection.
	CollectionProxy json.RawMessage `json:"collectionProxy,omitempty"`

	ClientCertificates []certs.ClientCertificate `json:"clientCertificates,omitempty"`
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// IntPtr returns a pointer to n
func IntPtr(n int) *int {
	return &n
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetVerifyTLS returns the certificate validation setting, defaulting to true
func (c *Config) GetVerifyTLS() bool {
	return getBool(c.VerifyTLS, true)
}

// GetKeepDefaultCACertificates defaults to true
func (c *Config) GetKeepDefaultCACertificates() bool {
	return getBool(c.KeepDefaultCACertificates, true)
}

// GetNoProxy defaults to false
func (c *Config) GetNoProxy() bool {
	return getBool(c.NoProxy, false)
}

// GetStoreCookies defaults to true
func (c *Config) GetStoreCookies() bool {
	return getBool(c.StoreCookies, true)
}

// GetSendCookies defaults to true
func (c *Config) GetSendCookies() bool {
	return getBool(c.SendCookies, true)
}

// GetPreferIPv6Loopback defaults to true
func (c *Config) GetPreferIPv6Loopback() bool {
	return getBool(c.PreferIPv6Loopback, true)
}

// GetVerbose defaults to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor defaults to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// GetMaxRedirects returns the redirect budget. Zero is a valid budget.
func (c *Config) GetMaxRedirects() int {
	if c.MaxRedirects == nil {
		return DefaultMaxRedirects
	}
	return *c.MaxRedirects
}

// GetTimeout returns the per-hop timeout; zero disables it.
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetProbeTTL returns how long loopback probe results are cached.
func (c *Config) GetProbeTTL() time.Duration {
	return time.Duration(c.ProbeTTL) * time.Millisecond
}

// CACertFilePath returns the custom bundle path, or "" when disabled.
func (c *Config) CACertFilePath() string {
	if c.CustomCACertificate == nil || !c.CustomCACertificate.Enabled {
		return ""
	}
	return c.CustomCACertificate.FilePath
}

// GlobalProxy returns the normalized global proxy policy.
func (c *Config) GlobalProxy() proxy.Global {
	return proxy.ParseGlobal(string(c.Proxy))
}

// Collection returns the normalized collection proxy policy.
func (c *Config) Collection() proxy.Collection {
	return proxy.ParseCollection(string(c.CollectionProxy))
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".hitwire.json",
	"hitwire.json",
	".hitwire.yaml",
	".hitwire.yml",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &hwerrors.ConfigurationError{Key: "config", Reason: "cannot read " + path, Cause: err}
	}
	return Parse(data, isYAML(path))
}

// Parse decodes and validates a configuration document. YAML documents
// are converted to JSON first so both formats share one schema.
func Parse(data []byte, yamlDoc bool) (*Config, error) {
	if yamlDoc {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, &hwerrors.ConfigurationError{Key: "config", Reason: "invalid YAML", Cause: err}
		}
		data = converted
	}

	if err := Validate(data); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, &hwerrors.ConfigurationError{Key: "config", Reason: "invalid JSON", Cause: err}
	}
	return config, nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c

	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.ProbeTTL > 0 {
		result.ProbeTTL = other.ProbeTTL
	}
	if other.UserAgent != "" {
		result.UserAgent = other.UserAgent
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.MaxRedirects != nil {
		result.MaxRedirects = other.MaxRedirects
	}
	if other.CustomCACertificate != nil {
		result.CustomCACertificate = other.CustomCACertificate
	}
	if len(other.Proxy) > 0 {
		result.Proxy = other.Proxy
	}
	if len(other.CollectionProxy) > 0 {
		result.CollectionProxy = other.CollectionProxy
	}
	if len(other.ClientCertificates) > 0 {
		result.ClientCertificates = other.ClientCertificates
	}

	// Boolean flags - only override if explicitly set in other config
	for _, pair := range []struct{ dst, src **bool }{
		{&result.VerifyTLS, &other.VerifyTLS},
		{&result.KeepDefaultCACertificates, &other.KeepDefaultCACertificates},
		{&result.NoProxy, &other.NoProxy},
		{&result.StoreCookies, &other.StoreCookies},
		{&result.SendCookies, &other.SendCookies},
		{&result.PreferIPv6Loopback, &other.PreferIPv6Loopback},
		{&result.Verbose, &other.Verbose},
		{&result.NoColor, &other.NoColor},
	} {
		if *pair.src != nil {
			*pair.dst = *pair.src
		}
	}

	if len(other.Headers) > 0 {
		headers := make(map[string]string, len(c.Headers)+len(other.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		for k, v := range other.Headers {
			headers[k] = v
		}
		result.Headers = headers
	}

	return &result
}

// SaveConfig writes the configuration as YAML or JSON depending on the
// file extension.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	if isYAML(path) {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		data, err = yaml.Marshal(doc)
		if err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	normalized, err := normalizeYAML(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalizeYAML turns map[any]any nodes, produced for non-string keys,
// into JSON-compatible maps.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		for i, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	}
	return v, nil
}
