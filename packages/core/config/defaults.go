package config

const (
	// DefaultTimeout is the per-hop timeout in milliseconds.
	DefaultTimeout = 30000
	// DefaultMaxRedirects is the redirect budget of a logical request.
	DefaultMaxRedirects = 5
	// DefaultLogLevel is the process log level.
	DefaultLogLevel = "warn"
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		VerifyTLS:                 BoolPtr(true),
		KeepDefaultCACertificates: BoolPtr(true),
		NoProxy:                   BoolPtr(false),
		Timeout:                   DefaultTimeout,
		MaxRedirects:              IntPtr(DefaultMaxRedirects),
		StoreCookies:              BoolPtr(true),
		SendCookies:               BoolPtr(true),
		PreferIPv6Loopback:        BoolPtr(true),
		LogLevel:                  DefaultLogLevel,
		Verbose:                   BoolPtr(false),
		NoColor:                   BoolPtr(false),
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	d := DefaultConfig()
	return c.GetVerifyTLS() == d.GetVerifyTLS() &&
		c.GetKeepDefaultCACertificates() == d.GetKeepDefaultCACertificates() &&
		c.GetNoProxy() == d.GetNoProxy() &&
		c.Timeout == d.Timeout &&
		c.GetMaxRedirects() == d.GetMaxRedirects() &&
		c.GetStoreCookies() == d.GetStoreCookies() &&
		c.GetSendCookies() == d.GetSendCookies() &&
		c.GetPreferIPv6Loopback() == d.GetPreferIPv6Loopback() &&
		c.ProbeTTL == d.ProbeTTL &&
		c.UserAgent == "" &&
		c.LogLevel == d.LogLevel &&
		c.CACertFilePath() == "" &&
		len(c.Headers) == 0 &&
		len(c.Proxy) == 0 &&
		len(c.CollectionProxy) == 0 &&
		len(c.ClientCertificates) == 0
}
