package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/hitwire/packages/agent"
	"github.com/abdul-hamid-achik/hitwire/packages/certs"
	"github.com/abdul-hamid-achik/hitwire/packages/cookies"
	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/core/env"
	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
	hwhttp "github.com/abdul-hamid-achik/hitwire/packages/http"
	"github.com/abdul-hamid-achik/hitwire/packages/logging"
	"github.com/abdul-hamid-achik/hitwire/packages/probe"
)

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// settingsFlags are the configuration overrides shared by commands that
// send or route requests.
type settingsFlags struct {
	configPath   string
	envFile      string
	collection   string
	insecure     bool
	cacert       string
	keepDefault  bool
	noProxy      bool
	proxy        string
	bypass       string
	timeout      string
	maxRedirects int
	logLevel     string
}

func (s *settingsFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&s.configPath, "config", getEnvString("HITWIRE_CONFIG", ""), "Path to config file (env: HITWIRE_CONFIG)")
	flags.StringVar(&s.envFile, "env-file", getEnvString("HITWIRE_ENV_FILE", ""), "Load variables such as HTTPS_PROXY or NO_PROXY from a .env file (env: HITWIRE_ENV_FILE)")
	flags.StringVar(&s.collection, "collection", getEnvString("HITWIRE_COLLECTION", ""), "Collection directory for relative certificate and upload paths (env: HITWIRE_COLLECTION)")
	flags.BoolVarP(&s.insecure, "insecure", "k", getEnvBool("HITWIRE_INSECURE", false), "Disable SSL certificate validation (env: HITWIRE_INSECURE)")
	flags.StringVar(&s.cacert, "cacert", getEnvString("HITWIRE_CACERT", ""), "Custom CA bundle in PEM format (env: HITWIRE_CACERT)")
	flags.BoolVar(&s.keepDefault, "keep-default-ca", getEnvBool("HITWIRE_KEEP_DEFAULT_CA", true), "Keep system and root CAs next to --cacert (env: HITWIRE_KEEP_DEFAULT_CA)")
	flags.BoolVar(&s.noProxy, "noproxy", getEnvBool("HITWIRE_NOPROXY", false), "Never use a proxy (env: HITWIRE_NOPROXY)")
	flags.StringVar(&s.proxy, "proxy", getEnvString("HITWIRE_PROXY", ""), "Proxy URL, \"system\" or \"off\" (env: HITWIRE_PROXY)")
	flags.StringVar(&s.bypass, "bypass", getEnvString("HITWIRE_BYPASS", ""), "Comma-separated hosts that skip --proxy (env: HITWIRE_BYPASS)")
	flags.StringVar(&s.timeout, "timeout", getEnvString("HITWIRE_TIMEOUT", ""), "Per-hop timeout (e.g., 30s, 500ms) (env: HITWIRE_TIMEOUT)")
	flags.IntVar(&s.maxRedirects, "max-redirects", getEnvInt("HITWIRE_MAX_REDIRECTS", -1), "Redirect budget, 0 follows none (env: HITWIRE_MAX_REDIRECTS)")
	flags.StringVar(&s.logLevel, "log-level", getEnvString("HITWIRE_LOG_LEVEL", ""), "Process log level: debug, info, warn, error (env: HITWIRE_LOG_LEVEL)")
}

// load exports the env file, reads the config file and applies the flag
// overrides. Variables already present in the environment win over the
// env file.
func (s *settingsFlags) load(cmd *cobra.Command) (*config.Config, error) {
	if s.envFile != "" {
		if _, err := env.Load(s.envFile); err != nil {
			return nil, &hwerrors.ConfigurationError{Key: "env-file", Reason: "cannot load " + s.envFile, Cause: err}
		}
	}

	fileConfig, err := config.LoadConfig(s.configPath)
	if err != nil {
		return nil, err
	}

	overrides := &config.Config{LogLevel: s.logLevel}
	if s.insecure {
		overrides.VerifyTLS = config.BoolPtr(false)
	}
	if s.cacert != "" {
		overrides.CustomCACertificate = &config.CACertificate{Enabled: true, FilePath: s.cacert}
	}
	if cmd.Flags().Changed("keep-default-ca") || os.Getenv("HITWIRE_KEEP_DEFAULT_CA") != "" {
		overrides.KeepDefaultCACertificates = config.BoolPtr(s.keepDefault)
	}
	if s.noProxy {
		overrides.NoProxy = config.BoolPtr(true)
	}
	if s.proxy != "" {
		raw, err := proxyFlagJSON(s.proxy, s.bypass)
		if err != nil {
			return nil, err
		}
		overrides.Proxy = raw
	}
	if s.timeout != "" {
		d, err := time.ParseDuration(s.timeout)
		if err != nil || d < 0 {
			return nil, &hwerrors.ConfigurationError{
				Key:    "timeout",
				Reason: fmt.Sprintf("invalid timeout value %q (use format like 30s, 1m, 500ms)", s.timeout),
				Cause:  err,
			}
		}
		overrides.Timeout = int(d.Milliseconds())
	}
	if s.maxRedirects >= 0 {
		overrides.MaxRedirects = config.IntPtr(s.maxRedirects)
	}

	return fileConfig.Merge(overrides), nil
}

// proxyFlagJSON turns --proxy into the global proxy document understood
// by the config layer.
func proxyFlagJSON(value, bypass string) (json.RawMessage, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "system":
		return json.RawMessage(`"system"`), nil
	case "off", "false", "none":
		return json.RawMessage(`false`), nil
	}

	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return nil, &hwerrors.ConfigurationError{
			Key:    "proxy",
			Reason: fmt.Sprintf("invalid proxy URL %q", value),
			Cause:  err,
		}
	}

	endpoint := map[string]any{
		"protocol":    u.Scheme,
		"hostname":    u.Hostname(),
		"port":        u.Port(),
		"bypassProxy": bypass,
	}
	if u.User != nil {
		password, _ := u.User.Password()
		endpoint["auth"] = map[string]any{
			"enabled":  true,
			"username": u.User.Username(),
			"password": password,
		}
	}
	return json.Marshal(endpoint)
}

// engine is the wired request stack of one command invocation.
type engine struct {
	logger     *zap.Logger
	client     *hwhttp.Client
	factory    *agent.Factory
	aggregator *certs.Aggregator
	jar        *cookies.MemoryJar
}

func newEngine(cfg *config.Config) (*engine, error) {
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	jar, err := cookies.NewMemoryJar()
	if err != nil {
		return nil, err
	}
	jar.SetPolicy(cfg.GetStoreCookies(), cfg.GetSendCookies())

	e := &engine{
		logger:     logger,
		factory:    agent.NewFactory(agent.WithLogger(logger.Named("agent"))),
		aggregator: certs.NewAggregator(logger.Named("certs")),
		jar:        jar,
	}

	opts := []hwhttp.ClientOption{
		hwhttp.WithLogger(logger.Named("http")),
		hwhttp.WithAgentFactory(e.factory),
		hwhttp.WithAggregator(e.aggregator),
		hwhttp.WithCookieJar(jar),
		hwhttp.WithProber(probe.New(
			probe.WithTTL(cfg.GetProbeTTL()),
			probe.WithLogger(logger.Named("probe")),
		)),
		hwhttp.WithLoopbackPreference(cfg.GetPreferIPv6Loopback()),
		hwhttp.WithGlobalProxy(cfg.GlobalProxy()),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, hwhttp.WithUserAgent(cfg.UserAgent))
	}

	keys := make([]string, 0, len(cfg.Headers))
	for k := range cfg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, hwhttp.WithDefaultHeader(k, cfg.Headers[k]))
	}

	e.client = hwhttp.NewClient(opts...)
	return e, nil
}

// applyConfig copies TLS, proxy, timeout and redirect settings onto req.
func applyConfig(req *hwhttp.Request, cfg *config.Config, collectionPath string) {
	req.Timeout = cfg.GetTimeout()
	req.MaxRedirects = cfg.GetMaxRedirects()
	req.CollectionPath = collectionPath
	req.TLS = hwhttp.TLSSettings{
		SkipVerify:         !cfg.GetVerifyTLS(),
		CACertFilePath:     cfg.CACertFilePath(),
		KeepDefaultCACerts: cfg.GetKeepDefaultCACertificates(),
		ClientCertificates: cfg.ClientCertificates,
	}
	req.Proxy = &hwhttp.ProxySettings{
		NoProxy:    cfg.GetNoProxy(),
		Collection: cfg.Collection(),
		Global:     cfg.GlobalProxy(),
	}
}

// configExit wraps a setup failure with the configuration exit code.
func configExit(err error) error {
	return &ExitError{Code: ExitConfigError, Err: err}
}
