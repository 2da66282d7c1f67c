package certs

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
)

// ExtraCACertsEnv names the environment variable pointing at an additional
// PEM bundle that is always trusted.
const ExtraCACertsEnv = "HITWIRE_EXTRA_CA_CERTS"

// Options selects the trust anchors to aggregate.
type Options struct {
	// CACertFilePath is an optional custom PEM bundle.
	CACertFilePath string
	// ShouldKeepDefaultCerts keeps system and root certificates next to the
	// custom bundle.
	ShouldKeepDefaultCerts bool
}

// Count holds the number of certificates contributed by each source.
type Count struct {
	System int `json:"system"`
	Root   int `json:"root"`
	Custom int `json:"custom"`
	Extra  int `json:"extra"`
}

// Total returns the sum over all sources.
func (c Count) Total() int {
	return c.System + c.Root + c.Custom + c.Extra
}

func (c Count) String() string {
	return fmt.Sprintf("%d root, %d system, %d extra, %d custom", c.Root, c.System, c.Extra, c.Custom)
}

// Result is the merged, de-duplicated CA bundle.
type Result struct {
	CACertificates string
	Count          Count
	blocks         []string
}

// Blocks returns the individual PEM blocks of the bundle.
func (r *Result) Blocks() []string {
	out := make([]string, len(r.blocks))
	copy(out, r.blocks)
	return out
}

// CertPool builds an x509 pool from the bundle.
func (r *Result) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM([]byte(r.CACertificates))
	return pool
}

// Aggregator loads trust anchors from the system bundle, the root
// certificate directories, a custom file and the extra-trust variable.
type Aggregator struct {
	// SystemFiles are candidate OS bundle files; the first readable one wins.
	SystemFiles []string
	// RootDirs are directories holding one certificate per file.
	RootDirs []string
	// Getenv reads environment variables.
	Getenv func(string) string

	logger *zap.Logger

	mu     sync.Mutex
	system []string
	root   []string
	loaded bool
}

// NewAggregator creates an aggregator reading the platform locations.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		SystemFiles: systemBundleFiles(),
		RootDirs:    rootCertDirs(),
		Getenv:      os.Getenv,
		logger:      logger,
	}
}

var (
	defaultAggregator     *Aggregator
	defaultAggregatorOnce sync.Once
)

// Default returns the process-wide aggregator. Its system lookups are
// cached until InvalidateSystemCache is called.
func Default() *Aggregator {
	defaultAggregatorOnce.Do(func() {
		defaultAggregator = NewAggregator(nil)
	})
	return defaultAggregator
}

// GetCACertificates aggregates certificates using the process-wide aggregator.
func GetCACertificates(opts Options) (*Result, error) {
	return Default().GetCACertificates(opts)
}

// InvalidateSystemCache forces the next lookup to re-read system sources.
func (a *Aggregator) InvalidateSystemCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.system, a.root, a.loaded = nil, nil, false
}

// GetCACertificates merges the configured sources. A custom path that does
// not exist or cannot be read is a ConfigurationError.
func (a *Aggregator) GetCACertificates(opts Options) (*Result, error) {
	set := newPEMSet()
	var count Count

	includeDefaults := opts.CACertFilePath == "" || opts.ShouldKeepDefaultCerts

	var custom []string
	if opts.CACertFilePath != "" {
		var err error
		custom, err = readCustomBundle(opts.CACertFilePath)
		if err != nil {
			return nil, err
		}
	}

	if includeDefaults {
		system, root := a.defaults()
		count.System = len(system)
		count.Root = len(root)
		set.add(system...)
		set.add(root...)
	}

	count.Custom = len(custom)
	set.add(custom...)

	extra := a.extra()
	count.Extra = len(extra)
	set.add(extra...)

	a.logger.Debug("aggregated CA certificates",
		zap.Int("system", count.System),
		zap.Int("root", count.Root),
		zap.Int("custom", count.Custom),
		zap.Int("extra", count.Extra),
		zap.Int("unique", set.len()),
	)

	return &Result{
		CACertificates: set.bundle(),
		Count:          count,
		blocks:         set.blocks(),
	}, nil
}

func (a *Aggregator) defaults() (system, root []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded {
		return a.system, a.root
	}

	for _, file := range a.SystemFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		a.system = splitPEM(data)
		break
	}

	for _, dir := range a.RootDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !(strings.HasSuffix(name, ".pem") || strings.HasSuffix(name, ".crt")) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			a.root = append(a.root, splitPEM(data)...)
		}
	}

	a.loaded = true
	a.logger.Debug("loaded default trust stores", zap.Int("system", len(a.system)), zap.Int("root", len(a.root)))
	return a.system, a.root
}

func (a *Aggregator) extra() []string {
	getenv := a.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	path := getenv(ExtraCACertsEnv)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		a.logger.Warn("ignoring unreadable extra CA bundle", zap.String("path", path), zap.Error(err))
		return nil
	}
	return splitPEM(data)
}

func readCustomBundle(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &hwerrors.ConfigurationError{
			Key:    "customCaCertificate.filePath",
			Reason: fmt.Sprintf("CA certificate file %q does not exist", path),
			Cause:  err,
		}
	}
	if info.IsDir() {
		return nil, &hwerrors.ConfigurationError{
			Key:    "customCaCertificate.filePath",
			Reason: fmt.Sprintf("CA certificate path %q is a directory", path),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &hwerrors.ConfigurationError{
			Key:    "customCaCertificate.filePath",
			Reason: fmt.Sprintf("CA certificate file %q is not readable", path),
			Cause:  err,
		}
	}

	blocks := splitPEM(data)
	if len(blocks) == 0 {
		return nil, &hwerrors.ConfigurationError{
			Key:    "customCaCertificate.filePath",
			Reason: fmt.Sprintf("no PEM certificates found in %q", path),
		}
	}
	return blocks, nil
}

// splitPEM returns the canonical text of every CERTIFICATE block in data.
// Canonical re-encoding makes whitespace or header differences irrelevant
// for de-duplication.
func splitPEM(data []byte) []string {
	var out []string
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			continue
		}
		out = append(out, string(pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: block.Bytes})))
	}
	return out
}

// pemSet is an insertion-ordered set of PEM blocks.
type pemSet struct {
	seen  map[string]struct{}
	order []string
}

func newPEMSet() *pemSet {
	return &pemSet{seen: make(map[string]struct{})}
}

func (s *pemSet) add(blocks ...string) {
	for _, b := range blocks {
		if _, ok := s.seen[b]; ok {
			continue
		}
		s.seen[b] = struct{}{}
		s.order = append(s.order, b)
	}
}

func (s *pemSet) len() int { return len(s.order) }

func (s *pemSet) blocks() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *pemSet) bundle() string {
	var buf bytes.Buffer
	for _, b := range s.order {
		buf.WriteString(b)
	}
	return buf.String()
}
