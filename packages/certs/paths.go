package certs

import (
	"os"
	"path/filepath"
)

// Well-known locations of the OS trust bundle.
var bundleFiles = []string{
	"/etc/ssl/certs/ca-certificates.crt",                // Debian/Ubuntu/Gentoo etc.
	"/etc/pki/tls/certs/ca-bundle.crt",                  // Fedora/RHEL 6
	"/etc/ssl/ca-bundle.pem",                            // OpenSUSE
	"/etc/pki/tls/cacert.pem",                           // OpenELEC
	"/etc/pki/ca-trust/extracted/pem/tls-ca-bundle.pem", // CentOS/RHEL 7
	"/etc/ssl/cert.pem",                                 // Alpine, macOS
}

var certDirs = []string{
	"/etc/ssl/certs",
	"/etc/pki/tls/certs",
}

func systemBundleFiles() []string {
	if f := os.Getenv("SSL_CERT_FILE"); f != "" {
		return []string{f}
	}
	return bundleFiles
}

func rootCertDirs() []string {
	if d := os.Getenv("SSL_CERT_DIR"); d != "" {
		return filepath.SplitList(d)
	}
	return certDirs
}

// WatchPaths returns the files and directories whose changes should
// invalidate the cached system certificates.
func (a *Aggregator) WatchPaths() []string {
	var out []string
	for _, f := range a.SystemFiles {
		if _, err := os.Stat(f); err == nil {
			out = append(out, f)
		}
	}
	for _, d := range a.RootDirs {
		if _, err := os.Stat(d); err == nil {
			out = append(out, d)
		}
	}
	return out
}
