package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"

	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
)

// Client certificate kinds.
const (
	TypeCert = "cert"
	TypePFX  = "pfx"
)

// ClientCertificate binds a certificate to a domain pattern such as
// "*.example.com" or "api.example.com:8443".
type ClientCertificate struct {
	Domain       string `json:"domain" yaml:"domain"`
	Type         string `json:"type" yaml:"type"`
	CertFilePath string `json:"certFilePath,omitempty" yaml:"certFilePath,omitempty"`
	KeyFilePath  string `json:"keyFilePath,omitempty" yaml:"keyFilePath,omitempty"`
	PfxFilePath  string `json:"pfxFilePath,omitempty" yaml:"pfxFilePath,omitempty"`
	Passphrase   string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// Material is the raw client identity. It feeds both TLS and the agent
// cache key.
type Material struct {
	Cert       []byte
	Key        []byte
	PFX        []byte
	Passphrase string
}

// Empty reports whether no client identity was selected.
func (m Material) Empty() bool {
	return len(m.Cert) == 0 && len(m.Key) == 0 && len(m.PFX) == 0
}

// DomainPattern compiles a certificate domain into an anchored regexp that
// accepts an optional https://, grpc:// or grpcs:// prefix.
func DomainPattern(domain string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(strings.TrimSpace(domain))
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	return regexp.Compile(`^(https://|grpc://|grpcs://)?` + quoted)
}

// MatchClientCertificate returns the first certificate whose domain pattern
// matches requestURL.
func MatchClientCertificate(requestURL string, certs []ClientCertificate) (*ClientCertificate, bool) {
	for i := range certs {
		if certs[i].Domain == "" {
			continue
		}
		re, err := DomainPattern(certs[i].Domain)
		if err != nil {
			continue
		}
		if re.MatchString(requestURL) {
			return &certs[i], true
		}
	}
	return nil, false
}

// Load reads the certificate files, resolving relative paths against
// basePath.
func (c *ClientCertificate) Load(basePath string) (Material, error) {
	switch c.Type {
	case TypeCert, "":
		cert, err := readClientFile(basePath, c.CertFilePath, "certFilePath")
		if err != nil {
			return Material{}, err
		}
		key, err := readClientFile(basePath, c.KeyFilePath, "keyFilePath")
		if err != nil {
			return Material{}, err
		}
		return Material{Cert: cert, Key: key, Passphrase: c.Passphrase}, nil
	case TypePFX:
		pfx, err := readClientFile(basePath, c.PfxFilePath, "pfxFilePath")
		if err != nil {
			return Material{}, err
		}
		return Material{PFX: pfx, Passphrase: c.Passphrase}, nil
	default:
		return Material{}, &hwerrors.ConfigurationError{
			Key:    "clientCertificates.type",
			Reason: fmt.Sprintf("unsupported client certificate type %q", c.Type),
		}
	}
}

// TLSCertificate converts the material into a certificate usable by a
// tls.Config.
func (m Material) TLSCertificate() (*tls.Certificate, error) {
	if len(m.PFX) > 0 {
		return pfxCertificate(m.PFX, m.Passphrase)
	}
	key, err := decryptKey(m.Key, m.Passphrase)
	if err != nil {
		return nil, err
	}
	pair, err := tls.X509KeyPair(m.Cert, key)
	if err != nil {
		return nil, &hwerrors.ConfigurationError{
			Key:    "clientCertificates",
			Reason: "invalid client certificate or key",
			Cause:  err,
		}
	}
	return &pair, nil
}

// decryptKey returns keyPEM with its private key block in clear text.
// Both PKCS#8 "ENCRYPTED PRIVATE KEY" blocks and legacy OpenSSL blocks
// carrying a DEK-Info header are accepted.
func decryptKey(keyPEM []byte, passphrase string) ([]byte, error) {
	rest := keyPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return keyPEM, nil
		}

		switch {
		case block.Type == "ENCRYPTED PRIVATE KEY":
			key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(passphrase))
			if err != nil {
				return nil, wrongPassphrase(err)
			}
			der, err := x509.MarshalPKCS8PrivateKey(key)
			if err != nil {
				return nil, wrongPassphrase(err)
			}
			return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
		case strings.HasSuffix(block.Type, "PRIVATE KEY") && x509.IsEncryptedPEMBlock(block): //nolint:staticcheck
			der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
			if err != nil {
				return nil, wrongPassphrase(err)
			}
			return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			return keyPEM, nil
		}
	}
}

func wrongPassphrase(err error) error {
	return &hwerrors.ConfigurationError{
		Key:    "clientCertificates.passphrase",
		Reason: "cannot decrypt client key",
		Cause:  err,
	}
}

func pfxCertificate(data []byte, passphrase string) (*tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, passphrase)
	if err != nil {
		return nil, &hwerrors.ConfigurationError{
			Key:    "clientCertificates.pfxFilePath",
			Reason: "cannot decode PKCS#12 archive",
			Cause:  err,
		}
	}

	var certPEM, keyPEM []byte
	for _, b := range blocks {
		encoded := pem.EncodeToMemory(b)
		if b.Type == "CERTIFICATE" {
			certPEM = append(certPEM, encoded...)
		} else if strings.HasSuffix(b.Type, "PRIVATE KEY") {
			keyPEM = append(keyPEM, encoded...)
		}
	}

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &hwerrors.ConfigurationError{
			Key:    "clientCertificates.pfxFilePath",
			Reason: "PKCS#12 archive holds no usable key pair",
			Cause:  err,
		}
	}
	return &pair, nil
}

func readClientFile(basePath, path, key string) ([]byte, error) {
	if path == "" {
		return nil, &hwerrors.ConfigurationError{
			Key:    "clientCertificates." + key,
			Reason: "path is empty",
		}
	}
	if !filepath.IsAbs(path) && basePath != "" {
		path = filepath.Join(basePath, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &hwerrors.ConfigurationError{
			Key:    "clientCertificates." + key,
			Reason: fmt.Sprintf("cannot read %q", path),
			Cause:  err,
		}
	}
	return data, nil
}
