package agent

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/abdul-hamid-achik/hitwire/packages/certs"
)

// ALPNProtocols is the only protocol list offered during TLS handshakes.
var ALPNProtocols = []string{"http/1.1"}

// TLSOptions are the constructor-level TLS settings of an agent.
type TLSOptions struct {
	// RejectUnauthorized verifies the server chain. Defaults to true via
	// DefaultTLSOptions.
	RejectUnauthorized bool
	CA                 *certs.Result
	Client             certs.Material
}

// DefaultTLSOptions verifies servers against the system trust store.
func DefaultTLSOptions() TLSOptions {
	return TLSOptions{RejectUnauthorized: true}
}

func (o TLSOptions) counts() certs.Count {
	if o.CA == nil {
		return certs.Count{}
	}
	return o.CA.Count
}

func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS13,
		NextProtos:         append([]string(nil), ALPNProtocols...),
		InsecureSkipVerify: !opts.RejectUnauthorized,
		ClientSessionCache: tls.NewLRUClientSessionCache(64),
	}
	if opts.CA != nil && opts.CA.CACertificates != "" {
		cfg.RootCAs = opts.CA.CertPool()
	}
	if !opts.Client.Empty() {
		cert, err := opts.Client.TLSCertificate()
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{*cert}
	}
	return cfg, nil
}

// mergeTLSConfig layers the per-connect settings over the constructor
// settings. Zero values in perConnect never clear a constructor setting,
// so the trust store, verification mode and client identity always reach
// the handshake.
func mergeTLSConfig(constructor, perConnect *tls.Config) *tls.Config {
	var merged *tls.Config
	if constructor != nil {
		merged = constructor.Clone()
	} else {
		merged = &tls.Config{}
	}
	if perConnect == nil {
		return merged
	}
	if perConnect.ServerName != "" {
		merged.ServerName = perConnect.ServerName
	}
	if len(perConnect.NextProtos) > 0 {
		merged.NextProtos = perConnect.NextProtos
	}
	if perConnect.RootCAs != nil {
		merged.RootCAs = perConnect.RootCAs
	}
	if len(perConnect.Certificates) > 0 {
		merged.Certificates = perConnect.Certificates
	}
	if perConnect.InsecureSkipVerify {
		merged.InsecureSkipVerify = true
	}
	if perConnect.MinVersion != 0 {
		merged.MinVersion = perConnect.MinVersion
	}
	if perConnect.MaxVersion != 0 {
		merged.MaxVersion = perConnect.MaxVersion
	}
	return merged
}

// upgradeFunc performs the TLS handshake over an established connection.
type upgradeFunc func(ctx context.Context, conn net.Conn, cfg *tls.Config) (*tls.Conn, error)

// handshake is the stock upgrade step. It only sees the per-connect
// config it is handed.
func handshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (*tls.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// withConstructorTLS decorates an upgrade step so every handshake uses the
// agent's own TLS options merged with the per-connect ones.
func withConstructorTLS(constructor *tls.Config, next upgradeFunc) upgradeFunc {
	return func(ctx context.Context, conn net.Conn, cfg *tls.Config) (*tls.Conn, error) {
		return next(ctx, conn, mergeTLSConfig(constructor, cfg))
	}
}
