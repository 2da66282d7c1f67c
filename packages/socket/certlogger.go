package socket

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// CertificateLogger writes a peer certificate summary in the style of
// curl's verbose output.
type CertificateLogger struct {
	sink timeline.Sink
}

// NewCertificateLogger creates a logger writing to sink.
func NewCertificateLogger(sink timeline.Sink) *CertificateLogger {
	return &CertificateLogger{sink: sink}
}

const certDateLayout = "Jan _2 15:04:05 2006 GMT"

// LogCertificateDetails logs the leaf certificate of cs. It does nothing
// when the peer presented no certificate.
func (l *CertificateLogger) LogCertificateDetails(cs tls.ConnectionState, hostname string) {
	if l.sink == nil || len(cs.PeerCertificates) == 0 {
		return
	}
	cert := cs.PeerCertificates[0]
	if cert == nil || len(cert.Raw) == 0 {
		return
	}

	l.sink.Add(timeline.TypeTLS, "Server certificate:")
	if subject := FormatName(cert.Subject); subject != "" {
		l.sink.Add(timeline.TypeTLS, " subject: "+subject)
	}
	l.sink.Add(timeline.TypeTLS, " start date: "+cert.NotBefore.UTC().Format(certDateLayout))
	l.sink.Add(timeline.TypeTLS, " expire date: "+cert.NotAfter.UTC().Format(certDateLayout))

	if san := SubjectAltNames(cert); san != "" {
		if hostname != "" && strings.Contains(san, hostname) {
			l.sink.Add(timeline.TypeTLS, fmt.Sprintf(" subjectAltName: host %q matched cert's %q", hostname, san))
		} else {
			l.sink.Add(timeline.TypeTLS, " subjectAltName: "+san)
		}
	}

	if issuer := FormatName(cert.Issuer); issuer != "" {
		l.sink.Add(timeline.TypeTLS, " issuer: "+issuer)
	}

	if len(cs.VerifiedChains) > 0 {
		l.sink.Add(timeline.TypeTLS, "SSL certificate verify ok.")
	} else {
		l.sink.Add(timeline.TypeTLS, "SSL certificate verify result: skipped (validation disabled)")
	}

	if !cert.NotAfter.IsZero() && time.Until(cert.NotAfter) < 0 {
		l.sink.Add(timeline.TypeTLS, "SSL certificate has expired")
	}
}

var attributeNames = map[string]string{
	"2.5.4.3":              "CN",
	"2.5.4.5":              "serialNumber",
	"2.5.4.6":              "C",
	"2.5.4.7":              "L",
	"2.5.4.8":              "ST",
	"2.5.4.9":              "street",
	"2.5.4.10":             "O",
	"2.5.4.11":             "OU",
	"2.5.4.17":             "postalCode",
	"1.2.840.113549.1.9.1": "emailAddress",
}

// FormatName joins the attributes of a distinguished name as "k=v; k=v",
// in certificate order.
func FormatName(name pkix.Name) string {
	parts := make([]string, 0, len(name.Names))
	for _, atv := range name.Names {
		parts = append(parts, attributeName(atv.Type)+"="+fmt.Sprint(atv.Value))
	}
	return strings.Join(parts, "; ")
}

func attributeName(oid asn1.ObjectIdentifier) string {
	if n, ok := attributeNames[oid.String()]; ok {
		return n
	}
	return oid.String()
}

// SubjectAltNames renders the SAN extension like OpenSSL, e.g.
// "DNS:example.com, IP Address:127.0.0.1".
func SubjectAltNames(cert *x509.Certificate) string {
	var parts []string
	for _, d := range cert.DNSNames {
		parts = append(parts, "DNS:"+d)
	}
	for _, ip := range cert.IPAddresses {
		parts = append(parts, "IP Address:"+ip.String())
	}
	for _, e := range cert.EmailAddresses {
		parts = append(parts, "email:"+e)
	}
	for _, u := range cert.URIs {
		parts = append(parts, "URI:"+u.String())
	}
	return strings.Join(parts, ", ")
}
