package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// CertificateInfo holds metadata of a client certificate.
type CertificateInfo struct {
	Subject         string
	Issuer          string
	ValidFrom       time.Time
	ValidUntil      time.Time
	DaysUntilExpiry int
	SANs            []string
	IsExpired       bool
}

// ExpiringCertificates returns the client certificates in cfg that expire within
// the given window of now, including ones already expired.
func ExpiringCertificates(cfg *tls.Config, within time.Duration, now time.Time) ([]CertificateInfo, error) {
	if cfg == nil {
		return nil, nil
	}

	var expiring []CertificateInfo
	for _, c := range cfg.Certificates {
		leaf := c.Leaf
		if leaf == nil {
			if len(c.Certificate) == 0 {
				continue
			}
			var err error
			if leaf, err = x509.ParseCertificate(c.Certificate[0]); err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
		}
		if leaf.NotAfter.Sub(now) > within {
			continue
		}
		expiring = append(expiring, certificateInfo(leaf, now))
	}
	return expiring, nil
}

func certificateInfo(cert *x509.Certificate, now time.Time) CertificateInfo {
	// Collect SANs (Subject Alternative Names)
	var sans []string
	for _, dns := range cert.DNSNames {
		sans = append(sans, fmt.Sprintf("DNS:%s", dns))
	}
	for _, ip := range cert.IPAddresses {
		sans = append(sans, fmt.Sprintf("IP:%s", ip.String()))
	}

	return CertificateInfo{
		Subject:         cert.Subject.String(),
		Issuer:          cert.Issuer.String(),
		ValidFrom:       cert.NotBefore,
		ValidUntil:      cert.NotAfter,
		DaysUntilExpiry: int(cert.NotAfter.Sub(now).Hours() / 24),
		SANs:            sans,
		IsExpired:       now.After(cert.NotAfter),
	}
}
