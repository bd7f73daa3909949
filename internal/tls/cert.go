// SPDX-License-Identifier: MIT

// Package tls mints the root certificate authority the proxy presents
// during CONNECT tunnels and the per-host leaf certificates it signs on
// demand so a decrypted host never sees more than one unexpected
// certificate swap.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/devproxy-oss/devproxy/internal/cache"
	"github.com/devproxy-oss/devproxy/internal/metrics"
)

const (
	// CAFileName is the PEM file the root CA certificate is stored under,
	// inside the on-disk state directory (see internal/config.DataDir).
	CAFileName = "rootCertificate.cer"
	// CAKeyFileName is the PEM file the root CA private key is stored
	// under, in the same directory.
	CAKeyFileName = "rootCertificate.key"
	// CAValidityYears is how long a freshly minted root CA is valid for.
	CAValidityYears = 10
	// LeafValidity is how long a minted per-host leaf certificate is
	// valid for. Short-lived on purpose: the leaf cache re-mints rather
	// than relying on long expiries.
	LeafValidity = 24 * time.Hour
	// LeafCacheTTL is how long a minted leaf certificate is kept in
	// internal/cache before a repeat CONNECT re-signs it.
	LeafCacheTTL = 12 * time.Hour
)

// CA is the root certificate authority: its certificate (presented to
// clients that trust it) and the key used to sign per-host leaf certs.
type CA struct {
	Cert    *x509.Certificate
	CertDER []byte
	key     *ecdsa.PrivateKey
}

// LoadOrCreateCA loads the root CA from certPath/keyPath if both exist, or
// mints a fresh one and writes it there. certPath's directory is created if
// missing.
func LoadOrCreateCA(certPath, keyPath string, logger zerolog.Logger) (*CA, error) {
	if fileExists(certPath) && fileExists(keyPath) {
		ca, err := loadCA(certPath, keyPath)
		if err == nil {
			logger.Debug().Str("cert", certPath).Msg("loaded existing root certificate")
			return ca, nil
		}
		logger.Warn().Err(err).Msg("existing root certificate unreadable, minting a new one")
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o750); err != nil {
		return nil, fmt.Errorf("create cert directory: %w", err)
	}

	ca, err := mintCA()
	if err != nil {
		return nil, fmt.Errorf("mint root certificate: %w", err)
	}
	if err := ca.writeTo(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("persist root certificate: %w", err)
	}

	logger.Info().Str("cert", certPath).Msg("minted new root certificate")
	return ca, nil
}

func mintCA() (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"dev-proxy CA"},
			CommonName:   "dev-proxy root certificate",
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(CAValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse minted CA certificate: %w", err)
	}

	return &CA{Cert: cert, CertDER: der, key: key}, nil
}

func loadCA(certPath, keyPath string) (*CA, error) {
	certPEM, err := os.ReadFile(certPath) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("invalid certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("invalid key PEM")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}

	return &CA{Cert: cert, CertDER: certBlock.Bytes, key: key}, nil
}

func (ca *CA) writeTo(certPath, keyPath string) error {
	// #nosec G304
	certOut, err := os.Create(certPath)
	if err != nil {
		return fmt.Errorf("create cert file: %w", err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: ca.CertDER}); err != nil {
		_ = certOut.Close()
		return fmt.Errorf("encode certificate: %w", err)
	}
	if err := certOut.Close(); err != nil {
		return fmt.Errorf("close cert file: %w", err)
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(ca.key)
	if err != nil {
		_ = keyOut.Close()
		return fmt.Errorf("marshal private key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		_ = keyOut.Close()
		return fmt.Errorf("encode private key: %w", err)
	}
	return keyOut.Close()
}

// LeafCache mints per-host leaf certificates signed by ca, keeping each one
// around for LeafCacheTTL so repeat CONNECTs to the same host skip
// re-signing. Built on internal/cache's GetOrSet so concurrent CONNECTs for
// the same host never race each other into minting twice.
type LeafCache struct {
	ca    *CA
	cache cache.Cache
}

// NewLeafCache wraps ca with an in-memory leaf certificate cache.
func NewLeafCache(ca *CA) *LeafCache {
	return &LeafCache{ca: ca, cache: cache.NewMemoryCache(time.Hour)}
}

// LeafFor returns a tls.Certificate for host, minting and caching one if
// none is cached yet.
func (lc *LeafCache) LeafFor(host string) (*tls.Certificate, error) {
	v, err := lc.cache.GetOrSet(host, LeafCacheTTL, func() (any, error) {
		leaf, err := lc.mintLeaf(host)
		if err == nil {
			metrics.RecordLeafCertMinted()
		}
		return leaf, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

func (lc *LeafCache) mintLeaf(host string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(LeafValidity),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, lc.ca.Cert, &key.PublicKey, lc.ca.key)
	if err != nil {
		return nil, fmt.Errorf("sign leaf certificate for %s: %w", host, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, lc.ca.CertDER},
		PrivateKey:  key,
	}, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}
	return serial, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// InstallScript renders a shell script that adds certPath to the trust
// store of every OS family devproxy targets, detecting which tooling is
// present at run time rather than hard-coding one distribution. Generating
// the script as data keeps the actual privileged work (and its test
// coverage) separate from the decision of whether and how to run it.
func InstallScript(certPath string) string {
	return fmt.Sprintf(`#!/bin/sh
set -e
CERT=%q

if [ "$(uname -s)" = "Darwin" ]; then
    security add-trusted-cert -d -r trustRoot -k /Library/Keychains/System.keychain "$CERT"
    exit 0
fi

if command -v update-ca-certificates >/dev/null 2>&1; then
    cp "$CERT" /usr/local/share/ca-certificates/devproxy.crt
    update-ca-certificates
    exit 0
fi

if command -v update-ca-trust >/dev/null 2>&1; then
    cp "$CERT" /etc/pki/ca-trust/source/anchors/devproxy.pem
    update-ca-trust extract
    exit 0
fi

echo "no supported certificate tooling found; trust $CERT manually" >&2
exit 1
`, certPath)
}

// Install adds the root CA to the current OS's trust store so clients that
// don't carry their own CA bundle (most browsers do, most CLI tools don't)
// stop warning about the decrypted TLS connections. It shells out to the
// platform's own certificate tooling via InstallScript rather than writing
// into trust store formats directly, since those formats and their update
// hooks are OS-specific and change across distributions.
func (ca *CA) Install(certPath string) error {
	script := InstallScript(certPath)
	cmd := exec.Command("sh", "-c", script) // #nosec G204
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("install root certificate: %w: %s", err, string(out))
	}
	return nil
}

// GetNetworkIPs returns all non-loopback IPv4 and IPv6 addresses from
// network interfaces, for operators who want the root CA's failure
// diagnostics ("which IPs will this machine present as") without opening a
// connection.
func GetNetworkIPs() ([]net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("get network interfaces: %w", err)
	}

	var ips []net.IP
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}
