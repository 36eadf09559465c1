package transportquic

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"time"
)

// CertOptions describes how to obtain a TLS identity for a QUIC gate:
// either load one from disk, or generate and persist a self-signed one the
// first time, so a demo gate restarted later reuses the same identity
// instead of minting a new one (and a new set of peer TOFU warnings) on
// every run. A zero CertOptions always generates a fresh in-memory
// identity and never touches disk.
type CertOptions struct {
	Hosts      []string
	ValidFor   time.Duration
	NextProtos []string

	// CertPath and KeyPath, if both set, are checked first; a missing pair
	// triggers generation and is then written for next time.
	CertPath string
	KeyPath  string
}

func (o CertOptions) resolved() CertOptions {
	if o.ValidFor <= 0 {
		o.ValidFor = 24 * time.Hour
	}

	if len(o.Hosts) == 0 {
		o.Hosts = []string{"localhost"}
	}

	if len(o.NextProtos) == 0 {
		o.NextProtos = []string{"startrek-quic"}
	}

	return o
}

// EnsureTLSConfig loads o.CertPath/o.KeyPath if both already exist,
// otherwise generates a fresh self-signed identity for o.Hosts and, when
// both paths are set, persists it there for reuse. This is the entry point
// a long-lived QUIC gate wants; GenerateSelfSignedTLS below stays a thin
// always-ephemeral wrapper for tests and one-shot demos.
func EnsureTLSConfig(o CertOptions) (*tls.Config, error) {
	o = o.resolved()

	if o.CertPath != "" && o.KeyPath != "" && filesExist(o.CertPath, o.KeyPath) {
		cfg, err := LoadTLSConfig(o.CertPath, o.KeyPath)
		if err == nil {
			cfg.NextProtos = o.NextProtos
			return cfg, nil
		}
	}

	cfg, cert, err := generateSelfSigned(o.Hosts, o.ValidFor, o.NextProtos)
	if err != nil {
		return nil, err
	}

	if o.CertPath != "" && o.KeyPath != "" {
		if err := WritePEM(cert, o.CertPath, o.KeyPath); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func filesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}

	return true
}

// GenerateSelfSignedTLS creates an in-memory self-signed TLS config for the
// given hostnames/IPs, suitable for a demo or test Gate that needs QUIC's
// mandatory TLS 1.3 without an external CA or EnsureTLSConfig's on-disk
// caching. Options.resolved rejects a nil TLSConfig, so a gate that wants
// to run a QUIC hub without provisioning real certificates calls this (or
// EnsureTLSConfig) first.
func GenerateSelfSignedTLS(hosts []string, validFor time.Duration) (*tls.Config, error) {
	if validFor <= 0 {
		validFor = 24 * time.Hour
	}

	cfg, _, err := generateSelfSigned(hosts, validFor, []string{"startrek-quic"})

	return cfg, err
}

// generateSelfSigned backs both GenerateSelfSignedTLS and EnsureTLSConfig.
// The serial number is drawn from crypto/rand rather than a timestamp:
// NotBefore/NotAfter already carry the time dimension, and a serial that
// doubles as a (predictable, colliding-on-rapid-restart) clock reading is
// a needless weakening of an otherwise throwaway self-signed certificate.
func generateSelfSigned(hosts []string, validFor time.Duration, nextProtos []string) (*tls.Config, *tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   nextProtos,
	}, &pair, nil
}

// LoadTLSConfig loads a server-side TLS config from a certificate/key file
// pair, for a production QUIC gate that provisions real certificates
// instead of an ephemeral self-signed one.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}, nil
}

// WritePEM writes cert's leaf certificate and RSA private key to PEM files,
// so a self-signed pair can be persisted for reuse across restarts of a
// long-lived demo gate (EnsureTLSConfig calls this itself; exported for
// callers that generate their own pair another way).
func WritePEM(cert *tls.Certificate, certPath, keyPath string) error {
	if cert == nil || len(cert.Certificate) == 0 {
		return os.ErrInvalid
	}

	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0o644); err != nil {
		return err
	}

	switch k := cert.PrivateKey.(type) {
	case *rsa.PrivateKey:
		keyDER := x509.MarshalPKCS1PrivateKey(k)
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER})

		return os.WriteFile(keyPath, keyPEM, 0o600)
	default:
		return errors.New("transportquic: unsupported or missing private key for PEM export")
	}
}
