// Package tls builds the server TLS configuration for the inspection API.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config selects the serving certificate. CertFile and KeyFile win over Dir.
// With Dir and AutoGenerate a self-signed pair is created on first use.
type Config struct {
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	DNSNames     []string `mapstructure:"dns_names"`
	MinVersion   string   `mapstructure:"min_version"` // 1.2 or 1.3
	MaxVersion   string   `mapstructure:"max_version"`
}

// Enabled reports whether any certificate source is configured.
func (c Config) Enabled() bool {
	return (c.CertFile != "" && c.KeyFile != "") || c.Dir != ""
}

// Validate rejects half-configured certificate pairs and unknown versions.
func (c Config) Validate() error {
	var errs []error
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("tls: cert_file and key_file must be set together"))
	}
	if c.AutoGenerate && c.Dir == "" {
		errs = append(errs, errors.New("tls: auto_generate requires dir"))
	}
	for _, v := range []string{c.MinVersion, c.MaxVersion} {
		if _, _, err := parseTLSVersion(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parseTLSVersion(ver string) (uint16, bool, error) {
	switch strings.ToLower(ver) {
	case "", "default":
		return tls.VersionTLS13, false, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true, nil
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true, nil
	default:
		return 0, false, fmt.Errorf("tls: unknown version %q", ver)
	}
}

// Setup returns the server TLS config, or nil when TLS is not configured.
// Certificates are read on every handshake so rotated files take effect
// without a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	minVer, _, _ := parseTLSVersion(c.MinVersion)
	maxVer, _, _ := parseTLSVersion(c.MaxVersion)
	if minVer > maxVer {
		maxVer = minVer
	}

	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" {
		certPath = filepath.Join(c.Dir, tlsCrt)
		keyPath = filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if _, err := loadPair(certPath, keyPath); err != nil {
		return nil, err
	}
	// #nosec G402 min version is configurable down to 1.2
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadPair(certPath, keyPath)
		},
		MinVersion: minVer,
		MaxVersion: maxVer,
	}, nil
}

func loadPair(certPath, keyPath string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &cert, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(c Config) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	dnsNames := c.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   dnsNames[0],
		Organization: "ray-operator",
		DNSNames:     dnsNames,
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(1, 0, 0),
		CertPath:     filepath.Join(c.Dir, tlsCrt),
		KeyPath:      filepath.Join(c.Dir, tlsKey),
		CACertPath:   filepath.Join(c.Dir, tlsCaCrt),
	})
}
