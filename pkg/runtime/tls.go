package runtime

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
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/presence-engine/internal/config"
)

// serve runs plain HTTP when TLS is disabled, the configured certificate
// when both files exist, and an in-memory self-signed certificate otherwise.
func serve(server *http.Server, ln net.Listener, cfg appconfig.Config, logger *zap.Logger) error {
	addr := ln.Addr().String()
	if cfg.TLSDisable {
		logger.Info("starting http server", zap.String("addr", addr))
		return server.Serve(ln)
	}

	certPath := filepath.Clean(cfg.TLSCertPath)
	keyPath := filepath.Clean(cfg.TLSKeyPath)
	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)

	if certExists && keyExists {
		logger.Info("starting https server", zap.String("addr", addr))
		return server.ServeTLS(ln, certPath, keyPath)
	}

	if cfg.TLSRequired {
		missing := []string{}
		if !certExists {
			missing = append(missing, certPath)
		}
		if !keyExists {
			missing = append(missing, keyPath)
		}
		logger.Warn("tls required but certs missing; using in-memory cert", zap.Strings("missing", missing))
	}

	cert, err := generateSelfSignedCert(cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to generate tls cert: %w", err)
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	logger.Info("starting https server with in-memory cert", zap.String("addr", addr))
	return server.ServeTLS(ln, "", "")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// generateSelfSignedCert issues a one-year P-256 certificate for localhost,
// host and the machine's interface addresses.
func generateSelfSignedCert(host string) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	dnsNames, ips := certSubjects(host)
	notBefore := time.Now().Add(-time.Minute)
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "presence-local", Organization: []string{"presence-engine"}},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
}

// certSubjects lists the names a local client may dial. Wildcard listen
// hosts add nothing beyond the interface addresses.
func certSubjects(host string) ([]string, []net.IP) {
	dnsNames := []string{"localhost"}
	ips := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	addIP := func(ip net.IP) {
		if ip == nil || ip.IsUnspecified() {
			return
		}
		for _, known := range ips {
			if known.Equal(ip) {
				return
			}
		}
		ips = append(ips, ip)
	}

	host = strings.TrimSpace(host)
	if ip := net.ParseIP(host); ip != nil {
		addIP(ip)
	} else if host != "" && host != "localhost" {
		dnsNames = append(dnsNames, host)
	}
	addrs, _ := net.InterfaceAddrs()
	for _, addr := range addrs {
		switch v := addr.(type) {
		case *net.IPNet:
			addIP(v.IP)
		case *net.IPAddr:
			addIP(v.IP)
		}
	}
	return dnsNames, ips
}
