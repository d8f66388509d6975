//go:build ignore

// Go script to generate PKI infrastructure for minidote.
// Heavily inspired by:
// - https://raw.githubusercontent.com/golang/go/master/src/crypto/tls/generate_cert.go
// - https://ericchiang.github.io/tls/go/https/2015/06/21/go-tls.html
package main

import (
	"flag"
	"fmt"
	stdlog "log"
	"net"
	"os"
	"strings"
	"time"

	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"path/filepath"

	"github.com/lawRathod/minidote/config"
)

// Variables

var (
	pathPrefix     = flag.String("path-prefix", "./", "If you are running this script from somewhere else than the repository root, specify a different prefix for each path used later on")
	minidoteConfig = flag.String("config", "config.toml", "If you use a custom config path specify it via this flag")
	validFor       = flag.Duration("duration", (90 * 24 * time.Hour), "Duration that certificates will be valid for")
	rsaBits        = flag.Int("rsa-bits", 2048, "Size of RSA keys to generate")
)

// Functions

// BootstrapCertTempl returns a certificate template that
// has all default values for our certificates already set.
func BootstrapCertTempl(nBef time.Time, nAft time.Time) (*x509.Certificate, error) {

	// For serial number generation we need a biggest
	// number to mark the range of the serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	// Now generate that random number.
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("could not generate random serial number: %v", err)
	}

	// Build a default template we use for each certificate.
	certificateTemplate := &x509.Certificate{
		SignatureAlgorithm:    x509.SHA512WithRSA,
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"minidote's internal PKI"}},
		NotBefore:             nBef,
		NotAfter:              nAft,
		BasicConstraintsValid: true,
	}

	return certificateTemplate, nil
}

// WritePEM writes a certificate and its key as PEM files
// below the supplied base path.
func WritePEM(basePath string, derBytes []byte, key *rsa.PrivateKey) error {

	certFile, err := os.Create(basePath + "-cert.pem")
	if err != nil {
		return fmt.Errorf("failed to create cert file: %v", err)
	}
	defer certFile.Close()

	if err := pem.Encode(certFile, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return fmt.Errorf("failed to encode certificate: %v", err)
	}

	keyFile, err := os.OpenFile(basePath+"-key.pem", (os.O_WRONLY | os.O_CREATE | os.O_TRUNC), 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %v", err)
	}
	defer keyFile.Close()

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := pem.Encode(keyFile, block); err != nil {
		return fmt.Errorf("failed to encode key: %v", err)
	}

	return nil
}

// CreateReplicaCert performs all needed actions in order
// to obtain a replica's key pair and certificate signed
// by the root certificate.
func CreateReplicaCert(basePath string, rsaBits int, nBef time.Time, nAft time.Time, addr string, rootCert *x509.Certificate, rootKey *rsa.PrivateKey) error {

	stdlog.Printf("=== Generating for %s ===", filepath.Base(basePath))

	// Generate this replica's key pair.
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return fmt.Errorf("failed to generate key: %v", err)
	}

	// Fetch a new certificate template.
	template, err := BootstrapCertTempl(nBef, nAft)
	if err != nil {
		return err
	}

	template.KeyUsage = x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

	// Announce the replica's address in the certificate.
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	} else {
		template.DNSNames = append(template.DNSNames, host)
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %v", err)
	}

	return WritePEM(basePath, derBytes, key)
}

func main() {

	flag.Parse()

	conf, err := config.LoadConfig(filepath.Join(*pathPrefix, *minidoteConfig))
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	nBef := time.Now()
	nAft := nBef.Add(*validFor)

	// Generate the root key pair and self-signed root
	// certificate all replica certificates chain up to.
	rootKey, err := rsa.GenerateKey(rand.Reader, *rsaBits)
	if err != nil {
		stdlog.Fatalf("failed to generate root key: %v", err)
	}

	rootTemplate, err := BootstrapCertTempl(nBef, nAft)
	if err != nil {
		stdlog.Fatal(err)
	}

	rootTemplate.IsCA = true
	rootTemplate.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature

	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		stdlog.Fatalf("failed to create root certificate: %v", err)
	}

	pkiDir := filepath.Join(*pathPrefix, "private")
	if err := os.MkdirAll(pkiDir, 0700); err != nil {
		stdlog.Fatalf("failed to create PKI directory: %v", err)
	}

	if err := WritePEM(filepath.Join(pkiDir, "root"), rootDER, rootKey); err != nil {
		stdlog.Fatal(err)
	}

	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		stdlog.Fatalf("failed to parse root certificate: %v", err)
	}

	// One certificate for the local replica, one per peer.
	replicas := map[string]string{
		conf.Replica.Name: conf.Replica.ListenSyncAddr,
	}
	for name, addr := range conf.Peers {
		replicas[name] = addr
	}

	for name, addr := range replicas {

		basePath := filepath.Join(pkiDir, strings.ToLower(name))

		if err := CreateReplicaCert(basePath, *rsaBits, nBef, nAft, addr, rootCert, rootKey); err != nil {
			stdlog.Fatal(err)
		}
	}

	stdlog.Printf("Done. PKI material written below %s.", pkiDir)
}
