package crypto

import (
	"fmt"
	"os"

	"crypto/tls"
	"crypto/x509"
)

// Functions

// NewInternalTLSConfig returns a TLS config that is
// already configured completely for use in replicas to
// communicate internally. It defines very strict defaults
// and requires all replicas to verify each other by TLS
// means.
func NewInternalTLSConfig(certPath string, keyPath string, rootCertPath string) (*tls.Config, error) {

	var err error

	config := &tls.Config{
		RootCAs:            x509.NewCertPool(),
		ClientCAs:          x509.NewCertPool(),
		ClientAuth:         tls.RequireAndVerifyClientCert,
		Certificates:       make([]tls.Certificate, 1),
		InsecureSkipVerify: false,
		MinVersion:         tls.VersionTLS12,
		CurvePreferences:   []tls.CurveID{tls.CurveP521, tls.CurveP384, tls.CurveP256},
	}

	// Read in root certificate in PEM format supplied
	// via path in arguments.
	rootCert, err := os.ReadFile(rootCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading root certificate into memory failed with: %v", err)
	}

	// Append root certificate to root CA pool.
	if ok := config.RootCAs.AppendCertsFromPEM(rootCert); !ok {
		return nil, fmt.Errorf("failed to append root certificate to root CA pool")
	}

	// Append root certificate to client CA pool.
	if ok := config.ClientCAs.AppendCertsFromPEM(rootCert); !ok {
		return nil, fmt.Errorf("failed to append root certificate to client CA pool")
	}

	// Put certificate specified via arguments as the
	// only certificate into config.
	config.Certificates[0], err = tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS cert and key: %v", err)
	}

	return config, nil
}
