package comm

import (
	"net"
	"time"

	"crypto/tls"

	"github.com/pkg/errors"
)

// Functions

// ReliableConnect attempts to connect to the defined
// remote node, backing off between attempts, until the
// connection stands or the allowed attempts are used up.
// With a nil TLS config the connection is plain TCP.
func ReliableConnect(remoteName string, remoteAddr string, tlsConfig *tls.Config, retry time.Duration, attempts int) (net.Conn, error) {

	var conn net.Conn
	var err error

	for i := 0; i < attempts; i++ {

		if tlsConfig != nil {
			conn, err = tls.Dial("tcp", remoteAddr, tlsConfig)
		} else {
			conn, err = net.Dial("tcp", remoteAddr)
		}

		if err == nil {
			return conn, nil
		}

		time.Sleep(retry)

		// Back off a little more each round so that an
		// absent peer does not keep a tight dial loop.
		if retry < 8*time.Second {
			retry *= 2
		}
	}

	return nil, errors.Wrapf(err, "could not connect to node '%s' at %s", remoteName, remoteAddr)
}
