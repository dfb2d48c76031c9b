package iam

import (
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net/url"
)

// rootCAThumbprint connects to the OIDC issuer and returns the hex-encoded
// SHA-1 fingerprint of the root certificate in its chain, which is what IAM
// expects in an OpenID Connect provider's thumbprint list.
func rootCAThumbprint(issuerURL string) (string, error) {
	parsed, err := url.Parse(issuerURL)
	if err != nil {
		return "", fmt.Errorf("parse issuer url %q: %w", issuerURL, err)
	}
	host := parsed.Host
	if parsed.Port() == "" {
		host += ":443"
	}

	conn, err := tls.Dial("tcp", host, &tls.Config{})
	if err != nil {
		return "", fmt.Errorf("connect to issuer %s: %w", host, err)
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return "", fmt.Errorf("issuer %s presented no certificates", host)
	}
	// The last certificate in the presented chain is the root (or the
	// closest to it that the server sends).
	fingerprint := sha1.Sum(certs[len(certs)-1].Raw)
	return hex.EncodeToString(fingerprint[:]), nil
}
