package restapi

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// ParseRSAPublicKey decodes a PEM-encoded RSA public key (PKIX or PKCS1) for
// use with JWTMiddleware.
func ParseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("restapi: no PEM block found in public key file")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("restapi: PEM block does not contain an RSA public key")
		}
		return pub, nil
	}

	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("restapi: parse RSA public key: %w", err)
	}
	return pub, nil
}
