package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKeys expands secret into n bytes of key material bound to context
// using HKDF-SHA256 with an all-zero salt. Equal inputs always produce equal
// outputs.
func DeriveKeys(secret []byte, context string, n int) ([]byte, error) {
	if n <= 0 || n > 255*sha256.Size {
		return nil, fmt.Errorf("derive keys: invalid length %d", n)
	}
	out := make([]byte, n)
	r := hkdf.New(sha256.New, secret, nil, []byte(context))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
