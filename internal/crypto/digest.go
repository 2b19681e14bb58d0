package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// DigestHex returns the SHA-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestWithPrefix returns the SHA-256 digest with the "sha256:" prefix.
func DigestWithPrefix(data []byte) string {
	return "sha256:" + DigestHex(data)
}

// DigestFile streams a file through SHA-256 and returns the prefixed digest
// plus the byte size.
func DigestFile(path string) (digest string, size int64, err error) {
	// #nosec G304 -- path is resolved through the workspace layout.
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), n, nil
}
