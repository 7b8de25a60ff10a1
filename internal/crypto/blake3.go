package crypto

import (
	"bytes"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Blake3Hash computes a BLAKE3 hash of the given data.
func Blake3Hash(data []byte) []byte {
	h := blake3.New()
	h.Write(data)
	return h.Sum(nil)
}

// Blake3HashFile computes a BLAKE3 hash of a file and returns the number of
// bytes hashed.
func Blake3HashFile(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, err
	}
	return h.Sum(nil), n, nil
}

// SameContent reports whether two fingerprints match. A nil fingerprint
// never matches.
func SameContent(a, b []byte) bool {
	if a == nil || b == nil {
		return false
	}
	return bytes.Equal(a, b)
}
