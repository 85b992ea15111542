package extraction

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the content-addressed key for a document: the hex SHA-256 of
// the media type tag, a zero separator and the raw bytes.
func Hash(data []byte, mt MediaType) string {
	h := sha256.New()
	h.Write([]byte(mt))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
