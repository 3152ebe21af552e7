package upload

import (
	"crypto/sha1"
	"encoding/hex"
)

// Hasher computes the content digest sent along with every part.
type Hasher interface {
	Digest(data []byte) string
}

// SHA1Hasher returns the lowercase hex SHA-1 of the data.
type SHA1Hasher struct{}

func (SHA1Hasher) Digest(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
