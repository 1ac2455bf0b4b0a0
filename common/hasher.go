package common

import (
	"crypto/sha256"
	"hash"
)

// Sha256Hasher is a streaming SHA-256 hasher. Data is accumulated through
// Ingest calls and the final digest obtained through GetHash.
type Sha256Hasher struct {
	inner hash.Hash
}

func NewSha256Hasher() *Sha256Hasher {
	return &Sha256Hasher{inner: sha256.New()}
}

// Ingest appends the given byte spans to the hashed input sequence.
func (h *Sha256Hasher) Ingest(data ...[]byte) {
	for _, cur := range data {
		h.inner.Write(cur)
	}
}

// GetHash finalizes the digest of everything ingested so far.
func (h *Sha256Hasher) GetHash() (res Hash) {
	h.inner.Sum(res[0:0])
	return res
}

// Reset clears the hasher state so it can be reused for a fresh digest.
func (h *Sha256Hasher) Reset() {
	h.inner.Reset()
}

// GetSha256Hash computes the SHA-256 hash of the concatenation of the given
// byte spans. Hash chains are extended by passing the previous chain value
// followed by the hash of the new element.
func GetSha256Hash(data ...[]byte) Hash {
	hasher := NewSha256Hasher()
	hasher.Ingest(data...)
	return hasher.GetHash()
}
