package common

import (
	"sync"

	"golang.org/x/crypto/sha3"
)

// GetKeccak256Hash computes the Keccak-256 hash of the given data.
func GetKeccak256Hash(data []byte) Hash {
	if len(data) == 0 {
		return emptyKeccak256Hash
	}
	hasher := keccakHasherPool.Get().(keccakHasher)
	hasher.Reset()
	hasher.Write(data)
	var res Hash
	hasher.Read(res[:])
	keccakHasherPool.Put(hasher)
	return res
}

var keccakHasherPool = sync.Pool{New: func() any { return sha3.NewLegacyKeccak256() }}

// keccakHasher covers the sha3 state API used here; the Read call extracts
// the digest without the allocation Sum would perform.
type keccakHasher interface {
	Reset()
	Write(in []byte) (int, error)
	Read(out []byte) (int, error)
}

var emptyKeccak256Hash = func() Hash {
	var res Hash
	sha3.NewLegacyKeccak256().Sum(res[0:0])
	return res
}()
