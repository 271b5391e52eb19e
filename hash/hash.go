// Package hash provides blake3 digests for payload bodies and tie-breaking.
package hash

import "github.com/zeebo/blake3"

// Size is the size of a digest in bytes.
const Size = 32

// New returns a fresh blake3 hasher.
func New() *blake3.Hasher {
	return blake3.New()
}

// Sum computes the blake3 digest of the concatenated chunks.
func Sum(chunks ...[]byte) (rst [Size]byte) {
	hh := GetHasher()
	defer PutHasher(hh)
	for _, chunk := range chunks {
		hh.Write(chunk)
	}
	hh.Digest().Read(rst[:])
	return rst
}
