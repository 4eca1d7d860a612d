package consensus

import (
	"bytes"
	"encoding/hex"
	"math/big"

	"github.com/dave/stablegob"
	"golang.org/x/crypto/sha3"
)

const (
	hashBytes = 32
)

// Hash is the SHA3-256 hash of a piece of data.
type Hash [hashBytes]byte

// SHA3 returns the SHA3-256 hash of the concatenation of the given
// byte slices.
func SHA3(b ...[]byte) Hash {
	d := sha3.New256()
	for _, e := range b {
		_, err := d.Write(e)
		if err != nil {
			// should not happen
			panic(err)
		}
	}
	h := d.Sum(nil)
	var hash Hash
	copy(hash[:], h)
	return hash
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Zero reports whether the hash is the zero value, used to encode
// "no block".
func (h Hash) Zero() bool {
	return h == Hash{}
}

// Less compares two hashes lexicographically. It is the fork choice
// tie breaker.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// Addr returns the address associated to the hash.
func (h Hash) Addr() Addr {
	var addr Addr
	copy(addr[:], h[hashBytes-addrBytes:])
	return addr
}

// Rand is a deterministic random value which can derive subsequent
// random values and secret keys.
type Rand Hash

// Derive derives a new Rand from the current one and the given data.
func (r Rand) Derive(m []byte) Rand {
	return Rand(SHA3(r[:], m))
}

// Mod returns a deterministic value in [0, n).
func (r Rand) Mod(n int) int {
	var b big.Int
	b.SetBytes(r[:])
	b.Mod(&b, big.NewInt(int64(n)))
	return int(b.Int64())
}

// SK derives a secret key from the random value.
func (r Rand) SK() SK {
	return skFromRand(r)
}

// encode deterministically encodes v. Hashed wire objects must use it
// rather than encoding/gob directly: encoding/gob output is not
// stable across identical inputs.
func encode(v interface{}) []byte {
	var buf bytes.Buffer
	enc := stablegob.NewEncoder(&buf)
	err := enc.Encode(v)
	if err != nil {
		// should never happen
		panic(err)
	}

	return buf.Bytes()
}

func decode(b []byte, v interface{}) error {
	dec := stablegob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
