package consensus

import (
	"fmt"

	"github.com/dfinity/go-dfinity-crypto/bls"
)

// PK is a serialized BLS public key.
type PK []byte

func (p PK) MustGet() bls.PublicKey {
	var pk bls.PublicKey
	err := pk.Deserialize(p)
	if err != nil {
		panic(err)
	}

	return pk
}

func (p PK) Get() (bls.PublicKey, error) {
	var pk bls.PublicKey
	err := pk.Deserialize(p)
	if err != nil {
		return bls.PublicKey{}, err
	}

	return pk, nil
}

// Addr returns the validator address derived from the public key.
func (p PK) Addr() Addr {
	return SHA3(p).Addr()
}

// SK is a serialized BLS secret key.
type SK []byte

func skFromRand(r Rand) SK {
	var sk bls.SecretKey
	sk.SetHashOf(r[:])
	return SK(sk.GetLittleEndian())
}

func (s SK) Get() (bls.SecretKey, error) {
	var sk bls.SecretKey
	err := sk.SetLittleEndian(s)
	if err != nil {
		return bls.SecretKey{}, err
	}

	return sk, nil
}

func (s SK) MustGet() bls.SecretKey {
	var sk bls.SecretKey
	err := sk.SetLittleEndian(s)
	if err != nil {
		panic(err)
	}

	return sk
}

func (s SK) PK() (PK, error) {
	var sk bls.SecretKey
	err := sk.SetLittleEndian(s)
	if err != nil {
		return nil, err
	}

	return PK(sk.GetPublicKey().Serialize()), nil
}

func (s SK) MustPK() PK {
	var sk bls.SecretKey
	err := sk.SetLittleEndian(s)
	if err != nil {
		panic(err)
	}

	return PK(sk.GetPublicKey().Serialize())
}

// Addr returns the validator address of the secret key's owner.
func (s SK) Addr() Addr {
	return s.MustPK().Addr()
}

func (s SK) Sign(b []byte) Sig {
	key := s.MustGet()
	return Sig(key.Sign(string(b)).Serialize())
}

func revealMsg(epoch int64) []byte {
	return []byte(fmt.Sprintf("REVEAL_%d", epoch))
}

// Reveal returns the deterministic randomness reveal for the given
// epoch: BLS signatures are unique per (key, message), so signing a
// fixed per-epoch message yields a value the proposer cannot grind.
func (s SK) Reveal(epoch int64) Sig {
	return s.Sign(revealMsg(epoch))
}

// Sig is a serialized BLS signature.
type Sig []byte

func (s Sig) Verify(pk PK, msg []byte) bool {
	if len(s) == 0 || len(pk) == 0 {
		return false
	}

	var sign bls.Sign
	err := sign.Deserialize(s)
	if err != nil {
		return false
	}

	key, err := pk.Get()
	if err != nil {
		return false
	}
	return sign.Verify(&key, string(msg))
}

// VerifyReveal checks that the reveal is the owner's deterministic
// signature for the epoch.
func VerifyReveal(pk PK, epoch int64, reveal Sig) bool {
	return reveal.Verify(pk, revealMsg(epoch))
}
