package ledger

import (
	"bytes"
	"errors"

	"github.com/dave/stablegob"
	log "github.com/helinwang/log15"

	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
)

// Txn is a signed transfer transaction.
type Txn struct {
	To     consensus.Addr
	Amount uint64
	Nonce  uint64
	From   consensus.PK
	// The signature of the encoded txn with Sig set to nil.
	Sig consensus.Sig
}

// Encode encodes the transaction.
func (t *Txn) Encode(withSig bool) []byte {
	en := *t
	if !withSig {
		en.Sig = nil
	}

	var buf bytes.Buffer
	enc := stablegob.NewEncoder(&buf)
	err := enc.Encode(en)
	if err != nil {
		// should never happen
		panic(err)
	}
	return buf.Bytes()
}

// Hash returns the hash of the transaction.
func (t *Txn) Hash() consensus.Hash {
	return consensus.SHA3(t.Encode(true))
}

// DecodeTxn decodes a wire transaction.
func DecodeTxn(b []byte) (*Txn, error) {
	var t Txn
	dec := stablegob.NewDecoder(bytes.NewReader(b))
	err := dec.Decode(&t)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MakeSendTxn builds and signs a transfer.
func MakeSendTxn(sk consensus.SK, to consensus.Addr, amount, nonce uint64) []byte {
	t := Txn{
		To:     to,
		Amount: amount,
		Nonce:  nonce,
		From:   sk.MustPK(),
	}
	t.Sig = sk.Sign(t.Encode(false))
	return t.Encode(true)
}

var (
	errBadSig       = errors.New("invalid transaction signature")
	errBadNonce     = errors.New("nonce mismatch")
	errInsufficient = errors.New("insufficient balance")
)

// validateSigAndNonce decodes a wire transaction and checks its
// signature and nonce against the state. ready is false when the
// nonce is ahead of the account (the txn may become valid later).
// The caller must hold s.mu.
func validateSigAndNonce(s *State, b []byte) (txn *Txn, acc *Account, ready, valid bool) {
	txn, err := DecodeTxn(b)
	if err != nil {
		log.Warn("txn decode failed", "err", err)
		return nil, nil, false, false
	}

	if !txn.Sig.Verify(txn.From, txn.Encode(false)) {
		log.Warn("invalid txn signature", "from", txn.From.Addr())
		return nil, nil, false, false
	}

	acc = s.account(txn.From.Addr())
	if acc == nil {
		log.Warn("txn sender not found", "from", txn.From.Addr())
		return nil, nil, false, false
	}

	if txn.Nonce < acc.Nonce {
		return nil, nil, false, false
	}
	if txn.Nonce > acc.Nonce {
		return txn, acc, false, true
	}
	return txn, acc, true, true
}
