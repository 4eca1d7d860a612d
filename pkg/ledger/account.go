// Package ledger implements the execution collaborator of the
// consensus core: account balances and nonces kept in a Merkle
// Patricia trie, with the snapshot/restore needed by block
// validation and reorg replay.
package ledger

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
)

// Account is one account's state. Accounts are rlp-encoded into the
// state trie at their address path.
type Account struct {
	PK      consensus.PK
	Balance uint64
	Nonce   uint64
}

// Addr returns the account's address.
func (a *Account) Addr() consensus.Addr {
	return a.PK.Addr()
}

func encodeAccount(a *Account) []byte {
	b, err := rlp.EncodeToBytes(a)
	if err != nil {
		// should never happen
		panic(err)
	}
	return b
}

func decodeAccount(b []byte) (*Account, error) {
	var a Account
	err := rlp.DecodeBytes(b, &a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
