package ledger

import (
	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
)

// Transition is the scratch space a proposer uses to pick
// transactions for a block. It applies candidates against an overlay
// of the state so the underlying trie is never touched; the real
// application happens when the block is processed.
type Transition struct {
	state   *State
	overlay map[consensus.Addr]*Account
	txns    [][]byte
}

func NewTransition(state *State) *Transition {
	return &Transition{
		state:   state,
		overlay: make(map[consensus.Addr]*Account),
	}
}

func (t *Transition) account(addr consensus.Addr) *Account {
	if acc, ok := t.overlay[addr]; ok {
		return acc
	}
	acc := t.state.Account(addr)
	if acc == nil {
		return nil
	}
	cp := *acc
	t.overlay[addr] = &cp
	return &cp
}

// Record applies a candidate transaction to the overlay. It returns
// false when the transaction cannot be included in this block.
func (t *Transition) Record(b []byte) bool {
	txn, _, _, valid := t.state.validateTxn(b)
	if !valid {
		return false
	}

	from := t.account(txn.From.Addr())
	if from == nil {
		return false
	}
	if txn.Nonce != from.Nonce {
		return false
	}
	if from.Balance < txn.Amount {
		return false
	}

	from.Balance -= txn.Amount
	from.Nonce++

	to := t.account(txn.To)
	if to == nil {
		to = &Account{}
		t.overlay[txn.To] = to
	}
	to.Balance += txn.Amount

	t.txns = append(t.txns, b)
	return true
}

// Txns returns the recorded transactions in inclusion order.
func (t *Transition) Txns() [][]byte {
	return t.txns
}
