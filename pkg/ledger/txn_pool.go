package ledger

import (
	"sync"

	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
)

// TxnPool holds transactions waiting to be included in a block. A
// transaction is admitted only if its signature verifies against the
// sender's on-chain account and its nonce has not already been used.
type TxnPool struct {
	mu    sync.Mutex
	state *State
	txns  map[consensus.Hash][]byte
}

func NewTxnPool(state *State) *TxnPool {
	return &TxnPool{
		state: state,
		txns:  make(map[consensus.Hash][]byte),
	}
}

func (t *TxnPool) Add(b []byte) (broadcast bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hash := consensus.SHA3(b)
	if t.txns[hash] != nil {
		return false
	}

	_, _, _, valid := t.state.validateTxn(b)
	if !valid {
		return false
	}

	t.txns[hash] = b
	return true
}

func (t *TxnPool) NotSeen(h consensus.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.txns[h]
	return !ok
}

func (t *TxnPool) Get(h consensus.Hash) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.txns[h]
}

func (t *TxnPool) Txns() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := make([][]byte, len(t.txns))
	i := 0
	for _, v := range t.txns {
		r[i] = v
		i++
	}
	return r
}

// Pick selects a batch of pooled transactions that apply cleanly, in
// order, on the current state. Conflicting or not-yet-ready
// transactions stay in the pool for a later block.
func (t *TxnPool) Pick() [][]byte {
	tr := NewTransition(t.state)
	for _, b := range t.Txns() {
		tr.Record(b)
	}
	return tr.Txns()
}

// RemoveIncluded drops transactions that made it into a block.
func (t *TxnPool) RemoveIncluded(txns [][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range txns {
		delete(t.txns, consensus.SHA3(b))
	}
}

func (t *TxnPool) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.txns)
}
