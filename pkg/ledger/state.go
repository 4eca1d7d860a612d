package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/trie"
	log "github.com/helinwang/log15"

	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
)

var accountPrefix = []byte{0}

func accountPath(addr consensus.Addr) []byte {
	return append(accountPrefix, addr[:]...)
}

// State is the account state of one simulated node, backed by a
// Merkle Patricia trie over an in-memory database. Snapshots are trie
// roots: every committed root stays reachable in the node database,
// so restoring is reopening the trie at an older root.
type State struct {
	db *trie.Database

	mu          sync.Mutex
	trie        *trie.Trie
	genesisRoot common.Hash
}

// NewGenesisState creates the state every node starts from: each
// recipient funded with the given balance at nonce 0.
func NewGenesisState(recipients []consensus.PK, balance uint64) *State {
	db := trie.NewDatabase(ethdb.NewMemDatabase())
	t, err := trie.New(common.Hash{}, db)
	if err != nil {
		panic(err)
	}

	s := &State{db: db, trie: t}
	for _, pk := range recipients {
		s.update(pk.Addr(), &Account{PK: pk, Balance: balance})
	}

	root, err := s.trie.Commit(nil)
	if err != nil {
		panic(err)
	}
	s.genesisRoot = root
	return s
}

func (s *State) update(addr consensus.Addr, acc *Account) {
	s.trie.Update(accountPath(addr), encodeAccount(acc))
}

func (s *State) account(addr consensus.Addr) *Account {
	b, err := s.trie.TryGet(accountPath(addr))
	if err != nil || b == nil {
		return nil
	}

	acc, err := decodeAccount(b)
	if err != nil {
		log.Error("corrupt account encoding", "addr", addr, "err", err)
		return nil
	}
	return acc
}

// Account returns the account at the given address, nil if absent.
func (s *State) Account(addr consensus.Addr) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account(addr)
}

// validateTxn is validateSigAndNonce with the state lock held.
func (s *State) validateTxn(b []byte) (*Txn, *Account, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return validateSigAndNonce(s, b)
}

// Root returns the current state root.
func (s *State) Root() consensus.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return consensus.Hash(s.trie.Hash())
}

// Snapshot commits the trie and returns the root as the snapshot
// handle.
func (s *State) Snapshot() (consensus.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.trie.Commit(nil)
	if err != nil {
		return consensus.Hash{}, err
	}
	return consensus.Hash(root), nil
}

// Restore reopens the state at a previously committed root.
func (s *State) Restore(root consensus.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopen(common.Hash(root))
}

// Reset brings the state back to genesis. Used by the reorg replay
// path.
func (s *State) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopen(s.genesisRoot)
}

func (s *State) reopen(root common.Hash) error {
	t, err := trie.New(root, s.db)
	if err != nil {
		return fmt.Errorf("reopen state at %x: %w", root[:4], err)
	}
	s.trie = t
	return nil
}

// ApplyTransactions applies the block's transactions in order,
// reporting a per-transaction status. A decode or signature failure
// returns an error; the caller restores the pre-block snapshot either
// way before treating the block as invalid.
func (s *State) ApplyTransactions(txns [][]byte) ([]consensus.TxnStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]consensus.TxnStatus, 0, len(txns))
	for _, b := range txns {
		txn, acc, ready, valid := validateSigAndNonce(s, b)
		if !valid {
			return statuses, errBadSig
		}
		st := consensus.TxnStatus{Hash: txn.Hash()}
		switch {
		case !ready:
			st.Reason = errBadNonce.Error()
		case acc.Balance < txn.Amount:
			st.Reason = errInsufficient.Error()
		default:
			st.OK = true
			s.transfer(acc, txn)
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func (s *State) transfer(from *Account, txn *Txn) {
	from.Balance -= txn.Amount
	from.Nonce++
	s.update(txn.From.Addr(), from)

	to := s.account(txn.To)
	if to == nil {
		// Receiving funds creates the account; its public key
		// stays unset until the owner first sends.
		to = &Account{}
	}
	to.Balance += txn.Amount
	s.update(txn.To, to)
}
