package ledger

import (
	"testing"

	"github.com/dfinity/go-dfinity-crypto/bls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
)

func init() {
	bls.Init(int(bls.CurveFp254BNb))
}

func testKeys(n int) []consensus.SK {
	rand := consensus.Rand(consensus.SHA3([]byte("ledger-test")))
	sks := make([]consensus.SK, n)
	for i := range sks {
		sks[i] = rand.SK()
		rand = rand.Derive(rand[:])
	}
	return sks
}

func testState(t *testing.T, sks []consensus.SK, balance uint64) *State {
	recipients := make([]consensus.PK, len(sks))
	for i, sk := range sks {
		pk, err := sk.PK()
		require.NoError(t, err)
		recipients[i] = pk
	}
	return NewGenesisState(recipients, balance)
}

func TestGenesisState(t *testing.T) {
	sks := testKeys(3)
	s := testState(t, sks, 100)

	for _, sk := range sks {
		acc := s.Account(sk.Addr())
		require.NotNil(t, acc)
		assert.Equal(t, uint64(100), acc.Balance)
		assert.Equal(t, uint64(0), acc.Nonce)
	}
	assert.Nil(t, s.Account(consensus.Addr{1}))
}

func TestApplyTransfer(t *testing.T) {
	sks := testKeys(2)
	s := testState(t, sks, 100)
	to := sks[1].Addr()

	statuses, err := s.ApplyTransactions([][]byte{
		MakeSendTxn(sks[0], to, 30, 0),
	})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].OK)

	from := s.Account(sks[0].Addr())
	assert.Equal(t, uint64(70), from.Balance)
	assert.Equal(t, uint64(1), from.Nonce)
	assert.Equal(t, uint64(130), s.Account(to).Balance)
}

func TestTransferToFreshAccount(t *testing.T) {
	sks := testKeys(1)
	s := testState(t, sks, 100)
	fresh := consensus.SHA3([]byte("fresh")).Addr()

	statuses, err := s.ApplyTransactions([][]byte{
		MakeSendTxn(sks[0], fresh, 25, 0),
	})
	require.NoError(t, err)
	require.True(t, statuses[0].OK)

	acc := s.Account(fresh)
	require.NotNil(t, acc)
	assert.Equal(t, uint64(25), acc.Balance)
	assert.Empty(t, acc.PK)
}

func TestApplyBadNonceAndBalance(t *testing.T) {
	sks := testKeys(2)
	s := testState(t, sks, 100)
	to := sks[1].Addr()

	statuses, err := s.ApplyTransactions([][]byte{
		MakeSendTxn(sks[0], to, 10, 5),
	})
	require.NoError(t, err)
	assert.False(t, statuses[0].OK)
	assert.Equal(t, errBadNonce.Error(), statuses[0].Reason)

	statuses, err = s.ApplyTransactions([][]byte{
		MakeSendTxn(sks[0], to, 1000, 0),
	})
	require.NoError(t, err)
	assert.False(t, statuses[0].OK)
	assert.Equal(t, errInsufficient.Error(), statuses[0].Reason)
}

func TestApplyBadSignature(t *testing.T) {
	sks := testKeys(2)
	s := testState(t, sks, 100)

	txn, err := DecodeTxn(MakeSendTxn(sks[0], sks[1].Addr(), 10, 0))
	require.NoError(t, err)
	txn.Amount = 99

	_, err = s.ApplyTransactions([][]byte{txn.Encode(true)})
	assert.Error(t, err)
}

func TestSnapshotRestoreReset(t *testing.T) {
	sks := testKeys(2)
	s := testState(t, sks, 100)
	genesisRoot := s.Root()
	to := sks[1].Addr()

	snap, err := s.Snapshot()
	require.NoError(t, err)

	_, err = s.ApplyTransactions([][]byte{
		MakeSendTxn(sks[0], to, 30, 0),
	})
	require.NoError(t, err)
	require.NotEqual(t, genesisRoot, s.Root())

	require.NoError(t, s.Restore(snap))
	assert.Equal(t, uint64(100), s.Account(to).Balance)

	_, err = s.ApplyTransactions([][]byte{
		MakeSendTxn(sks[0], to, 30, 0),
	})
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	assert.Equal(t, genesisRoot, s.Root())
	assert.Equal(t, uint64(100), s.Account(sks[0].Addr()).Balance)
}

func TestDeterministicRoots(t *testing.T) {
	sks := testKeys(2)
	a := testState(t, sks, 100)
	b := testState(t, sks, 100)
	require.Equal(t, a.Root(), b.Root())

	txn := MakeSendTxn(sks[0], sks[1].Addr(), 30, 0)
	_, err := a.ApplyTransactions([][]byte{txn})
	require.NoError(t, err)
	_, err = b.ApplyTransactions([][]byte{txn})
	require.NoError(t, err)
	assert.Equal(t, a.Root(), b.Root())
}

func TestTxnPool(t *testing.T) {
	sks := testKeys(2)
	s := testState(t, sks, 100)
	pool := NewTxnPool(s)
	to := sks[1].Addr()

	txn := MakeSendTxn(sks[0], to, 10, 0)
	assert.True(t, pool.Add(txn))
	// Duplicates and garbage are rejected.
	assert.False(t, pool.Add(txn))
	assert.False(t, pool.Add([]byte("garbage")))
	assert.Equal(t, 1, pool.Size())
	assert.False(t, pool.NotSeen(consensus.SHA3(txn)))
	assert.Equal(t, txn, pool.Get(consensus.SHA3(txn)))
	assert.Nil(t, pool.Get(consensus.Hash{1}))

	picked := pool.Pick()
	require.Len(t, picked, 1)

	pool.RemoveIncluded(picked)
	assert.Equal(t, 0, pool.Size())
}

func TestTxnPoolPickSkipsConflicts(t *testing.T) {
	sks := testKeys(2)
	s := testState(t, sks, 100)
	pool := NewTxnPool(s)
	to := sks[1].Addr()

	// Two competing transactions with the same nonce: only one can
	// be picked for a block.
	require.True(t, pool.Add(MakeSendTxn(sks[0], to, 10, 0)))
	require.True(t, pool.Add(MakeSendTxn(sks[0], to, 20, 0)))
	assert.Len(t, pool.Pick(), 1)
}

func TestTransitionChainsNonces(t *testing.T) {
	sks := testKeys(2)
	s := testState(t, sks, 100)
	to := sks[1].Addr()

	tr := NewTransition(s)
	assert.True(t, tr.Record(MakeSendTxn(sks[0], to, 10, 0)))
	// The overlay advanced the nonce, so the follow-up applies too.
	assert.True(t, tr.Record(MakeSendTxn(sks[0], to, 10, 1)))
	// Spending past the overlay balance fails.
	assert.False(t, tr.Record(MakeSendTxn(sks[0], to, 1000, 2)))
	assert.Len(t, tr.Txns(), 2)

	// The underlying state is untouched.
	assert.Equal(t, uint64(100), s.Account(sks[0].Addr()).Balance)
	assert.Equal(t, uint64(0), s.Account(sks[0].Addr()).Nonce)
}
