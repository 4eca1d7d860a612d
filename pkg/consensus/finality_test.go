package consensus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testValidatorSet builds a validator set with fake public keys. No
// signatures are checked below the gateway, so the keys never need a
// working curve.
func testValidatorSet(stakes []uint64) *ValidatorSet {
	vs := make([]Validator, len(stakes))
	for i, s := range stakes {
		pk := PK(fmt.Sprintf("pk-%d", i))
		vs[i] = Validator{Addr: pk.Addr(), PK: pk, Stake: s}
	}
	return NewValidatorSet(vs)
}

func vote(set *ValidatorSet, i int, source, target Checkpoint) *Attestation {
	return &Attestation{
		Validator: set.ByIndex(i).Addr,
		Source:    source,
		Target:    target,
	}
}

func newTestGadget(stakes []uint64) (*FinalityGadget, *ValidatorSet, Checkpoint) {
	set := testValidatorSet(stakes)
	genesis := SHA3([]byte("genesis"))
	g := NewFinalityGadget(DefaultConfig(), set, genesis)
	return g, set, Checkpoint{Epoch: -1, Root: genesis}
}

func TestJustificationThreshold(t *testing.T) {
	g, set, genesisCP := newTestGadget([]uint64{10, 10, 10, 10})
	target := Checkpoint{Epoch: 0, Root: SHA3([]byte("a"))}

	// ceil(2/3 of 4) = 3 distinct voters.
	g.ApplyAttestations([]*Attestation{
		vote(set, 0, genesisCP, target),
		vote(set, 1, genesisCP, target),
	})
	assert.Equal(t, genesisCP, g.Justified())

	// A duplicate voter does not help.
	g.ApplyAttestations([]*Attestation{vote(set, 1, genesisCP, target)})
	assert.Equal(t, genesisCP, g.Justified())

	g.ApplyAttestations([]*Attestation{vote(set, 2, genesisCP, target)})
	assert.Equal(t, target, g.Justified())
	assert.Equal(t, genesisCP, g.PrevJustified())
	assert.Equal(t, genesisCP, g.Finalized())
}

func TestFinalizationNeedsConsecutiveEpochs(t *testing.T) {
	g, set, genesisCP := newTestGadget([]uint64{10, 10, 10, 10})
	target0 := Checkpoint{Epoch: 0, Root: SHA3([]byte("a"))}
	target2 := Checkpoint{Epoch: 2, Root: SHA3([]byte("b"))}

	for i := 0; i < 3; i++ {
		g.ApplyAttestations([]*Attestation{vote(set, i, genesisCP, target0)})
	}
	require.Equal(t, target0, g.Justified())

	// Epoch 1 is skipped: epoch 2 justifies but does not finalize.
	for i := 0; i < 3; i++ {
		g.ApplyAttestations([]*Attestation{vote(set, i, target0, target2)})
	}
	assert.Equal(t, target2, g.Justified())
	assert.Equal(t, target0, g.PrevJustified())
	assert.Equal(t, genesisCP, g.Finalized())
}

func TestConsecutiveJustificationFinalizes(t *testing.T) {
	g, set, genesisCP := newTestGadget([]uint64{10, 10, 10})
	target0 := Checkpoint{Epoch: 0, Root: SHA3([]byte("a"))}
	target1 := Checkpoint{Epoch: 1, Root: SHA3([]byte("b"))}

	// ceil(2/3 of 3) = 2.
	g.ApplyAttestations([]*Attestation{
		vote(set, 0, genesisCP, target0),
		vote(set, 1, genesisCP, target0),
	})
	require.Equal(t, target0, g.Justified())

	g.ApplyAttestations([]*Attestation{
		vote(set, 0, target0, target1),
		vote(set, 1, target0, target1),
	})
	assert.Equal(t, target1, g.Justified())
	assert.Equal(t, target0, g.PrevJustified())
	assert.Equal(t, target0, g.Finalized())
}

func TestMismatchedSourceRecordedNotTallied(t *testing.T) {
	g, set, genesisCP := newTestGadget([]uint64{10, 10, 10})
	target := Checkpoint{Epoch: 0, Root: SHA3([]byte("a"))}
	wrongSource := Checkpoint{Epoch: 0, Root: SHA3([]byte("other"))}

	g.ApplyAttestations([]*Attestation{
		vote(set, 0, wrongSource, target),
		vote(set, 1, wrongSource, target),
		vote(set, 2, wrongSource, target),
	})
	assert.Equal(t, genesisCP, g.Justified())

	// The mismatched votes were still recorded as each validator's
	// latest: re-voting with a matching source replaces them rather
	// than stacking.
	g.ApplyAttestations([]*Attestation{
		vote(set, 0, genesisCP, target),
		vote(set, 1, genesisCP, target),
	})
	assert.Equal(t, target, g.Justified())
}

func TestJustifiedNeverMovesBackward(t *testing.T) {
	g, set, genesisCP := newTestGadget([]uint64{10, 10, 10})
	target0 := Checkpoint{Epoch: 0, Root: SHA3([]byte("a"))}
	target1 := Checkpoint{Epoch: 1, Root: SHA3([]byte("b"))}

	for i := 0; i < 2; i++ {
		g.ApplyAttestations([]*Attestation{vote(set, i, genesisCP, target0)})
	}
	for i := 0; i < 2; i++ {
		g.ApplyAttestations([]*Attestation{vote(set, i, target0, target1)})
	}
	require.Equal(t, target1, g.Justified())

	// A late threshold on an older epoch must not demote.
	other0 := Checkpoint{Epoch: 0, Root: SHA3([]byte("late"))}
	for i := 0; i < 3; i++ {
		g.ApplyAttestations([]*Attestation{vote(set, i, target1, other0)})
	}
	assert.Equal(t, target1, g.Justified())
}

func TestVoteGCAfterFinalization(t *testing.T) {
	g, set, genesisCP := newTestGadget([]uint64{10, 10, 10})
	target0 := Checkpoint{Epoch: 0, Root: SHA3([]byte("a"))}
	target1 := Checkpoint{Epoch: 1, Root: SHA3([]byte("b"))}

	g.ApplyAttestations([]*Attestation{
		vote(set, 0, genesisCP, target0),
		vote(set, 1, genesisCP, target0),
		vote(set, 0, target0, target1),
		vote(set, 1, target0, target1),
	})
	require.Equal(t, target0, g.Finalized())

	for epoch := range g.votes {
		assert.Greater(t, epoch, g.finalized.Epoch)
	}
}

func TestComputeCheckpoints(t *testing.T) {
	tree := NewBlockTree()
	gb := newTestGenesisBlock()
	_, err := tree.AddBlock(gb)
	require.NoError(t, err)

	// Slots 3 and 7 in epoch 0, slot 9 in epoch 1 (8 slots/epoch).
	b1 := childBlock(gb, 3, "a")
	_, err = tree.AddBlock(b1)
	require.NoError(t, err)
	b2 := childBlock(b1, 7, "b")
	_, err = tree.AddBlock(b2)
	require.NoError(t, err)
	b3 := childBlock(b2, 9, "c")
	_, err = tree.AddBlock(b3)
	require.NoError(t, err)

	set := testValidatorSet([]uint64{10})
	g := NewFinalityGadget(DefaultConfig(), set, gb.Hash())
	chain := tree.Chain(b3.Hash())

	// Epoch 1 boundary is slot 8: the greatest slot at or before it
	// is b2 at slot 7.
	source, target := g.ComputeCheckpoints(10, chain)
	assert.Equal(t, Checkpoint{Epoch: -1, Root: gb.Hash()}, source)
	assert.Equal(t, Checkpoint{Epoch: 1, Root: b2.Hash()}, target)

	// Epoch 0 boundary is slot 0: only genesis qualifies.
	_, target = g.ComputeCheckpoints(5, chain)
	assert.Equal(t, Checkpoint{Epoch: 0, Root: gb.Hash()}, target)
}
