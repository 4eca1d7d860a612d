package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenesisBlock() *Block {
	return &Block{TxnRoot: TxnRoot(nil), Height: 0, Slot: 0}
}

// childBlock builds a structurally valid child of parent. The tag
// makes sibling hashes distinct.
func childBlock(parent *Block, slot uint64, tag string) *Block {
	txns := [][]byte{[]byte(tag)}
	return &Block{
		PrevBlock: parent.Hash(),
		TxnRoot:   TxnRoot(txns),
		Time:      parent.Time,
		Height:    parent.Height + 1,
		Slot:      slot,
		Txns:      txns,
	}
}

func TestTreeGenesis(t *testing.T) {
	tree := NewBlockTree()
	g := newTestGenesisBlock()
	root, err := tree.AddBlock(g)
	require.NoError(t, err)

	assert.Equal(t, root, tree.Root())
	assert.Nil(t, root.Parent)
	assert.Equal(t, root, tree.Node(g.Hash()))
}

func TestTreeDuplicate(t *testing.T) {
	tree := NewBlockTree()
	g := newTestGenesisBlock()
	_, err := tree.AddBlock(g)
	require.NoError(t, err)

	_, err = tree.AddBlock(g)
	assert.Equal(t, ErrDuplicateBlock, err)
}

func TestTreeUnknownParent(t *testing.T) {
	tree := NewBlockTree()
	g := newTestGenesisBlock()
	_, err := tree.AddBlock(g)
	require.NoError(t, err)

	orphan := childBlock(g, 1, "a")
	orphan.PrevBlock = SHA3([]byte("missing"))
	_, err = tree.AddBlock(orphan)
	assert.Equal(t, ErrParentNotFound, err)
	assert.Nil(t, tree.Node(orphan.Hash()))
}

func TestTreeChainAndLeaves(t *testing.T) {
	tree := NewBlockTree()
	g := newTestGenesisBlock()
	root, err := tree.AddBlock(g)
	require.NoError(t, err)

	b1 := childBlock(g, 1, "a")
	n1, err := tree.AddBlock(b1)
	require.NoError(t, err)

	b2 := childBlock(b1, 2, "b")
	n2, err := tree.AddBlock(b2)
	require.NoError(t, err)

	// A fork off genesis.
	c1 := childBlock(g, 3, "c")
	m1, err := tree.AddBlock(c1)
	require.NoError(t, err)

	chain := tree.Chain(b2.Hash())
	require.Len(t, chain, 3)
	assert.Equal(t, root, chain[0])
	assert.Equal(t, n1, chain[1])
	assert.Equal(t, n2, chain[2])

	leaves := tree.Leaves()
	assert.Len(t, leaves, 2)
	assert.Contains(t, leaves, n2)
	assert.Contains(t, leaves, m1)
}

func TestIsAncestor(t *testing.T) {
	tree := NewBlockTree()
	g := newTestGenesisBlock()
	root, err := tree.AddBlock(g)
	require.NoError(t, err)

	b1 := childBlock(g, 1, "a")
	n1, err := tree.AddBlock(b1)
	require.NoError(t, err)

	c1 := childBlock(g, 2, "c")
	m1, err := tree.AddBlock(c1)
	require.NoError(t, err)

	assert.True(t, IsAncestor(root, n1))
	assert.True(t, IsAncestor(n1, n1))
	assert.False(t, IsAncestor(n1, root))
	assert.False(t, IsAncestor(n1, m1))
	assert.False(t, IsAncestor(nil, n1))
}
