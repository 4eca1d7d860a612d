package consensus

import "errors"

var (
	// ErrDuplicateBlock is returned when adding a block whose hash
	// is already in the tree.
	ErrDuplicateBlock = errors.New("block already in tree")
	// ErrParentNotFound is returned when adding a non-genesis block
	// whose parent is not in the tree.
	ErrParentNotFound = errors.New("parent block not found")
)

// BlockNode wraps a block in the tree. The node owns its children;
// the parent reference is a non-owning back link, nil only for the
// genesis node.
type BlockNode struct {
	Block    *Block
	Parent   *BlockNode
	Children []*BlockNode

	// AttestedStake is the stake of every validator whose latest
	// attestation targets this node or a descendant. It is mutated
	// only by the fork choice.
	AttestedStake uint64
	// Invalid marks a block that failed validation. Invalid nodes
	// stay in the tree topology but are permanently excluded from
	// fork choice.
	Invalid       bool
	ValidationErr string

	hash Hash
}

// Hash returns the cached hash of the node's block.
func (n *BlockNode) Hash() Hash {
	return n.hash
}

// BlockTree is an append-only forest of blocks keyed by hash. Nodes
// are never deleted; the full history is retained. The tree is not
// internally locked: the chain orchestrator serializes access.
type BlockTree struct {
	root   *BlockNode
	nodes  map[Hash]*BlockNode
	leaves map[Hash]*BlockNode
}

// NewBlockTree creates an empty block tree.
func NewBlockTree() *BlockTree {
	return &BlockTree{
		nodes:  make(map[Hash]*BlockNode),
		leaves: make(map[Hash]*BlockNode),
	}
}

// AddBlock inserts the block into the tree. The genesis block (height
// 0, inserted into an empty tree) becomes the root without a parent
// check; any other block must name a known parent. No state changes
// on error.
func (t *BlockTree) AddBlock(b *Block) (*BlockNode, error) {
	h := b.Hash()
	if _, ok := t.nodes[h]; ok {
		return nil, ErrDuplicateBlock
	}

	n := &BlockNode{Block: b, hash: h}
	if b.Height == 0 && t.root == nil {
		t.root = n
		t.nodes[h] = n
		t.leaves[h] = n
		return n, nil
	}

	parent, ok := t.nodes[b.PrevBlock]
	if !ok {
		return nil, ErrParentNotFound
	}

	n.Parent = parent
	parent.Children = append(parent.Children, n)
	t.nodes[h] = n
	delete(t.leaves, parent.hash)
	t.leaves[h] = n
	return n, nil
}

// Node returns the node with the given block hash, nil if unknown.
func (t *BlockTree) Node(h Hash) *BlockNode {
	return t.nodes[h]
}

// Root returns the genesis node.
func (t *BlockTree) Root() *BlockNode {
	return t.root
}

// Leaves returns the nodes with no children.
func (t *BlockTree) Leaves() []*BlockNode {
	r := make([]*BlockNode, 0, len(t.leaves))
	for _, n := range t.leaves {
		r = append(r, n)
	}
	return r
}

// Chain returns the nodes from genesis to the given block hash,
// inclusive. Nil if the hash is unknown.
func (t *BlockTree) Chain(h Hash) []*BlockNode {
	n, ok := t.nodes[h]
	if !ok {
		return nil
	}

	var rev []*BlockNode
	for ; n != nil; n = n.Parent {
		rev = append(rev, n)
	}

	chain := make([]*BlockNode, len(rev))
	for i, v := range rev {
		chain[len(rev)-1-i] = v
	}
	return chain
}

// IsAncestor reports whether a is an ancestor of (or equal to) b.
func IsAncestor(a, b *BlockNode) bool {
	if a == nil || b == nil {
		return false
	}
	for b != nil && b.Block.Height >= a.Block.Height {
		if b == a {
			return true
		}
		b = b.Parent
	}
	return false
}
