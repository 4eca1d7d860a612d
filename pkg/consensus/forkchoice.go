package consensus

import (
	log "github.com/helinwang/log15"
)

// ForkChoice implements LMD-GHOST head selection over a block tree.
// It is the sole mutator of the tree nodes' attested stake: every
// weight change enters through an attestation change, a block
// arrival, or an invalidation, so the weights never need a full-tree
// recount outside reorg replay.
type ForkChoice struct {
	tree *BlockTree
}

// NewForkChoice creates a fork choice over the given tree.
func NewForkChoice(tree *BlockTree) *ForkChoice {
	return &ForkChoice{tree: tree}
}

// addStake walks the ancestor chain starting at n, adjusting each
// node's attested stake by delta. The walk stops the moment it meets
// an invalid node: an invalid node's subtree is permanently excluded
// from fork choice, so its weights no longer matter.
func addStake(n *BlockNode, delta int64) {
	for ; n != nil; n = n.Parent {
		if n.Invalid {
			return
		}
		if delta < 0 && n.AttestedStake < uint64(-delta) {
			// Never drive a weight negative.
			n.AttestedStake = 0
			continue
		}
		n.AttestedStake = uint64(int64(n.AttestedStake) + delta)
	}
}

// RecordAttestationChange moves a validator's stake from its old
// attestation target to the new one. old is nil when the validator
// had no prior attestation, and may also be nil when the prior target
// never arrived (no weight was ever applied for it).
func (f *ForkChoice) RecordAttestationChange(old, new *BlockNode, stake uint64) {
	if stake == 0 {
		return
	}
	if old != nil {
		addStake(old, -int64(stake))
	}
	if new != nil {
		addStake(new, int64(stake))
	}
}

// OnBlockArrival applies the stake of every validator whose current
// latest attestation already targets the newly arrived block but has
// not been weighed yet (the attestation arrived, or was carried by a
// block on another branch, before its target block was known).
// weighted tracks which validators' latest attestations already
// contribute to the tree and is updated in place.
func (f *ForkChoice) OnBlockArrival(n *BlockNode, latest map[Addr]*Attestation, weighted map[Addr]bool, stakeOf func(Addr) uint64) {
	h := n.Hash()
	var stake uint64
	for addr, a := range latest {
		if a.Block == h && !weighted[addr] {
			stake += stakeOf(addr)
			weighted[addr] = true
		}
	}
	if stake > 0 {
		addStake(n, int64(stake))
	}
}

// Invalidate marks the node invalid, removes its accumulated stake
// from every ancestor and zeroes its own weight. Invalidation is
// terminal: there is no way to mark a node valid again.
func (f *ForkChoice) Invalidate(n *BlockNode, reason string) {
	if n.Invalid {
		return
	}

	log.Warn("invalidating block", "hash", n.Hash(), "height", n.Block.Height, "reason", reason)
	stake := n.AttestedStake
	n.Invalid = true
	n.ValidationErr = reason
	n.AttestedStake = 0
	if stake > 0 {
		addStake(n.Parent, -int64(stake))
	}
}

// Head computes the canonical head: starting from the finalized
// checkpoint (or the root when the checkpoint block is unknown),
// greedily descend into the valid child with the most attested
// stake, breaking ties by lexicographically smallest block hash,
// until a node with no valid children is reached.
func (f *ForkChoice) Head(finalized Checkpoint) *BlockNode {
	n := f.tree.Node(finalized.Root)
	if n == nil {
		n = f.tree.Root()
	}
	if n == nil {
		return nil
	}

	for {
		var best *BlockNode
		for _, c := range n.Children {
			if c.Invalid {
				continue
			}
			if best == nil ||
				c.AttestedStake > best.AttestedStake ||
				(c.AttestedStake == best.AttestedStake && c.Hash().Less(best.Hash())) {
				best = c
			}
		}
		if best == nil {
			return n
		}
		n = best
	}
}
