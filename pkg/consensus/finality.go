package consensus

import (
	log "github.com/helinwang/log15"
)

// FinalityGadget tallies FFG checkpoint votes and promotes the
// justified and finalized checkpoints. Justification is strictly
// monotonic; finalization requires two directly successive justified
// epochs.
type FinalityGadget struct {
	cfg        Config
	validators *ValidatorSet

	justified     Checkpoint
	prevJustified Checkpoint
	finalized     Checkpoint

	// votes is the tally: epoch -> target root -> distinct voters.
	votes map[int64]map[Hash]map[Addr]bool
	// included is each validator's latest on-chain vote, kept so a
	// newer vote can remove the old one from its bucket even when
	// the old vote's source never matched (it was recorded, not
	// tallied).
	included map[Addr]Checkpoint
}

// NewFinalityGadget creates a finality gadget with every checkpoint
// at the genesis checkpoint {epoch: -1, root: genesis}.
func NewFinalityGadget(cfg Config, validators *ValidatorSet, genesis Hash) *FinalityGadget {
	cp := Checkpoint{Epoch: -1, Root: genesis}
	return &FinalityGadget{
		cfg:           cfg,
		validators:    validators,
		justified:     cp,
		prevJustified: cp,
		finalized:     cp,
		votes:         make(map[int64]map[Hash]map[Addr]bool),
		included:      make(map[Addr]Checkpoint),
	}
}

// Justified returns the current justified checkpoint.
func (g *FinalityGadget) Justified() Checkpoint { return g.justified }

// PrevJustified returns the previous justified checkpoint.
func (g *FinalityGadget) PrevJustified() Checkpoint { return g.prevJustified }

// Finalized returns the finalized checkpoint.
func (g *FinalityGadget) Finalized() Checkpoint { return g.finalized }

// threshold returns the distinct-voter count needed to justify a
// checkpoint: ceil(2/3 of the validator count).
func (g *FinalityGadget) threshold() int {
	n := g.validators.Len()
	return (2*n + 2) / 3
}

// ComputeCheckpoints returns the FFG source and target an attester
// should vote for at the given slot: the target is the epoch boundary
// block of the slot's epoch on the canonical chain, the source is the
// current justified checkpoint.
func (g *FinalityGadget) ComputeCheckpoints(slot uint64, chain []*BlockNode) (source, target Checkpoint) {
	source = g.justified

	epoch := int64(slot / g.cfg.SlotsPerEpoch)
	boundary := uint64(epoch) * g.cfg.SlotsPerEpoch
	target = Checkpoint{Epoch: epoch}
	// Search backward from the head for the block with the greatest
	// slot still at or before the epoch boundary.
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Block.Slot <= boundary {
			target.Root = chain[i].Hash()
			break
		}
	}
	return source, target
}

// ApplyAttestations tallies a batch of included attestations. For
// each one it removes the validator's previous vote from its old
// bucket, records the new vote, and, only when the vote's source
// matches the current justified checkpoint exactly, counts it toward
// the target. Crossing the 2/3 threshold on an epoch newer than the
// justified one promotes justified -> previousJustified and may
// finalize. Buckets at or below the finalized epoch are dropped.
func (g *FinalityGadget) ApplyAttestations(atts []*Attestation) {
	for _, a := range atts {
		g.applyOne(a)
	}
}

func (g *FinalityGadget) applyOne(a *Attestation) {
	// Remove the previous vote from its bucket.
	if old, ok := g.included[a.Validator]; ok {
		if byRoot, ok := g.votes[old.Epoch]; ok {
			if voters, ok := byRoot[old.Root]; ok {
				delete(voters, a.Validator)
				if len(voters) == 0 {
					delete(byRoot, old.Root)
				}
			}
			if len(byRoot) == 0 {
				delete(g.votes, old.Epoch)
			}
		}
	}
	g.included[a.Validator] = a.Target

	// A vote only counts when its source is exactly the checkpoint
	// the tallying node considers justified.
	if !a.Source.Equal(g.justified) {
		return
	}

	byRoot, ok := g.votes[a.Target.Epoch]
	if !ok {
		byRoot = make(map[Hash]map[Addr]bool)
		g.votes[a.Target.Epoch] = byRoot
	}
	voters, ok := byRoot[a.Target.Root]
	if !ok {
		voters = make(map[Addr]bool)
		byRoot[a.Target.Root] = voters
	}
	voters[a.Validator] = true

	if len(voters) < g.threshold() || a.Target.Epoch <= g.justified.Epoch {
		return
	}

	g.prevJustified = g.justified
	g.justified = a.Target
	log.Info("checkpoint justified", "epoch", g.justified.Epoch, "root", g.justified.Root)

	if g.prevJustified.Epoch+1 == g.justified.Epoch {
		g.finalized = g.prevJustified
		log.Info("checkpoint finalized", "epoch", g.finalized.Epoch, "root", g.finalized.Root)
	}

	// Votes for finalized history can never justify anything again.
	for epoch := range g.votes {
		if epoch <= g.finalized.Epoch {
			delete(g.votes, epoch)
		}
	}
}
