package consensus

import (
	"time"

	log "github.com/helinwang/log15"
)

// TxnPool supplies pending transactions for block building.
type TxnPool interface {
	// Pick returns a batch of transactions that can be applied in
	// order on the current state.
	Pick() [][]byte
	// RemoveIncluded drops transactions that made it into a block.
	RemoveIncluded(txns [][]byte)
}

// Node drives one validator: it proposes when the scheduler assigns
// it a slot and attests to its head every slot. Both actions apply
// locally first, then broadcast.
type Node struct {
	addr    Addr
	sk      SK
	chain   *ChainState
	gateway *Gateway
	pool    TxnPool
}

// NewNode creates a validator node from its secret key.
func NewNode(sk SK, chain *ChainState, gateway *Gateway, pool TxnPool) *Node {
	return &Node{
		addr:    sk.Addr(),
		sk:      sk,
		chain:   chain,
		gateway: gateway,
		pool:    pool,
	}
}

// Addr returns the validator address of this node.
func (n *Node) Addr() Addr {
	return n.addr
}

// Chain returns the node's chain state.
func (n *Node) Chain() *ChainState {
	return n.chain
}

// Propose builds, applies and broadcasts a block for the slot.
// Returns nil when this node is not the scheduled proposer.
func (n *Node) Propose(slot uint64) (*Block, error) {
	if n.chain.ProposerAt(slot) != n.addr {
		return nil, nil
	}

	head := n.chain.Head()
	txns := n.pool.Pick()
	epoch := int64(slot / n.chain.Config().SlotsPerEpoch)

	now := uint64(time.Now().Unix())
	if now < head.Time {
		now = head.Time
	}

	b := &Block{
		PrevBlock:    head.Hash(),
		TxnRoot:      TxnRoot(txns),
		Time:         now,
		Height:       head.Height + 1,
		Slot:         slot,
		Proposer:     n.addr,
		Txns:         txns,
		Attestations: n.chain.UnincludedAttestations(),
		Reveal:       n.sk.Reveal(epoch),
	}
	b.ProposerSig = n.sk.Sign(b.Encode(false))

	_, err := n.chain.AddBlock(b)
	if err != nil {
		return nil, err
	}

	n.pool.RemoveIncluded(txns)
	log.Info("proposed block", "hash", b.Hash(), "slot", slot, "height", b.Height, "txns", len(txns), "attestations", len(b.Attestations))

	n.gateway.BroadcastBlock(b)
	n.gateway.AnnounceHead()
	return b, nil
}

// Attest signs this node's head view for the slot, applies it locally
// and broadcasts it.
func (n *Node) Attest(slot uint64) (*Attestation, error) {
	head, source, target := n.chain.AttestationData(slot)
	a := &Attestation{
		Validator: n.addr,
		Block:     head,
		Time:      slot,
		Source:    source,
		Target:    target,
	}
	a.Sig = n.sk.Sign(a.Encode(false))

	_, err := n.chain.AddAttestation(a)
	if err != nil {
		return nil, err
	}

	log.Debug("attested", "validator", n.addr, "block", head, "slot", slot, "target", target)
	n.gateway.BroadcastAttestation(a)
	return a, nil
}
