package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/helinwang/log15"
)

// ErrReorgLimit is returned when a reorg replay keeps producing
// invalid blocks until the retry budget is exhausted. State is left
// at the last successfully applied point.
var ErrReorgLimit = errors.New("reorg retry limit exceeded")

// TxnStatus is the per-transaction outcome of applying a block's
// transactions.
type TxnStatus struct {
	Hash   Hash
	OK     bool
	Reason string
}

// Ledger is the execution collaborator: it applies block transactions
// to the account state and supports the snapshot/restore needed by
// validate-then-commit and by the clear-and-replay reorg path.
type Ledger interface {
	// ApplyTransactions applies the transactions in order. A
	// non-nil error means some transaction was invalid and the
	// ledger may be mid-block: the caller must Restore.
	ApplyTransactions(txns [][]byte) ([]TxnStatus, error)
	// Snapshot returns a handle for the current state.
	Snapshot() (Hash, error)
	// Restore brings the state back to a snapshot.
	Restore(Hash) error
	// Reset brings the state back to genesis.
	Reset() error
	// Root returns the current state root.
	Root() Hash
}

// HeadUpdate is the outcome of one block or attestation event.
type HeadUpdate struct {
	OldHead Hash
	NewHead Hash
	// Reorged is true when the old head was not an ancestor of the
	// new one and derived state was rebuilt by full replay.
	Reorged bool
	// Applied counts the blocks validated and applied by this
	// update.
	Applied int
}

func attKey(a *Attestation) string {
	return string(a.Block[:]) + string(a.Validator[:])
}

// ChainState owns one node's complete consensus state: the block
// tree, fork choice, finality gadget, proposer scheduler and ledger.
// Every mutation is serialized by one mutex; recomputing the head
// between interleaved events on the same tree is unsafe.
type ChainState struct {
	cfg        Config
	validators *ValidatorSet

	mu      sync.Mutex
	tree    *BlockTree
	fc      *ForkChoice
	gadget  *FinalityGadget
	sched   *ProposerScheduler
	ledger  Ledger
	head    *BlockNode
	genesis Hash

	// latest holds each validator's latest attestation; a strictly
	// newer timestamp supersedes, nothing is ever deleted.
	latest map[Addr]*Attestation
	// weighted marks validators whose latest attestation stake has
	// been applied to the tree. False while the attestation's
	// target block is still unknown.
	weighted map[Addr]bool
	// pending queues attestations whose target block is unknown,
	// keyed by that block hash.
	pending map[Hash][]*Attestation
	// processed dedups block-carried attestations by
	// (target, validator) so replays do not double-feed the
	// finality gadget. Cleared on reorg.
	processed map[string]bool
}

// NewChainState creates a node's consensus state from the genesis
// configuration and its ledger collaborator.
func NewChainState(gen *GenesisConfig, ledger Ledger) (*ChainState, error) {
	validators, err := gen.ValidatorSet()
	if err != nil {
		return nil, err
	}

	cfg := gen.Config()
	tree := NewBlockTree()
	genesisBlock := gen.GenesisBlock()
	root, err := tree.AddBlock(genesisBlock)
	if err != nil {
		return nil, err
	}

	c := &ChainState{
		cfg:        cfg,
		validators: validators,
		tree:       tree,
		fc:         NewForkChoice(tree),
		gadget:     NewFinalityGadget(cfg, validators, root.Hash()),
		sched:      NewProposerScheduler(cfg, validators, gen.GenesisSeed()),
		ledger:     ledger,
		head:       root,
		genesis:    root.Hash(),
		latest:     make(map[Addr]*Attestation),
		weighted:   make(map[Addr]bool),
		pending:    make(map[Hash][]*Attestation),
		processed:  make(map[string]bool),
	}
	return c, nil
}

// Genesis returns the genesis block hash.
func (c *ChainState) Genesis() Hash {
	return c.genesis
}

// Config returns the protocol configuration.
func (c *ChainState) Config() Config {
	return c.cfg
}

// Validators returns the validator set.
func (c *ChainState) Validators() *ValidatorSet {
	return c.validators
}

// Head returns the current fork choice head.
func (c *ChainState) Head() *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head.Block
}

// HeadHash returns the current fork choice head hash and height.
func (c *ChainState) HeadHash() (Hash, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head.Hash(), c.head.Block.Height
}

// Block returns the block with the given hash, nil if unknown.
func (c *ChainState) Block(h Hash) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.tree.Node(h)
	if n == nil {
		return nil
	}
	return n.Block
}

// CanonicalChain returns the blocks from genesis to the current head.
func (c *ChainState) CanonicalChain() []*Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := c.tree.Chain(c.head.Hash())
	blocks := make([]*Block, len(nodes))
	for i, n := range nodes {
		blocks[i] = n.Block
	}
	return blocks
}

// Checkpoints returns the justified, previous justified and finalized
// checkpoints.
func (c *ChainState) Checkpoints() (justified, prevJustified, finalized Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gadget.Justified(), c.gadget.PrevJustified(), c.gadget.Finalized()
}

// ProposerAt returns the scheduled proposer for the slot, per this
// node's view of the RANDAO mixes.
func (c *ChainState) ProposerAt(slot uint64) Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.ProposerAt(slot)
}

// Schedule returns the epoch's proposer schedule.
func (c *ChainState) Schedule(epoch int64) []Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Addr(nil), c.sched.Schedule(epoch)...)
}

// Mixes returns the materialized per-epoch RANDAO mixes.
func (c *ChainState) Mixes() map[int64]Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.Mixes()
}

// LedgerRoot returns the ledger state root at the current head.
func (c *ChainState) LedgerRoot() Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Root()
}

// AttestationData returns what this node should attest to at the
// given slot: its head and the FFG source/target pair.
func (c *ChainState) AttestationData(slot uint64) (head Hash, source, target Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chain := c.tree.Chain(c.head.Hash())
	source, target = c.gadget.ComputeCheckpoints(slot, chain)
	return c.head.Hash(), source, target
}

// UnincludedAttestations returns latest attestations not yet carried
// by an applied block, for a proposer to include.
func (c *ChainState) UnincludedAttestations() []Attestation {
	c.mu.Lock()
	defer c.mu.Unlock()

	var r []Attestation
	for _, a := range c.latest {
		if !c.processed[attKey(a)] {
			r = append(r, *a)
		}
	}
	return r
}

// AddBlock inserts a received block, applies any attestations that
// were waiting for it, recomputes the head and applies the resulting
// forward progress or reorg. Structural errors (duplicate, unknown
// parent) reject the block with no state change.
func (c *ChainState) AddBlock(b *Block) (*HeadUpdate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.tree.AddBlock(b)
	if err != nil {
		return nil, err
	}
	log.Debug("block added to tree", "hash", n.Hash(), "height", b.Height, "slot", b.Slot)

	// Attestations that named this block before it arrived.
	h := n.Hash()
	for _, a := range c.pending[h] {
		c.recordAttestation(a)
	}
	delete(c.pending, h)

	c.fc.OnBlockArrival(n, c.latest, c.weighted, c.validators.Stake)
	return c.updateHead()
}

// AddAttestation processes a received attestation. Attestations
// naming an unknown block are queued, not errors; older or duplicate
// attestations from an already-seen validator are silently ignored.
func (c *ChainState) AddAttestation(a *Attestation) (*HeadUpdate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tree.Node(a.Block) == nil {
		log.Debug("attestation target unknown, queueing", "target", a.Block, "validator", a.Validator)
		c.pending[a.Block] = append(c.pending[a.Block], a)
		return nil, nil
	}

	if !c.recordAttestation(a) {
		return nil, nil
	}
	return c.updateHead()
}

// recordAttestation updates the validator's latest attestation and
// moves its fork choice stake. Returns false when the attestation is
// older than (or as old as) the one already held.
func (c *ChainState) recordAttestation(a *Attestation) bool {
	old := c.latest[a.Validator]
	if old != nil && old.Time >= a.Time {
		return false
	}

	var oldNode *BlockNode
	if old != nil && c.weighted[a.Validator] {
		oldNode = c.tree.Node(old.Block)
	}
	newNode := c.tree.Node(a.Block)
	c.latest[a.Validator] = a
	c.weighted[a.Validator] = newNode != nil
	c.fc.RecordAttestationChange(oldNode, newNode, c.validators.Stake(a.Validator))
	return true
}

// updateHead recomputes the fork choice head and classifies the
// change: forward progress applies only the new blocks on the head's
// path; anything else clears derived state and replays the whole
// canonical chain.
func (c *ChainState) updateHead() (*HeadUpdate, error) {
	oldHead := c.head
	newHead := c.fc.Head(c.gadget.Finalized())
	u := &HeadUpdate{OldHead: oldHead.Hash(), NewHead: newHead.Hash()}
	if newHead == oldHead {
		return u, nil
	}

	if IsAncestor(oldHead, newHead) {
		applied, err := c.applyForward(oldHead, newHead)
		u.Applied += applied
		if err == nil {
			c.head = newHead
			u.NewHead = newHead.Hash()
			log.Debug("forward progress", "old", u.OldHead, "new", u.NewHead, "applied", applied)
			return u, nil
		}
		// A block on the forward path failed validation. It has
		// been invalidated; rebuild from scratch against the
		// recomputed head.
		log.Warn("forward apply failed, falling back to reorg", "err", err)
	} else {
		log.Info("reorg detected", "old", u.OldHead, "new", newHead.Hash())
	}

	u.Reorged = true
	applied, err := c.reorg()
	u.Applied += applied
	u.NewHead = c.head.Hash()
	return u, err
}

// applyForward validates and applies, in ancestor order, the blocks
// after from up to and including to. On a validation failure the
// offending block is invalidated and an error returned; blocks before
// it remain applied.
func (c *ChainState) applyForward(from, to *BlockNode) (int, error) {
	var rev []*BlockNode
	for n := to; n != from; n = n.Parent {
		rev = append(rev, n)
	}

	applied := 0
	for i := len(rev) - 1; i >= 0; i-- {
		n := rev[i]
		if err := c.applyBlock(n); err != nil {
			c.fc.Invalidate(n, err.Error())
			return applied, err
		}
		c.head = n
		applied++
	}
	return applied, nil
}

// reorg clears all derived state and replays the entire canonical
// chain from genesis. An invalid block invalidates its node and the
// replay restarts against the freshly recomputed canonical chain, up
// to the retry budget.
func (c *ChainState) reorg() (int, error) {
	applied := 0
	for attempt := 0; attempt < c.cfg.ReorgRetryLimit; attempt++ {
		if err := c.ledger.Reset(); err != nil {
			return applied, fmt.Errorf("reset ledger: %w", err)
		}
		c.sched.Reset()
		c.processed = make(map[string]bool)
		c.head = c.tree.Root()
		applied = 0

		target := c.fc.Head(c.gadget.Finalized())
		chain := c.tree.Chain(target.Hash())

		ok := true
		for _, n := range chain[1:] {
			if err := c.applyBlock(n); err != nil {
				c.fc.Invalidate(n, err.Error())
				log.Warn("reorg replay hit invalid block, retrying", "attempt", attempt, "hash", n.Hash(), "err", err)
				ok = false
				break
			}
			c.head = n
			applied++
		}
		if ok {
			log.Debug("reorg replay complete", "head", c.head.Hash(), "applied", applied)
			return applied, nil
		}
	}
	return applied, ErrReorgLimit
}

// applyBlock validates one block against its parent and applies it:
// transactions on a ledger snapshot, the RANDAO mix update, then each
// carried attestation. Any validation failure leaves the ledger
// restored and returns the reason.
func (c *ChainState) applyBlock(n *BlockNode) error {
	if n.Invalid {
		return fmt.Errorf("block already invalid: %s", n.ValidationErr)
	}

	b := n.Block
	if err := c.validateBlock(n); err != nil {
		return err
	}

	snapshot, err := c.ledger.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot ledger: %w", err)
	}
	statuses, err := c.ledger.ApplyTransactions(b.Txns)
	if err != nil {
		if rerr := c.ledger.Restore(snapshot); rerr != nil {
			// should never happen: the snapshot was just taken
			panic(rerr)
		}
		return fmt.Errorf("apply transactions: %w", err)
	}
	for _, st := range statuses {
		if !st.OK {
			if rerr := c.ledger.Restore(snapshot); rerr != nil {
				panic(rerr)
			}
			return fmt.Errorf("invalid transaction %x: %s", st.Hash[:4], st.Reason)
		}
	}

	c.sched.UpdateMix(b.Epoch(c.cfg.SlotsPerEpoch), b.Reveal)

	for i := range b.Attestations {
		a := &b.Attestations[i]
		key := attKey(a)
		if c.processed[key] {
			continue
		}
		c.recordAttestation(a)
		c.processed[key] = true
		c.removePending(a)
		c.gadget.ApplyAttestations([]*Attestation{a})
	}
	return nil
}

// removePending drops the attestation from the unknown-target queue
// it may still sit in.
func (c *ChainState) removePending(a *Attestation) {
	q, ok := c.pending[a.Block]
	if !ok {
		return
	}
	for i, p := range q {
		if p.Validator == a.Validator && p.Time == a.Time {
			c.pending[a.Block] = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(c.pending[a.Block]) == 0 {
		delete(c.pending, a.Block)
	}
}

// validateBlock checks a block against its parent: linkage, declared
// transactions root, timestamp range, proposer assignment and
// attestation uniqueness. Failures mark it invalid, they never abort
// the orchestration loop.
func (c *ChainState) validateBlock(n *BlockNode) error {
	b := n.Block
	parent := n.Parent.Block

	if b.PrevBlock != n.Parent.Hash() {
		return errors.New("previous hash does not match parent")
	}
	if b.Height != parent.Height+1 {
		return fmt.Errorf("height %d does not follow parent height %d", b.Height, parent.Height)
	}
	if b.Slot <= parent.Slot {
		return fmt.Errorf("slot %d not after parent slot %d", b.Slot, parent.Slot)
	}
	if b.TxnRoot != TxnRoot(b.Txns) {
		return errors.New("transactions root mismatch")
	}
	if b.Time < parent.Time {
		return errors.New("timestamp before parent")
	}
	if b.Time > uint64(time.Now().Add(c.cfg.MaxClockSkew).Unix()) {
		return errors.New("timestamp too far in the future")
	}
	if expected := c.sched.ProposerAt(b.Slot); b.Proposer != expected {
		return fmt.Errorf("proposer %s not scheduled for slot %d", b.Proposer, b.Slot)
	}

	seen := make(map[string]bool, len(b.Attestations))
	for i := range b.Attestations {
		key := attKey(&b.Attestations[i])
		if seen[key] {
			return errors.New("duplicate attestation in block")
		}
		seen[key] = true
	}
	return nil
}
