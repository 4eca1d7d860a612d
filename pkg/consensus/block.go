package consensus

import "fmt"

const (
	addrBytes = 20
)

// ZeroAddr is the unset address.
var ZeroAddr = Addr{}

// Addr is the address of a validator or an account.
type Addr [addrBytes]byte

func (a Addr) String() string {
	return fmt.Sprintf("%x", a[:])
}

// Checkpoint is an (epoch, block hash) pair, the unit of finality
// voting. The genesis checkpoint carries epoch -1 so that justifying
// epoch 0 makes -1 and 0 directly successive.
type Checkpoint struct {
	Epoch int64
	Root  Hash
}

func (c Checkpoint) Equal(other Checkpoint) bool {
	return c.Epoch == other.Epoch && c.Root == other.Root
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("{epoch: %d, root: %x}", c.Epoch, c.Root[:4])
}

// Attestation is a validator's vote for its preferred head block plus
// a source/target checkpoint pair for the finality gadget.
type Attestation struct {
	Validator Addr
	Block     Hash
	Time      uint64
	Source    Checkpoint
	Target    Checkpoint
	// The signature of the encoded attestation with Sig set to nil.
	Sig Sig
}

// Encode encodes the attestation.
func (a *Attestation) Encode(withSig bool) []byte {
	en := *a
	if !withSig {
		en.Sig = nil
	}

	return encode(en)
}

// Hash returns the hash of the attestation.
func (a *Attestation) Hash() Hash {
	return SHA3(a.Encode(true))
}

// Block is a proposed chain extension. It is immutable once created:
// every field is fixed before the proposer signs it.
type Block struct {
	PrevBlock Hash
	TxnRoot   Hash
	Time      uint64
	Height    uint64
	Slot      uint64
	Proposer  Addr
	Txns      [][]byte
	// Attestations carried on chain, fed to the finality gadget
	// when the block is applied.
	Attestations []Attestation
	// Reveal is the proposer's deterministic randomness reveal for
	// the block's epoch, folded into the epoch's RANDAO mix.
	Reveal Sig
	// The signature of the encoded block with ProposerSig set to nil.
	ProposerSig Sig
}

// Encode encodes the block.
func (b *Block) Encode(withSig bool) []byte {
	en := *b
	if !withSig {
		en.ProposerSig = nil
	}

	return encode(en)
}

// Hash returns the hash of the block.
func (b *Block) Hash() Hash {
	return SHA3(b.Encode(true))
}

// Epoch returns the epoch the block's slot falls into.
func (b *Block) Epoch(slotsPerEpoch uint64) int64 {
	return int64(b.Slot / slotsPerEpoch)
}

// TxnRoot returns the transactions root for the given transaction
// list.
func TxnRoot(txns [][]byte) Hash {
	return SHA3(encode(txns))
}

// Validator is one staked member of the validator set.
type Validator struct {
	Addr  Addr
	PK    PK
	Stake uint64
}

// ValidatorSet is the fixed set of validators, in genesis order. The
// order matters: the proposer scheduler samples validators by index.
type ValidatorSet struct {
	list   []Validator
	byAddr map[Addr]int
	total  uint64
}

// NewValidatorSet creates a validator set from the genesis validator
// list.
func NewValidatorSet(vs []Validator) *ValidatorSet {
	s := &ValidatorSet{
		list:   append([]Validator(nil), vs...),
		byAddr: make(map[Addr]int),
	}
	for i, v := range vs {
		s.byAddr[v.Addr] = i
		s.total += v.Stake
	}
	return s
}

// Len returns the number of validators.
func (s *ValidatorSet) Len() int {
	return len(s.list)
}

// TotalStake returns the summed stake of all validators.
func (s *ValidatorSet) TotalStake() uint64 {
	return s.total
}

// ByIndex returns the validator at the given genesis index.
func (s *ValidatorSet) ByIndex(i int) Validator {
	return s.list[i]
}

// Get returns the validator with the given address.
func (s *ValidatorSet) Get(addr Addr) (Validator, bool) {
	i, ok := s.byAddr[addr]
	if !ok {
		return Validator{}, false
	}
	return s.list[i], true
}

// Stake returns the stake of the given validator, 0 if unknown.
func (s *ValidatorSet) Stake(addr Addr) uint64 {
	i, ok := s.byAddr[addr]
	if !ok {
		return 0
	}
	return s.list[i].Stake
}
