package consensus

import (
	"encoding/binary"
)

// ProposerScheduler deterministically assigns one proposer per slot
// per epoch, weighted by effective stake, from the RANDAO mix
// accumulated over the previous epoch.
type ProposerScheduler struct {
	cfg         Config
	validators  *ValidatorSet
	genesisSeed Hash

	// mixes holds the RANDAO mix per epoch. An epoch's mix starts
	// as the previous epoch's mix and folds in the reveal of every
	// block applied in that epoch.
	mixes map[int64]Hash
	// schedules caches slot index -> proposer per epoch. A schedule
	// is fixed once computed: it only depends on the previous
	// epoch's mix, which is complete by the time the epoch starts.
	schedules map[int64][]Addr
}

// NewProposerScheduler creates a scheduler seeded with the genesis
// seed as the epoch -1 mix.
func NewProposerScheduler(cfg Config, validators *ValidatorSet, genesisSeed Hash) *ProposerScheduler {
	s := &ProposerScheduler{
		cfg:         cfg,
		validators:  validators,
		genesisSeed: genesisSeed,
	}
	s.Reset()
	return s
}

// Reset drops every mix and cached schedule back to the genesis seed.
// Used by the reorg replay path, which rebuilds the mixes from the
// new canonical chain.
func (s *ProposerScheduler) Reset() {
	s.mixes = map[int64]Hash{-1: s.genesisSeed}
	s.schedules = make(map[int64][]Addr)
}

// Mix returns the RANDAO mix for the given epoch, inheriting the
// previous epoch's mix for epochs no block of which has been applied
// yet.
func (s *ProposerScheduler) Mix(epoch int64) Hash {
	if m, ok := s.mixes[epoch]; ok {
		return m
	}
	if epoch <= -1 {
		return s.genesisSeed
	}
	return s.Mix(epoch - 1)
}

// Mixes returns a copy of the materialized per-epoch mixes.
func (s *ProposerScheduler) Mixes() map[int64]Hash {
	r := make(map[int64]Hash, len(s.mixes))
	for e, m := range s.mixes {
		r[e] = m
	}
	return r
}

// UpdateMix folds a block's reveal into the epoch's mix. Called once
// per block as it is applied.
func (s *ProposerScheduler) UpdateMix(epoch int64, reveal Sig) {
	m := s.Mix(epoch)
	r := SHA3(reveal)
	for i := range m {
		m[i] ^= r[i]
	}
	s.mixes[epoch] = m

	// A later epoch's schedule may already be cached from a query
	// that raced the block carrying this reveal. It was seeded by a
	// mix this update just changed, so it must be recomputed.
	for e := range s.schedules {
		if e > epoch {
			delete(s.schedules, e)
		}
	}
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Schedule returns the proposer assignment for every slot of the
// epoch, computing and caching it on first use. The seed is the
// previous epoch's mix.
func (s *ProposerScheduler) Schedule(epoch int64) []Addr {
	if sched, ok := s.schedules[epoch]; ok {
		return sched
	}

	seed := s.Mix(epoch - 1)
	n := s.validators.Len()
	sched := make([]Addr, s.cfg.SlotsPerEpoch)
	for i := uint64(0); i < s.cfg.SlotsPerEpoch; i++ {
		slotSeed := SHA3(seed[:], u64le(i))
		sched[i] = s.sample(slotSeed, n)
	}
	s.schedules[epoch] = sched
	return sched
}

// sample draws candidates proportionally to index until one passes
// the effective-stake acceptance test.
func (s *ProposerScheduler) sample(slotSeed Hash, n int) Addr {
	for attempt := uint64(0); ; attempt++ {
		h := SHA3(slotSeed[:], u64le(attempt))
		idx := binary.LittleEndian.Uint64(h[:8]) % uint64(n)
		candidate := s.validators.ByIndex(int(idx))

		eff := candidate.Stake
		if eff > s.cfg.MaxEffectiveStake {
			eff = s.cfg.MaxEffectiveStake
		}
		if uint64(h[8]) <= eff*255/s.cfg.MaxEffectiveStake {
			return candidate.Addr
		}
	}
}

// ProposerAt returns the proposer assigned to the given slot.
func (s *ProposerScheduler) ProposerAt(slot uint64) Addr {
	epoch := int64(slot / s.cfg.SlotsPerEpoch)
	return s.Schedule(epoch)[slot%s.cfg.SlotsPerEpoch]
}
