package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(stakes []uint64) (*ProposerScheduler, *ValidatorSet, Hash) {
	set := testValidatorSet(stakes)
	seed := SHA3([]byte("seed"))
	return NewProposerScheduler(DefaultConfig(), set, seed), set, seed
}

func TestMixInheritance(t *testing.T) {
	s, _, seed := newTestScheduler([]uint64{32, 32})

	assert.Equal(t, seed, s.Mix(-1))
	// No block applied yet: every epoch inherits the genesis seed.
	assert.Equal(t, seed, s.Mix(0))
	assert.Equal(t, seed, s.Mix(5))

	reveal := Sig("reveal-0")
	s.UpdateMix(0, reveal)

	r := SHA3(reveal)
	want := seed
	for i := range want {
		want[i] ^= r[i]
	}
	assert.Equal(t, want, s.Mix(0))
	// Later epochs inherit the updated mix.
	assert.Equal(t, want, s.Mix(3))
	// The epoch -1 mix never changes.
	assert.Equal(t, seed, s.Mix(-1))
}

func TestMixFoldsEveryReveal(t *testing.T) {
	s, _, _ := newTestScheduler([]uint64{32})

	s.UpdateMix(0, Sig("a"))
	one := s.Mix(0)
	s.UpdateMix(0, Sig("b"))
	assert.NotEqual(t, one, s.Mix(0))

	// XOR of the same reveal twice cancels out.
	s.UpdateMix(0, Sig("b"))
	assert.Equal(t, one, s.Mix(0))
}

func TestScheduleDeterministic(t *testing.T) {
	a, set, _ := newTestScheduler([]uint64{32, 32, 32, 32})
	b, _, _ := newTestScheduler([]uint64{32, 32, 32, 32})

	sa := a.Schedule(0)
	sb := b.Schedule(0)
	require.Len(t, sa, int(DefaultConfig().SlotsPerEpoch))
	assert.Equal(t, sa, sb)

	for _, addr := range sa {
		_, ok := set.Get(addr)
		assert.True(t, ok)
	}
}

func TestScheduleSingleValidator(t *testing.T) {
	s, set, _ := newTestScheduler([]uint64{32})
	for _, addr := range s.Schedule(4) {
		assert.Equal(t, set.ByIndex(0).Addr, addr)
	}
}

func TestProposerAt(t *testing.T) {
	s, _, _ := newTestScheduler([]uint64{32, 32, 32})
	spe := DefaultConfig().SlotsPerEpoch

	sched0 := s.Schedule(0)
	sched2 := s.Schedule(2)
	assert.Equal(t, sched0[3], s.ProposerAt(3))
	assert.Equal(t, sched2[1], s.ProposerAt(2*spe+1))
}

func TestScheduleRefreshedAfterMixUpdate(t *testing.T) {
	s, _, _ := newTestScheduler([]uint64{32, 32, 32, 32})

	// Epoch 1's schedule queried before the last epoch 0 block has
	// been applied: it is seeded by the incomplete mix[0].
	stale := s.Schedule(1)
	untouched, _, _ := newTestScheduler([]uint64{32, 32, 32, 32})
	assert.Equal(t, untouched.Schedule(1), stale)

	// The late block arrives and folds its reveal into mix[0]. The
	// cached epoch 1 schedule must be recomputed from the new mix.
	s.UpdateMix(0, Sig("late-reveal"))

	fresh, _, _ := newTestScheduler([]uint64{32, 32, 32, 32})
	fresh.UpdateMix(0, Sig("late-reveal"))
	assert.Equal(t, fresh.Schedule(1), s.Schedule(1))

	// Epoch 0's schedule is seeded by mix[-1], which never changes.
	assert.Equal(t, fresh.Schedule(0), s.Schedule(0))
}

func TestResetDropsMixesAndSchedules(t *testing.T) {
	s, _, seed := newTestScheduler([]uint64{32, 32})

	s.UpdateMix(0, Sig("reveal"))
	s.UpdateMix(1, Sig("reveal-1"))
	require.NotEqual(t, seed, s.Mix(1))

	s.Reset()
	assert.Equal(t, seed, s.Mix(0))
	assert.Equal(t, seed, s.Mix(1))
	assert.Equal(t, map[int64]Hash{-1: seed}, s.Mixes())
}
