package consensus

import "time"

// Config is the protocol configuration shared by every node in a
// simulation.
type Config struct {
	SlotsPerEpoch     uint64
	SlotDuration      time.Duration
	MaxEffectiveStake uint64
	// MaxClockSkew bounds how far in the future a block timestamp
	// may be before the block is marked invalid.
	MaxClockSkew time.Duration
	// ReorgRetryLimit bounds the reorg replay loop. Exceeding it
	// fails the head update, leaving state at the last applied
	// point.
	ReorgRetryLimit int
}

// DefaultConfig returns the configuration used by the simulator when
// the genesis file does not override it.
func DefaultConfig() Config {
	return Config{
		SlotsPerEpoch:     8,
		SlotDuration:      200 * time.Millisecond,
		MaxEffectiveStake: 32,
		MaxClockSkew:      2 * time.Second,
		ReorgRetryLimit:   10,
	}
}
