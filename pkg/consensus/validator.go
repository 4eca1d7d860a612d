package consensus

import (
	"errors"
	"fmt"
)

// validator checks messages received from peers before they touch the
// chain state. All signature verification happens here, so the
// consensus core can trust its inputs.
type validator struct {
	chain *ChainState
}

func newValidator(chain *ChainState) *validator {
	return &validator{chain: chain}
}

func (v *validator) ValidateBlock(b *Block) error {
	val, ok := v.chain.Validators().Get(b.Proposer)
	if !ok {
		return fmt.Errorf("proposer %s not in validator set", b.Proposer)
	}

	if !b.ProposerSig.Verify(val.PK, b.Encode(false)) {
		return errors.New("invalid proposer signature")
	}

	epoch := b.Epoch(v.chain.Config().SlotsPerEpoch)
	if !VerifyReveal(val.PK, epoch, b.Reveal) {
		return errors.New("invalid randomness reveal")
	}

	for i := range b.Attestations {
		if err := v.ValidateAttestation(&b.Attestations[i]); err != nil {
			return fmt.Errorf("carried attestation %d: %w", i, err)
		}
	}
	return nil
}

func (v *validator) ValidateAttestation(a *Attestation) error {
	if a.Block.Zero() {
		return errors.New("attestation names no block")
	}

	val, ok := v.chain.Validators().Get(a.Validator)
	if !ok {
		return fmt.Errorf("attester %s not in validator set", a.Validator)
	}

	if !a.Sig.Verify(val.PK, a.Encode(false)) {
		return errors.New("invalid attestation signature")
	}
	return nil
}
