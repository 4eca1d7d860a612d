package consensus

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// headRecorder is a peer that records head announcements.
type headRecorder struct {
	heads chan Hash
}

func newHeadRecorder() *headRecorder {
	return &headRecorder{heads: make(chan Hash, 8)}
}

func (r *headRecorder) Block(*Block) error             { return nil }
func (r *headRecorder) Attestation(*Attestation) error { return nil }
func (r *headRecorder) Head(_ Peer, h Hash, _ uint64) error {
	r.heads <- h
	return nil
}
func (r *headRecorder) RequestChain(Peer, Hash, uint64) error { return nil }
func (r *headRecorder) ChainBlocks([]*Block) error            { return nil }

// recorderNet hands out the same recording peer for every dial.
type recorderNet struct {
	peer Peer
}

func (recorderNet) Start(string, Peer) error       { return nil }
func (n recorderNet) Connect(string) (Peer, error) { return n.peer, nil }

func TestGatewayAnnouncesHeadAfterFailedReplay(t *testing.T) {
	rand := Rand(SHA3([]byte("gateway-test")))
	sk := rand.SK()
	pk, err := sk.PK()
	require.NoError(t, err)

	gen := &GenesisConfig{
		Seed:            "gateway-test",
		SlotsPerEpoch:   8,
		ReorgRetryLimit: 1,
		Validators: []GenesisValidator{
			{PK: hex.EncodeToString(pk), Stake: 32},
		},
	}
	led := newFakeLedger()
	chain, err := NewChainState(gen, led)
	require.NoError(t, err)

	rec := newHeadRecorder()
	gw := NewGateway(recorderNet{peer: rec}, chain)
	require.NoError(t, gw.Start("a"))
	require.NoError(t, gw.Connect([]string{"b"}))

	g := chain.Head()
	b1 := nextTestBlock(chain, g, 1, nil, nil)
	_, err = chain.AddBlock(b1)
	require.NoError(t, err)

	// A competing fork block whose only transaction always fails,
	// with the validator's full stake queued behind it.
	bad := []byte("bad")
	led.fail[SHA3(bad)] = "bad txn"
	c1 := &Block{
		PrevBlock: g.Hash(),
		TxnRoot:   TxnRoot([][]byte{bad}),
		Height:    1,
		Slot:      2,
		Proposer:  sk.Addr(),
		Txns:      [][]byte{bad},
		Reveal:    sk.Reveal(0),
	}
	c1.ProposerSig = sk.Sign(c1.Encode(false))
	_, err = chain.AddAttestation(attestation(chain, 0, c1.Hash(), 1))
	require.NoError(t, err)

	// The fork block arrives from the network, wins fork choice and
	// the single-attempt replay fails on its transaction. The peers
	// must still learn where the head ended up.
	gw.recvBlock(c1)

	head, _ := chain.HeadHash()
	assert.Equal(t, chain.Genesis(), head)
	select {
	case h := <-rec.heads:
		assert.Equal(t, head, h)
	case <-time.After(time.Second):
		t.Fatal("no head announcement after failed replay")
	}
}
