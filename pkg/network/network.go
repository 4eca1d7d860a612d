// Package network is the in-memory transport for the simulation.
// Every delivery runs on its own goroutine after a randomized delay,
// so messages between any two nodes can arrive out of order.
package network

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
)

// Network routes messages between in-process peers.
type Network struct {
	minDelay time.Duration
	maxDelay time.Duration

	mu    sync.Mutex
	rng   *rand.Rand
	nodes map[string]consensus.Peer
}

// NewNetwork creates a network whose deliveries take between minDelay
// and maxDelay. The seed fixes the delay sequence for reproducible
// runs.
func NewNetwork(minDelay, maxDelay time.Duration, seed int64) *Network {
	return &Network{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(seed)),
		nodes:    make(map[string]consensus.Peer),
	}
}

// Start registers a peer under the given address.
func (n *Network) Start(addr string, myself consensus.Peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.nodes[addr]; ok {
		return fmt.Errorf("address already registered: %s", addr)
	}
	n.nodes[addr] = myself
	return nil
}

// Connect returns a handle that delivers messages to the peer at the
// address after the network delay.
func (n *Network) Connect(addr string) (consensus.Peer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.nodes[addr]
	if !ok {
		return nil, fmt.Errorf("no peer at address: %s", addr)
	}
	return &delayedPeer{net: n, target: p}, nil
}

func (n *Network) delay() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.maxDelay <= n.minDelay {
		return n.minDelay
	}
	return n.minDelay + time.Duration(n.rng.Int63n(int64(n.maxDelay-n.minDelay)))
}

// delayedPeer delivers each call to the target after a fresh
// randomized delay. Errors on the receiving side do not surface to
// the sender, like a fire-and-forget datagram.
type delayedPeer struct {
	net    *Network
	target consensus.Peer
}

func (p *delayedPeer) deliver(f func()) {
	d := p.net.delay()
	go func() {
		time.Sleep(d)
		f()
	}()
}

func (p *delayedPeer) Block(b *consensus.Block) error {
	p.deliver(func() { p.target.Block(b) })
	return nil
}

func (p *delayedPeer) Attestation(a *consensus.Attestation) error {
	p.deliver(func() { p.target.Attestation(a) })
	return nil
}

func (p *delayedPeer) Head(sender consensus.Peer, h consensus.Hash, height uint64) error {
	p.deliver(func() { p.target.Head(sender, h, height) })
	return nil
}

func (p *delayedPeer) RequestChain(requester consensus.Peer, from consensus.Hash, height uint64) error {
	p.deliver(func() { p.target.RequestChain(requester, from, height) })
	return nil
}

func (p *delayedPeer) ChainBlocks(bs []*consensus.Block) error {
	p.deliver(func() { p.target.ChainBlocks(bs) })
	return nil
}
