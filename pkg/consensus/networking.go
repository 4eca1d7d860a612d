package consensus

// Peer is a node reachable through the network. Calls are one-way
// message deliveries; an error means the peer could not be reached.
type Peer interface {
	Block(b *Block) error
	Attestation(a *Attestation) error
	// Head announces the sender's fork choice head so lagging peers
	// can sync.
	Head(sender Peer, h Hash, height uint64) error
	// RequestChain asks for the canonical blocks above the given
	// height. from is the requester's head, ignored by peers that do
	// not know it.
	RequestChain(requester Peer, from Hash, height uint64) error
	// ChainBlocks delivers a sync response in ancestor order.
	ChainBlocks(bs []*Block) error
}

// Network connects gateways to each other.
type Network interface {
	Start(addr string, myself Peer) error
	Connect(addr string) (Peer, error)
}
