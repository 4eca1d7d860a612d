package consensus

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/helinwang/log15"
)

// Gateway relays consensus messages between the local chain state and
// the network. Incoming gossip is deduplicated and validated before
// it reaches the chain; novel items are forwarded to the peers, and
// lagging peers are served through the chain request/response pair.
type Gateway struct {
	net    Network
	chain  *ChainState
	v      *validator
	myself Peer
	addr   string

	blockCache *lru.Cache
	attCache   *lru.Cache

	mu    sync.Mutex
	peers []Peer
}

// NewGateway creates a gateway for the chain state.
func NewGateway(net Network, chain *ChainState) *Gateway {
	bCache, err := lru.New(1024)
	if err != nil {
		panic(err)
	}

	aCache, err := lru.New(4096)
	if err != nil {
		panic(err)
	}

	g := &Gateway{
		net:        net,
		chain:      chain,
		v:          newValidator(chain),
		blockCache: bCache,
		attCache:   aCache,
	}
	g.myself = &receiver{g: g}
	return g
}

// Start registers the gateway on the network under the given address.
func (g *Gateway) Start(addr string) error {
	g.addr = addr
	return g.net.Start(addr, g.myself)
}

// Connect dials the given peer addresses. The gateway's own address
// is skipped.
func (g *Gateway) Connect(peerAddrs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, a := range peerAddrs {
		if a == g.addr {
			continue
		}

		p, err := g.net.Connect(a)
		if err != nil {
			return err
		}
		g.peers = append(g.peers, p)
	}
	return nil
}

func (g *Gateway) peerList() []Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Peer(nil), g.peers...)
}

// BroadcastBlock sends the block to every peer.
func (g *Gateway) BroadcastBlock(b *Block) {
	g.blockCache.Add(b.Hash(), true)
	for _, p := range g.peerList() {
		p := p
		go func() {
			err := p.Block(b)
			if err != nil {
				log.Error("send block to peer", "err", err)
			}
		}()
	}
}

// BroadcastAttestation sends the attestation to every peer.
func (g *Gateway) BroadcastAttestation(a *Attestation) {
	g.attCache.Add(a.Hash(), true)
	for _, p := range g.peerList() {
		p := p
		go func() {
			err := p.Attestation(a)
			if err != nil {
				log.Error("send attestation to peer", "err", err)
			}
		}()
	}
}

// AnnounceHead tells the peers about the current fork choice head.
func (g *Gateway) AnnounceHead() {
	h, height := g.chain.HeadHash()
	for _, p := range g.peerList() {
		p := p
		go func() {
			err := p.Head(g.myself, h, height)
			if err != nil {
				log.Error("announce head to peer", "err", err)
			}
		}()
	}
}

// requestSync asks one peer for the chain above our head.
func (g *Gateway) requestSync(p Peer, aboveHeight uint64) {
	h, height := g.chain.HeadHash()
	if aboveHeight > height {
		aboveHeight = height
	}

	if p == nil {
		peers := g.peerList()
		if len(peers) == 0 {
			return
		}
		p = peers[0]
	}

	err := p.RequestChain(g.myself, h, aboveHeight)
	if err != nil {
		log.Error("request chain from peer", "err", err)
	}
}

func (g *Gateway) recvBlock(b *Block) {
	h := b.Hash()
	if _, ok := g.blockCache.Get(h); ok {
		return
	}
	g.blockCache.Add(h, true)

	if err := g.v.ValidateBlock(b); err != nil {
		log.Warn("discarding invalid block from peer", "hash", h, "err", err)
		return
	}

	u, err := g.chain.AddBlock(b)
	switch {
	case errors.Is(err, ErrDuplicateBlock):
		return
	case errors.Is(err, ErrParentNotFound):
		// A gap before this block. Drop it from the cache so the
		// rebroadcast after sync is not swallowed, then ask for the
		// missing history.
		log.Debug("block parent unknown, requesting chain", "hash", h, "height", b.Height)
		g.blockCache.Remove(h)
		g.requestSync(nil, 0)
		return
	case err != nil:
		// The block is in the tree and the head may have moved
		// even though applying it failed (a replay that hit the
		// retry limit leaves the head wherever it stopped).
		log.Warn("add block failed", "hash", h, "err", err)
		if u != nil && u.OldHead != u.NewHead {
			g.AnnounceHead()
		}
		return
	}

	g.BroadcastBlock(b)
	if u != nil && u.OldHead != u.NewHead {
		g.AnnounceHead()
	}
}

func (g *Gateway) recvAttestation(a *Attestation) {
	h := a.Hash()
	if _, ok := g.attCache.Get(h); ok {
		return
	}
	g.attCache.Add(h, true)

	if err := g.v.ValidateAttestation(a); err != nil {
		log.Warn("discarding invalid attestation from peer", "validator", a.Validator, "err", err)
		return
	}

	u, err := g.chain.AddAttestation(a)
	if err != nil {
		log.Warn("add attestation failed", "validator", a.Validator, "err", err)
		return
	}

	g.BroadcastAttestation(a)
	if u != nil && u.OldHead != u.NewHead {
		g.AnnounceHead()
	}
}

func (g *Gateway) recvHead(sender Peer, h Hash, height uint64) {
	if g.chain.Block(h) != nil {
		return
	}

	_, local := g.chain.HeadHash()
	if height <= local {
		return
	}

	log.Debug("peer head unknown, syncing", "head", h, "height", height, "local", local)
	g.requestSync(sender, local)
}

func (g *Gateway) serveChain(requester Peer, from Hash, aboveHeight uint64) {
	if g.chain.Block(from) == nil {
		// The requester follows a fork we do not know; serve the
		// whole canonical chain so it can reorg.
		aboveHeight = 0
	}

	var bs []*Block
	for _, b := range g.chain.CanonicalChain() {
		if b.Height > aboveHeight {
			bs = append(bs, b)
		}
	}
	if len(bs) == 0 {
		return
	}

	err := requester.ChainBlocks(bs)
	if err != nil {
		log.Error("send chain blocks to peer", "err", err)
	}
}

func (g *Gateway) recvChainBlocks(bs []*Block) {
	for _, b := range bs {
		h := b.Hash()
		if g.chain.Block(h) != nil {
			continue
		}

		if err := g.v.ValidateBlock(b); err != nil {
			log.Warn("discarding invalid sync block", "hash", h, "err", err)
			return
		}

		_, err := g.chain.AddBlock(b)
		switch {
		case errors.Is(err, ErrDuplicateBlock):
			continue
		case errors.Is(err, ErrParentNotFound):
			// The response started above our fork point; ask for
			// the full chain.
			log.Debug("sync response has a gap, requesting full chain", "hash", h)
			g.requestSync(nil, 0)
			return
		case err != nil:
			log.Warn("add sync block failed", "hash", h, "err", err)
			return
		}
	}
}

// receiver implements the Peer interface. It forwards the peers'
// messages to the gateway.
type receiver struct {
	g *Gateway
}

func (r *receiver) Block(b *Block) error {
	r.g.recvBlock(b)
	return nil
}

func (r *receiver) Attestation(a *Attestation) error {
	r.g.recvAttestation(a)
	return nil
}

func (r *receiver) Head(sender Peer, h Hash, height uint64) error {
	r.g.recvHead(sender, h, height)
	return nil
}

func (r *receiver) RequestChain(requester Peer, from Hash, height uint64) error {
	r.g.serveChain(requester, from, height)
	return nil
}

func (r *receiver) ChainBlocks(bs []*Block) error {
	r.g.recvChainBlocks(bs)
	return nil
}
