package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dfinity/go-dfinity-crypto/bls"
	log "github.com/helinwang/log15"
	"github.com/pterm/pterm"
	"github.com/urfave/cli"

	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
	"github.com/0xmrree/ethereum-simulator-sub000/pkg/ledger"
	"github.com/0xmrree/ethereum-simulator-sub000/pkg/network"
)

type simNode struct {
	node  *consensus.Node
	chain *consensus.ChainState
	pool  *ledger.TxnPool
	gw    *consensus.Gateway
	sk    consensus.SK
}

// loadSetup reads the genesis file and credentials from dir, or
// derives an in-memory setup from the seed when dir is empty.
func loadSetup(c *cli.Context) (*consensus.GenesisConfig, []consensus.SK, error) {
	dir := c.String("dir")
	num := c.Int("N")

	if dir != "" {
		gen, err := consensus.LoadGenesis(filepath.Join(dir, "genesis.yaml"))
		if err != nil {
			return nil, nil, err
		}

		sks := make([]consensus.SK, len(gen.Validators))
		for i := range gen.Validators {
			cred, err := consensus.LoadCredential(filepath.Join(dir, fmt.Sprintf("node-%d", i)))
			if err != nil {
				return nil, nil, err
			}
			sks[i] = cred.SK
		}
		return gen, sks, nil
	}

	seed := c.String("seed")
	rand := consensus.Rand(consensus.SHA3([]byte(seed)))
	gen := &consensus.GenesisConfig{
		Seed:           seed,
		SlotsPerEpoch:  c.Uint64("slots-per-epoch"),
		SlotDurationMS: c.Uint64("slot-duration-ms"),
	}

	sks := make([]consensus.SK, num)
	for i := 0; i < num; i++ {
		sks[i] = rand.SK()
		rand = rand.Derive(rand[:])

		pk, err := sks[i].PK()
		if err != nil {
			return nil, nil, err
		}
		gen.Validators = append(gen.Validators, consensus.GenesisValidator{
			PK:    fmt.Sprintf("%x", []byte(pk)),
			Stake: c.Uint64("stake"),
		})
	}
	return gen, sks, nil
}

func buildNodes(gen *consensus.GenesisConfig, sks []consensus.SK, net *network.Network, balance uint64) ([]*simNode, error) {
	recipients := make([]consensus.PK, len(sks))
	for i, sk := range sks {
		pk, err := sk.PK()
		if err != nil {
			return nil, err
		}
		recipients[i] = pk
	}

	addrs := make([]string, len(sks))
	for i := range sks {
		addrs[i] = fmt.Sprintf("node-%d", i)
	}

	nodes := make([]*simNode, len(sks))
	for i, sk := range sks {
		state := ledger.NewGenesisState(recipients, balance)

		chain, err := consensus.NewChainState(gen, state)
		if err != nil {
			return nil, err
		}

		gw := consensus.NewGateway(net, chain)
		err = gw.Start(addrs[i])
		if err != nil {
			return nil, err
		}

		pool := ledger.NewTxnPool(state)
		nodes[i] = &simNode{
			node:  consensus.NewNode(sk, chain, gw, pool),
			chain: chain,
			pool:  pool,
			sk:    sk,
			gw:    gw,
		}
	}

	// Connect after every gateway is registered, so the mesh is
	// complete regardless of construction order.
	for _, n := range nodes {
		err := n.gw.Connect(addrs)
		if err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// injectTxns gives each node one pending transfer to its right
// neighbor, so proposed blocks carry transactions.
func injectTxns(nodes []*simNode, nonces []uint64, amount uint64) {
	for i, n := range nodes {
		to := nodes[(i+1)%len(nodes)].node.Addr()
		txn := ledger.MakeSendTxn(n.sk, to, amount, nonces[i])
		if n.pool.Add(txn) {
			nonces[i]++
		}
	}
}

func report(nodes []*simNode) bool {
	data := pterm.TableData{{"node", "head", "height", "justified", "finalized", "ledger root"}}
	for i, n := range nodes {
		head, height := n.chain.HeadHash()
		justified, _, finalized := n.chain.Checkpoints()
		data = append(data, []string{
			fmt.Sprintf("%d", i),
			head.String()[:8],
			fmt.Sprintf("%d", height),
			fmt.Sprintf("%d", justified.Epoch),
			fmt.Sprintf("%d", finalized.Epoch),
			n.chain.LedgerRoot().String()[:8],
		})
	}
	err := pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	if err != nil {
		log.Error("render report", "err", err)
	}

	refHead, _ := nodes[0].chain.HeadHash()
	refRoot := nodes[0].chain.LedgerRoot()
	for _, n := range nodes[1:] {
		head, _ := n.chain.HeadHash()
		if head != refHead || n.chain.LedgerRoot() != refRoot {
			return false
		}
	}
	return true
}

func run(c *cli.Context) error {
	gen, sks, err := loadSetup(c)
	if err != nil {
		return err
	}

	minDelay := time.Duration(c.Int64("min-delay-ms")) * time.Millisecond
	maxDelay := time.Duration(c.Int64("max-delay-ms")) * time.Millisecond
	net := network.NewNetwork(minDelay, maxDelay, c.Int64("net-seed"))

	nodes, err := buildNodes(gen, sks, net, c.Uint64("balance"))
	if err != nil {
		return err
	}

	if base := c.Int("status-port"); base > 0 {
		for i, n := range nodes {
			srv := consensus.NewStatusServer(n.chain)
			addr := fmt.Sprintf(":%d", base+i)
			go func() {
				err := srv.Start(addr)
				if err != nil {
					log.Error("status server", "addr", addr, "err", err)
				}
			}()
		}
	}

	slots := c.Uint64("slots")
	slotDur := gen.Config().SlotDuration
	nonces := make([]uint64, len(nodes))

	log.Info("simulation starting", "nodes", len(nodes), "slots", slots, "slot duration", slotDur)
	for slot := uint64(1); slot <= slots; slot++ {
		injectTxns(nodes, nonces, 1)

		for _, n := range nodes {
			n := n
			go func() {
				_, err := n.node.Propose(slot)
				if err != nil {
					log.Warn("propose failed", "slot", slot, "err", err)
				}
			}()
		}
		time.Sleep(slotDur / 2)

		for _, n := range nodes {
			n := n
			go func() {
				_, err := n.node.Attest(slot)
				if err != nil {
					log.Warn("attest failed", "slot", slot, "err", err)
				}
			}()
		}
		time.Sleep(slotDur - slotDur/2)
	}

	// Let in-flight messages drain before judging convergence.
	time.Sleep(3 * maxDelay)

	if !report(nodes) {
		return fmt.Errorf("nodes did not converge after %d slots", slots)
	}
	log.Info("simulation converged", "slots", slots)
	return nil
}

func main() {
	err := bls.Init(int(bls.CurveFp254BNb))
	if err != nil {
		panic(err)
	}

	app := cli.NewApp()
	app.Name = "sim"
	app.Usage = "run a multi-node proof-of-stake consensus simulation"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "dir", Usage: "directory with genesis.yaml and node credentials (empty: derive from seed)"},
		cli.IntFlag{Name: "N", Value: 8, Usage: "number of validators when deriving from seed"},
		cli.StringFlag{Name: "seed", Value: "simulator-genesis", Usage: "derivation seed when no genesis directory is given"},
		cli.Uint64Flag{Name: "stake", Value: 32, Usage: "stake per validator when deriving from seed"},
		cli.Uint64Flag{Name: "slots-per-epoch", Value: 8, Usage: "slots per epoch when deriving from seed"},
		cli.Uint64Flag{Name: "slot-duration-ms", Value: 200, Usage: "slot duration in milliseconds"},
		cli.Uint64Flag{Name: "slots", Value: 64, Usage: "number of slots to run"},
		cli.Uint64Flag{Name: "balance", Value: 1000, Usage: "initial account balance per validator"},
		cli.Int64Flag{Name: "min-delay-ms", Value: 5, Usage: "minimum network delay"},
		cli.Int64Flag{Name: "max-delay-ms", Value: 50, Usage: "maximum network delay"},
		cli.Int64Flag{Name: "net-seed", Value: 1, Usage: "network delay randomness seed"},
		cli.IntFlag{Name: "status-port", Usage: "base port for the per-node status API (0: off)"},
	}
	app.Action = run

	err = app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
