package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dfinity/go-dfinity-crypto/bls"
	"github.com/urfave/cli"

	"github.com/0xmrree/ethereum-simulator-sub000/pkg/consensus"
)

func genGenesis(c *cli.Context) error {
	num := c.Int("N")
	seed := c.String("seed")
	stake := c.Uint64("stake")
	dir := c.String("dir")

	err := os.MkdirAll(dir, os.ModePerm)
	if err != nil {
		return err
	}

	rand := consensus.Rand(consensus.SHA3([]byte(seed)))
	gen := &consensus.GenesisConfig{
		Seed:              seed,
		Time:              uint64(c.Int64("time")),
		SlotsPerEpoch:     c.Uint64("slots-per-epoch"),
		SlotDurationMS:    c.Uint64("slot-duration-ms"),
		MaxEffectiveStake: c.Uint64("max-effective-stake"),
	}

	for i := 0; i < num; i++ {
		sk := rand.SK()
		rand = rand.Derive(rand[:])

		pk, err := sk.PK()
		if err != nil {
			return err
		}

		gen.Validators = append(gen.Validators, consensus.GenesisValidator{
			PK:    hex.EncodeToString(pk),
			Stake: stake,
		})

		cred := consensus.NodeCredentials{SK: sk}
		err = cred.Save(filepath.Join(dir, fmt.Sprintf("node-%d", i)))
		if err != nil {
			return err
		}
	}

	return gen.Save(filepath.Join(dir, "genesis.yaml"))
}

func main() {
	err := bls.Init(int(bls.CurveFp254BNb))
	if err != nil {
		panic(err)
	}

	app := cli.NewApp()
	app.Name = "gen_genesis"
	app.Usage = "generate the genesis file and the node credential files"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "N", Value: 16, Usage: "number of validators"},
		cli.StringFlag{Name: "seed", Value: "simulator-genesis", Usage: "seed for key derivation and the epoch -1 mix"},
		cli.Uint64Flag{Name: "stake", Value: 32, Usage: "stake per validator"},
		cli.Uint64Flag{Name: "slots-per-epoch", Value: 8, Usage: "slots per epoch"},
		cli.Uint64Flag{Name: "slot-duration-ms", Value: 200, Usage: "slot duration in milliseconds"},
		cli.Uint64Flag{Name: "max-effective-stake", Value: 32, Usage: "effective stake cap for proposer sampling"},
		cli.Int64Flag{Name: "time", Value: 0, Usage: "genesis block timestamp, unix seconds"},
		cli.StringFlag{Name: "dir", Value: "./genesis", Usage: "output directory"},
	}
	app.Action = genGenesis

	err = app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
