// Command bitswapd runs a standalone block-exchange daemon: it joins a
// libp2p swarm and serves whatever is in its blockstore to any connected
// peer that wants it, until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	libp2p_crypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/urfave/cli/v2"

	bitswap "github.com/meshgrid/bitswap"
	"github.com/meshgrid/bitswap/blockstore"
	"github.com/meshgrid/bitswap/internal/config"
	"github.com/meshgrid/bitswap/network"
	"github.com/meshgrid/bitswap/wantmanager"
)

var log = logging.Logger("bitswapd")

func main() {
	app := &cli.App{
		Name:  "bitswapd",
		Usage: "run a standalone content-addressed block exchange node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "bitswapd.toml",
				Usage: "path to the node's TOML config file",
			},
		},
		Commands: []*cli.Command{
			startCommand,
			statCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var startCommand = &cli.Command{
	Name:  "start",
	Usage: "start the exchange daemon and block until interrupted",
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		node, err := startNode(ctx, c.String("config"))
		if err != nil {
			return err
		}
		defer node.bitswap.Close()
		defer node.host.Close()

		log.Infof("bitswapd listening as %s on %v", node.host.ID(), node.host.Addrs())

		<-ctx.Done()
		return nil
	},
}

var statCommand = &cli.Command{
	Name:  "stat",
	Usage: "start a node, wait briefly for it to settle, and print its in-process stat",
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		node, err := startNode(ctx, c.String("config"))
		if err != nil {
			return err
		}
		defer node.bitswap.Close()
		defer node.host.Close()

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}

		stat := node.bitswap.Stat()
		fmt.Printf("peer:     %s\n", node.host.ID())
		fmt.Printf("peers:    %d\n", len(stat.Peers))
		fmt.Printf("wantlist: %d\n", len(stat.Wantlist))
		fmt.Printf("received: %d blocks (%d dup), %d bytes (%d dup)\n",
			stat.BlocksReceived, stat.DupBlocksReceived, stat.DataReceived, stat.DupDataReceived)
		fmt.Printf("sent:     %d blocks\n", stat.BlocksSent)
		return nil
	},
}

// node bundles a running libp2p host with the exchange wired on top of
// it, the shared construction startCommand and statCommand both need.
type node struct {
	host    host.Host
	bitswap *bitswap.Bitswap
}

func startNode(ctx context.Context, configPath string) (*node, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if lvl, err := logging.LevelFromString(cfg.Log.Level); err == nil {
		logging.SetAllLoggers(lvl)
	}

	if cfg.Bitswap.RebroadcastInterval > 0 {
		wantmanager.RebroadcastInterval = cfg.Bitswap.RebroadcastInterval
	}

	priv, _, err := libp2p_crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generating node identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.Swarm.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("starting libp2p host: %w", err)
	}

	net := network.NewFromHost(h)
	bstore := blockstore.NewMapBlockstore()

	if cfg.Bitswap.TaskWorkerCount > 0 {
		os.Setenv("BITSWAP_TASK_WORKERS", fmt.Sprint(cfg.Bitswap.TaskWorkerCount))
	}

	bs := bitswap.New(ctx, h.ID(), net, bstore)
	return &node{host: h, bitswap: bs}, nil
}
