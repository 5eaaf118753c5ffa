package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/clients/snapshotClient"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/config"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/logger"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/merkle"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/util"
)

func main() {
	app := &cli.App{
		Name:  "snapshot-client",
		Usage: "Client for the payout snapshot server",
		Description: `Creates snapshots and fetches proofs from a snapshot server.

Proofs and trees returned by the server are verified locally before they are
printed, so a misbehaving server cannot hand out a proof that does not match
the snapshot root.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Snapshot server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{config.EnvSnapshotServerURL},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall command timeout",
				Value: 5 * time.Minute,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Snapshot the holders of an ERC20 token at a block",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Snapshot name", Required: true},
					&cli.Uint64Flag{Name: "chain-id", Usage: "Chain ID of the asset", Required: true},
					&cli.StringFlag{Name: "asset", Usage: "ERC20 token address", Required: true},
					&cli.Uint64Flag{Name: "block", Usage: "Block number to snapshot", Required: true},
					&cli.StringSliceFlag{Name: "ignore", Usage: "Holder address to exclude (repeatable)"},
					&cli.StringFlag{Name: "hash-function", Usage: "Tree hash function, server default if empty"},
					&cli.BoolFlag{Name: "wait", Usage: "Wait until the snapshot is processed"},
				},
				Action: createSnapshotCommand,
			},
			{
				Name:  "create-from-balances",
				Usage: "Build a snapshot from a JSON file of {address, balance} entries",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Snapshot name", Required: true},
					&cli.Uint64Flag{Name: "chain-id", Usage: "Chain ID of the asset", Required: true},
					&cli.StringFlag{Name: "asset", Usage: "Asset address", Required: true},
					&cli.Uint64Flag{Name: "block", Usage: "Block number the balances refer to"},
					&cli.StringFlag{Name: "file", Usage: "Path to the balances JSON array", Required: true},
					&cli.StringFlag{Name: "hash-function", Usage: "Tree hash function, server default if empty"},
				},
				Action: createFromBalancesCommand,
			},
			{
				Name:   "list",
				Usage:  "List snapshots",
				Action: listCommand,
			},
			{
				Name:  "get",
				Usage: "Show a snapshot",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Snapshot ID", Required: true},
				},
				Action: getCommand,
			},
			{
				Name:  "delete",
				Usage: "Delete a snapshot",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Snapshot ID", Required: true},
				},
				Action: deleteCommand,
			},
			{
				Name:  "proof",
				Usage: "Fetch and verify the proof of a holder",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Snapshot ID", Required: true},
					&cli.StringFlag{Name: "address", Usage: "Holder address", Required: true},
					&cli.StringFlag{Name: "root", Usage: "Published root hash the proof must end at"},
				},
				Action: proofCommand,
			},
			{
				Name:  "tree",
				Usage: "Fetch and audit the full tree of a snapshot",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Snapshot ID", Required: true},
					&cli.BoolFlag{Name: "raw", Usage: "Print the tree JSON instead of the leaves"},
				},
				Action: treeCommand,
			},
			{
				Name:  "verify",
				Usage: "Verify a proof JSON file (as printed by the proof command) offline",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "Path to the proof JSON", Required: true},
					&cli.StringFlag{Name: "root", Usage: "Expected root hash, defaults to the one in the file"},
				},
				Action: verifyCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newClient(c *cli.Context) (*snapshotClient.Client, *zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	client, err := snapshotClient.NewClient(&snapshotClient.ClientConfig{
		BaseURL: c.String("server-url"),
		Logger:  l,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, l, nil
}

func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, c.Duration("timeout"))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createSnapshotCommand(c *cli.Context) error {
	client, l, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	id, err := client.CreateSnapshot(ctx, &types.CreateSnapshotRequest{
		Name:                   c.String("name"),
		ChainID:                c.Uint64("chain-id"),
		AssetAddress:           c.String("asset"),
		BlockNumber:            c.Uint64("block"),
		IgnoredHolderAddresses: c.StringSlice("ignore"),
		HashFunction:           c.String("hash-function"),
	})
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	l.Sugar().Infow("Snapshot submitted", "id", id)

	if !c.Bool("wait") {
		return printJSON(types.CreateSnapshotResponse{ID: id})
	}

	snapshot, err := client.WaitForSnapshot(ctx, id, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed waiting for snapshot: %w", err)
	}
	return printJSON(snapshot)
}

func createFromBalancesCommand(c *cli.Context) error {
	client, _, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read balances file: %w", err)
	}
	var balances []types.AccountBalanceJSON
	if err := json.Unmarshal(data, &balances); err != nil {
		return fmt.Errorf("failed to parse balances file: %w", err)
	}

	snapshot, err := client.CreateSnapshotFromBalances(ctx, &types.CreateSnapshotFromBalancesRequest{
		Name:         c.String("name"),
		ChainID:      c.Uint64("chain-id"),
		AssetAddress: c.String("asset"),
		BlockNumber:  c.Uint64("block"),
		HashFunction: c.String("hash-function"),
		Balances:     balances,
	})
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return printJSON(snapshot)
}

func listCommand(c *cli.Context) error {
	client, _, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	snapshots, err := client.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	return printJSON(snapshots)
}

func getCommand(c *cli.Context) error {
	client, _, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	snapshot, err := client.GetSnapshot(ctx, c.String("id"))
	if err != nil {
		return err
	}
	return printJSON(snapshot)
}

func deleteCommand(c *cli.Context) error {
	client, l, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	if err := client.DeleteSnapshot(ctx, c.String("id")); err != nil {
		return err
	}
	l.Sugar().Infow("Snapshot deleted", "id", c.String("id"))
	return nil
}

func proofCommand(c *cli.Context) error {
	client, l, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	address, err := util.ParseAddress(c.String("address"))
	if err != nil {
		return err
	}

	var proof *merkle.MerkleProof
	if root := c.String("root"); root != "" {
		expected, err := merkle.HashFromHex(root)
		if err != nil {
			return fmt.Errorf("invalid root: %w", err)
		}
		proof, err = client.GetProofForRoot(ctx, c.String("id"), address, expected)
		if err != nil {
			return err
		}
	} else {
		proof, err = client.GetProof(ctx, c.String("id"), address)
		if err != nil {
			return err
		}
	}
	l.Sugar().Infow("Proof verified", "address", address.Hex(), "root", proof.RootHash.Hex())
	return printJSON(merkle.ProofToResponse(c.String("id"), proof))
}

func treeCommand(c *cli.Context) error {
	client, l, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	view, balances, err := client.GetTree(ctx, c.String("id"))
	if err != nil {
		return err
	}
	l.Sugar().Infow("Tree audited", "root", view.Hash.Hex(), "depth", view.Depth, "leaves", len(balances))

	if c.Bool("raw") {
		return printJSON(view)
	}
	out := make([]*types.AccountBalanceJSON, len(balances))
	for i, b := range balances {
		out[i] = merkle.AccountBalanceToJSON(b)
	}
	return printJSON(out)
}

func verifyCommand(c *cli.Context) error {
	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read proof file: %w", err)
	}
	var resp types.ProofResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("failed to parse proof file: %w", err)
	}
	if root := c.String("root"); root != "" {
		resp.RootHash = root
	}

	proof, err := merkle.ProofFromResponse(&resp)
	if err != nil {
		return err
	}
	hashFn, err := merkle.HashFunctionFromName(resp.HashFunction)
	if err != nil {
		return err
	}

	valid := proof.Verify(hashFn)
	if err := printJSON(types.VerifyResponse{Valid: valid}); err != nil {
		return err
	}
	if !valid {
		return cli.Exit("proof is invalid", 1)
	}
	return nil
}
