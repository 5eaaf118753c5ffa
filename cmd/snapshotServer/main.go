package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	EVMChainPoller "github.com/Layr-Labs/chain-indexer/pkg/chainPollers/evm"
	chainPollerMemory "github.com/Layr-Labs/chain-indexer/pkg/chainPollers/persistence/memory"
	"github.com/Layr-Labs/chain-indexer/pkg/clients/ethereum"
	chainIndexerConfig "github.com/Layr-Labs/chain-indexer/pkg/config"
	"github.com/Layr-Labs/chain-indexer/pkg/contractStore/inMemoryContractStore"
	"github.com/Layr-Labs/chain-indexer/pkg/transactionLogParser"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/blockHandler"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/config"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/contractCaller/caller"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/logger"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/merkle"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	badgerPersistence "github.com/Layr-Labs/payout-snapshots-go/pkg/persistence/badger"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence/memory"
	redisPersistence "github.com/Layr-Labs/payout-snapshots-go/pkg/persistence/redis"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/server"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/snapshot"
)

func main() {
	app := &cli.App{
		Name:  "snapshot-server",
		Usage: "Payout snapshot server",
		Description: `Builds Merkle trees over token holder balances and serves proofs for them.

This server:
- Scans ERC20 Transfer logs to discover holders and reads their balances at a block
- Commits the balances to a Merkle tree whose root can be published on-chain
- Serves per-holder proofs and full trees for independent auditing`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvSnapshotPort},
			},
			&cli.Uint64Flag{
				Name:     "chain-id",
				Aliases:  []string{"chain"},
				Usage:    fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars:  []string{config.EnvSnapshotChainID},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL. Without it only snapshots from explicit balance lists can be built",
				EnvVars: []string{config.EnvSnapshotRPCURL},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Usage:   "Snapshot storage backend: memory, badger or redis",
				Value:   string(persistence.PersistenceTypeBadger),
				EnvVars: []string{config.EnvSnapshotPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				Value:   "./data/snapshots",
				EnvVars: []string{config.EnvSnapshotDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvSnapshotRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvSnapshotRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvSnapshotRedisDB},
			},
			&cli.StringFlag{
				Name:    "hash-function",
				Usage:   "Default tree hash function: KECCAK_256 or SHA3_256",
				Value:   config.DefaultHashFunction.String(),
				EnvVars: []string{config.EnvSnapshotHashFunction},
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often pending snapshots are processed",
				Value:   config.DefaultPollInterval,
				EnvVars: []string{config.EnvSnapshotPollInterval},
			},
			&cli.Uint64Flag{
				Name:    "start-block",
				Usage:   "First block scanned for Transfer logs",
				EnvVars: []string{config.EnvSnapshotStartBlock},
			},
			&cli.Uint64Flag{
				Name:    "log-block-span",
				Usage:   "Maximum block range of a single eth_getLogs query (0 uses the chain default)",
				EnvVars: []string{config.EnvSnapshotLogBlockSpan},
			},
			&cli.IntFlag{
				Name:    "tree-cache-size",
				Usage:   "Number of rebuilt trees kept in memory",
				Value:   config.DefaultTreeCacheSize,
				EnvVars: []string{config.EnvSnapshotTreeCacheSize},
			},
			&cli.Float64Flag{
				Name:    "read-rps",
				Usage:   "Read requests per second (0 disables the limit)",
				Value:   50,
				EnvVars: []string{config.EnvSnapshotReadRPS},
			},
			&cli.Float64Flag{
				Name:    "write-rps",
				Usage:   "Write requests per second (0 disables the limit)",
				Value:   5,
				EnvVars: []string{config.EnvSnapshotWriteRPS},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvSnapshotVerbose},
			},
		},
		Action: runSnapshotServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

// chainPoller is the part of the chain-indexer poller the server drives
type chainPoller interface {
	Start(ctx context.Context) error
}

func runSnapshotServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := parseSnapshotConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l.Sugar().Infow("Using chain", "name", cfg.ChainName, "chain_id", cfg.ChainID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newPersistence(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to create persistence: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close persistence", "error", err)
		}
	}()

	var (
		fetcher snapshot.BalanceFetcher
		bh      *blockHandler.BlockHandler
		poller  chainPoller
	)
	if cfg.RpcUrl != "" {
		ethClient := ethereum.NewEthereumClient(&ethereum.EthereumClientConfig{
			BaseUrl:   cfg.RpcUrl,
			BlockType: ethereum.BlockType_Latest,
		}, l)

		cc, err := caller.NewContractCallerFromEthereumClient(ctx, ethClient, &caller.ContractCallerConfig{
			ExpectedChainId: uint64(cfg.ChainID),
			LogBlockSpan:    cfg.LogBlockSpan,
		}, l)
		if err != nil {
			return fmt.Errorf("failed to create contract caller: %w", err)
		}

		bh = blockHandler.NewBlockHandler(l)

		// we're not going to parse logs, but these are required for the chain poller
		cs := inMemoryContractStore.NewInMemoryContractStore(nil, l)
		logParser := transactionLogParser.NewTransactionLogParser(cs, l)
		pollerStore := chainPollerMemory.NewInMemoryChainPollerPersistence()

		poller, err = EVMChainPoller.NewEVMChainPoller(
			ethClient,
			logParser,
			&EVMChainPoller.EVMChainPollerConfig{
				ChainId:         chainIndexerConfig.ChainId(cfg.ChainID),
				PollingInterval: cfg.PollInterval,
			},
			pollerStore, bh, l)
		if err != nil {
			return fmt.Errorf("failed to create EVM chain poller: %w", err)
		}

		chainFetcher := snapshot.NewChainBalanceFetcher(cc, cfg.StartBlock)
		chainFetcher.Heads = bh
		fetcher = chainFetcher
	} else {
		l.Sugar().Warn("No RPC URL configured, chain snapshots are disabled")
	}

	hashFn, err := merkle.HashFunctionFromName(cfg.HashFunction)
	if err != nil {
		return err
	}

	service, err := snapshot.NewService(&snapshot.ServiceConfig{
		ChainId:       uint64(cfg.ChainID),
		HashFunction:  hashFn,
		TreeCacheSize: cfg.TreeCacheSize,
	}, store, fetcher, l)
	if err != nil {
		return fmt.Errorf("failed to create snapshot service: %w", err)
	}

	if cfg.Verbose {
		l.Sugar().Infow("Snapshot Server Configuration",
			"port", cfg.Port,
			"chain", cfg.ChainName,
			"persistence", cfg.PersistenceType,
			"hash_function", cfg.HashFunction,
			"poll_interval", cfg.PollInterval.String(),
			"start_block", cfg.StartBlock,
			"log_block_span", cfg.LogBlockSpan,
			"read_rps", cfg.ReadRPS,
			"write_rps", cfg.WriteRPS,
		)
	}

	srv := server.NewServer(&server.Config{
		Port:     cfg.Port,
		ReadRPS:  cfg.ReadRPS,
		WriteRPS: cfg.WriteRPS,
	}, service, l)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if poller != nil {
		// every new head may complete snapshots that were waiting for their block
		go bh.ListenToChannel(ctx, func(block *ethereum.EthereumBlock) {
			service.Trigger()
		})
		if err := poller.Start(ctx); err != nil {
			return fmt.Errorf("failed to start chain poller: %w", err)
		}
	}

	l.Sugar().Infow("Snapshot Server running", "port", cfg.Port)
	l.Sugar().Infow("Available endpoints",
		"snapshots", "GET|POST /v1/snapshots",
		"balances", "POST /v1/snapshots/balances",
		"tree", "GET /v1/snapshots/{id}/tree",
		"proof", "GET /v1/snapshots/{id}/proof?address=",
		"verify", "POST /v1/verify")
	l.Sugar().Info("Press Ctrl+C to stop")

	if err := service.Run(ctx, cfg.PollInterval); err != nil {
		return err
	}

	l.Sugar().Info("Shutting down")
	return srv.Stop()
}

func parseSnapshotConfig(c *cli.Context) *config.SnapshotServerConfig {
	return &config.SnapshotServerConfig{
		Port:            c.Int("port"),
		ChainID:         config.ChainId(c.Uint64("chain-id")),
		RpcUrl:          c.String("rpc-url"),
		PersistenceType: persistence.PersistenceType(c.String("persistence-type")),
		DataPath:        c.String("data-path"),
		RedisAddress:    c.String("redis-address"),
		RedisPassword:   c.String("redis-password"),
		RedisDB:         c.Int("redis-db"),
		HashFunction:    c.String("hash-function"),
		PollInterval:    c.Duration("poll-interval"),
		StartBlock:      c.Uint64("start-block"),
		LogBlockSpan:    c.Uint64("log-block-span"),
		TreeCacheSize:   c.Int("tree-cache-size"),
		ReadRPS:         c.Float64("read-rps"),
		WriteRPS:        c.Float64("write-rps"),
		Debug:           c.Bool("verbose"),
		Verbose:         c.Bool("verbose"),
	}
}

func newPersistence(cfg *config.SnapshotServerConfig, l *zap.Logger) (persistence.ISnapshotPersistence, error) {
	switch cfg.PersistenceType {
	case persistence.PersistenceTypeMemory:
		return memory.NewMemoryPersistence(l), nil
	case persistence.PersistenceTypeBadger:
		return badgerPersistence.NewBadgerPersistence(cfg.DataPath, l)
	case persistence.PersistenceTypeRedis:
		return redisPersistence.NewRedisPersistence(&redisPersistence.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.PersistenceType)
	}
}
