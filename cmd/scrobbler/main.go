package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/engine"
	"github.com/echofm-labs/scrobble-engine-go/pkg/journal"
	badgerjournal "github.com/echofm-labs/scrobble-engine-go/pkg/journal/badger"
	memoryjournal "github.com/echofm-labs/scrobble-engine-go/pkg/journal/memory"
	redisjournal "github.com/echofm-labs/scrobble-engine-go/pkg/journal/redis"
	"github.com/echofm-labs/scrobble-engine-go/pkg/logger"
	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey/sessionKeySigner"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "scrobbler",
		Usage: "Submit sponsored scrobble transactions to the on-chain registry",
		Description: `Records music play events on-chain through a sponsor relay.

Submission is relay-sponsored by default and falls back to self-paid
when the relay declines. Session calls use expiring nonces, so a
submission that misses its validity window dies cleanly instead of
blocking later ones.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "chain-id",
				Aliases:  []string{"chain"},
				Usage:    fmt.Sprintf("Chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars:  []string{config.EnvScrobbleChainID},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Chain RPC endpoint URL",
				Value:   "http://localhost:8545",
				EnvVars: []string{config.EnvScrobbleRPCURL},
			},
			&cli.StringFlag{
				Name:     "relay-url",
				Usage:    "Sponsor relay endpoint URL",
				EnvVars:  []string{config.EnvScrobbleRelayURL},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "relay-secret",
				Usage:   "Shared secret for relay request authentication (optional)",
				EnvVars: []string{config.EnvScrobbleRelaySecret},
			},
			&cli.StringFlag{
				Name:    "registry-address",
				Usage:   "Scrobble registry contract address (defaults to the chain's known deployment)",
				EnvVars: []string{config.EnvScrobbleRegistryAddr},
			},
			&cli.StringFlag{
				Name:     "session-key",
				Usage:    "Session private key (hex) used to sign session calls",
				EnvVars:  []string{config.EnvScrobbleSessionKey},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "journal-type",
				Usage:   "Submission journal backend: memory, badger, or redis",
				Value:   "memory",
				EnvVars: []string{config.EnvScrobbleJournalType},
			},
			&cli.StringFlag{
				Name:    "journal-path",
				Usage:   "Data directory for the badger journal backend",
				Value:   "./scrobble-journal",
				EnvVars: []string{config.EnvScrobbleJournalPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port) for the redis journal backend",
				EnvVars: []string{config.EnvScrobbleRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password for the redis journal backend",
				EnvVars: []string{config.EnvScrobbleRedisPassword},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvScrobbleVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Record one play event on-chain",
				Flags: scrobbleFlags(),
				Action: func(c *cli.Context) error {
					return withEngine(c, func(c *cli.Context, e *engine.Engine, l *zap.Logger) error {
						result, err := e.SubmitScrobble(c.Context, scrobbleFromFlags(c))
						printResult(result)
						return err
					})
				},
			},
			{
				Name:      "batch",
				Usage:     "Record several play events from a JSON file in one session call",
				ArgsUsage: "<scrobbles.json>",
				Action: func(c *cli.Context) error {
					return withEngine(c, func(c *cli.Context, e *engine.Engine, l *zap.Logger) error {
						if c.NArg() != 1 {
							return fmt.Errorf("expected exactly one JSON file argument")
						}
						scrobbles, err := readScrobbleFile(c.Args().First())
						if err != nil {
							return err
						}
						result, err := e.SubmitScrobbleBatch(c.Context, scrobbles)
						printResult(result)
						return err
					})
				},
			},
			{
				Name:  "sync-cover",
				Usage: "Point a track's cover-art reference at a content ref",
				Flags: append(scrobbleFlags(), refFlag()),
				Action: func(c *cli.Context) error {
					return withEngine(c, func(c *cli.Context, e *engine.Engine, l *zap.Logger) error {
						resolved, result, err := e.SyncCoverArtRef(c.Context, scrobbleFromFlags(c), c.String("ref"))
						fmt.Printf("resolved ref: %s\n", resolved)
						printResult(result)
						return err
					})
				},
			},
			{
				Name:  "sync-lyrics",
				Usage: "Point a track's lyrics reference at a content ref",
				Flags: append(scrobbleFlags(), refFlag()),
				Action: func(c *cli.Context) error {
					return withEngine(c, func(c *cli.Context, e *engine.Engine, l *zap.Logger) error {
						resolved, result, err := e.SyncLyricsRef(c.Context, scrobbleFromFlags(c), c.String("ref"))
						fmt.Printf("resolved ref: %s\n", resolved)
						printResult(result)
						return err
					})
				},
			},
			{
				Name:  "check",
				Usage: "Check whether a track is already registered",
				Flags: scrobbleFlags(),
				Action: func(c *cli.Context) error {
					return withEngine(c, func(c *cli.Context, e *engine.Engine, l *zap.Logger) error {
						registered, err := e.IsTrackRegistered(c.Context, scrobbleFromFlags(c))
						if err != nil {
							return err
						}
						fmt.Printf("registered: %v\n", registered)
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func scrobbleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Usage: "Track title", Required: true},
		&cli.StringFlag{Name: "artist", Usage: "Track artist", Required: true},
		&cli.StringFlag{Name: "album", Usage: "Track album"},
		&cli.UintFlag{Name: "duration", Usage: "Track duration in seconds"},
		&cli.Uint64Flag{Name: "played-at", Usage: "Play timestamp (unix seconds, defaults to now)"},
	}
}

func refFlag() cli.Flag {
	return &cli.StringFlag{Name: "ref", Usage: "Content reference (e.g. an IPFS URI)", Required: true}
}

func scrobbleFromFlags(c *cli.Context) types.Scrobble {
	playedAt := c.Uint64("played-at")
	if playedAt == 0 {
		playedAt = uint64(time.Now().Unix())
	}
	return types.Scrobble{
		Title:       c.String("title"),
		Artist:      c.String("artist"),
		Album:       c.String("album"),
		DurationSec: uint32(c.Uint("duration")),
		PlayedAtSec: playedAt,
	}
}

func readScrobbleFile(path string) ([]types.Scrobble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var scrobbles []types.Scrobble
	if err := json.Unmarshal(data, &scrobbles); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return scrobbles, nil
}

func withEngine(c *cli.Context, fn func(*cli.Context, *engine.Engine, *zap.Logger) error) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := parseEngineConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	l.Sugar().Infow("Using chain",
		"name", config.ChainIdToName[cfg.ChainID],
		"chain_id", cfg.ChainID,
		"registry", cfg.RegistryAddress.Hex(),
	)

	signer, err := sessionKeySigner.NewSessionKeySigner(c.String("session-key"), l)
	if err != nil {
		return fmt.Errorf("invalid session key: %w", err)
	}

	jrnl, err := buildJournal(c, l)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { _ = jrnl.Close() }()

	eng, err := engine.NewEngine(c.Context, cfg, engine.SignerPolicy{Session: signer}, jrnl, l)
	if err != nil {
		return err
	}

	return fn(c, eng, l)
}

func parseEngineConfig(c *cli.Context) (*config.EngineConfig, error) {
	chainID := config.ChainId(c.Uint64("chain-id"))

	registry := common.HexToAddress(c.String("registry-address"))
	if c.String("registry-address") == "" {
		deployed, err := config.GetRegistryAddressForChainId(chainID)
		if err != nil {
			return nil, err
		}
		registry = deployed
	}

	cfg := &config.EngineConfig{
		ChainID:         chainID,
		RpcUrl:          c.String("rpc-url"),
		RegistryAddress: registry,
		Relay: config.RelayConfig{
			Url:        c.String("relay-url"),
			AuthSecret: c.String("relay-secret"),
		},
		Verbose: c.Bool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildJournal(c *cli.Context, l *zap.Logger) (journal.ISubmissionJournal, error) {
	switch c.String("journal-type") {
	case "memory":
		return memoryjournal.NewMemoryJournal(), nil
	case "badger":
		return badgerjournal.NewBadgerJournal(c.String("journal-path"), l)
	case "redis":
		return redisjournal.NewRedisJournal(&redisjournal.RedisConfig{
			Address:  c.String("redis-address"),
			Password: c.String("redis-password"),
		}, l)
	default:
		return nil, fmt.Errorf("unknown journal type: %s", c.String("journal-type"))
	}
}

func printResult(result *types.SubmissionResult) {
	if result == nil {
		return
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
