// Package main is the operator CLI for the failure queue.
//
//	replay key --key notfound/{id}.json
//	replay pending
//	replay partition --state error
//	replay public --token-id {id}
//	replay purge --state done [--origin public]
//	replay metadata-check --tokens tokens.json
//	replay tx --hash {tx_hash}
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/app"
	"xrpl-nft-archiver/internal/config"
	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/retry"
)

const usage = `usage: replay <mode> [flags]

modes:
  key             replay one failure record (--key)
  pending         replay every notfound/ record
  partition       replay every record of a partition (--state notfound|error)
  public          archive a token through the lookup API (--token-id)
  purge           delete every record of a partition (--state, --origin)
  metadata-check  enqueue tracked tokens with no archived metadata (--tokens)
  tx              run a mint transaction by hash (--hash)
`

func main() {
	flags := pflag.NewFlagSet("replay", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", os.Getenv("ARCHIVER_CONFIG"), "Path to YAML config")
	envFile := flags.String("env-file", ".env", "Path to .env file")
	key := flags.String("key", "", "Failure record key")
	tokenID := flags.String("token-id", "", "Token id for public replay")
	state := flags.String("state", string(domain.StateFailed), "Partition state: notfound, done or error")
	origin := flags.String("origin", string(domain.OriginPipeline), "Partition origin: pipeline or public")
	tokensPath := flags.String("tokens", "", "Tracked token list (JSON array of {nft_token_id, uri, issuer})")
	txHash := flags.String("hash", "", "Transaction hash")
	chunkSize := flags.Int("chunk-size", 0, "Concurrent replays per chunk (overrides config)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nflags:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		os.Exit(2)
	}
	mode := os.Args[1]
	flags.Parse(os.Args[2:])

	if err := config.LoadEnvFile(*envFile); err != nil {
		fail(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}
	if *chunkSize > 0 {
		cfg.Retry.ChunkSize = *chunkSize
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fail(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fail(err)
	}

	out, err := dispatch(ctx, a, mode, options{
		key:        *key,
		tokenID:    *tokenID,
		state:      domain.FailureState(*state),
		origin:     domain.ReplayOrigin(*origin),
		tokensPath: *tokensPath,
		txHash:     *txHash,
	})
	a.Close()
	if err != nil {
		logger.Error("replay failed", zap.String("mode", mode), zap.Error(err))
		fail(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

type options struct {
	key        string
	tokenID    string
	state      domain.FailureState
	origin     domain.ReplayOrigin
	tokensPath string
	txHash     string
}

func dispatch(ctx context.Context, a *app.App, mode string, opts options) (any, error) {
	c := a.Coordinator

	switch mode {
	case "key":
		if opts.key == "" {
			return nil, fmt.Errorf("--key is required")
		}
		return c.Replay(ctx, opts.key)

	case "pending":
		return c.ReplayPending(ctx)

	case "partition":
		return c.ReplayPartition(ctx, opts.state)

	case "public":
		if opts.tokenID == "" {
			return nil, fmt.Errorf("--token-id is required")
		}
		return c.ReplayPublic(ctx, opts.tokenID)

	case "purge":
		if !opts.state.Valid() {
			return nil, fmt.Errorf("unknown state %q", opts.state)
		}
		n, err := c.Purge(ctx, opts.origin, opts.state)
		return map[string]any{"partition": retry.Prefix(opts.origin, opts.state), "deleted": n}, err

	case "metadata-check":
		if opts.tokensPath == "" {
			return nil, fmt.Errorf("--tokens is required")
		}
		f, err := os.Open(opts.tokensPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		tokens, err := retry.LoadTrackedTokens(f)
		if err != nil {
			return nil, err
		}
		return c.EnqueueMissing(ctx, tokens)

	case "tx":
		if opts.txHash == "" {
			return nil, fmt.Errorf("--hash is required")
		}
		ev, err := a.RPC.Tx(ctx, opts.txHash)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, fmt.Errorf("transaction %s not found", opts.txHash)
		}
		res, err := c.HandleMint(ctx, ev)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"run_id":   res.RunID,
			"token_id": res.TokenID(),
			"pointer":  res.Pointer(),
			"outcome":  res.Outcome,
		}, nil
	}
	return nil, fmt.Errorf("unknown mode %q\n\n%s", mode, usage)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "replay: %v\n", err)
	os.Exit(1)
}
