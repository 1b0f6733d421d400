package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	custodian "github.com/fundrail/custodian"
	"github.com/fundrail/custodian/api"
	"github.com/fundrail/custodian/core"
	"github.com/fundrail/custodian/evm"
	"github.com/fundrail/custodian/repo"
)

const signerKeyEnvVar = "CUSTODIAN_KEY"

func start(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(filepath.Join(r.Config.RepoRoot, repo.LogsDirName)),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return fmt.Errorf("log initialize: %w", err)
	}

	printVersion()

	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	db, err := leveldb.New(filepath.Join(r.Config.RepoRoot, "leveldb"))
	if err != nil {
		return err
	}

	cfg, err := campaignConfig(r.Config)
	if err != nil {
		return err
	}

	deps := core.Deps{Logger: logger, DB: db}
	if r.Config.MockBackend {
		mockBackend(r.Config, &cfg, &deps)
		logger.Info("running against in-memory mock backend")
	} else {
		if err := chainBackend(ctx.Context, r.Config, &cfg, &deps); err != nil {
			return err
		}
	}

	campaign, resumed, err := core.LoadCampaign(cfg, deps)
	if err != nil {
		return err
	}
	if !resumed {
		campaign, err = core.NewCampaign(ctx.Context, cfg, deps)
		if err != nil {
			return fmt.Errorf("new campaign error: %w", err)
		}
	}

	srv := api.NewServer(r.Config.APIAddr, api.NewHandler(campaign, logger))

	var wg sync.WaitGroup
	wg.Add(1)
	handleShutdown(srv, &wg)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("api server: %s", err)
		}
	}()

	fmt.Println("=============Custodian is ready=============")

	wg.Wait()

	return nil
}

func campaignConfig(c *repo.Config) (core.Config, error) {
	cfg := core.Config{
		FeeBps:           c.Campaign.FeeBps,
		InitialPayoutBps: c.Campaign.InitialPayoutBps,
		VoteThresholdBps: c.Campaign.VoteThresholdBps,
		StreamDuration:   time.Duration(c.Campaign.StreamDurationDays) * 24 * time.Hour,
	}

	switch c.Campaign.Strategy {
	case "", "immediate":
		cfg.Strategy = core.Immediate
	case "streaming":
		cfg.Strategy = core.Streaming
	default:
		return cfg, errors.Errorf("unknown strategy %q", c.Campaign.Strategy)
	}

	for name, field := range map[string]struct {
		src string
		dst *common.Address
	}{
		"owner":           {c.Campaign.Owner, &cfg.Owner},
		"platform_wallet": {c.Campaign.PlatformWallet, &cfg.PlatformWallet},
		"donation_token":  {c.Campaign.DonationToken, &cfg.DonationToken},
		"custody":         {c.Campaign.Custody, &cfg.Custody},
	} {
		if field.src == "" {
			continue
		}
		if !common.IsHexAddress(field.src) {
			return cfg, errors.Errorf("campaign.%s: %q is not a hex address", name, field.src)
		}
		*field.dst = common.HexToAddress(field.src)
	}

	for _, rec := range c.Campaign.Recipients {
		cfg.Recipients = append(cfg.Recipients, core.RecipientShare{ID: rec.ID, ShareBps: rec.ShareBps})
	}
	return cfg, nil
}

// mockBackend wires the in-memory collaborators for local runs: every
// configured recipient resolves to a derived address, and the faucet
// ledger funds donors on demand.
func mockBackend(c *repo.Config, cfg *core.Config, deps *core.Deps) {
	if cfg.Custody == (common.Address{}) {
		cfg.Custody = derivedAddress("custody")
	}
	ledger := core.NewMockLedger(cfg.Custody)
	ledger.Faucet = true

	directory := core.NewMockDirectory()
	for _, rec := range c.Campaign.Recipients {
		directory.Register(rec.ID, derivedAddress("recipient:"+rec.ID), true)
	}

	deps.Ledger = ledger
	deps.Directory = directory
	deps.Streams = core.NewMockStreamHub(ledger, derivedAddress("streamhub"))
}

func derivedAddress(seed string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(seed))[12:])
}

// chainBackend dials the chain endpoint and binds the on-chain
// collaborators. The custody signer key comes from the environment, never
// from the config file.
func chainBackend(ctx context.Context, c *repo.Config, cfg *core.Config, deps *core.Deps) error {
	keyHex := os.Getenv(signerKeyEnvVar)
	if keyHex == "" {
		return errors.Errorf("%s is not set", signerKeyEnvVar)
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return errors.Wrap(err, "parse signer key")
	}

	var client *ethclient.Client
	dial := func(attempt uint) error {
		client, err = ethclient.DialContext(ctx, c.DialUrl)
		return err
	}
	if err := retry.Retry(dial, strategy.Limit(5), strategy.Backoff(backoff.Fibonacci(5*time.Second))); err != nil {
		return errors.Wrapf(err, "dial %s", c.DialUrl)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "query chain id")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return errors.Wrap(err, "build transactor")
	}

	// custody is whatever account the signer controls
	cfg.Custody = opts.From

	if !common.IsHexAddress(c.Contracts.Directory) {
		return errors.Errorf("contracts.directory: %q is not a hex address", c.Contracts.Directory)
	}

	deps.Ledger = evm.NewLedger(client, opts)
	deps.Directory = evm.NewDirectory(client, common.HexToAddress(c.Contracts.Directory))
	if cfg.Strategy == core.Streaming {
		if !common.IsHexAddress(c.Contracts.StreamHub) {
			return errors.Errorf("contracts.stream_hub: %q is not a hex address", c.Contracts.StreamHub)
		}
		deps.Streams = evm.NewStreamHub(client, opts, common.HexToAddress(c.Contracts.StreamHub))
	}
	return nil
}

func printVersion() {
	fmt.Printf("Custodian version: %s-%s-%s\n", custodian.CurrentVersion, custodian.CurrentBranch, custodian.CurrentCommit)
	fmt.Printf("App build date: %s\n", custodian.BuildDate)
	fmt.Printf("System version: %s\n", custodian.Platform)
	fmt.Printf("Golang version: %s\n", custodian.GoVersion)
	fmt.Println()
}

func handleShutdown(srv *http.Server, wg *sync.WaitGroup) {
	var stop = make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM)
	signal.Notify(stop, syscall.SIGINT)

	go func() {
		<-stop
		fmt.Println("received interrupt signal, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Println("api server shutdown:", err)
		}
		wg.Done()
		os.Exit(0)
	}()
}
