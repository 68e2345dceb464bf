package app

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/kpioracles/oracle-answerer/internal/api"
	"github.com/kpioracles/oracle-answerer/internal/config"
	"github.com/kpioracles/oracle-answerer/internal/contracts"
	"github.com/kpioracles/oracle-answerer/internal/database"
	"github.com/kpioracles/oracle-answerer/internal/defillama"
	"github.com/kpioracles/oracle-answerer/internal/ipfs"
	"github.com/kpioracles/oracle-answerer/internal/oracles"
	"github.com/kpioracles/oracle-answerer/internal/retry"
	"github.com/kpioracles/oracle-answerer/internal/scanner"
	"github.com/kpioracles/oracle-answerer/internal/specification"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Task is a top-level unit supervised for the whole process lifetime.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervise runs all tasks until the first one exits. Any exit is fatal,
// even one without an error: the remaining tasks are cancelled and the
// first exit is returned.
func Supervise(ctx context.Context, tasks []Task) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		g.Go(func() error {
			err := task.Run(ctx)
			if err == nil {
				return errors.Errorf("%s exited", task.Name)
			}

			return errors.Wrapf(err, "%s exited", task.Name)
		})
	}

	return g.Wait()
}

// shared holds the capabilities every chain uses. All of them are safe for
// concurrent use.
type shared struct {
	db        *database.DB
	fetcher   oracles.SpecificationFetcher
	pinner    oracles.Pinner
	validator oracles.SpecificationValidator
	tvl       oracles.TVLSource
}

func scanPolicy(cfg *config.TimeoutConfig) retry.Policy {
	return retry.Policy{
		MaxElapsedTime: time.Duration(cfg.BackoffMaxElapsedTimeSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.RequestTimeoutMillis) * time.Millisecond,
	}
}

func requestPolicy(cfg *config.TimeoutConfig) retry.Policy {
	p := scanPolicy(cfg)
	p.MaxAttempts = cfg.MaxAttempts

	return p
}

func newPinner(cfg *config.Config, client *ipfs.Client, policy retry.Policy) oracles.Pinner {
	if cfg.Web3Storage.APIKey == "" {
		logger.Warn("no web3.storage api key configured, specifications will not be pinned")
		return nil
	}

	return ipfs.NewPinner(client, cfg.Web3Storage.Endpoint, cfg.Web3Storage.APIKey, policy)
}

// Run connects every configured chain and blocks until one of the chains or
// the API server stops.
func Run(ctx context.Context, cfg *config.Config) error {
	db, err := database.New(&cfg.DB)
	if err != nil {
		return errors.Wrap(err, "could not connect to the DB")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warnf("could not close DB: %v", err)
		}
	}()

	policy := requestPolicy(&cfg.Timeout)
	ipfsClient := ipfs.NewClient(cfg.IPFS.APIEndpoint, policy)
	llama := defillama.NewClient(
		cfg.DefiLlama.Endpoint,
		cfg.DefiLlama.RequestsPerSecond,
		time.Duration(cfg.Timeout.RequestTimeoutMillis)*time.Millisecond,
	)

	deps := &shared{
		db:        db,
		fetcher:   ipfsClient,
		pinner:    newPinner(cfg, ipfsClient, policy),
		validator: specification.NewValidator(llama),
		tvl:       llama,
	}

	ids := make([]string, 0, len(cfg.Chains))
	for id := range cfg.Chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var tasks []Task
	var chainIDs []uint64
	for _, id := range ids {
		task, chainID, err := newChainTask(ctx, cfg, id, deps)
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
		chainIDs = append(chainIDs, chainID)
	}

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	router := api.NewRouter(db, chainIDs)
	tasks = append(tasks, Task{
		Name: "api server",
		Run:  func(ctx context.Context) error { return api.Serve(ctx, addr, router) },
	})

	return Supervise(ctx, tasks)
}

func newChainTask(ctx context.Context, cfg *config.Config, id string, deps *shared) (Task, uint64, error) {
	chainCfg := cfg.Chains[id]

	chainID, err := config.ParseChainID(id)
	if err != nil {
		return Task{}, 0, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(chainCfg.AnswererPrivateKey, "0x"))
	if err != nil {
		return Task{}, 0, errors.Errorf("chain %d: invalid answerer private key", chainID)
	}

	client, err := ethclient.DialContext(ctx, chainCfg.RPCEndpoint)
	if err != nil {
		return Task{}, 0, errors.Wrapf(err, "chain %d: could not dial rpc", chainID)
	}

	log := logger.GetLogger().With("chain_id", chainID)
	log.Infof("answering oracles of template %d as %s", chainCfg.TemplateID, crypto.PubkeyToAddress(key.PublicKey))

	reader := contracts.NewReader(client, common.HexToAddress(chainCfg.MulticallAddress))
	finalizer := contracts.NewFinalizer(client, key, chainID)

	dispatcher := oracles.NewDispatcher(
		chainID,
		oracles.NewExtractor(chainCfg.TemplateID, reader, log),
		oracles.NewAcknowledger(chainID, deps.fetcher, deps.validator, deps.db, deps.pinner, cfg.Acknowledge.MaxConcurrency, log),
		oracles.NewSweeper(chainID, deps.db, finalizer, deps.tvl, time.Duration(chainCfg.AnswerTimeoutSeconds)*time.Second, log),
		deps.db,
		log,
	)

	s := scanner.New(scanner.Config{
		ChainID:       chainID,
		Factory:       common.HexToAddress(chainCfg.Factory.Address),
		StartBlock:    chainCfg.Factory.DeploymentBlock,
		MaxBlockRange: chainCfg.LogsBlocksRange,
		PollInterval:  time.Duration(chainCfg.PollIntervalMillis) * time.Millisecond,
		Policy:        scanPolicy(&cfg.Timeout),
	}, client, deps.db, log)

	return Task{
		Name: "chain " + id,
		Run: func(ctx context.Context) error {
			defer client.Close()
			return s.Run(ctx, dispatcher)
		},
	}, chainID, nil
}
