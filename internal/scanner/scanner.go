package scanner

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kpioracles/oracle-answerer/internal/contracts"
	"github.com/kpioracles/oracle-answerer/internal/database"
	"github.com/kpioracles/oracle-answerer/internal/retry"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type ChainClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type CheckpointReader interface {
	GetCheckpoint(ctx context.Context, chainID uint64) (*database.Checkpoint, error)
}

type Config struct {
	ChainID       uint64
	Factory       common.Address
	StartBlock    uint64
	MaxBlockRange uint64
	PollInterval  time.Duration
	Policy        retry.Policy
}

// Scanner delivers the factory's token creation logs of one chain, first
// replaying history from the last checkpoint and then following the head.
type Scanner struct {
	cfg         Config
	client      ChainClient
	checkpoints CheckpointReader
	log         *zap.SugaredLogger
}

func New(cfg Config, client ChainClient, checkpoints CheckpointReader, log *zap.SugaredLogger) *Scanner {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 1000
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}

	return &Scanner{
		cfg:         cfg,
		client:      client,
		checkpoints: checkpoints,
		log:         log,
	}
}

// Run only returns on context cancellation or when the chain could not be
// reached within the retry policy.
func (s *Scanner) Run(ctx context.Context, listener Listener) error {
	start, err := s.resumeBlock(ctx)
	if err != nil {
		return err
	}

	head, err := s.head(ctx)
	if err != nil {
		return errors.Wrap(err, "fatal error in scanner")
	}

	s.log.Infof("scanning past blocks from %d to %d", start, head.Number.Uint64())

	next, err := s.scanPast(ctx, listener, start, head.Number.Uint64())
	if err != nil {
		return errors.Wrap(err, "fatal error in scanner")
	}

	return s.follow(ctx, listener, next)
}

func (s *Scanner) resumeBlock(ctx context.Context) (uint64, error) {
	checkpoint, err := s.checkpoints.GetCheckpoint(ctx, s.cfg.ChainID)
	if err != nil {
		if errors.Is(err, database.ErrNoCheckpoint) {
			return s.cfg.StartBlock, nil
		}

		return 0, err
	}

	if checkpoint.BlockNumber+1 < s.cfg.StartBlock {
		return s.cfg.StartBlock, nil
	}

	return checkpoint.BlockNumber + 1, nil
}

func (s *Scanner) scanPast(ctx context.Context, listener Listener, start, latest uint64) (uint64, error) {
	if start > latest {
		listener.OnUpdate(ctx, PastBatchCompleted{FromBlock: start - 1, ToBlock: start - 1, ProgressPercentage: 100})
		return start, nil
	}

	total := latest - start + 1
	for from := start; from <= latest; {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		to := min(from+s.cfg.MaxBlockRange-1, latest)
		if err := s.deliverLogs(ctx, listener, from, to); err != nil {
			return 0, err
		}

		progress := float32(100)
		if to < latest {
			progress = float32(to-start+1) / float32(total) * 100
		}
		listener.OnUpdate(ctx, PastBatchCompleted{FromBlock: from, ToBlock: to, ProgressPercentage: progress})

		from = to + 1
	}

	return latest + 1, nil
}

func (s *Scanner) follow(ctx context.Context, listener Listener, next uint64) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		head, err := s.head(ctx)
		if err != nil {
			return errors.Wrap(err, "fatal error in scanner")
		}

		number := head.Number.Uint64()
		if number < next {
			continue
		}

		for from := next; from <= number; {
			to := min(from+s.cfg.MaxBlockRange-1, number)
			if err := s.deliverLogs(ctx, listener, from, to); err != nil {
				return errors.Wrap(err, "fatal error in scanner")
			}
			from = to + 1
		}

		listener.OnUpdate(ctx, NewBlock{Number: number, Timestamp: time.Unix(int64(head.Time), 0).UTC()})
		next = number + 1
	}
}

func (s *Scanner) deliverLogs(ctx context.Context, listener Listener, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.cfg.Factory},
		Topics:    [][]common.Hash{{contracts.CreateTokenTopic()}},
	}

	logs, err := retry.Do(ctx, s.cfg.Policy, "FilterLogs", func(ctx context.Context) ([]types.Log, error) {
		return s.client.FilterLogs(ctx, query)
	})
	if err != nil {
		return err
	}

	for _, log := range logs {
		if log.Removed {
			continue
		}
		listener.OnUpdate(ctx, NewLog{Log: log})
	}

	return nil
}

func (s *Scanner) head(ctx context.Context) (*types.Header, error) {
	return retry.Do(ctx, s.cfg.Policy, "HeaderByNumber", func(ctx context.Context) (*types.Header, error) {
		return s.client.HeaderByNumber(ctx, nil)
	})
}
