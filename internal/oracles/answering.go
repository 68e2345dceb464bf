package oracles

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kpioracles/oracle-answerer/internal/database"
	"github.com/kpioracles/oracle-answerer/internal/defillama"
	"github.com/kpioracles/oracle-answerer/internal/metrics"
	"github.com/kpioracles/oracle-answerer/internal/specification"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type ActiveOracleStore interface {
	ListActiveOracles(ctx context.Context, chainID uint64) ([]database.ActiveOracle, error)
	DeleteActiveOracle(ctx context.Context, chainID uint64, address string) error
}

type OracleFinalizer interface {
	Finalized(ctx context.Context, oracle common.Address) (bool, error)
	Finalize(ctx context.Context, oracle common.Address, result *big.Int) error
}

type TVLSource interface {
	TVLAt(ctx context.Context, protocol string, at time.Time) (*big.Int, error)
}

// Sweeper answers the active oracles of one chain whose measurement time has
// passed. Answers are submitted one at a time since they share a signer.
// Each answer is bounded by answerTimeout, an oracle whose transaction is not
// mined in time stays pending and is checked again on the next block.
type Sweeper struct {
	chainID       uint64
	store         ActiveOracleStore
	finalizer     OracleFinalizer
	tvl           TVLSource
	answerTimeout time.Duration
	log           *zap.SugaredLogger
}

func NewSweeper(
	chainID uint64,
	store ActiveOracleStore,
	finalizer OracleFinalizer,
	tvl TVLSource,
	answerTimeout time.Duration,
	log *zap.SugaredLogger,
) *Sweeper {
	return &Sweeper{
		chainID:       chainID,
		store:         store,
		finalizer:     finalizer,
		tvl:           tvl,
		answerTimeout: answerTimeout,
		log:           log,
	}
}

// Sweep evaluates every active oracle against a block mined at blockTime and
// returns how many were removed. Only a failure to list oracles is returned,
// oracles that could not be answered stay pending for the next block.
func (s *Sweeper) Sweep(ctx context.Context, blockTime time.Time) (int, error) {
	label := strconv.FormatUint(s.chainID, 10)
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	active, err := s.store.ListActiveOracles(ctx, s.chainID)
	if err != nil {
		return 0, errors.Wrap(err, "could not list active oracles")
	}
	metrics.ActiveOracles.WithLabelValues(label).Set(float64(len(active)))

	removed := 0
	for i := range active {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		oracle := &active[i]
		if oracle.MeasurementTimestamp.After(blockTime) {
			continue
		}

		done, err := s.answer(ctx, oracle)
		if err != nil {
			s.log.Errorf("could not answer oracle %s: %v", oracle.Address, err)
			metrics.AnswerErrors.WithLabelValues(label).Inc()
			continue
		}
		if !done {
			continue
		}

		if err := s.store.DeleteActiveOracle(ctx, s.chainID, oracle.Address); err != nil {
			s.log.Errorf("oracle %s answered but could not be removed: %v", oracle.Address, err)
			continue
		}
		removed++
	}

	return removed, nil
}

// answer reports whether the oracle is resolved on chain after the call.
func (s *Sweeper) answer(ctx context.Context, oracle *database.ActiveOracle) (bool, error) {
	if s.answerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.answerTimeout)
		defer cancel()
	}

	address := common.HexToAddress(oracle.Address)

	finalized, err := s.finalizer.Finalized(ctx, address)
	if err != nil {
		return false, err
	}
	if finalized {
		s.log.Infof("oracle %s was finalized externally, removing it", oracle.Address)
		return true, nil
	}

	result, err := s.measure(ctx, &oracle.Specification, oracle.MeasurementTimestamp)
	if errors.Is(err, defillama.ErrDataUnavailable) {
		s.log.Debugf("measurement data for oracle %s not yet available", oracle.Address)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.finalizer.Finalize(ctx, address, result); err != nil {
		return false, err
	}

	metrics.OraclesAnswered.WithLabelValues(strconv.FormatUint(s.chainID, 10)).Inc()
	s.log.Infof("oracle %s answered with %s", oracle.Address, result)

	return true, nil
}

func (s *Sweeper) measure(ctx context.Context, spec *specification.Specification, at time.Time) (*big.Int, error) {
	switch spec.Metric {
	case specification.MetricTVL:
		return s.tvl.TVLAt(ctx, spec.Payload.Protocol, at)
	default:
		return nil, errors.Errorf("unsupported metric %q", spec.Metric)
	}
}
