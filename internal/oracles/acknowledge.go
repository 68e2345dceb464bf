package oracles

import (
	"context"
	"strconv"

	"github.com/kpioracles/oracle-answerer/internal/database"
	"github.com/kpioracles/oracle-answerer/internal/metrics"
	"github.com/kpioracles/oracle-answerer/internal/specification"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SpecificationFetcher interface {
	FetchSpecification(ctx context.Context, cid string) (*specification.Specification, error)
}

type SpecificationValidator interface {
	Validate(ctx context.Context, chainID uint64, spec *specification.Specification) bool
}

type Pinner interface {
	Pin(ctx context.Context, cid string) error
}

type ActiveOracleCreator interface {
	CreateActiveOracle(ctx context.Context, oracle *database.ActiveOracle) error
}

// Acknowledger validates candidates and records the valid ones as active
// oracles. Pinning is skipped when no pinner is configured.
type Acknowledger struct {
	chainID        uint64
	fetcher        SpecificationFetcher
	validator      SpecificationValidator
	store          ActiveOracleCreator
	pinner         Pinner
	maxConcurrency int
	log            *zap.SugaredLogger
}

func NewAcknowledger(
	chainID uint64,
	fetcher SpecificationFetcher,
	validator SpecificationValidator,
	store ActiveOracleCreator,
	pinner Pinner,
	maxConcurrency int,
	log *zap.SugaredLogger,
) *Acknowledger {
	return &Acknowledger{
		chainID:        chainID,
		fetcher:        fetcher,
		validator:      validator,
		store:          store,
		pinner:         pinner,
		maxConcurrency: maxConcurrency,
		log:            log,
	}
}

// AcknowledgeAll acknowledges every candidate concurrently and waits for all
// of them. Failures are logged per candidate and never returned. A candidate
// that is already active is not a failure.
func (a *Acknowledger) AcknowledgeAll(ctx context.Context, candidates []Candidate) {
	var g errgroup.Group
	if a.maxConcurrency > 0 {
		g.SetLimit(a.maxConcurrency)
	}

	for _, candidate := range candidates {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					a.log.Errorf("acknowledgement of oracle %s panicked: %v", candidate.Address, r)
					metrics.AcknowledgeErrors.WithLabelValues(a.label()).Inc()
				}
			}()

			err := a.Acknowledge(ctx, candidate)
			switch {
			case errors.Is(err, database.ErrDuplicateOracle):
				// Rescanned range.
				a.log.Infof("oracle %s is already active", candidate.Address)
				metrics.OraclesRejected.WithLabelValues(a.label(), "duplicate").Inc()
			case err != nil:
				a.log.Errorf("could not acknowledge oracle %s: %v", candidate.Address, err)
				metrics.AcknowledgeErrors.WithLabelValues(a.label()).Inc()
			}

			return nil
		})
	}

	_ = g.Wait()
}

// Acknowledge processes a single candidate. Fetch failures and invalid
// specifications drop the candidate without an error; store and pinning
// failures are returned.
func (a *Acknowledger) Acknowledge(ctx context.Context, candidate Candidate) error {
	log := a.log.With("oracle", candidate.Address.Hex())

	spec, err := a.fetcher.FetchSpecification(ctx, candidate.SpecificationCID)
	if err != nil {
		log.Warnf("could not fetch specification %s, dropping oracle: %v", candidate.SpecificationCID, err)
		metrics.OraclesRejected.WithLabelValues(a.label(), "fetch").Inc()
		return nil
	}

	if !a.validator.Validate(ctx, a.chainID, spec) {
		log.Infof("specification %s is not valid, dropping oracle", candidate.SpecificationCID)
		metrics.OraclesRejected.WithLabelValues(a.label(), "invalid").Inc()
		return nil
	}

	oracle := &database.ActiveOracle{
		ChainID:              a.chainID,
		Address:              candidate.Address.Hex(),
		Specification:        *spec,
		MeasurementTimestamp: candidate.MeasurementTimestamp,
	}
	if err := a.store.CreateActiveOracle(ctx, oracle); err != nil {
		return err
	}

	metrics.OraclesAcknowledged.WithLabelValues(a.label()).Inc()
	log.Infof("oracle acknowledged, measurement at %s", candidate.MeasurementTimestamp)

	if a.pinner == nil {
		return nil
	}

	if err := a.pinner.Pin(ctx, candidate.SpecificationCID); err != nil {
		return errors.Wrapf(err, "could not pin specification %s", candidate.SpecificationCID)
	}

	return nil
}

func (a *Acknowledger) label() string {
	return strconv.FormatUint(a.chainID, 10)
}
