package oracles

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kpioracles/oracle-answerer/internal/contracts"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Candidate is an oracle discovered from a token creation log that still has
// to be acknowledged. It is never persisted as such.
type Candidate struct {
	Address              common.Address
	MeasurementTimestamp time.Time
	SpecificationCID     string
}

type OracleReader interface {
	TokenOracles(ctx context.Context, token common.Address) ([]common.Address, error)
	OracleState(ctx context.Context, oracle common.Address) (*contracts.OracleState, error)
}

// Extractor turns factory logs into candidates created from the target
// template.
type Extractor struct {
	templateID uint64
	reader     OracleReader
	log        *zap.SugaredLogger
}

func NewExtractor(templateID uint64, reader OracleReader, log *zap.SugaredLogger) *Extractor {
	return &Extractor{templateID: templateID, reader: reader, log: log}
}

// Extract returns the candidates of one log. Logs of other events yield no
// candidates and no error. An error means the token's oracles could not be
// listed and the whole log was skipped.
func (e *Extractor) Extract(ctx context.Context, log types.Log) ([]Candidate, error) {
	token, err := contracts.DecodeCreateTokenLog(log)
	if err != nil {
		e.log.Debugf("skipping log %s/%d: %v", log.TxHash, log.Index, err)
		return nil, nil
	}

	addresses, err := e.reader.TokenOracles(ctx, token)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list oracles of token %s", token)
	}

	var candidates []Candidate
	for _, address := range addresses {
		candidate, ok := e.candidate(ctx, address)
		if ok {
			candidates = append(candidates, candidate)
		}
	}

	return candidates, nil
}

func (e *Extractor) candidate(ctx context.Context, address common.Address) (Candidate, bool) {
	state, err := e.reader.OracleState(ctx, address)
	if err != nil {
		e.log.Errorf("could not read state of oracle %s: %v", address, err)
		return Candidate{}, false
	}

	if state.Finalized {
		e.log.Infof("oracle %s already finalized, skipping", address)
		return Candidate{}, false
	}

	if state.TemplateID == nil || !state.TemplateID.IsUint64() || state.TemplateID.Uint64() != e.templateID {
		e.log.Infof("oracle %s uses template %v, expected %d, skipping", address, state.TemplateID, e.templateID)
		return Candidate{}, false
	}

	if state.SpecificationErr != nil {
		e.log.Errorf("could not read specification of oracle %s: %v", address, state.SpecificationErr)
		return Candidate{}, false
	}

	if state.MeasurementTimestampErr != nil {
		e.log.Errorf("could not read measurement timestamp of oracle %s: %v", address, state.MeasurementTimestampErr)
		return Candidate{}, false
	}

	return Candidate{
		Address:              address,
		MeasurementTimestamp: state.MeasurementTimestamp,
		SpecificationCID:     state.Specification,
	}, true
}
