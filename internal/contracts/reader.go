package contracts

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

var ErrNotCreateToken = errors.New("log is not a token creation event")

// DecodeCreateTokenLog extracts the created token address from a factory
// log. Logs of any other shape yield ErrNotCreateToken.
func DecodeCreateTokenLog(log types.Log) (common.Address, error) {
	if len(log.Topics) == 0 || log.Topics[0] != CreateTokenTopic() {
		return common.Address{}, ErrNotCreateToken
	}

	var event struct {
		Token common.Address
	}
	if err := FactoryABI.UnpackIntoInterface(&event, "CreateToken", log.Data); err != nil {
		return common.Address{}, errors.Wrap(ErrNotCreateToken, err.Error())
	}

	return event.Token, nil
}

// OracleState is the batch of oracle reads needed to decide whether an oracle
// should be handled. Specification and measurement timestamp reads may fail
// independently of the rest.
type OracleState struct {
	Finalized               bool
	TemplateID              *big.Int
	Specification           string
	SpecificationErr        error
	MeasurementTimestamp    time.Time
	MeasurementTimestampErr error
}

type Reader struct {
	caller    bind.ContractCaller
	multicall common.Address
}

func NewReader(caller bind.ContractCaller, multicall common.Address) *Reader {
	return &Reader{caller: caller, multicall: multicall}
}

func (r *Reader) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	return contract.Unpack(method, out)
}

func (r *Reader) TokenOracles(ctx context.Context, token common.Address) ([]common.Address, error) {
	out, err := r.call(ctx, token, KPITokenABI, "oracles")
	if err != nil {
		return nil, errors.Wrapf(err, "could not get oracles for kpi token %s", token)
	}

	return *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address), nil
}

// OracleState reads finalized, template, specification and measurement
// timestamp of an oracle in a single multicall.
func (r *Reader) OracleState(ctx context.Context, oracle common.Address) (*OracleState, error) {
	methods := []string{"finalized", "template", "specification", "measurementTimestamp"}
	calls := make([]Call3, len(methods))
	for i, method := range methods {
		data, err := OracleABI.Pack(method)
		if err != nil {
			return nil, err
		}
		calls[i] = Call3{Target: oracle, AllowFailure: i >= 2, CallData: data}
	}

	data, err := MulticallABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, err
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.multicall, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "multicall for oracle %s", oracle)
	}

	var results []Call3Result
	if err := MulticallABI.UnpackIntoInterface(&results, "aggregate3", out); err != nil {
		return nil, errors.Wrapf(err, "could not decode multicall for oracle %s", oracle)
	}
	if len(results) != len(methods) {
		return nil, errors.Errorf("multicall for oracle %s returned %d results", oracle, len(results))
	}

	state := new(OracleState)

	finalized, err := unpackResult(results[0], "finalized")
	if err != nil {
		return nil, err
	}
	state.Finalized = finalized[0].(bool)

	template, err := unpackResult(results[1], "template")
	if err != nil {
		return nil, err
	}
	state.TemplateID = abi.ConvertType(template[0], new(Template)).(*Template).Id

	if spec, err := unpackResult(results[2], "specification"); err != nil {
		state.SpecificationErr = err
	} else {
		state.Specification = spec[0].(string)
	}

	if ts, err := unpackResult(results[3], "measurementTimestamp"); err != nil {
		state.MeasurementTimestampErr = err
	} else {
		state.MeasurementTimestamp = time.Unix(ts[0].(*big.Int).Int64(), 0).UTC()
	}

	return state, nil
}

func unpackResult(result Call3Result, method string) ([]interface{}, error) {
	if !result.Success {
		return nil, errors.Errorf("%s call reverted", method)
	}

	out, err := OracleABI.Unpack(method, result.ReturnData)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", method)
	}

	return out, nil
}
