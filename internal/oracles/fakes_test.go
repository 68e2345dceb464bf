package oracles

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/kpioracles/oracle-answerer/internal/contracts"
	"github.com/kpioracles/oracle-answerer/internal/database"
	"github.com/kpioracles/oracle-answerer/internal/specification"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
)

const (
	testChainID    = uint64(10)
	testTemplateID = uint64(7)
)

var (
	tokenAddress = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	oracleA      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	oracleB      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	oracleC      = common.HexToAddress("0x00000000000000000000000000000000000000c1")

	testLog = logger.GetLogger()
)

func createTokenLog(token common.Address, block uint64) types.Log {
	data, err := contracts.FactoryABI.Events["CreateToken"].Inputs.Pack(token)
	if err != nil {
		panic(err)
	}

	return types.Log{
		Topics:      []common.Hash{contracts.CreateTokenTopic()},
		Data:        data,
		BlockNumber: block,
	}
}

func tvlSpec(protocol string) *specification.Specification {
	return &specification.Specification{
		Metric:  specification.MetricTVL,
		Payload: specification.Payload{Protocol: protocol},
	}
}

type memStore struct {
	mu             sync.Mutex
	oracles        map[string]database.ActiveOracle
	checkpoints    map[uint64]uint64
	createErr      error
	checkpointErr  error
	listErr        error
	checkpointLogs []uint64
}

func newMemStore() *memStore {
	return &memStore{
		oracles:     make(map[string]database.ActiveOracle),
		checkpoints: make(map[uint64]uint64),
	}
}

func oracleKey(chainID uint64, address string) string {
	return strconv.FormatUint(chainID, 10) + "/" + address
}

func (m *memStore) CreateActiveOracle(_ context.Context, oracle *database.ActiveOracle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}

	key := oracleKey(oracle.ChainID, oracle.Address)
	if _, ok := m.oracles[key]; ok {
		return errors.Wrapf(database.ErrDuplicateOracle, "oracle %s", oracle.Address)
	}
	m.oracles[key] = *oracle

	return nil
}

func (m *memStore) DeleteActiveOracle(_ context.Context, chainID uint64, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.oracles, oracleKey(chainID, address))

	return nil
}

func (m *memStore) ListActiveOracles(_ context.Context, chainID uint64) ([]database.ActiveOracle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []database.ActiveOracle
	for _, oracle := range m.oracles {
		if oracle.ChainID == chainID {
			out = append(out, oracle)
		}
	}

	return out, nil
}

func (m *memStore) AdvanceCheckpoint(_ context.Context, chainID, blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpointLogs = append(m.checkpointLogs, blockNumber)
	if m.checkpointErr != nil {
		return m.checkpointErr
	}
	m.checkpoints[chainID] = blockNumber

	return nil
}

func (m *memStore) has(chainID uint64, address common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.oracles[oracleKey(chainID, address.Hex())]

	return ok
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.oracles)
}

type fakeReader struct {
	oracles   map[common.Address][]common.Address
	states    map[common.Address]*contracts.OracleState
	listErr   error
	stateErrs map[common.Address]error
}

func (f *fakeReader) TokenOracles(_ context.Context, token common.Address) ([]common.Address, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	return f.oracles[token], nil
}

func (f *fakeReader) OracleState(_ context.Context, oracle common.Address) (*contracts.OracleState, error) {
	if err := f.stateErrs[oracle]; err != nil {
		return nil, err
	}

	state, ok := f.states[oracle]
	if !ok {
		return nil, errors.Errorf("unknown oracle %s", oracle)
	}

	return state, nil
}

func activeState(templateID int64, cid string, measurement time.Time) *contracts.OracleState {
	return &contracts.OracleState{
		TemplateID:           big.NewInt(templateID),
		Specification:        cid,
		MeasurementTimestamp: measurement,
	}
}

type fakeFetcher struct {
	mu      sync.Mutex
	specs   map[string]*specification.Specification
	panics  map[string]bool
	fetched []string
}

func (f *fakeFetcher) FetchSpecification(_ context.Context, cid string) (*specification.Specification, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, cid)
	f.mu.Unlock()

	if f.panics[cid] {
		panic("fetch exploded")
	}

	spec, ok := f.specs[cid]
	if !ok {
		return nil, errors.Errorf("fetch %s: retries exhausted", cid)
	}

	return spec, nil
}

type fakeValidator struct {
	valid map[string]bool
}

func (f fakeValidator) Validate(_ context.Context, _ uint64, spec *specification.Specification) bool {
	return f.valid[spec.Payload.Protocol]
}

type mockPinner struct {
	mock.Mock
}

func (m *mockPinner) Pin(ctx context.Context, cid string) error {
	args := m.Called(ctx, cid)
	return args.Error(0)
}

type mockFinalizer struct {
	mock.Mock
}

func (m *mockFinalizer) Finalized(ctx context.Context, oracle common.Address) (bool, error) {
	args := m.Called(ctx, oracle)
	return args.Bool(0), args.Error(1)
}

func (m *mockFinalizer) Finalize(ctx context.Context, oracle common.Address, result *big.Int) error {
	args := m.Called(ctx, oracle, result)
	return args.Error(0)
}

type mockTVL struct {
	mock.Mock
}

func (m *mockTVL) TVLAt(ctx context.Context, protocol string, at time.Time) (*big.Int, error) {
	args := m.Called(ctx, protocol, at)
	value, _ := args.Get(0).(*big.Int)
	return value, args.Error(1)
}
